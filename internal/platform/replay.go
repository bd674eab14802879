package platform

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"collection-tracker/internal/model"
	"collection-tracker/internal/watcher"
)

type TrackPoint struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Accuracy  float64 `yaml:"accuracy"`
	Error     string  `yaml:"error"`
}

// Track is a recorded route. Error entries simulate platform failures.
type Track struct {
	Interval time.Duration `yaml:"interval"`
	Loop     bool          `yaml:"loop"`
	Points   []TrackPoint  `yaml:"points"`
}

func LoadTrack(path string) (*Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read track: %w", err)
	}
	return ParseTrack(data)
}

func ParseTrack(data []byte) (*Track, error) {
	var tr Track
	if err := yaml.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("parse track: %w", err)
	}
	if len(tr.Points) == 0 {
		return nil, fmt.Errorf("parse track: no points")
	}
	if tr.Interval <= 0 {
		tr.Interval = time.Second
	}
	for i, p := range tr.Points {
		if p.Error != "" {
			if _, err := watcher.ParseCode(p.Error); err != nil {
				return nil, fmt.Errorf("parse track: point %d: %w", i, err)
			}
			continue
		}
		pos := model.GeoPosition{Latitude: p.Latitude, Longitude: p.Longitude}
		if err := pos.Valid(); err != nil {
			return nil, fmt.Errorf("parse track: point %d: %w", i, err)
		}
	}
	return &tr, nil
}

// ReplaySource emits a Track one point per interval, stamping each fix with the
// time it is emitted. The feed ends after the last point unless Loop is set.
type ReplaySource struct {
	track *Track
	now   func() time.Time
}

func NewReplaySource(track *Track) *ReplaySource {
	return &ReplaySource{track: track, now: time.Now}
}

func (s *ReplaySource) Open(ctx context.Context, _ watcher.Options) (watcher.Feed, error) {
	ctx, cancel := context.WithCancel(ctx)
	feed := newChanFeed(1, func() error { cancel(); return nil })

	go func() {
		defer feed.Close()
		ticker := time.NewTicker(s.track.Interval)
		defer ticker.Stop()

		for i := 0; ; i++ {
			if i == len(s.track.Points) {
				if !s.track.Loop {
					return
				}
				i = 0
			}
			if !feed.push(s.fix(s.track.Points[i])) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return feed, nil
}

func (s *ReplaySource) fix(p TrackPoint) watcher.Fix {
	if p.Error != "" {
		code, _ := watcher.ParseCode(p.Error)
		return watcher.Fix{Err: watcher.NewError(code, nil)}
	}
	return watcher.Fix{Position: model.GeoPosition{
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Accuracy:   p.Accuracy,
		CapturedAt: s.now(),
	}}
}
