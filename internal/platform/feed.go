// Package platform provides the location feeds a device can watch: a recorded
// track replayed from YAML, a Redis pub/sub channel and an MQTT topic.
package platform

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"collection-tracker/internal/model"
	"collection-tracker/internal/watcher"
)

// chanFeed keeps only the freshest fixes when the consumer falls behind. Once a
// terminal error is queued nothing more is accepted, so it cannot be evicted.
type chanFeed struct {
	mu      sync.Mutex
	ch      chan watcher.Fix
	closed  bool
	ended   bool
	onClose func() error
}

func newChanFeed(size int, onClose func() error) *chanFeed {
	return &chanFeed{ch: make(chan watcher.Fix, size), onClose: onClose}
}

func (f *chanFeed) Fixes() <-chan watcher.Fix { return f.ch }

// push reports false when the feed no longer accepts fixes.
func (f *chanFeed) push(fix watcher.Fix) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.ended {
		return false
	}
	if fix.Err != nil && watcher.Classify(fix.Err).Terminal() {
		f.ended = true
	}
	select {
	case f.ch <- fix:
		return true
	default:
	}
	// drop the oldest queued fix
	select {
	case <-f.ch:
	default:
	}
	select {
	case f.ch <- fix:
	default:
	}
	return true
}

func (f *chanFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.ch)
	f.mu.Unlock()

	if f.onClose != nil {
		return f.onClose()
	}
	return nil
}

// wireFix is the JSON payload devices publish on Redis and MQTT.
// Timestamp is unix milliseconds; Error carries a watcher code name instead of a position.
type wireFix struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Timestamp int64    `json:"timestamp"`
	Error     string   `json:"error,omitempty"`
}

func decodeFix(payload []byte) (watcher.Fix, error) {
	var raw wireFix
	if err := json.Unmarshal(payload, &raw); err != nil {
		return watcher.Fix{}, fmt.Errorf("decode fix: %w", err)
	}
	if raw.Error != "" {
		code, err := watcher.ParseCode(raw.Error)
		if err != nil {
			return watcher.Fix{}, err
		}
		return watcher.Fix{Err: watcher.NewError(code, nil)}, nil
	}
	if raw.Latitude == nil || raw.Longitude == nil {
		return watcher.Fix{}, fmt.Errorf("decode fix: latitude and longitude are required")
	}

	pos := model.GeoPosition{
		Latitude:  *raw.Latitude,
		Longitude: *raw.Longitude,
		Accuracy:  raw.Accuracy,
	}
	if raw.Timestamp > 0 {
		pos.CapturedAt = time.UnixMilli(raw.Timestamp)
	}
	if err := pos.Valid(); err != nil {
		return watcher.Fix{}, fmt.Errorf("decode fix: %w", err)
	}
	return watcher.Fix{Position: pos}, nil
}
