package alert

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"collection-tracker/internal/metrics"
	"collection-tracker/internal/model"
)

type Mode int

const (
	// ModeEdge fires when the collector enters range and re-arms once it leaves.
	ModeEdge Mode = iota
	// ModeEveryTick fires on every in-range evaluation.
	ModeEveryTick
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "edge":
		return ModeEdge, nil
	case "every_tick":
		return ModeEveryTick, nil
	}
	return ModeEdge, fmt.Errorf("unknown alert mode %q", s)
}

type Player interface {
	Play(ctx context.Context) error
}

const playTimeout = 30 * time.Second

// Emitter plays at most one clip at a time; requests that arrive while a clip
// is playing are dropped.
type Emitter struct {
	player  Player
	mode    Mode
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	inRange bool

	playing atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(player Player, mode Mode, logger *logrus.Logger, m *metrics.Metrics) *Emitter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Emitter{
		player:  player,
		mode:    mode,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// NotifyIfWithinRange reports whether this call started a playback.
func (e *Emitter) NotifyIfWithinRange(res model.ProximityResult) bool {
	e.mu.Lock()
	wasInRange := e.inRange
	e.inRange = res.WithinRange
	e.mu.Unlock()

	if !res.WithinRange {
		return false
	}
	if e.mode == ModeEdge && wasInRange {
		return false
	}

	e.logger.WithField("distance_m", res.DistanceMeters).Info("collector nearby")
	if e.play() {
		return true
	}
	if e.mode == ModeEdge {
		// the approach has not been announced yet; try again on the next tick
		e.mu.Lock()
		e.inRange = false
		e.mu.Unlock()
	}
	return false
}

func (e *Emitter) play() bool {
	if !e.playing.CompareAndSwap(false, true) {
		e.metrics.Alert("dropped")
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.playing.Store(false)

		ctx, cancel := context.WithTimeout(e.ctx, playTimeout)
		defer cancel()
		if err := e.player.Play(ctx); err != nil {
			e.logger.WithError(err).Warn("failed to play alert sound")
			e.metrics.Alert("failed")
			return
		}
		e.metrics.Alert("played")
	}()
	return true
}

// Wait blocks until the current playback, if any, has finished.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

// Close aborts any playback in progress and waits for it.
func (e *Emitter) Close() {
	e.cancel()
	e.wg.Wait()
}
