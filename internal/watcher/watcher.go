package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collection-tracker/internal/model"
)

type Options struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

func DefaultOptions() Options {
	return Options{
		EnableHighAccuracy: true,
		Timeout:            10 * time.Second,
		MaximumAge:         0,
	}
}

// Fix is one delivery from a platform feed: a position or an error.
type Fix struct {
	Position model.GeoPosition
	Err      error
}

type Feed interface {
	Fixes() <-chan Fix
	Close() error
}

// Source is the platform location provider.
type Source interface {
	Open(ctx context.Context, opts Options) (Feed, error)
}

type Watcher struct {
	src    Source
	opts   Options
	logger *logrus.Logger
	now    func() time.Time
}

func New(src Source, opts Options, logger *logrus.Logger) *Watcher {
	return &Watcher{
		src:    src,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Subscription is a running watch. Stop must be called on every exit path.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) Stop() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once the watch has released the platform feed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Start opens the platform feed and delivers fixes and classified errors to the
// callbacks from a single goroutine. Failing to open the feed is reported
// through onError and yields an already finished subscription.
func (w *Watcher) Start(ctx context.Context, onPosition func(model.GeoPosition), onError func(*PositionError)) (*Subscription, error) {
	if onPosition == nil {
		return nil, errors.New("watcher: onPosition callback is required")
	}
	if onError == nil {
		onError = func(*PositionError) {}
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	feed, err := w.src.Open(ctx, w.opts)
	if err != nil {
		perr := Classify(err)
		w.logger.WithError(err).WithField("code", perr.Code.String()).Warn("failed to open location feed")
		onError(perr)
		cancel()
		close(sub.done)
		return sub, nil
	}

	go w.run(ctx, sub, feed, onPosition, onError)
	return sub, nil
}

func (w *Watcher) Stop(sub *Subscription) {
	if sub != nil {
		sub.Stop()
	}
}

func (w *Watcher) run(ctx context.Context, sub *Subscription, feed Feed, onPosition func(model.GeoPosition), onError func(*PositionError)) {
	defer close(sub.done)
	defer sub.cancel()
	defer func() {
		if err := feed.Close(); err != nil {
			w.logger.WithError(err).Warn("location feed close error")
		}
	}()

	var timeoutC <-chan time.Time
	var timer *time.Timer
	if w.opts.Timeout > 0 {
		timer = time.NewTimer(w.opts.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var last *model.GeoPosition
	fixes := feed.Fixes()
	for {
		select {
		case <-ctx.Done():
			return

		case <-timeoutC:
			// the watch stays open; a later fix clears the condition
			onError(NewError(Timeout, nil))
			timer.Reset(w.opts.Timeout)

		case fix, ok := <-fixes:
			if !ok {
				w.logger.Info("location feed ended")
				return
			}
			if fix.Err != nil {
				perr := Classify(fix.Err)
				onError(perr)
				if perr.Terminal() {
					w.logger.WithError(perr).Warn("location watch stopped")
					return
				}
				continue
			}

			if timer != nil {
				timer.Reset(w.opts.Timeout)
			}

			pos := fix.Position
			if pos.CapturedAt.IsZero() {
				pos.CapturedAt = w.now()
			}
			if w.stale(pos, last) {
				continue
			}
			last = &pos
			onPosition(pos)
		}
	}
}

func (w *Watcher) stale(pos model.GeoPosition, last *model.GeoPosition) bool {
	if w.opts.MaximumAge > 0 {
		return w.now().Sub(pos.CapturedAt) > w.opts.MaximumAge
	}
	// with no cache allowed, a replayed copy of the previous fix is dropped
	return last != nil && *last == pos
}
