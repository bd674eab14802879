package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"collection-tracker/internal/metrics"
	"collection-tracker/internal/model"
)

type CollectorReader interface {
	GetCollectorLocation(ctx context.Context) (model.GeoPosition, error)
}

// CollectorPoller fetches the collector's last known position on a fixed
// interval. At most one fetch is in flight; a tick that fires while the
// previous fetch is outstanding is skipped.
type CollectorPoller struct {
	client       CollectorReader
	metrics      *metrics.Metrics
	logger       logrus.FieldLogger
	fetchTimeout time.Duration

	inFlight atomic.Bool
	skipped  atomic.Int64
	active   atomic.Int32
	maxSeen  atomic.Int32
}

func NewCollectorPoller(client CollectorReader, fetchTimeout time.Duration, m *metrics.Metrics, logger logrus.FieldLogger) *CollectorPoller {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &CollectorPoller{
		client:       client,
		metrics:      m,
		logger:       logger,
		fetchTimeout: fetchTimeout,
	}
}

// PollHandle is a running poll loop; Stop must be called on every exit path.
type PollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (h *PollHandle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

func (p *CollectorPoller) InFlight() bool { return p.inFlight.Load() }
func (p *CollectorPoller) Skipped() int64 { return p.skipped.Load() }

// MaxConcurrent is the highest number of fetches ever outstanding at once.
func (p *CollectorPoller) MaxConcurrent() int { return int(p.maxSeen.Load()) }

// Start fetches once immediately and then on every interval until stopped.
// onUpdate only ever sees successful fetches; failed ones go to onError, which
// may be nil. Callbacks for one fetch finish before the next fetch begins.
func (p *CollectorPoller) Start(ctx context.Context, onUpdate func(model.GeoPosition), onError func(error), interval time.Duration) *PollHandle {
	ticker := time.NewTicker(interval)
	return p.start(ctx, onUpdate, onError, ticker.C, ticker.Stop)
}

func (p *CollectorPoller) start(ctx context.Context, onUpdate func(model.GeoPosition), onError func(error), ticks <-chan time.Time, stopTicks func()) *PollHandle {
	if onError == nil {
		onError = func(error) {}
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &PollHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		var fetches sync.WaitGroup
		defer close(h.done)
		defer fetches.Wait()
		defer stopTicks()

		p.tick(ctx, onUpdate, onError, &fetches)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				p.tick(ctx, onUpdate, onError, &fetches)
			}
		}
	}()
	return h
}

func (p *CollectorPoller) tick(ctx context.Context, onUpdate func(model.GeoPosition), onError func(error), fetches *sync.WaitGroup) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.metrics.PollSkipped()
		p.logger.Debug("previous collector fetch still in flight, skipping tick")
		return
	}

	fetches.Add(1)
	go func() {
		defer fetches.Done()
		defer p.inFlight.Store(false)

		n := p.active.Add(1)
		defer p.active.Add(-1)
		for {
			m := p.maxSeen.Load()
			if n <= m || p.maxSeen.CompareAndSwap(m, n) {
				break
			}
		}

		fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()

		pos, err := p.client.GetCollectorLocation(fctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// the last good position stays in use
			p.logger.WithError(err).Warn("failed to fetch collector location")
			p.metrics.PollFetch("error")
			onError(err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		p.metrics.PollFetch("ok")
		onUpdate(pos)
	}()
}
