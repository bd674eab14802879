package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"collection-tracker/internal/alert"
	"collection-tracker/internal/geo"
	"collection-tracker/internal/metrics"
	"collection-tracker/internal/model"
	"collection-tracker/internal/proximity"
	"collection-tracker/internal/session"
	"collection-tracker/internal/watcher"
)

const (
	StatusPermissionDenied = "Geolocation permission denied. Enable location access for this device."
	StatusUnavailable      = "Location is not available."
	StatusTimeout          = "Timed out while acquiring the location."
	StatusUnknown          = "Could not get the location."

	StatusCollectorUnavailable = "Could not get the collector's location."
)

// TrackState is what the map presenter renders.
type TrackState struct {
	Role             model.Role
	Name             string
	Self             *model.GeoPosition
	SelfHeading      float64
	Collector        *model.GeoPosition
	CollectorHeading float64
	Proximity        *model.ProximityResult
	Status           string
}

type Presenter interface {
	Publish(state TrackState)
}

type GeoWatcher interface {
	Start(ctx context.Context, onPosition func(model.GeoPosition), onError func(*watcher.PositionError)) (*watcher.Subscription, error)
}

type TrackerDeps struct {
	Session      *session.Session
	Watcher      GeoWatcher
	Reporter     *LocationReporter
	Poller       *CollectorPoller
	PollInterval time.Duration
	Emitter      *alert.Emitter
	Presenter    Presenter
	Metrics      *metrics.Metrics
	Logger       *logrus.Logger
}

// Tracker owns the session's live state. Watcher and poller callbacks only hand
// values over; a single loop goroutine applies them, so the latest value wins
// and nothing else writes the state.
type Tracker struct {
	deps   TrackerDeps
	logger *logrus.Entry

	// every handed-over event is stamped so the loop can tell which of two
	// pending events happened last
	seq        atomic.Uint64
	selfC      chan stamped[model.GeoPosition]
	errC       chan stamped[*watcher.PositionError]
	otherC     chan stamped[model.GeoPosition]
	pollErrC   chan stamped[error]
	lastSelf   uint64
	lastOther  uint64
	state      TrackState
	terminal   bool
	watchState string
	pollState  string

	mu   sync.Mutex
	snap TrackState
}

type stamped[T any] struct {
	seq uint64
	v   T
}

func NewTracker(deps TrackerDeps) *Tracker {
	return &Tracker{
		deps: deps,
		logger: deps.Logger.WithFields(logrus.Fields{
			"session_id": deps.Session.ID.String(),
			"role":       string(deps.Session.Role),
		}),
		selfC:    make(chan stamped[model.GeoPosition], 1),
		errC:     make(chan stamped[*watcher.PositionError], 1),
		otherC:   make(chan stamped[model.GeoPosition], 1),
		pollErrC: make(chan stamped[error], 1),
		state: TrackState{
			Role: deps.Session.Role,
			Name: deps.Session.Name,
		},
		snap: TrackState{
			Role: deps.Session.Role,
			Name: deps.Session.Name,
		},
	}
}

// Snapshot returns the state as of the last publish. Safe from any goroutine.
func (t *Tracker) Snapshot() TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Run blocks until ctx is done. The watch subscription and the poll loop are
// released before it returns.
func (t *Tracker) Run(ctx context.Context) error {
	if t.deps.Session.IsCollector() && t.deps.Reporter == nil {
		return errors.New("tracker: collector session needs a reporter")
	}
	if t.deps.Session.IsCitizen() && t.deps.Poller == nil {
		return errors.New("tracker: citizen session needs a poller")
	}

	sub, err := t.deps.Watcher.Start(ctx, t.pushSelf, t.pushError)
	if err != nil {
		return err
	}
	defer sub.Stop()

	if t.deps.Session.IsCitizen() {
		h := t.deps.Poller.Start(ctx, t.pushCollector, t.pushPollError, t.deps.PollInterval)
		defer h.Stop()
	}

	t.logger.Info("tracking started")
	t.publish()

	watchDone := sub.Done()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracking stopped")
			return nil
		case ev := <-t.selfC:
			t.handleSelf(ctx, ev)
		case ev := <-t.errC:
			t.handleError(ev)
		case ev := <-t.otherC:
			t.handleCollector(ev)
		case ev := <-t.pollErrC:
			t.handlePollError(ev)
		case <-watchDone:
			watchDone = nil
			t.logger.Warn("location watch ended")
		}
	}
}

func (t *Tracker) pushSelf(pos model.GeoPosition) {
	latest(t.selfC, stamped[model.GeoPosition]{t.seq.Add(1), pos})
}

func (t *Tracker) pushError(perr *watcher.PositionError) {
	latest(t.errC, stamped[*watcher.PositionError]{t.seq.Add(1), perr})
}

func (t *Tracker) pushCollector(pos model.GeoPosition) {
	latest(t.otherC, stamped[model.GeoPosition]{t.seq.Add(1), pos})
}

func (t *Tracker) pushPollError(err error) {
	latest(t.pollErrC, stamped[error]{t.seq.Add(1), err})
}

// latest replaces whatever value is still waiting in a one-slot channel.
func latest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (t *Tracker) handleSelf(ctx context.Context, ev stamped[model.GeoPosition]) {
	pos := ev.v
	t.lastSelf = ev.seq
	if prev := t.state.Self; prev != nil {
		t.state.SelfHeading = geo.Bearing(prev.Latitude, prev.Longitude, pos.Latitude, pos.Longitude)
	}
	t.state.Self = &pos
	if !t.terminal {
		t.watchState = ""
	}

	if t.deps.Session.IsCollector() {
		t.deps.Reporter.OnPosition(ctx, pos)
	}
	t.publish()
}

func (t *Tracker) handleCollector(ev stamped[model.GeoPosition]) {
	pos := ev.v
	t.lastOther = ev.seq
	t.pollState = ""
	if prev := t.state.Collector; prev != nil {
		t.state.CollectorHeading = geo.Bearing(prev.Latitude, prev.Longitude, pos.Latitude, pos.Longitude)
	}
	t.state.Collector = &pos

	res := proximity.Evaluate(t.state.Self, t.state.Collector)
	if t.state.Self != nil {
		t.state.Proximity = &res
		t.deps.Metrics.Distance(res.DistanceMeters)
	}
	if t.deps.Emitter != nil {
		t.deps.Emitter.NotifyIfWithinRange(res)
	}
	t.publish()
}

func (t *Tracker) handleError(ev stamped[*watcher.PositionError]) {
	perr := ev.v
	t.deps.Metrics.WatchError(perr.Code.String())
	t.logger.WithError(perr).WithField("code", perr.Code.String()).Warn("geolocation error")

	if t.terminal {
		return
	}
	// a fix that arrived after this error already cleared it
	if ev.seq < t.lastSelf && !perr.Terminal() {
		return
	}
	switch perr.Code {
	case watcher.PermissionDenied:
		t.terminal = true
		t.watchState = StatusPermissionDenied
	case watcher.PositionUnavailable:
		t.watchState = StatusUnavailable
	case watcher.Timeout:
		t.watchState = StatusTimeout
	default:
		t.watchState = StatusUnknown
	}
	t.publish()
}

// handlePollError keeps the last good collector position and only sets the status.
func (t *Tracker) handlePollError(ev stamped[error]) {
	if ev.seq < t.lastOther {
		return
	}
	t.pollState = StatusCollectorUnavailable
	t.publish()
}

func (t *Tracker) publish() {
	// a problem with our own location outranks one with the collector's
	t.state.Status = t.watchState
	if t.state.Status == "" {
		t.state.Status = t.pollState
	}

	t.mu.Lock()
	t.snap = t.state
	t.mu.Unlock()

	if t.deps.Presenter != nil {
		t.deps.Presenter.Publish(t.state)
	}
}
