package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collection-tracker/internal/alert"
	"collection-tracker/internal/model"
	"collection-tracker/internal/throttle"
	"collection-tracker/internal/watcher"
)

type chanFeed struct{ ch chan watcher.Fix }

func (f *chanFeed) Fixes() <-chan watcher.Fix { return f.ch }
func (f *chanFeed) Close() error              { return nil }

type chanSource struct {
	feed   *chanFeed
	mu     sync.Mutex
	opened int
}

func (s *chanSource) Open(ctx context.Context, opts watcher.Options) (watcher.Feed, error) {
	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	return s.feed, nil
}

func newChanSource() *chanSource {
	return &chanSource{feed: &chanFeed{ch: make(chan watcher.Fix, 8)}}
}

type countingPlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *countingPlayer) Play(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

func (p *countingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

type recordingPresenter struct {
	mu     sync.Mutex
	states []TrackState
}

func (p *recordingPresenter) Publish(s TrackState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
}

func (p *recordingPresenter) last() TrackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return TrackState{}
	}
	return p.states[len(p.states)-1]
}

// gatedPresenter holds the first publish until gate is closed, keeping the
// tracker loop busy while events pile up behind it.
type gatedPresenter struct {
	recordingPresenter
	gate chan struct{}
	held atomic.Bool
}

func (p *gatedPresenter) Publish(s TrackState) {
	if p.held.CompareAndSwap(false, true) {
		<-p.gate
	}
	p.recordingPresenter.Publish(s)
}

// toggleReader fails while failing is set and otherwise returns pos.
type toggleReader struct {
	pos     model.GeoPosition
	failing atomic.Bool
	calls   atomic.Int32
}

func (r *toggleReader) GetCollectorLocation(context.Context) (model.GeoPosition, error) {
	r.calls.Add(1)
	if r.failing.Load() {
		return model.GeoPosition{}, errors.New("502 bad gateway")
	}
	return r.pos, nil
}

func runTracker(t *testing.T, tr *Tracker) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("tracker did not stop")
		}
	}
}

func TestTracker_CitizenAlertsOncePerApproach(t *testing.T) {
	src := newChanSource()
	src.feed.ch <- watcher.Fix{Position: at(-12.0600, -77.0400)}

	reader := &scriptedReader{script: []result{{pos: at(-12.0600, -77.0409)}}}
	player := &countingPlayer{}
	emitter := alert.New(player, alert.ModeEdge, quietLogger(), nil)
	presenter := &recordingPresenter{}

	tr := NewTracker(TrackerDeps{
		Session:      newSession(model.RoleCitizen),
		Watcher:      watcher.New(src, watcher.DefaultOptions(), quietLogger()),
		Poller:       NewCollectorPoller(reader, time.Second, nil, quietLogger()),
		PollInterval: 5 * time.Millisecond,
		Emitter:      emitter,
		Presenter:    presenter,
		Logger:       quietLogger(),
	})
	stop := runTracker(t, tr)

	// at least five ticks with the truck parked ~98 m away
	require.Eventually(t, func() bool {
		s := presenter.last()
		return reader.callCount() >= 6 && s.Proximity != nil && s.Proximity.WithinRange
	}, 2*time.Second, 5*time.Millisecond)
	stop()
	emitter.Close()

	s := presenter.last()
	assert.InDelta(t, 97.9, s.Proximity.DistanceMeters, 1)
	assert.Equal(t, 1, player.count())
}

func TestTracker_CollectorReportsThrottled(t *testing.T) {
	src := newChanSource()
	writer := &fakeWriter{}
	sess := newSession(model.RoleCollector)
	presenter := &recordingPresenter{}

	tr := NewTracker(TrackerDeps{
		Session:   sess,
		Watcher:   watcher.New(src, watcher.DefaultOptions(), quietLogger()),
		Reporter:  NewLocationReporter(writer, throttle.New(time.Hour), sess, nil, quietLogger()),
		Presenter: presenter,
		Logger:    quietLogger(),
	})
	stop := runTracker(t, tr)

	src.feed.ch <- watcher.Fix{Position: at(0, 0)}
	require.Eventually(t, func() bool { return presenter.last().Self != nil }, time.Second, time.Millisecond)
	src.feed.ch <- watcher.Fix{Position: at(0, 0.001)}
	require.Eventually(t, func() bool {
		s := presenter.last().Self
		return s != nil && s.Longitude == 0.001
	}, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, 1, writer.count())
	assert.InDelta(t, 90, presenter.last().SelfHeading, 1e-6, "heading east")
	assert.Nil(t, presenter.last().Collector)
}

func TestTracker_StatusFollowsWatchErrors(t *testing.T) {
	src := newChanSource()
	sess := newSession(model.RoleCollector)
	presenter := &recordingPresenter{}

	tr := NewTracker(TrackerDeps{
		Session:   sess,
		Watcher:   watcher.New(src, watcher.DefaultOptions(), quietLogger()),
		Reporter:  NewLocationReporter(&fakeWriter{}, throttle.New(time.Second), sess, nil, quietLogger()),
		Presenter: presenter,
		Logger:    quietLogger(),
	})
	stop := runTracker(t, tr)
	defer stop()

	src.feed.ch <- watcher.Fix{Err: watcher.NewError(watcher.Timeout, nil)}
	require.Eventually(t, func() bool { return presenter.last().Status == StatusTimeout }, time.Second, time.Millisecond)

	src.feed.ch <- watcher.Fix{Position: at(1, 1)}
	require.Eventually(t, func() bool { return presenter.last().Status == "" }, time.Second, time.Millisecond)

	src.feed.ch <- watcher.Fix{Err: watcher.NewError(watcher.PermissionDenied, errors.New("denied"))}
	require.Eventually(t, func() bool { return presenter.last().Status == StatusPermissionDenied }, time.Second, time.Millisecond)
}

func TestTracker_PollFailureKeepsCollector(t *testing.T) {
	src := newChanSource()
	src.feed.ch <- watcher.Fix{Position: at(-12.0600, -77.0400)}
	reader := &scriptedReader{script: []result{
		{pos: at(-12.0600, -77.0409)},
		{err: errors.New("503")},
	}}
	presenter := &recordingPresenter{}

	tr := NewTracker(TrackerDeps{
		Session:      newSession(model.RoleCitizen),
		Watcher:      watcher.New(src, watcher.DefaultOptions(), quietLogger()),
		Poller:       NewCollectorPoller(reader, time.Second, nil, quietLogger()),
		PollInterval: 5 * time.Millisecond,
		Presenter:    presenter,
		Logger:       quietLogger(),
	})
	stop := runTracker(t, tr)

	require.Eventually(t, func() bool { return reader.callCount() >= 4 }, 2*time.Second, time.Millisecond)
	stop()

	c := presenter.last().Collector
	require.NotNil(t, c)
	assert.Equal(t, -77.0409, c.Longitude)
}

func TestTracker_RequiresRoleComponents(t *testing.T) {
	tr := NewTracker(TrackerDeps{
		Session: newSession(model.RoleCitizen),
		Watcher: watcher.New(newChanSource(), watcher.DefaultOptions(), quietLogger()),
		Logger:  quietLogger(),
	})
	assert.Error(t, tr.Run(context.Background()))
}

func TestTracker_TeardownReleasesWatch(t *testing.T) {
	src := newChanSource()
	reader := &scriptedReader{script: []result{{pos: at(1, 1)}}}
	p := NewCollectorPoller(reader, time.Second, nil, quietLogger())

	tr := NewTracker(TrackerDeps{
		Session:      newSession(model.RoleCitizen),
		Watcher:      watcher.New(src, watcher.DefaultOptions(), quietLogger()),
		Poller:       p,
		PollInterval: time.Millisecond,
		Logger:       quietLogger(),
	})
	stop := runTracker(t, tr)
	require.Eventually(t, func() bool { return reader.callCount() >= 2 }, time.Second, time.Millisecond)
	stop()

	n := reader.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, reader.callCount(), "no polling after teardown")
	assert.False(t, p.InFlight())
}

func TestLatest_ReplacesPendingValue(t *testing.T) {
	ch := make(chan int, 1)
	latest(ch, 1)
	latest(ch, 2)
	latest(ch, 3)
	assert.Equal(t, 3, <-ch)
}

func TestTracker_FixAfterErrorClearsStatus(t *testing.T) {
	for i := 0; i < 20; i++ {
		src := newChanSource()
		sess := newSession(model.RoleCollector)
		presenter := &gatedPresenter{gate: make(chan struct{})}

		tr := NewTracker(TrackerDeps{
			Session:   sess,
			Watcher:   watcher.New(src, watcher.DefaultOptions(), quietLogger()),
			Reporter:  NewLocationReporter(&fakeWriter{}, throttle.New(time.Hour), sess, nil, quietLogger()),
			Presenter: presenter,
			Logger:    quietLogger(),
		})
		stop := runTracker(t, tr)

		src.feed.ch <- watcher.Fix{Err: watcher.NewError(watcher.Timeout, nil)}
		src.feed.ch <- watcher.Fix{Position: at(1, 1)}
		require.Eventually(t, func() bool {
			return len(tr.errC) == 1 && len(tr.selfC) == 1
		}, time.Second, time.Millisecond, "both events waiting on the loop")
		close(presenter.gate)

		require.Eventually(t, func() bool {
			s := presenter.last()
			return s.Self != nil && s.Status == ""
		}, time.Second, time.Millisecond)
		require.Never(t, func() bool { return presenter.last().Status != "" }, 20*time.Millisecond, time.Millisecond,
			"the older timeout must not come back")
		stop()
	}
}

func TestTracker_CollectorFetchFailureStatus(t *testing.T) {
	src := newChanSource()
	src.feed.ch <- watcher.Fix{Position: at(-12.0600, -77.0400)}
	reader := &toggleReader{pos: at(-12.0600, -77.0450)}
	presenter := &recordingPresenter{}

	tr := NewTracker(TrackerDeps{
		Session:      newSession(model.RoleCitizen),
		Watcher:      watcher.New(src, watcher.DefaultOptions(), quietLogger()),
		Poller:       NewCollectorPoller(reader, time.Second, nil, quietLogger()),
		PollInterval: 5 * time.Millisecond,
		Presenter:    presenter,
		Logger:       quietLogger(),
	})
	stop := runTracker(t, tr)
	defer stop()

	require.Eventually(t, func() bool { return presenter.last().Collector != nil }, time.Second, time.Millisecond)

	reader.failing.Store(true)
	require.Eventually(t, func() bool {
		return presenter.last().Status == StatusCollectorUnavailable
	}, time.Second, time.Millisecond)
	c := presenter.last().Collector
	require.NotNil(t, c, "last good position is kept")
	assert.Equal(t, -77.0450, c.Longitude)

	reader.failing.Store(false)
	require.Eventually(t, func() bool { return presenter.last().Status == "" }, time.Second, time.Millisecond)
}

func TestTracker_WatchStatusOutranksPollStatus(t *testing.T) {
	src := newChanSource()
	reader := &toggleReader{}
	reader.failing.Store(true)
	presenter := &recordingPresenter{}

	tr := NewTracker(TrackerDeps{
		Session:      newSession(model.RoleCitizen),
		Watcher:      watcher.New(src, watcher.DefaultOptions(), quietLogger()),
		Poller:       NewCollectorPoller(reader, time.Second, nil, quietLogger()),
		PollInterval: 5 * time.Millisecond,
		Presenter:    presenter,
		Logger:       quietLogger(),
	})
	stop := runTracker(t, tr)
	defer stop()

	require.Eventually(t, func() bool {
		return presenter.last().Status == StatusCollectorUnavailable
	}, time.Second, time.Millisecond)

	src.feed.ch <- watcher.Fix{Err: watcher.NewError(watcher.PermissionDenied, nil)}
	require.Eventually(t, func() bool {
		return presenter.last().Status == StatusPermissionDenied
	}, time.Second, time.Millisecond)
	require.Never(t, func() bool {
		return presenter.last().Status != StatusPermissionDenied
	}, 30*time.Millisecond, time.Millisecond)
}

func TestTracker_Snapshot(t *testing.T) {
	src := newChanSource()
	sess := newSession(model.RoleCollector)

	tr := NewTracker(TrackerDeps{
		Session:  sess,
		Watcher:  watcher.New(src, watcher.DefaultOptions(), quietLogger()),
		Reporter: NewLocationReporter(&fakeWriter{}, throttle.New(time.Hour), sess, nil, quietLogger()),
		Logger:   quietLogger(),
	})
	assert.Equal(t, model.RoleCollector, tr.Snapshot().Role)
	assert.Nil(t, tr.Snapshot().Self)

	stop := runTracker(t, tr)
	defer stop()

	src.feed.ch <- watcher.Fix{Position: at(2, 3)}
	require.Eventually(t, func() bool { return tr.Snapshot().Self != nil }, time.Second, time.Millisecond)
	assert.Equal(t, 3.0, tr.Snapshot().Self.Longitude)
}

func TestTracker_AdminNeitherReportsNorPolls(t *testing.T) {
	src := newChanSource()
	sess := newSession(model.RoleAdmin)
	writer := &fakeWriter{}
	reader := &toggleReader{pos: at(0, 0)}
	presenter := &recordingPresenter{}

	tr := NewTracker(TrackerDeps{
		Session:      sess,
		Watcher:      watcher.New(src, watcher.DefaultOptions(), quietLogger()),
		Reporter:     NewLocationReporter(writer, throttle.New(time.Millisecond), sess, nil, quietLogger()),
		Poller:       NewCollectorPoller(reader, time.Second, nil, quietLogger()),
		PollInterval: time.Millisecond,
		Presenter:    presenter,
		Logger:       quietLogger(),
	})
	stop := runTracker(t, tr)

	src.feed.ch <- watcher.Fix{Position: at(5, 5)}
	require.Eventually(t, func() bool { return presenter.last().Self != nil }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()

	assert.Zero(t, writer.count())
	assert.Zero(t, reader.calls.Load())
	assert.Nil(t, presenter.last().Collector)
	assert.Nil(t, presenter.last().Proximity)
}
