package vehicles

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"vehicle-generator-service/shared/events"
)

type fakeGuard struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
}

func (g *fakeGuard) Acquire(ctx context.Context) (func(context.Context), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return nil, false, nil
	}
	g.held = true
	g.acquired++
	return func(context.Context) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.held = false
		g.released++
	}, true, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", timeout)
}

func newTestSession(store *fakeStore, log *fakeLog, broadcast *fakeBroadcaster, guard SessionGuard) *Session {
	return NewSession(store, log, broadcast, guard, nil, testLogger(), SessionConfig{
		TickInterval: time.Millisecond,
		MaxInFlight:  4,
	})
}

func TestSessionStartTwiceFails(t *testing.T) {
	s := newTestSession(newFakeStore(), &fakeLog{}, &fakeBroadcaster{}, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); !errors.Is(err, ErrGenerationRunning) {
		t.Fatalf("expected ErrGenerationRunning, got %v", err)
	}
}

func TestSessionStopWhileIdleFails(t *testing.T) {
	s := newTestSession(newFakeStore(), &fakeLog{}, &fakeBroadcaster{}, nil)

	if err := s.Stop(); !errors.Is(err, ErrGenerationNotRunning) {
		t.Fatalf("expected ErrGenerationNotRunning, got %v", err)
	}
}

func TestSessionGeneratesVehicles(t *testing.T) {
	store := newFakeStore()
	log := &fakeLog{}
	broadcast := &fakeBroadcaster{}
	s := newTestSession(store, log, broadcast, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return log.count() >= 3 && store.generatedCount() >= 1 })
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	for _, ev := range log.all() {
		if ev.AggregateType != events.AggregateVehicle || ev.EventType != events.EventVehicleGenerated {
			t.Fatalf("unexpected event %s/%s", ev.AggregateType, ev.EventType)
		}
		if ev.User != events.SystemUser {
			t.Fatalf("generated events must carry the system user, got %q", ev.User)
		}
		if ev.AggregateID == "" {
			t.Fatalf("generated event without identity")
		}
	}

	for _, call := range broadcast.all() {
		if call.channel != events.ChannelGeneratedVehicles {
			t.Fatalf("generated broadcast on wrong channel %s", call.channel)
		}
	}

	for id, v := range store.generated {
		derived, err := DeriveIdentity(v)
		if err != nil {
			t.Fatalf("derive identity: %v", err)
		}
		if derived != id {
			t.Fatalf("stored id is not the field-derived identity")
		}
	}
}

func TestSessionStopHaltsProduction(t *testing.T) {
	store := newFakeStore()
	log := &fakeLog{}
	s := newTestSession(store, log, &fakeBroadcaster{}, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return log.count() >= 1 })
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	after := log.count()
	time.Sleep(20 * time.Millisecond)
	if log.count() != after {
		t.Fatalf("events appended after stop: %d -> %d", after, log.count())
	}
	if s.Running() {
		t.Fatalf("session still reports running after stop")
	}
}

func TestSessionFatalTickErrorStopsSession(t *testing.T) {
	store := newFakeStore()
	store.generatedErr = errors.New("disk full")
	s := newTestSession(store, &fakeLog{}, &fakeBroadcaster{}, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !s.Running() })

	// The session is idle again, so a fresh start must succeed.
	store.generatedErr = nil
	if err := s.Start(); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSessionGuardDenied(t *testing.T) {
	guard := &fakeGuard{held: true}
	s := newTestSession(newFakeStore(), &fakeLog{}, &fakeBroadcaster{}, guard)

	if err := s.Start(); !errors.Is(err, ErrGenerationRunning) {
		t.Fatalf("expected ErrGenerationRunning when the guard is held, got %v", err)
	}
}

func TestSessionIdenticalTicksConverge(t *testing.T) {
	store := newFakeStore()
	log := &fakeLog{}
	broadcast := &fakeBroadcaster{}
	s := newTestSession(store, log, broadcast, nil)

	// Identical field values on two ticks must collide on the same
	// identity and leave a single stored entity.
	s.rng = rand.New(rand.NewSource(7))
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	s.rng = rand.New(rand.NewSource(7))
	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if log.count() != 2 || broadcast.count() != 2 {
		t.Fatalf("expected both ticks to log and broadcast, got %d/%d", log.count(), broadcast.count())
	}
	appended := log.all()
	if appended[0].AggregateID != appended[1].AggregateID {
		t.Fatalf("identical fields produced different identities")
	}
	if store.generatedCount() != 1 {
		t.Fatalf("expected one stored entity, got %d", store.generatedCount())
	}
}

func TestSessionGuardReleasedOnStop(t *testing.T) {
	guard := &fakeGuard{}
	s := newTestSession(newFakeStore(), &fakeLog{}, &fakeBroadcaster{}, guard)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		guard.mu.Lock()
		defer guard.mu.Unlock()
		return guard.released == 1 && !guard.held
	})
}
