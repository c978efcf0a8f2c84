package search

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerLifecycle(t *testing.T) {
	manager := NewManager(newFakeLookup(), WithSessionOptions(WithDebounce(10*time.Millisecond)))
	defer manager.Shutdown()

	first := manager.Create()
	second := manager.Create()
	if first.ID() == second.ID() {
		t.Fatal("expected unique session ids")
	}
	if manager.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", manager.Len())
	}

	got, err := manager.Get(first.ID())
	if err != nil || got != first {
		t.Fatalf("Get: %v", err)
	}
	if got.Snapshot().ID != first.ID() {
		t.Fatal("expected snapshot to carry the session id")
	}

	if err := manager.Close(first.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := manager.Get(first.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := manager.Close(first.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second close, got %v", err)
	}
	if _, err := first.UpdateQuery("asp"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed session, got %v", err)
	}
}

func TestManagerReapsIdleSessions(t *testing.T) {
	manager := NewManager(newFakeLookup(), WithIdleTTL(time.Minute))
	defer manager.Shutdown()

	idle := manager.Create()
	active := manager.Create()

	if n := manager.reapIdle(time.Now()); n != 0 {
		t.Fatalf("expected nothing reaped yet, got %d", n)
	}

	idle.mu.Lock()
	idle.lastActiveAt = time.Now().Add(-2 * time.Minute)
	idle.mu.Unlock()
	if _, err := active.UpdateQuery("caf"); err != nil {
		t.Fatalf("UpdateQuery: %v", err)
	}

	if n := manager.reapIdle(time.Now()); n != 1 {
		t.Fatalf("expected one idle session reaped, got %d", n)
	}
	if _, err := manager.Get(idle.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("expected idle session removed")
	}
	if _, err := manager.Get(active.ID()); err != nil {
		t.Fatal("expected active session kept")
	}
}

func TestManagerBackgroundReaper(t *testing.T) {
	manager := NewManager(newFakeLookup(), WithIdleTTL(20*time.Millisecond), WithReapInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.StartBackground(ctx)

	manager.Create()
	waitFor(t, time.Second, "idle session reaped", func() bool {
		return manager.Len() == 0
	})
}

func TestManagerShutdownClosesAll(t *testing.T) {
	manager := NewManager(newFakeLookup())
	sessions := []*Session{manager.Create(), manager.Create(), manager.Create()}

	manager.Shutdown()
	if manager.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", manager.Len())
	}
	for _, session := range sessions {
		if _, err := session.SubmitQuery(context.Background(), "aspirin"); !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("expected closed session, got %v", err)
		}
	}
}
