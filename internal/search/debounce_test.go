package search

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerDeliversLastValueOnce(t *testing.T) {
	var mu sync.Mutex
	var fired []string
	d := NewDebouncer(30*time.Millisecond, func(value string) {
		mu.Lock()
		fired = append(fired, value)
		mu.Unlock()
	})
	defer d.Stop()

	for _, value := range []string{"c", "ca", "caf"} {
		d.Trigger(value)
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "caf" {
		t.Fatalf("expected a single delivery of caf, got %v", fired)
	}
}

func TestDebouncerStopDropsPending(t *testing.T) {
	fired := make(chan string, 1)
	d := NewDebouncer(20*time.Millisecond, func(value string) { fired <- value })

	d.Trigger("x")
	d.Stop()
	d.Trigger("y")

	select {
	case value := <-fired:
		t.Fatalf("unexpected delivery %q after Stop", value)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestDebouncerSeparatedTriggersEachFire(t *testing.T) {
	fired := make(chan string, 2)
	d := NewDebouncer(10*time.Millisecond, func(value string) { fired <- value })
	defer d.Stop()

	d.Trigger("a")
	if got := <-fired; got != "a" {
		t.Fatalf("expected a, got %q", got)
	}
	d.Trigger("b")
	if got := <-fired; got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
}
