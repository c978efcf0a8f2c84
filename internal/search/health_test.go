package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chemsearch/searchservice/internal/domain"
)

func TestExponentialBlockDuration(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 15 * time.Minute},
		{10, 15 * time.Minute},
	}
	for _, tt := range tests {
		if got := exponentialBlockDuration(tt.failures); got != tt.want {
			t.Errorf("exponentialBlockDuration(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestHealthLookupBlocksAfterThreshold(t *testing.T) {
	failing := &failingLookup{err: fmt.Errorf("connection timeout")}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	health := NewHealthLookup(failing, withHealthClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < operationFailureThreshold; i++ {
		if _, err := health.ResolveIdentifier(ctx, "aspirin"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if got := failing.calls.Load(); got != operationFailureThreshold {
		t.Fatalf("expected %d remote calls, got %d", operationFailureThreshold, got)
	}

	_, err := health.ResolveIdentifier(ctx, "aspirin")
	if !errors.Is(err, ErrOperationUnavailable) {
		t.Fatalf("expected ErrOperationUnavailable, got %v", err)
	}
	if got := failing.calls.Load(); got != operationFailureThreshold {
		t.Fatal("blocked operation must not reach the remote service")
	}

	// Other operations keep their own state.
	if _, err := health.FetchDescription(ctx, 2244); errors.Is(err, ErrOperationUnavailable) {
		t.Fatal("description should not be blocked by resolve failures")
	}

	now = now.Add(operationBlockBase + time.Second)
	if _, err := health.ResolveIdentifier(ctx, "aspirin"); errors.Is(err, ErrOperationUnavailable) {
		t.Fatal("block should expire after the base duration")
	}
}

func TestHealthLookupExpectedErrorsDoNotTrip(t *testing.T) {
	lookup := newFakeLookup()
	health := NewHealthLookup(lookup, WithExpectedErrors(func(err error) bool {
		return errors.Is(err, errFakeNotFound)
	}))
	ctx := context.Background()

	for i := 0; i < operationFailureThreshold+2; i++ {
		_, err := health.ResolveIdentifier(ctx, "xyznotarealcompound")
		if !errors.Is(err, errFakeNotFound) {
			t.Fatalf("attempt %d: expected not-found error, got %v", i, err)
		}
	}
	if got := lookup.resolveCalls.Load(); got != operationFailureThreshold+2 {
		t.Fatalf("expected every call to reach the lookup, got %d", got)
	}
}

func TestHealthLookupSuccessResetsFailures(t *testing.T) {
	lookup := newFakeLookup()
	lookup.detailErr[domain.DetailProperties] = errors.New("connection reset")
	health := NewHealthLookup(lookup)
	ctx := context.Background()

	for i := 0; i < operationFailureThreshold-1; i++ {
		_, _ = health.FetchProperties(ctx, 2244)
	}
	delete(lookup.detailErr, domain.DetailProperties)
	if _, err := health.FetchProperties(ctx, 2244); err != nil {
		t.Fatalf("FetchProperties: %v", err)
	}

	for _, item := range health.Diagnostics() {
		if item.Operation != domain.OpProperties {
			continue
		}
		if item.ConsecutiveFailures != 0 {
			t.Fatalf("expected failures reset, got %d", item.ConsecutiveFailures)
		}
		if item.TotalRequests != int64(operationFailureThreshold) || item.TotalFailures != int64(operationFailureThreshold-1) {
			t.Fatalf("unexpected totals: %+v", item)
		}
		if item.LastSuccessAt == nil {
			t.Fatal("expected last success time")
		}
		return
	}
	t.Fatal("properties missing from diagnostics")
}

func TestHealthLookupDiagnosticsListsEveryOperation(t *testing.T) {
	health := NewHealthLookup(newFakeLookup())
	items := health.Diagnostics()
	if len(items) != len(domain.LookupOperations) {
		t.Fatalf("expected %d operations, got %d", len(domain.LookupOperations), len(items))
	}
	for i, item := range items {
		if item.Operation != domain.LookupOperations[i] {
			t.Fatalf("item %d: expected %s, got %s", i, domain.LookupOperations[i], item.Operation)
		}
	}
}

func TestHealthLookupIgnoresCallerCancellation(t *testing.T) {
	failing := &failingLookup{err: context.Canceled}
	health := NewHealthLookup(failing)

	for i := 0; i < operationFailureThreshold+1; i++ {
		_, err := health.Autocomplete(context.Background(), "asp", 5)
		if errors.Is(err, ErrOperationUnavailable) {
			t.Fatal("cancellations must not open the breaker")
		}
	}
}
