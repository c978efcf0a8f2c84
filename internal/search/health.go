package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chemsearch/searchservice/internal/domain"
	"chemsearch/searchservice/internal/metrics"
)

const (
	operationFailureThreshold = 3
	operationBlockBase        = 2 * time.Minute
	operationBlockMax         = 15 * time.Minute
)

type operationHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

// HealthLookup wraps a Lookup with per-operation circuit breaking. After
// operationFailureThreshold consecutive failures an operation is refused
// with ErrOperationUnavailable until its block expires.
type HealthLookup struct {
	next     Lookup
	expected func(error) bool
	now      func() time.Time

	mu     sync.Mutex
	health map[domain.LookupOperation]*operationHealth
}

type HealthOption func(*HealthLookup)

// WithExpectedErrors marks errors that describe the data rather than the
// service (e.g. unknown names). They are reported but never trip the breaker.
func WithExpectedErrors(fn func(error) bool) HealthOption {
	return func(h *HealthLookup) {
		h.expected = fn
	}
}

func withHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthLookup) {
		h.now = now
	}
}

func NewHealthLookup(next Lookup, opts ...HealthOption) *HealthLookup {
	h := &HealthLookup{
		next:   next,
		now:    time.Now,
		health: make(map[domain.LookupOperation]*operationHealth, len(domain.LookupOperations)),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, op := range domain.LookupOperations {
		metrics.LookupAvailable.WithLabelValues(string(op)).Set(1)
	}
	return h
}

func (h *HealthLookup) Autocomplete(ctx context.Context, text string, limit int) ([]string, error) {
	var items []string
	err := h.call(domain.OpAutocomplete, func() error {
		var err error
		items, err = h.next.Autocomplete(ctx, text, limit)
		return err
	})
	return items, err
}

func (h *HealthLookup) ResolveIdentifier(ctx context.Context, name string) (int64, error) {
	var cid int64
	err := h.call(domain.OpResolve, func() error {
		var err error
		cid, err = h.next.ResolveIdentifier(ctx, name)
		return err
	})
	return cid, err
}

func (h *HealthLookup) FetchDescription(ctx context.Context, cid int64) (string, error) {
	var title string
	err := h.call(domain.OpDescription, func() error {
		var err error
		title, err = h.next.FetchDescription(ctx, cid)
		return err
	})
	return title, err
}

func (h *HealthLookup) FetchProperties(ctx context.Context, cid int64) (domain.Properties, error) {
	var props domain.Properties
	err := h.call(domain.OpProperties, func() error {
		var err error
		props, err = h.next.FetchProperties(ctx, cid)
		return err
	})
	return props, err
}

func (h *HealthLookup) Fetch3DRecord(ctx context.Context, cid int64) (domain.Geometry, error) {
	var geometry domain.Geometry
	err := h.call(domain.OpGeometry, func() error {
		var err error
		geometry, err = h.next.Fetch3DRecord(ctx, cid)
		return err
	})
	return geometry, err
}

func (h *HealthLookup) PreviewImageURL(cid int64) string {
	return h.next.PreviewImageURL(cid)
}

func (h *HealthLookup) call(op domain.LookupOperation, fn func() error) error {
	if blocked, until, lastErr := h.isBlocked(op, h.now()); blocked {
		metrics.LookupRequestsTotal.WithLabelValues(string(op), "blocked").Inc()
		return fmt.Errorf("%w: %s blocked until %s: %s", ErrOperationUnavailable, op, until.Format(time.RFC3339), lastErr)
	}
	start := time.Now()
	err := fn()
	h.record(op, err, time.Since(start), h.now())
	return err
}

func (h *HealthLookup) isBlocked(op domain.LookupOperation, now time.Time) (bool, time.Time, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.health[op]
	if state == nil {
		return false, time.Time{}, ""
	}
	if state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, time.Time{}, ""
	}
	return true, state.blockedUntil, state.lastError
}

func (h *HealthLookup) record(op domain.LookupOperation, err error, latency time.Duration, now time.Time) {
	// A caller giving up says nothing about the remote service.
	if errors.Is(err, context.Canceled) {
		metrics.LookupRequestsTotal.WithLabelValues(string(op), "canceled").Inc()
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	name := string(op)
	state := h.health[op]
	if state == nil {
		state = &operationHealth{}
		h.health[op] = state
	}
	state.totalRequests++
	if latency > 0 {
		state.lastLatency = latency
		metrics.LookupRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil || (h.expected != nil && h.expected(err)) {
		status := "ok"
		if err != nil {
			status = "not_found"
		}
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.LookupRequestsTotal.WithLabelValues(name, status).Inc()
		metrics.LookupAvailable.WithLabelValues(name).Set(1)
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if state.lastTimeout {
		status = "timeout"
	}
	metrics.LookupRequestsTotal.WithLabelValues(name, status).Inc()

	if state.consecutiveFailures >= operationFailureThreshold {
		state.blockedUntil = now.Add(exponentialBlockDuration(state.consecutiveFailures))
		metrics.LookupAvailable.WithLabelValues(name).Set(0)
	}
}

// exponentialBlockDuration is operationBlockBase × 2^(failures - threshold),
// capped at operationBlockMax.
func exponentialBlockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - operationFailureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := operationBlockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > operationBlockMax {
			return operationBlockMax
		}
	}
	return d
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

// Diagnostics reports health for every operation in a stable order.
func (h *HealthLookup) Diagnostics() []domain.LookupDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]domain.LookupDiagnostics, 0, len(domain.LookupOperations))
	for _, op := range domain.LookupOperations {
		item := domain.LookupDiagnostics{Operation: op}
		if state := h.health[op]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			if !state.blockedUntil.IsZero() {
				blockedUntil := state.blockedUntil
				item.BlockedUntil = &blockedUntil
			}
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.TimeoutCount = state.timeoutCount
		}
		items = append(items, item)
	}
	return items
}
