package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chemsearch/searchservice/internal/domain"
	"chemsearch/searchservice/internal/metrics"
)

const (
	DefaultDebounce        = 500 * time.Millisecond
	DefaultSuggestionLimit = 5
)

// Session holds the state of one search screen: the live query, its
// debounced copy, suggestions, and the most recently resolved compound.
//
// Work started for an older query is never cancelled. Its results are
// dropped when they land: suggestion fetches are fenced by the debounced
// query generation, resolutions by the submit generation.
type Session struct {
	id       string
	lookup   Lookup
	resolver *Resolver
	logger   *slog.Logger
	limit    int
	delay    time.Duration

	debouncer *Debouncer
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu           sync.Mutex
	state        domain.SessionState
	suggestGen   uint64
	closed       bool
	lastActiveAt time.Time
	subscribers  map[chan struct{}]struct{}
}

type SessionOption func(*Session)

func WithDebounce(delay time.Duration) SessionOption {
	return func(s *Session) {
		if delay > 0 {
			s.delay = delay
		}
	}
}

func WithSuggestionLimit(limit int) SessionOption {
	return func(s *Session) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSession(id string, lookup Lookup, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		lookup:       lookup,
		logger:       slog.Default(),
		limit:        DefaultSuggestionLimit,
		delay:        DefaultDebounce,
		ctx:          ctx,
		cancel:       cancel,
		lastActiveAt: time.Now(),
		subscribers:  make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("session", id))
	s.resolver = NewResolver(lookup, WithResolverLogger(s.logger))
	s.debouncer = NewDebouncer(s.delay, s.onDebounced)
	s.state = domain.SessionState{ID: id, Suggestions: []string{}, UpdatedAt: time.Now()}
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneSessionState(s.state)
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// UpdateQuery records a keystroke. The query changes immediately; the
// debounced query follows once input pauses for the debounce window.
func (s *Session) UpdateQuery(text string) (domain.SessionState, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.SessionState{}, ErrSessionClosed
	}
	s.setQueryLocked(text)
	snapshot := domain.CloneSessionState(s.state)
	s.mu.Unlock()

	s.notify()
	return snapshot, nil
}

func (s *Session) setQueryLocked(text string) {
	now := time.Now()
	s.state.Query = text
	if text == "" {
		s.state.Suggestions = []string{}
	}
	s.state.UpdatedAt = now
	s.lastActiveAt = now
	s.debouncer.Trigger(text)
}

func (s *Session) onDebounced(value string) {
	s.mu.Lock()
	if s.closed || value == s.state.DebouncedQuery {
		s.mu.Unlock()
		return
	}
	metrics.DebounceFiresTotal.Inc()
	s.state.DebouncedQuery = value
	s.state.Error = ""
	s.state.UpdatedAt = time.Now()
	s.suggestGen++
	gen := s.suggestGen
	fetch := value != ""
	if fetch {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.notify()
	if !fetch {
		return
	}
	defer s.wg.Done()
	s.fetchSuggestions(gen, value)
}

func (s *Session) fetchSuggestions(gen uint64, text string) {
	items, err := s.lookup.Autocomplete(s.ctx, text, s.limit)

	s.mu.Lock()
	if s.closed || gen != s.suggestGen || s.state.Query == "" {
		s.mu.Unlock()
		metrics.SuggestionFetchesTotal.WithLabelValues("stale").Inc()
		return
	}
	if err != nil {
		s.state.Suggestions = []string{}
		metrics.SuggestionFetchesTotal.WithLabelValues("error").Inc()
		s.logger.Warn("suggestion fetch failed",
			slog.String("query", truncate(text, 80)),
			slog.String("error", err.Error()),
		)
	} else {
		s.state.Suggestions = append([]string{}, items...)
		outcome := "ok"
		if len(items) == 0 {
			outcome = "empty"
		}
		metrics.SuggestionFetchesTotal.WithLabelValues(outcome).Inc()
	}
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.notify()
}

// SubmitQuery resolves override, or the live query when override is blank,
// and waits until every stage settled or ctx is done. A resolution that
// finds nothing is reported both in the returned state and as an error
// wrapping ErrNotFound.
func (s *Session) SubmitQuery(ctx context.Context, override string) (domain.SessionState, error) {
	done, err := s.startResolution(override)
	if err != nil {
		return s.Snapshot(), err
	}
	select {
	case err := <-done:
		return s.Snapshot(), err
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// SubmitQueryAsync starts a resolution and returns the loading state
// without waiting for it.
func (s *Session) SubmitQueryAsync(override string) (domain.SessionState, error) {
	_, err := s.startResolution(override)
	return s.Snapshot(), err
}

// SelectSuggestion clears the query and its suggestions, then resolves the
// chosen suggestion directly.
func (s *Session) SelectSuggestion(ctx context.Context, suggestion string) (domain.SessionState, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.SessionState{}, ErrSessionClosed
	}
	s.setQueryLocked("")
	s.mu.Unlock()
	s.notify()

	return s.SubmitQuery(ctx, suggestion)
}

func (s *Session) startResolution(override string) (<-chan error, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}

	name := strings.TrimSpace(override)
	if name == "" {
		name = strings.TrimSpace(s.state.Query)
	}
	s.state.Generation++
	gen := s.state.Generation
	now := time.Now()
	s.state.UpdatedAt = now
	s.lastActiveAt = now

	if name == "" {
		s.state.Compound = nil
		s.state.IsLoading = false
		s.state.Error = ErrInvalidQuery.Error()
		s.mu.Unlock()
		s.notify()
		return nil, ErrInvalidQuery
	}

	s.state.IsLoading = true
	s.state.Error = ""
	s.wg.Add(1)
	s.mu.Unlock()
	s.notify()

	done := make(chan error, 1)
	go func() {
		defer s.wg.Done()
		done <- s.runResolution(gen, name)
	}()
	return done, nil
}

func (s *Session) runResolution(gen uint64, name string) error {
	resolution, err := s.resolver.Resolve(s.ctx, name, ResolveHooks{
		OnIdentified: func(cid int64) {
			s.applyIfCurrent(gen, func(state *domain.SessionState) {
				state.Compound = &domain.CompoundRecord{Identifier: cid}
			})
		},
		OnPatch: func(_ domain.DetailKind, patch domain.CompoundPatch) {
			s.applyIfCurrent(gen, func(state *domain.SessionState) {
				patch.Apply(state.Compound)
			})
		},
	})

	s.applyIfCurrent(gen, func(state *domain.SessionState) {
		if err != nil {
			state.Compound = nil
			state.Error = resolutionErrorMessage(name, err)
		} else {
			state.Compound = domain.CloneCompound(resolution.Compound)
		}
		state.IsLoading = false
	})
	return err
}

func resolutionErrorMessage(name string, err error) string {
	if errors.Is(err, ErrOperationUnavailable) {
		return "compound lookup is temporarily unavailable"
	}
	return fmt.Sprintf("no compound found for %q", name)
}

// applyIfCurrent mutates state only while gen is the latest submission.
func (s *Session) applyIfCurrent(gen uint64, mutate func(state *domain.SessionState)) {
	s.mu.Lock()
	if s.closed || gen != s.state.Generation {
		s.mu.Unlock()
		return
	}
	mutate(&s.state)
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.notify()
}

// Subscribe returns a channel that receives a signal after every state
// change. Signals coalesce; read Snapshot for the state itself. The channel
// is closed when the session closes.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close stops the debounce timer, cancels in-flight lookups and waits for
// them to return. Further mutations fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.debouncer.Stop()
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()
}
