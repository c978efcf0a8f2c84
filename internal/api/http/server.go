package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"chemsearch/searchservice/internal/domain"
	"chemsearch/searchservice/internal/search"
)

type SessionStore interface {
	Create() *search.Session
	Get(id string) (*search.Session, error)
	Close(id string) error
}

type CompoundResolver interface {
	Resolve(ctx context.Context, name string, hooks search.ResolveHooks) (domain.Resolution, error)
}

type LookupHealth interface {
	Diagnostics() []domain.LookupDiagnostics
}

type Server struct {
	sessions      SessionStore
	lookup        search.Lookup
	resolver      CompoundResolver
	health        LookupHealth
	previewClient *http.Client
	suggestLimit  int
	logger        *slog.Logger
}

const (
	maxQueryLength     = 500
	maxSuggestLimit    = 20
	streamPingInterval = 15 * time.Second
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithResolver(resolver CompoundResolver) ServerOption {
	return func(s *Server) {
		s.resolver = resolver
	}
}

func WithLookupHealth(health LookupHealth) ServerOption {
	return func(s *Server) {
		s.health = health
	}
}

func WithPreviewClient(client *http.Client) ServerOption {
	return func(s *Server) {
		s.previewClient = client
	}
}

func WithSuggestLimit(limit int) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.suggestLimit = limit
		}
	}
}

func NewServer(sessions SessionStore, lookup search.Lookup, options ...ServerOption) *Server {
	server := &Server{
		sessions:     sessions,
		lookup:       lookup,
		suggestLimit: search.DefaultSuggestionLimit,
		logger:       slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.resolver == nil && lookup != nil {
		server.resolver = search.NewResolver(lookup, search.WithResolverLogger(server.logger))
	}
	if server.previewClient == nil {
		server.previewClient = newPreviewClient()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	router.Get("/health", s.handleHealth)
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCloseSession)
			r.Put("/query", s.handleUpdateQuery)
			r.Post("/select", s.handleSelectSuggestion)
			r.Post("/submit", s.handleSubmitQuery)
			r.Get("/stream", s.handleSessionStream)
		})
	})
	router.Get("/compounds/suggest", s.handleSuggest)
	router.Get("/compounds/lookup", s.handleLookup)
	router.Get("/compounds/{cid}/preview", s.handlePreview)
	router.Get("/lookup/health", s.handleLookupHealth)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, router), "compound-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session store is not configured")
		return
	}
	session := s.sessions.Create()
	writeJSON(w, http.StatusCreated, session.Snapshot())
}

func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*search.Session, bool) {
	if s.sessions == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session store is not configured")
		return nil, false
	}
	session, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSearchError(w, err)
		return nil, false
	}
	return session, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session store is not configured")
		return
	}
	if err := s.sessions.Close(chi.URLParam(r, "id")); err != nil {
		s.writeSearchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateQuery(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var payload struct {
		Query *string `json:"query"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if payload.Query == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "query field is required")
		return
	}
	if len(*payload.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}

	state, err := session.UpdateQuery(*payload.Query)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSelectSuggestion(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var payload struct {
		Suggestion string `json:"suggestion"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	suggestion := strings.TrimSpace(payload.Suggestion)
	if suggestion == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "suggestion is required")
		return
	}
	if len(suggestion) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "suggestion too long (max 500 characters)")
		return
	}

	state, err := session.SelectSuggestion(r.Context(), suggestion)
	s.writeSettledState(w, r, state, err)
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var payload struct {
		Query string `json:"query"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	override := strings.TrimSpace(payload.Query)
	if len(override) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}

	if parseOptionalBool(r.URL.Query().Get("async")) {
		state, err := session.SubmitQueryAsync(override)
		if err != nil {
			s.writeSearchError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, state)
		return
	}

	state, err := session.SubmitQuery(r.Context(), override)
	s.writeSettledState(w, r, state, err)
}

// writeSettledState answers a finished resolution. A compound that could not
// be found is a normal outcome carried in the state, not an HTTP error.
func (s *Server) writeSettledState(w http.ResponseWriter, r *http.Request, state domain.SessionState, err error) {
	switch {
	case err == nil, errors.Is(err, search.ErrNotFound):
		writeJSON(w, http.StatusOK, state)
	case r.Context().Err() != nil:
		// Client went away; nothing to answer.
	default:
		s.writeSearchError(w, err)
	}
}

func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := writeSSEEvent(w, flusher, "state", session.Snapshot()); err != nil {
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case _, open := <-updates:
			if !open {
				_ = writeSSEEvent(w, flusher, "closed", map[string]any{"id": session.ID()})
				return
			}
			if err := writeSSEEvent(w, flusher, "state", session.Snapshot()); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" || s.lookup == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []string{}})
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	limit, err := parsePositiveInt(r, "limit", s.suggestLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if limit > maxSuggestLimit {
		limit = maxSuggestLimit
	}

	items, err := s.lookup.Autocomplete(r.Context(), query, limit)
	if err != nil {
		s.logger.Warn("suggest failed", slog.String("query", truncate(query, 60)), slog.String("error", err.Error()))
		items = []string{}
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "resolver is not configured")
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if len(name) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "name too long (max 500 characters)")
		return
	}

	resolution, err := s.resolver.Resolve(r.Context(), name, search.ResolveHooks{})
	if err != nil {
		s.writeSearchError(w, err)
		return
	}

	failed := make([]string, 0, len(resolution.Details))
	for _, status := range resolution.Details {
		if !status.OK {
			failed = append(failed, string(status.Kind))
		}
	}
	s.logger.Info("lookup completed",
		slog.String("name", truncate(name, 80)),
		slog.Int64("cid", resolution.Compound.Identifier),
		slog.Int64("elapsedMs", resolution.ElapsedMS),
		slog.Int("failedDetails", len(failed)),
	)
	if len(failed) > 0 {
		s.logger.Warn("lookup details partially failed",
			slog.String("name", truncate(name, 80)),
			slog.Any("failedDetails", failed),
		)
	}
	writeJSON(w, http.StatusOK, resolution)
}

func (s *Server) handleLookupHealth(w http.ResponseWriter, _ *http.Request) {
	items := []domain.LookupDiagnostics{}
	if s.health != nil {
		items = s.health.Diagnostics()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     items,
	})
}

func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, search.ErrSessionClosed):
		writeError(w, http.StatusGone, "session_closed", err.Error())
	case errors.Is(err, search.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, search.ErrOperationUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "compound lookup is temporarily unavailable")
	case errors.Is(err, search.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "lookup timed out")
	default:
		s.logger.Warn("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
