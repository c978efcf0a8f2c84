package domain

import "time"

// SessionState is a point-in-time copy of one search session.
type SessionState struct {
	ID             string          `json:"id"`
	Query          string          `json:"query"`
	DebouncedQuery string          `json:"debouncedQuery"`
	Suggestions    []string        `json:"suggestions"`
	Compound       *CompoundRecord `json:"compound"`
	IsLoading      bool            `json:"isLoading"`
	Error          string          `json:"error,omitempty"`
	Generation     uint64          `json:"generation"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func CloneSessionState(state SessionState) SessionState {
	cloned := state
	cloned.Suggestions = append([]string{}, state.Suggestions...)
	cloned.Compound = CloneCompound(state.Compound)
	return cloned
}

type DetailKind string

const (
	DetailDescription DetailKind = "description"
	DetailGeometry    DetailKind = "geometry"
	DetailProperties  DetailKind = "properties"
	DetailPreview     DetailKind = "preview"
)

// DetailKinds lists the stage-two steps in a stable order.
var DetailKinds = []DetailKind{DetailDescription, DetailGeometry, DetailProperties, DetailPreview}

type DetailStatus struct {
	Kind      DetailKind `json:"kind"`
	OK        bool       `json:"ok"`
	Error     string     `json:"error,omitempty"`
	ElapsedMS int64      `json:"elapsedMs"`
}

type Resolution struct {
	Query     string          `json:"query"`
	Compound  *CompoundRecord `json:"compound"`
	Details   []DetailStatus  `json:"details"`
	ElapsedMS int64           `json:"elapsedMs"`
}

type LookupOperation string

const (
	OpAutocomplete LookupOperation = "autocomplete"
	OpResolve      LookupOperation = "resolve"
	OpDescription  LookupOperation = "description"
	OpProperties   LookupOperation = "properties"
	OpGeometry     LookupOperation = "geometry"
)

var LookupOperations = []LookupOperation{OpAutocomplete, OpResolve, OpDescription, OpProperties, OpGeometry}

type LookupDiagnostics struct {
	Operation           LookupOperation `json:"operation"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	BlockedUntil        *time.Time      `json:"blockedUntil,omitempty"`
	LastError           string          `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time      `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time      `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64           `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool            `json:"lastTimeout,omitempty"`
	TotalRequests       int64           `json:"totalRequests,omitempty"`
	TotalFailures       int64           `json:"totalFailures,omitempty"`
	TimeoutCount        int64           `json:"timeoutCount,omitempty"`
}
