package search

import (
	"context"
	"errors"

	"chemsearch/searchservice/internal/domain"
)

var (
	ErrInvalidQuery         = errors.New("query is required")
	ErrNotFound             = errors.New("no compound found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionClosed        = errors.New("session closed")
	ErrOperationUnavailable = errors.New("lookup operation temporarily unavailable")
)

// Lookup is the remote compound database. Every call may fail independently.
type Lookup interface {
	Autocomplete(ctx context.Context, text string, limit int) ([]string, error)
	ResolveIdentifier(ctx context.Context, name string) (int64, error)
	FetchDescription(ctx context.Context, cid int64) (string, error)
	FetchProperties(ctx context.Context, cid int64) (domain.Properties, error)
	Fetch3DRecord(ctx context.Context, cid int64) (domain.Geometry, error)
	PreviewImageURL(cid int64) string
}
