package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chemsearch/searchservice/internal/domain"
	"chemsearch/searchservice/internal/metrics"
	"chemsearch/searchservice/internal/telemetry"
)

var errEmptyDetail = errors.New("empty detail")

// Resolver turns a compound name into a CompoundRecord in two stages:
// name → identifier, then four independent detail fetches keyed by it.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
	tracer trace.Tracer
}

type ResolverOption func(*Resolver)

func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewResolver(lookup Lookup, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		lookup: lookup,
		logger: slog.Default(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveHooks observe a resolution while it runs. Hooks for detail patches
// are called from the fetching goroutines and may run concurrently.
type ResolveHooks struct {
	OnIdentified func(cid int64)
	OnPatch      func(kind domain.DetailKind, patch domain.CompoundPatch)
}

type detailOutcome struct {
	patch  domain.CompoundPatch
	status domain.DetailStatus
}

// Resolve runs the full pipeline. A stage-one failure returns an error
// wrapping ErrNotFound and no record. Detail failures never fail the call;
// they show up in Resolution.Details and leave their fields empty.
func (r *Resolver) Resolve(ctx context.Context, name string, hooks ResolveHooks) (domain.Resolution, error) {
	name = strings.TrimSpace(name)
	resolution := domain.Resolution{Query: name}
	if name == "" {
		return resolution, ErrInvalidQuery
	}

	ctx, span := r.tracer.Start(ctx, "compound.resolve", trace.WithAttributes(attribute.String("compound.name", name)))
	defer span.End()

	startedAt := time.Now()
	defer func() {
		metrics.ResolutionDuration.Observe(time.Since(startedAt).Seconds())
	}()

	cid, err := r.identify(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identify failed")
		metrics.ResolutionsTotal.WithLabelValues("not_found").Inc()
		r.logger.Info("compound resolution failed",
			slog.String("query", truncate(name, 80)),
			slog.String("error", err.Error()),
		)
		resolution.ElapsedMS = time.Since(startedAt).Milliseconds()
		return resolution, fmt.Errorf("%w for %q: %w", ErrNotFound, name, err)
	}
	span.SetAttributes(attribute.Int64("compound.cid", cid))
	if hooks.OnIdentified != nil {
		hooks.OnIdentified(cid)
	}

	record := &domain.CompoundRecord{Identifier: cid}
	outcomes := r.fetchDetails(ctx, cid, hooks.OnPatch)
	resolution.Details = make([]domain.DetailStatus, 0, len(outcomes))
	complete := true
	for _, outcome := range outcomes {
		outcome.patch.Apply(record)
		resolution.Details = append(resolution.Details, outcome.status)
		if !outcome.status.OK {
			complete = false
		}
	}
	resolution.Compound = record
	resolution.ElapsedMS = time.Since(startedAt).Milliseconds()

	if complete {
		metrics.ResolutionsTotal.WithLabelValues("complete").Inc()
	} else {
		metrics.ResolutionsTotal.WithLabelValues("partial").Inc()
	}
	r.logger.Info("compound resolved",
		slog.String("query", truncate(name, 80)),
		slog.Int64("cid", cid),
		slog.Bool("complete", complete),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)
	return resolution, nil
}

func (r *Resolver) identify(ctx context.Context, name string) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "compound.identify")
	defer span.End()

	cid, err := r.lookup.ResolveIdentifier(ctx, name)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if cid <= 0 {
		return 0, fmt.Errorf("invalid identifier %d", cid)
	}
	return cid, nil
}

// fetchDetails runs every detail fetch concurrently and returns once all of
// them settled. Outcomes are ordered like domain.DetailKinds.
func (r *Resolver) fetchDetails(ctx context.Context, cid int64, onPatch func(domain.DetailKind, domain.CompoundPatch)) []detailOutcome {
	outcomes := make([]detailOutcome, len(domain.DetailKinds))
	var wg sync.WaitGroup
	for i, kind := range domain.DetailKinds {
		wg.Add(1)
		go func(i int, kind domain.DetailKind) {
			defer wg.Done()

			detailCtx, span := r.tracer.Start(ctx, "compound.detail", trace.WithAttributes(
				attribute.String("detail.kind", string(kind)),
				attribute.Int64("compound.cid", cid),
			))
			defer span.End()

			startedAt := time.Now()
			patch, err := r.fetchDetail(detailCtx, kind, cid)
			if err == nil && patch.IsEmpty() {
				err = fmt.Errorf("%w: %s returned no data", errEmptyDetail, kind)
			}
			elapsed := time.Since(startedAt)

			status := domain.DetailStatus{Kind: kind, OK: err == nil, ElapsedMS: elapsed.Milliseconds()}
			if err != nil {
				span.RecordError(err)
				status.Error = err.Error()
				metrics.DetailFetchesTotal.WithLabelValues(string(kind), "error").Inc()
				r.logger.Warn("compound detail failed",
					slog.String("kind", string(kind)),
					slog.Int64("cid", cid),
					slog.Int64("elapsedMs", elapsed.Milliseconds()),
					slog.String("error", err.Error()),
				)
				outcomes[i] = detailOutcome{status: status}
				return
			}
			metrics.DetailFetchesTotal.WithLabelValues(string(kind), "ok").Inc()
			outcomes[i] = detailOutcome{patch: patch, status: status}
			if onPatch != nil {
				onPatch(kind, patch)
			}
		}(i, kind)
	}
	wg.Wait()
	return outcomes
}

func (r *Resolver) fetchDetail(ctx context.Context, kind domain.DetailKind, cid int64) (domain.CompoundPatch, error) {
	switch kind {
	case domain.DetailDescription:
		title, err := r.lookup.FetchDescription(ctx, cid)
		if err != nil {
			return domain.CompoundPatch{}, err
		}
		return domain.CompoundPatch{DisplayName: &title}, nil
	case domain.DetailGeometry:
		geometry, err := r.lookup.Fetch3DRecord(ctx, cid)
		if err != nil {
			return domain.CompoundPatch{}, err
		}
		return domain.CompoundPatch{Geometry: &geometry}, nil
	case domain.DetailProperties:
		props, err := r.lookup.FetchProperties(ctx, cid)
		if err != nil {
			return domain.CompoundPatch{}, err
		}
		return domain.CompoundPatch{Properties: &props}, nil
	case domain.DetailPreview:
		url := r.lookup.PreviewImageURL(cid)
		if url == "" {
			return domain.CompoundPatch{}, nil
		}
		return domain.CompoundPatch{PreviewImageURL: &url}, nil
	default:
		return domain.CompoundPatch{}, fmt.Errorf("unknown detail kind %q", kind)
	}
}

// truncate shortens value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut] + "..."
}
