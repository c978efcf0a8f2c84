package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chemsearch/searchservice/internal/domain"
)

var errFakeNotFound = errors.New("fake: no cid")

// fakeLookup serves a tiny compound database from memory. Delays and
// failures are configurable per name and per detail.
type fakeLookup struct {
	suggestions  map[string][]string
	suggestErr   error
	suggestDelay map[string]time.Duration

	names        map[string]int64
	resolveDelay map[string]time.Duration
	descriptions map[int64]string
	properties   map[int64]domain.Properties
	geometries   map[int64]domain.Geometry
	detailErr    map[domain.DetailKind]error
	detailDelay  map[domain.DetailKind]time.Duration
	noPreview    bool

	autocompleteCalls atomic.Int32
	resolveCalls      atomic.Int32

	mu                sync.Mutex
	autocompleteTexts []string
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		suggestions: map[string][]string{
			"asp":     {"aspirin", "asparagine", "aspartame"},
			"aspi":    {"aspirin", "aspirin sodium"},
			"aspirin": {"aspirin", "aspirin sodium", "aspirin anhydride"},
			"caf":     {"caffeine", "caffeic acid"},
		},
		suggestDelay: map[string]time.Duration{},
		names: map[string]int64{
			"aspirin":  2244,
			"caffeine": 2519,
		},
		resolveDelay: map[string]time.Duration{},
		descriptions: map[int64]string{
			2244: "Aspirin",
			2519: "Caffeine",
		},
		properties: map[int64]domain.Properties{
			2244: {Formula: "C9H8O4", MolecularWeight: 180.16},
			2519: {Formula: "C8H10N4O2", MolecularWeight: 194.19},
		},
		geometries: map[int64]domain.Geometry{
			2244: testGeometry(),
			2519: testGeometry(),
		},
		detailErr:   map[domain.DetailKind]error{},
		detailDelay: map[domain.DetailKind]time.Duration{},
	}
}

func testGeometry() domain.Geometry {
	return domain.Geometry{
		Coords: domain.Coordinates{
			X: []float64{0, 1.2, 2.4},
			Y: []float64{0, 0.1, 0.2},
			Z: []float64{0, 0, 0.5},
		},
		Bonds:      domain.BondTopology{First: []int{1, 2}, Second: []int{2, 3}, Order: []int{2, 1}},
		Elements:   []int{8, 6, 1},
		Has3DModel: true,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *fakeLookup) Autocomplete(ctx context.Context, text string, limit int) ([]string, error) {
	f.autocompleteCalls.Add(1)
	f.mu.Lock()
	f.autocompleteTexts = append(f.autocompleteTexts, text)
	f.mu.Unlock()

	if err := sleepCtx(ctx, f.suggestDelay[text]); err != nil {
		return nil, err
	}
	if f.suggestErr != nil {
		return nil, f.suggestErr
	}
	items := f.suggestions[strings.ToLower(text)]
	if len(items) > limit {
		items = items[:limit]
	}
	return append([]string{}, items...), nil
}

func (f *fakeLookup) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.autocompleteTexts...)
}

func (f *fakeLookup) ResolveIdentifier(ctx context.Context, name string) (int64, error) {
	f.resolveCalls.Add(1)
	key := strings.ToLower(strings.TrimSpace(name))
	if err := sleepCtx(ctx, f.resolveDelay[key]); err != nil {
		return 0, err
	}
	cid, ok := f.names[key]
	if !ok {
		return 0, errFakeNotFound
	}
	return cid, nil
}

func (f *fakeLookup) detail(ctx context.Context, kind domain.DetailKind) error {
	if err := sleepCtx(ctx, f.detailDelay[kind]); err != nil {
		return err
	}
	return f.detailErr[kind]
}

func (f *fakeLookup) FetchDescription(ctx context.Context, cid int64) (string, error) {
	if err := f.detail(ctx, domain.DetailDescription); err != nil {
		return "", err
	}
	title, ok := f.descriptions[cid]
	if !ok {
		return "", fmt.Errorf("no description for %d", cid)
	}
	return title, nil
}

func (f *fakeLookup) FetchProperties(ctx context.Context, cid int64) (domain.Properties, error) {
	if err := f.detail(ctx, domain.DetailProperties); err != nil {
		return domain.Properties{}, err
	}
	props, ok := f.properties[cid]
	if !ok {
		return domain.Properties{}, fmt.Errorf("no properties for %d", cid)
	}
	return props, nil
}

func (f *fakeLookup) Fetch3DRecord(ctx context.Context, cid int64) (domain.Geometry, error) {
	if err := f.detail(ctx, domain.DetailGeometry); err != nil {
		return domain.Geometry{}, err
	}
	geometry, ok := f.geometries[cid]
	if !ok {
		return domain.Geometry{}, fmt.Errorf("no 3d record for %d", cid)
	}
	return geometry, nil
}

func (f *fakeLookup) PreviewImageURL(cid int64) string {
	if f.noPreview {
		return ""
	}
	return fmt.Sprintf("https://pubchem.ncbi.nlm.nih.gov/image/imagefly.cgi?cid=%d&width=300&height=300", cid)
}

// failingLookup fails every call with the same error.
type failingLookup struct {
	err   error
	calls atomic.Int32
}

func (f *failingLookup) Autocomplete(context.Context, string, int) ([]string, error) {
	f.calls.Add(1)
	return nil, f.err
}

func (f *failingLookup) ResolveIdentifier(context.Context, string) (int64, error) {
	f.calls.Add(1)
	return 0, f.err
}

func (f *failingLookup) FetchDescription(context.Context, int64) (string, error) {
	f.calls.Add(1)
	return "", f.err
}

func (f *failingLookup) FetchProperties(context.Context, int64) (domain.Properties, error) {
	f.calls.Add(1)
	return domain.Properties{}, f.err
}

func (f *failingLookup) Fetch3DRecord(context.Context, int64) (domain.Geometry, error) {
	f.calls.Add(1)
	return domain.Geometry{}, f.err
}

func (f *failingLookup) PreviewImageURL(cid int64) string {
	return fmt.Sprintf("preview:%d", cid)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
