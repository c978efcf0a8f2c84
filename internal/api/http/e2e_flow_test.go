package apihttp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chemsearch/searchservice/internal/domain"
	"chemsearch/searchservice/internal/providers/pubchem"
	"chemsearch/searchservice/internal/search"
)

// fakePubChem answers the handful of PubChem routes the service calls, for
// a single compound.
type fakePubChem struct {
	autocompleteCalls atomic.Int32
	resolveCalls      atomic.Int32
}

func (f *fakePubChem) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/rest/autocomplete/compound/"):
		f.autocompleteCalls.Add(1)
		fmt.Fprint(w, `{"status":{"code":0},"total":2,"dictionary_terms":{"compound":["aspirin","aspirin sodium"]}}`)
	case path == "/rest/pug/compound/name/aspirin/record/JSON/":
		f.resolveCalls.Add(1)
		fmt.Fprint(w, `{"PC_Compounds":[{"id":{"id":{"cid":2244}}}]}`)
	case strings.HasPrefix(path, "/rest/pug/compound/name/"):
		f.resolveCalls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"Fault":{"Code":"PUGREST.NotFound","Message":"No CID found"}}`)
	case path == "/rest/pug/compound/cid/2244/description/JSON":
		fmt.Fprint(w, `{"InformationList":{"Information":[{"CID":2244,"Title":"Aspirin"}]}}`)
	case path == "/rest/pug/compound/cid/2244/property/MolecularFormula,MolecularWeight/JSON/":
		fmt.Fprint(w, `{"PropertyTable":{"Properties":[{"CID":2244,"MolecularFormula":"C9H8O4","MolecularWeight":"180.16"}]}}`)
	case path == "/rest/pug/compound/cid/2244/record/JSON/":
		fmt.Fprint(w, `{"PC_Compounds":[{"id":{"id":{"cid":2244}},"atoms":{"aid":[1,2],"element":[8,6]},"bonds":{"aid1":[1],"aid2":[2],"order":[2]},"coords":[{"aid":[1,2],"conformers":[{"x":[0,1],"y":[0,1],"z":[0,1]}]}]}]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"Fault":{"Code":"PUGREST.NotFound","Message":"unknown route"}}`)
	}
}

type flowClient struct {
	t    *testing.T
	base string
}

func (c flowClient) do(method, path, body string) (int, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, payload
}

func (c flowClient) state(method, path, body string, wantStatus int) domain.SessionState {
	c.t.Helper()
	status, payload := c.do(method, path, body)
	if status != wantStatus {
		c.t.Fatalf("%s %s: expected %d, got %d: %s", method, path, wantStatus, status, payload)
	}
	var state domain.SessionState
	if err := json.Unmarshal(payload, &state); err != nil {
		c.t.Fatalf("decode state: %v", err)
	}
	return state
}

// TestE2ETypeSelectResolve walks a whole session through the HTTP API with
// the real PubChem client pointed at a fake upstream.
func TestE2ETypeSelectResolve(t *testing.T) {
	upstream := &fakePubChem{}
	pubchemServer := httptest.NewServer(upstream)
	defer pubchemServer.Close()

	client := pubchem.NewClient(pubchem.Config{
		BaseURL:       pubchemServer.URL,
		Client:        pubchemServer.Client(),
		Cache:         pubchem.NewMemoryCache(64, time.Minute),
		RatePerSecond: 1000,
		Retry:         &pubchem.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2},
	})
	health := search.NewHealthLookup(client, search.WithExpectedErrors(pubchem.IsNotFound))
	manager := search.NewManager(health, search.WithSessionOptions(search.WithDebounce(20*time.Millisecond)))
	defer manager.Shutdown()

	api := httptest.NewServer(NewServer(manager, health, WithLookupHealth(health)).Handler())
	defer api.Close()
	c := flowClient{t: t, base: api.URL}

	created := c.state(http.MethodPost, "/sessions", "", http.StatusCreated)
	sessionPath := "/sessions/" + created.ID

	// Typing in bursts only reaches upstream once the text settles.
	for _, text := range []string{"a", "as", "asp", "aspi"} {
		c.state(http.MethodPut, sessionPath+"/query", fmt.Sprintf(`{"query":%q}`, text), http.StatusOK)
	}
	var typed domain.SessionState
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		typed = c.state(http.MethodGet, sessionPath, "", http.StatusOK)
		if len(typed.Suggestions) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if typed.DebouncedQuery != "aspi" || len(typed.Suggestions) != 2 {
		t.Fatalf("unexpected typed state: %+v", typed)
	}
	if got := upstream.autocompleteCalls.Load(); got != 1 {
		t.Fatalf("expected one autocomplete call, got %d", got)
	}

	resolved := c.state(http.MethodPost, sessionPath+"/select", `{"suggestion":"aspirin"}`, http.StatusOK)
	if resolved.Query != "" || len(resolved.Suggestions) != 0 {
		t.Fatalf("expected search box cleared, got %+v", resolved)
	}
	compound := resolved.Compound
	if compound == nil {
		t.Fatal("expected compound record")
	}
	if compound.Identifier != 2244 || compound.DisplayName != "Aspirin" || compound.Formula != "C9H8O4" {
		t.Fatalf("unexpected compound: %+v", compound)
	}
	if compound.MolecularWeight == nil || *compound.MolecularWeight != 180.16 {
		t.Fatalf("unexpected weight: %v", compound.MolecularWeight)
	}
	if compound.Geometry == nil || len(compound.Geometry.Elements) != 2 || !compound.Geometry.Has3DModel {
		t.Fatalf("unexpected geometry: %+v", compound.Geometry)
	}
	if !strings.HasPrefix(compound.PreviewImageURL, pubchemServer.URL+"/image/imagefly.cgi?cid=2244") {
		t.Fatalf("unexpected preview url %q", compound.PreviewImageURL)
	}

	// A typo is reported in the state and does not count against upstream health.
	missing := c.state(http.MethodPost, sessionPath+"/submit", `{"query":"asprin"}`, http.StatusOK)
	if missing.Compound != nil || !strings.Contains(missing.Error, "asprin") {
		t.Fatalf("unexpected state after typo: %+v", missing)
	}
	for _, diag := range health.Diagnostics() {
		if diag.Operation == domain.OpResolve && diag.ConsecutiveFailures != 0 {
			t.Fatalf("expected not-found to leave resolve healthy, got %+v", diag)
		}
	}

	// The one-shot lookup reuses cached upstream answers.
	before := upstream.resolveCalls.Load()
	status, payload := c.do(http.MethodGet, "/compounds/lookup?name=Aspirin", "")
	if status != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d: %s", status, payload)
	}
	if got := upstream.resolveCalls.Load(); got != before {
		t.Fatalf("expected cached resolve, upstream calls went %d -> %d", before, got)
	}

	if status, _ := c.do(http.MethodDelete, sessionPath, ""); status != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", status)
	}
	if status, _ := c.do(http.MethodGet, sessionPath, ""); status != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", status)
	}
}
