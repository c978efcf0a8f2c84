package pubchem

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"chemsearch/searchservice/internal/domain"
	"chemsearch/searchservice/internal/metrics"
)

const (
	DefaultBaseURL       = "https://pubchem.ncbi.nlm.nih.gov"
	defaultUserAgent     = "chemsearch/1.0"
	defaultRatePerSecond = 5
	defaultMaxConcurrent = 4
	defaultCacheTTL      = 24 * time.Hour
	previewSize          = 300
	maxResponseBytes     = 16 << 20
)

type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	cache     Cache
	cacheTTL  time.Duration
	limiter   *rate.Limiter
	sem       *semaphore.Weighted
	retry     RetryConfig
}

type Config struct {
	BaseURL       string
	Client        *http.Client
	UserAgent     string
	Cache         Cache
	CacheTTL      time.Duration
	RatePerSecond float64
	MaxConcurrent int
	Retry         *RetryConfig
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = defaultRatePerSecond
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      httpClient,
		userAgent: userAgent,
		cache:     cfg.Cache,
		cacheTTL:  cacheTTL,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		retry:     retry,
	}
}

// Autocomplete returns up to limit candidate compound names for text.
// A response without matches yields an empty slice and no error.
func (c *Client) Autocomplete(ctx context.Context, text string, limit int) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = 5
	}
	reqURL := c.baseURL + "/rest/autocomplete/compound/" + url.PathEscape(text) + "/json?limit=" + strconv.Itoa(limit)

	var response autocompleteResponse
	if err := c.getJSON(ctx, autocompleteKey(text, limit), reqURL, &response); err != nil {
		return nil, err
	}
	if response.Total <= 0 || len(response.DictionaryTerms.Compound) == 0 {
		return []string{}, nil
	}
	items := response.DictionaryTerms.Compound
	if len(items) > limit {
		items = items[:limit]
	}
	return append([]string(nil), items...), nil
}

// ResolveIdentifier maps a compound name to its CID.
func (c *Client) ResolveIdentifier(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: empty name", ErrNoRecord)
	}
	reqURL := c.baseURL + "/rest/pug/compound/name/" + url.PathEscape(name) + "/record/JSON/"

	var response recordResponse
	if err := c.getJSON(ctx, nameKey(name), reqURL, &response); err != nil {
		return 0, err
	}
	if err := faultError(http.StatusOK, response.Fault); err != nil {
		return 0, err
	}
	if len(response.PCCompounds) == 0 || response.PCCompounds[0].ID.ID.CID == 0 {
		return 0, fmt.Errorf("%w: no cid for %q", ErrNoRecord, name)
	}
	return response.PCCompounds[0].ID.ID.CID, nil
}

func (c *Client) FetchDescription(ctx context.Context, cid int64) (string, error) {
	reqURL := fmt.Sprintf("%s/rest/pug/compound/cid/%d/description/JSON", c.baseURL, cid)

	var response descriptionResponse
	if err := c.getJSON(ctx, cidKey("desc", cid), reqURL, &response); err != nil {
		return "", err
	}
	if err := faultError(http.StatusOK, response.Fault); err != nil {
		return "", err
	}
	info := response.InformationList.Information
	if len(info) == 0 || strings.TrimSpace(info[0].Title) == "" {
		return "", fmt.Errorf("%w: no title for cid %d", ErrNoRecord, cid)
	}
	return strings.TrimSpace(info[0].Title), nil
}

// FetchProperties returns formula and weight from a single property row;
// both come back together or the call fails.
func (c *Client) FetchProperties(ctx context.Context, cid int64) (domain.Properties, error) {
	reqURL := fmt.Sprintf("%s/rest/pug/compound/cid/%d/property/MolecularFormula,MolecularWeight/JSON/", c.baseURL, cid)

	var response propertyResponse
	if err := c.getJSON(ctx, cidKey("prop", cid), reqURL, &response); err != nil {
		return domain.Properties{}, err
	}
	if err := faultError(http.StatusOK, response.Fault); err != nil {
		return domain.Properties{}, err
	}
	rows := response.PropertyTable.Properties
	if len(rows) == 0 {
		return domain.Properties{}, fmt.Errorf("%w: no properties for cid %d", ErrNoRecord, cid)
	}
	row := rows[0]
	if strings.TrimSpace(row.MolecularFormula) == "" || !row.MolecularWeight.Set {
		return domain.Properties{}, fmt.Errorf("%w: incomplete properties for cid %d", ErrNoRecord, cid)
	}
	return domain.Properties{
		Formula:         strings.TrimSpace(row.MolecularFormula),
		MolecularWeight: row.MolecularWeight.Value,
	}, nil
}

// Fetch3DRecord returns the first conformer of the compound's 3D record.
func (c *Client) Fetch3DRecord(ctx context.Context, cid int64) (domain.Geometry, error) {
	reqURL := fmt.Sprintf("%s/rest/pug/compound/cid/%d/record/JSON/?record_type=3d&response_type=display", c.baseURL, cid)

	var response recordResponse
	if err := c.getJSON(ctx, cidKey("3d", cid), reqURL, &response); err != nil {
		return domain.Geometry{}, err
	}
	if err := faultError(http.StatusOK, response.Fault); err != nil {
		return domain.Geometry{}, err
	}
	if len(response.PCCompounds) == 0 {
		return domain.Geometry{}, fmt.Errorf("%w: no 3d record for cid %d", ErrNoRecord, cid)
	}
	compound := response.PCCompounds[0]
	if len(compound.Coords) == 0 || len(compound.Coords[0].Conformers) == 0 {
		return domain.Geometry{}, fmt.Errorf("%w: no conformer for cid %d", ErrNoRecord, cid)
	}
	conformer := compound.Coords[0].Conformers[0]
	return domain.Geometry{
		Coords: domain.Coordinates{
			X: conformer.X,
			Y: conformer.Y,
			Z: conformer.Z,
		},
		Bonds: domain.BondTopology{
			First:  compound.Bonds.AID1,
			Second: compound.Bonds.AID2,
			Order:  compound.Bonds.Order,
		},
		Elements:   compound.Atoms.Element,
		Has3DModel: true,
	}, nil
}

// PreviewImageURL builds the 300x300 preview image URL. It makes no request.
func (c *Client) PreviewImageURL(cid int64) string {
	return previewImageURL(c.baseURL, cid)
}

// PreviewImageURL builds the preview URL against the public PubChem host.
func PreviewImageURL(cid int64) string {
	return previewImageURL(DefaultBaseURL, cid)
}

func previewImageURL(baseURL string, cid int64) string {
	return fmt.Sprintf("%s/image/imagefly.cgi?cid=%d&width=%d&height=%d", baseURL, cid, previewSize, previewSize)
}

func (c *Client) getJSON(ctx context.Context, cacheKey, reqURL string, dest any) error {
	if c.cache != nil {
		data, ok, err := c.cache.Get(ctx, cacheKey)
		if err == nil && ok {
			if json.Unmarshal(data, dest) == nil {
				metrics.CacheHitsTotal.Inc()
				return nil
			}
		}
		metrics.CacheMissesTotal.Inc()
	}

	var body []byte
	err := RetryWithBackoff(ctx, c.retry, func() error {
		var fetchErr error
		body, fetchErr = c.fetch(ctx, reqURL)
		return fetchErr
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode pubchem response: %w", err)
	}
	if c.cache != nil {
		_ = c.cache.Set(ctx, cacheKey, body, c.cacheTTL)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	// PUG REST sometimes reports a Fault with status 200.
	var envelope faultEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Fault != nil {
		return nil, faultError(resp.StatusCode, envelope.Fault)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}
