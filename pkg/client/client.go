package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/certledger/internal/registry/model"
)

const (
	apiPrefix       = "/api/v1"
	maxResponseBody = 8 << 20
	defaultTimeout  = 10 * time.Second

	defaultRateLimitRetries = 3
	maxRetryAfter           = 10 * time.Second
	maxCachedResolutions    = 4096
)

// Receipt describes the ledger inclusion of a mutation.
type Receipt struct {
	Index     int       `json:"ledger_index"`
	Hash      string    `json:"ledger_hash"`
	Timestamp time.Time `json:"included_at"`
	Entries   int       `json:"entries"`
}

// Registration is the result of Register and Upload.
type Registration struct {
	Certificate *model.Certificate `json:"certificate"`
	Receipt     Receipt            `json:"receipt"`
}

// Page is one page of the global certificate listing.
type Page struct {
	Certificates []*model.Certificate `json:"certificates"`
	Total        int                  `json:"total"`
	Offset       int                  `json:"offset"`
	Limit        int                  `json:"limit"`
}

// LedgerInfo is the ledger overview.
type LedgerInfo struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// Client talks to a certledger registry over HTTP.
type Client struct {
	base       string
	httpClient *http.Client
	cache      *resolutionCache
	retries    int

	mu          sync.RWMutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an account token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithCacheTTL caches Resolve results per input for ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl > 0 {
			c.cache = newResolutionCache(ttl)
		}
		return nil
	}
}

// WithRateLimitRetries sets how many times a GET answered with 429 is
// retried after the server's Retry-After delay. 0 disables retries.
func WithRateLimitRetries(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("rate limit retries must be >= 0, got %d", n)
		}
		c.retries = n
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed registry.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// New creates a Client for the registry at base, e.g. "http://localhost:8080".
//
//	c, err := client.New("https://registry.example.com",
//	    client.WithBearerToken(token),
//	    client.WithCacheTTL(30*time.Second),
//	)
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid registry url %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		retries:    defaultRateLimitRetries,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SetBearerToken replaces the account token used for authenticated calls.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	c.bearerToken = token
	c.mu.Unlock()
}

// BaseURL returns the registry base URL.
func (c *Client) BaseURL() string { return c.base }

// ── Certificates ────────────────────────────────────────────────────────

// Register records a certificate whose bytes were already stored with PutContent.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (*Registration, error) {
	var out Registration
	if err := c.doJSON(ctx, http.MethodPost, "/certificates", req, &out); err != nil {
		return nil, err
	}
	c.dropResolutions()
	return &out, nil
}

// Upload stores, hashes and registers a certificate file in one call.
// domain and serial may be empty to let the registry derive them.
func (c *Client) Upload(ctx context.Context, fileName string, data []byte, domain, serial string) (*Registration, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if domain != "" {
		mw.WriteField("domain", domain) //nolint:errcheck
	}
	if serial != "" {
		mw.WriteField("serial_number", serial) //nolint:errcheck
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/certificates/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	c.dropResolutions()
	var out Registration
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode registration: %w", err)
	}
	return &out, nil
}

// Get returns the certificate with the given serial.
func (c *Client) Get(ctx context.Context, serial string) (*model.Certificate, error) {
	var cert model.Certificate
	if err := c.doJSON(ctx, http.MethodGet, "/certificates/"+url.PathEscape(serial), nil, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

// Download returns the certificate bytes after the registry verified them
// against the recorded content hash.
func (c *Client) Download(ctx context.Context, serial string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/certificates/"+url.PathEscape(serial)+"/content", nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Revoke revokes a certificate owned by the token's account.
func (c *Client) Revoke(ctx context.Context, serial string) (*Receipt, error) {
	var out struct {
		Receipt Receipt `json:"receipt"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/certificates/"+url.PathEscape(serial)+"/revoke", nil, &out); err != nil {
		return nil, err
	}
	c.dropResolutions()
	return &out.Receipt, nil
}

// List returns one page of certificates in registration order.
func (c *Client) List(ctx context.Context, offset, limit int) (*Page, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out Page
	if err := c.doJSON(ctx, http.MethodGet, "/certificates?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Page returns up to limit certificates from offset together with the
// current total. It makes a Client a bulk source for the resolver.
func (c *Client) Page(ctx context.Context, offset, limit int) ([]*model.Certificate, int, error) {
	p, err := c.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return p.Certificates, p.Total, nil
}

type countResponse struct {
	Total   int `json:"total"`
	Version int `json:"version"`
}

func (c *Client) count(ctx context.Context) (*countResponse, error) {
	var out countResponse
	if err := c.doJSON(ctx, http.MethodGet, "/certificates/count", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TotalCount returns the number of certificates ever registered.
func (c *Client) TotalCount(ctx context.Context) (int, error) {
	out, err := c.count(ctx)
	if err != nil {
		return 0, err
	}
	return out.Total, nil
}

// Version returns the registry state version.
func (c *Client) Version(ctx context.Context) (int, error) {
	out, err := c.count(ctx)
	if err != nil {
		return 0, err
	}
	return out.Version, nil
}

// SerialAt returns the serial at position index of the global order.
func (c *Client) SerialAt(ctx context.Context, index int) (string, error) {
	var out struct {
		Serial string `json:"serial_number"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/certificates/index/"+strconv.Itoa(index), nil, &out); err != nil {
		return "", err
	}
	return out.Serial, nil
}

// CertificatesOf returns the serials registered by owner.
func (c *Client) CertificatesOf(ctx context.Context, owner string) ([]string, error) {
	var out struct {
		Serials []string `json:"serials"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/accounts/"+url.PathEscape(owner)+"/certificates", nil, &out); err != nil {
		return nil, err
	}
	return out.Serials, nil
}

// ── Challenges ──────────────────────────────────────────────────────────

type challengeEnvelope struct {
	Challenge *model.Challenge `json:"challenge"`
}

// StartChallenge issues a domain-ownership challenge for the token's account.
func (c *Client) StartChallenge(ctx context.Context, domain string) (*model.Challenge, error) {
	var out challengeEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/challenges", map[string]string{"domain": domain}, &out); err != nil {
		return nil, err
	}
	return out.Challenge, nil
}

// GetChallenge returns a challenge by id.
func (c *Client) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var ch model.Challenge
	if err := c.doJSON(ctx, http.MethodGet, "/challenges/"+url.PathEscape(id), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// VerifyChallenge asks the registry to look up the TXT record itself.
// It fails with ErrVerificationFailed while the record is not yet visible.
func (c *Client) VerifyChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	var out challengeEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/challenges/"+url.PathEscape(id)+"/verify", nil, &out); err != nil {
		return nil, err
	}
	return out.Challenge, nil
}

// CompleteChallenge reports an externally observed value. The token needs
// the challenge:complete scope.
func (c *Client) CompleteChallenge(ctx context.Context, id, observed string) (*model.Challenge, error) {
	var out challengeEnvelope
	body := map[string]string{"observed": observed}
	if err := c.doJSON(ctx, http.MethodPost, "/challenges/"+url.PathEscape(id)+"/complete", body, &out); err != nil {
		return nil, err
	}
	return out.Challenge, nil
}

// ── Content ─────────────────────────────────────────────────────────────

// PutContent stores raw bytes and returns their content id.
func (c *Client) PutContent(ctx context.Context, data []byte) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/content", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var out struct {
		ContentID string `json:"content_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode content response: %w", err)
	}
	return out.ContentID, nil
}

// GetContent returns the bytes stored under id.
func (c *Client) GetContent(ctx context.Context, id string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/content/"+id, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// ── Resolution ──────────────────────────────────────────────────────────

// Resolve classifies a domain or URL.
func (c *Client) Resolve(ctx context.Context, domain string) (*model.Resolution, error) {
	if c.cache != nil {
		if res, ok := c.cache.get(domain); ok {
			return res, nil
		}
	}

	var res model.Resolution
	if err := c.doJSON(ctx, http.MethodGet, "/resolve?domain="+url.QueryEscape(domain), nil, &res); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(domain, &res)
	}
	return &res, nil
}

// ResolveMany classifies several inputs against one registry snapshot.
func (c *Client) ResolveMany(ctx context.Context, domains []string) ([]*model.Resolution, error) {
	var out struct {
		Results []*model.Resolution `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/resolve/batch", map[string][]string{"domains": domains}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// ── Ledger ──────────────────────────────────────────────────────────────

// Ledger returns the ledger length and root hash.
func (c *Client) Ledger(ctx context.Context) (*LedgerInfo, error) {
	var out LedgerInfo
	if err := c.doJSON(ctx, http.MethodGet, "/ledger", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyLedger asks the registry to walk its hash chain. A broken chain is
// reported as valid=false with the reason, not as an error.
func (c *Client) VerifyLedger(ctx context.Context) (bool, string, error) {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/ledger/verify", nil, &out); err != nil {
		return false, "", err
	}
	return out.Valid, out.Error, nil
}

// ── Tokens ──────────────────────────────────────────────────────────────

// IssueToken asks the registry for an account token using the operator secret.
func (c *Client) IssueToken(ctx context.Context, adminSecret, account string, scopes []string) (string, error) {
	b, err := json.Marshal(map[string]any{"account": account, "scopes": scopes})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/tokens", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", adminSecret)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	return out.Token, nil
}

// ── Transport ───────────────────────────────────────────────────────────

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+apiPrefix+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doJSON sends in as a JSON body (when non-nil) and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes req, attaching the bearer token if present, and converts
// error bodies into *APIError. 202 with an error code means the write was
// queued but its outcome is not yet known.
func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.RLock()
	token := c.bearerToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var (
		resp *http.Response
		body []byte
	)
	for attempt := 0; ; attempt++ {
		var err error
		resp, body, err = c.roundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || req.Method != http.MethodGet || attempt >= c.retries {
			break
		}
		if err := sleepCtx(req.Context(), retryAfter(resp.Header.Get("Retry-After"))); err != nil {
			return nil, parseAPIError(resp.StatusCode, body)
		}
	}

	if resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	if resp.StatusCode == http.StatusAccepted {
		if apiErr := parseAPIError(resp.StatusCode, body); apiErr.Code != "" {
			return nil, apiErr
		}
	}
	return body, nil
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

// retryAfter parses a Retry-After header given in seconds. Missing or
// unparseable values wait one second; long waits are capped.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 1 {
		return time.Second
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// dropResolutions forgets cached resolutions after a write through this
// client, which may have changed any domain's status.
func (c *Client) dropResolutions() {
	if c.cache != nil {
		c.cache.clear()
	}
}

// --- simple in-memory resolution cache ---

type cacheEntry struct {
	result    *model.Resolution
	expiresAt time.Time
}

type resolutionCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newResolutionCache(ttl time.Duration) *resolutionCache {
	return &resolutionCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (rc *resolutionCache) get(key string) (*model.Resolution, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	e, ok := rc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	cp := *e.result
	return &cp, true
}

func (rc *resolutionCache) set(key string, result *model.Resolution) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	now := time.Now()
	if len(rc.entries) >= maxCachedResolutions {
		rc.sweepLocked(now)
	}
	if len(rc.entries) >= maxCachedResolutions {
		rc.evictOldestLocked()
	}
	cp := *result
	rc.entries[key] = &cacheEntry{result: &cp, expiresAt: now.Add(rc.ttl)}
}

func (rc *resolutionCache) clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	clear(rc.entries)
}

func (rc *resolutionCache) size() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.entries)
}

func (rc *resolutionCache) sweepLocked(now time.Time) {
	for k, e := range rc.entries {
		if now.After(e.expiresAt) {
			delete(rc.entries, k)
		}
	}
}

// evictOldestLocked drops the entry that expires first.
func (rc *resolutionCache) evictOldestLocked() {
	var (
		oldest string
		at     time.Time
	)
	for k, e := range rc.entries {
		if at.IsZero() || e.expiresAt.Before(at) {
			oldest, at = k, e.expiresAt
		}
	}
	delete(rc.entries, oldest)
}
