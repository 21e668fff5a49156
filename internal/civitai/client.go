// Package civitai is a small client for the parts of the Civitai REST API modshelf uses:
// version lookup by hash or id, model search and the community image feed.
package civitai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jxwalker/modshelf/internal/config"
	friendlyerrors "github.com/jxwalker/modshelf/internal/errors"
	"github.com/jxwalker/modshelf/internal/logging"
	"github.com/jxwalker/modshelf/internal/metrics"
)

// imagesPageSize is what /images is asked for per page; results are filtered locally.
const imagesPageSize = 100

type Client struct {
	base       string
	pinned     bool // network.base_url is set; WithDomain leaves base alone
	http       *http.Client
	token      string
	userAgent  string
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration
	log        *logging.Logger
	metrics    *metrics.Manager
	sleep      func(context.Context, time.Duration) error
}

type Option func(*Client)

// WithDomain selects civitai.com ("com") or civitai.work ("work"). It has no effect
// when network.base_url is configured.
func WithDomain(domain string) Option {
	return func(c *Client) {
		if !c.pinned {
			c.base = config.DomainURL(domain)
		}
	}
}

// WithBaseURL overrides the API origin, mostly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.base = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithToken(tok string) Option {
	return func(c *Client) { c.token = tok }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRetry sets how often a request is retried and the backoff bounds.
func WithRetry(retries int, minDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = retries
		c.backoffMin = minDelay
		c.backoffMax = maxDelay
	}
}

// New builds a client from the network and sources sections of cfg. The token is read
// from the configured env var only when the civitai source is enabled.
func New(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		base:       "https://civitai.com",
		userAgent:  "modshelf/0.1",
		maxRetries: 3,
		backoffMin: 500 * time.Millisecond,
		backoffMax: 8 * time.Second,
		sleep:      sleepCtx,
	}
	if cfg != nil {
		c.base = cfg.BaseURL()
		c.pinned = cfg.Network.BaseURL != ""
		c.http = NewHTTPClient(cfg)
		if cfg.Network.UserAgent != "" {
			c.userAgent = cfg.Network.UserAgent
		}
		if cfg.Network.MaxRetries > 0 {
			c.maxRetries = cfg.Network.MaxRetries
		}
		if b := cfg.Network.Backoff; b.MinMS > 0 {
			c.backoffMin = time.Duration(b.MinMS) * time.Millisecond
			if b.MaxMS >= b.MinMS {
				c.backoffMax = time.Duration(b.MaxMS) * time.Millisecond
			}
		}
		if cfg.Sources.CivitAI.Enabled && cfg.Sources.CivitAI.TokenEnv != "" {
			c.token = strings.TrimSpace(os.Getenv(cfg.Sources.CivitAI.TokenEnv))
		}
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient(nil)
	}
	return c
}

// BaseURL is the origin requests go to.
func (c *Client) BaseURL() string { return c.base }

// HTTP exposes the underlying client for image downloads.
func (c *Client) HTTP() *http.Client { return c.http }

// ModelURL is the web page of a model.
func (c *Client) ModelURL(modelID int64) string {
	return fmt.Sprintf("%s/models/%d", c.base, modelID)
}

// VersionByHash looks a file up by its SHA256. A hash Civitai does not know yields an
// error wrapping errors.ErrNotFound.
func (c *Client) VersionByHash(ctx context.Context, hash string) (*ModelVersion, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return nil, errors.New("empty hash")
	}
	var v ModelVersion
	raw, err := c.get(ctx, "by-hash", "/api/v1/model-versions/by-hash/"+url.PathEscape(hash), nil, &v)
	if err != nil {
		return nil, err
	}
	// A 200 with no id has been seen for unknown hashes.
	if v.ID == 0 {
		return nil, friendlyerrors.NotFoundError("hash " + short(hash))
	}
	v.Raw = raw
	return &v, nil
}

func (c *Client) VersionByID(ctx context.Context, id int64) (*ModelVersion, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid version id %d", id)
	}
	var v ModelVersion
	raw, err := c.get(ctx, "version", "/api/v1/model-versions/"+strconv.FormatInt(id, 10), nil, &v)
	if err != nil {
		return nil, err
	}
	v.Raw = raw
	return &v, nil
}

func (c *Client) Model(ctx context.Context, id int64) (*Model, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid model id %d", id)
	}
	var m Model
	if _, err := c.get(ctx, "model", "/api/v1/models/"+strconv.FormatInt(id, 10), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ImageQuery selects community images for one model version.
type ImageQuery struct {
	VersionID  int64
	Sort       string // Most Reactions | Most Comments | Newest
	NSFW       string // None | Soft | Mature | X
	FilterType string // all | image | video
	Limit      int
}

// Images pages through /images until Limit entries that carry generation metadata
// (and match FilterType) are collected, or the feed runs dry. If a later page fails the
// entries gathered so far are returned.
func (c *Client) Images(ctx context.Context, q ImageQuery) ([]Image, error) {
	if q.VersionID <= 0 {
		return nil, errors.New("images: version id required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []Image
	for page := 1; len(out) < limit; page++ {
		params := url.Values{}
		params.Set("modelVersionId", strconv.FormatInt(q.VersionID, 10))
		params.Set("limit", strconv.Itoa(imagesPageSize))
		params.Set("page", strconv.Itoa(page))
		if q.Sort != "" {
			params.Set("sort", q.Sort)
		}
		if q.NSFW != "" {
			params.Set("nsfw", q.NSFW)
		}
		var resp imagesResponse
		if _, err := c.get(ctx, "images", "/api/v1/images", params, &resp); err != nil {
			if len(out) > 0 && ctx.Err() == nil {
				c.log.Warnf("civitai: stopping image fetch at page %d: %v", page, err)
				break
			}
			return nil, err
		}
		if len(resp.Items) == 0 {
			break
		}
		for _, im := range resp.Items {
			if !im.HasMeta() || !matchesType(im, q.FilterType) {
				continue
			}
			out = append(out, im)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ImagesByHash resolves the version of a local file and fetches its images.
func (c *Client) ImagesByHash(ctx context.Context, hash string, q ImageQuery) (*ModelVersion, []Image, error) {
	v, err := c.VersionByHash(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	q.VersionID = v.ID
	ims, err := c.Images(ctx, q)
	return v, ims, err
}

func matchesType(im Image, filter string) bool {
	switch strings.ToLower(filter) {
	case "video":
		return im.IsVideo()
	case "image":
		return !im.IsVideo()
	default:
		return true
	}
}

// ModelQuery is a /models search. Cursor continues a previous page.
type ModelQuery struct {
	Query      string
	Types      []string
	BaseModels []string
	Sort       string // Highest Rated | Most Downloaded | Newest
	Period     string // AllTime | Year | Month | Week | Day
	Limit      int
	Cursor     string
}

func (c *Client) SearchModels(ctx context.Context, q ModelQuery) (ModelPage, error) {
	params := url.Values{}
	limit := q.Limit
	if limit <= 0 {
		limit = 24
	}
	params.Set("limit", strconv.Itoa(limit))
	if q.Query != "" {
		params.Set("query", q.Query)
	}
	for _, t := range q.Types {
		params.Add("types", t)
	}
	for _, b := range q.BaseModels {
		params.Add("baseModels", b)
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Period != "" {
		params.Set("period", q.Period)
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	var resp modelsResponse
	if _, err := c.get(ctx, "models", "/api/v1/models", params, &resp); err != nil {
		return ModelPage{}, err
	}
	return ModelPage{Items: resp.Items, NextCursor: cursor(resp.Metadata.NextCursor)}, nil
}

// get performs a GET with retries and decodes the JSON body into out. It returns the
// raw body as well.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out any) (json.RawMessage, error) {
	u := c.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	host := hostOf(c.base)
	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		c.log.Debugf("civitai GET %s (attempt %d)", logging.SanitizeURL(u), attempt+1)

		resp, err := c.http.Do(req)
		if err != nil {
			c.metrics.ObserveRequest(endpoint, 0)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt >= c.maxRetries {
				return nil, friendlyerrors.NetworkError(fmt.Errorf("civitai %s: %w", endpoint, lastErr))
			}
			if err := c.sleep(ctx, c.backoff(attempt, 0)); err != nil {
				return nil, err
			}
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		_ = resp.Body.Close()
		c.metrics.ObserveRequest(endpoint, resp.StatusCode)

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, fmt.Errorf("reading %s response: %w", endpoint, readErr)
			}
			if err := json.Unmarshal(body, out); err != nil {
				return nil, fmt.Errorf("parsing %s response: %w", endpoint, err)
			}
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, friendlyerrors.NotFoundError(endpoint + " " + short(path[strings.LastIndex(path, "/")+1:]))
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, friendlyerrors.AuthError(host, resp.StatusCode, fmt.Errorf("civitai %s: %s", endpoint, resp.Status))
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := parseRetryAfter(resp.Header.Get("Retry-After"))
			lastErr = fmt.Errorf("civitai %s: %s", endpoint, resp.Status)
			if attempt >= c.maxRetries {
				return nil, friendlyerrors.RateLimitError(host, wait, lastErr)
			}
			d := c.backoff(attempt, wait)
			c.log.Warnf("civitai rate limit hit, waiting %s before retrying", d)
			if err := c.sleep(ctx, d); err != nil {
				return nil, err
			}
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("civitai %s: %s", endpoint, resp.Status)
			if attempt >= c.maxRetries {
				return nil, lastErr
			}
			if err := c.sleep(ctx, c.backoff(attempt, 0)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("civitai %s: %s: %s", endpoint, resp.Status, apiMessage(body))
		}
	}
}

// backoff doubles from backoffMin per attempt, capped at backoffMax. A server-provided
// Retry-After wins when it is longer.
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := c.backoffMin
	for i := 0; i < attempt && d < c.backoffMax; i++ {
		d *= 2
	}
	if d > c.backoffMax {
		d = c.backoffMax
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
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

// apiMessage pulls error.message (or error) out of an error body.
func apiMessage(body []byte) string {
	var e struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && len(e.Error) > 0 {
		var s string
		if json.Unmarshal(e.Error, &s) == nil {
			return s
		}
		var m struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(e.Error, &m) == nil && m.Message != "" {
			return m.Message
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func hostOf(base string) string {
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		return u.Host
	}
	return base
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
