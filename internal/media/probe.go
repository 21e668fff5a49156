// Package media measures gallery cards: it reads image dimensions from the API when
// present, otherwise from the image header, and caches what it learns.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	_ "golang.org/x/image/webp"

	"github.com/jxwalker/modshelf/internal/logging"
	"github.com/jxwalker/modshelf/internal/masonry"
	"github.com/jxwalker/modshelf/internal/metrics"
)

// headerBytes is how much of an image is requested to decode its header. JPEGs with
// large EXIF blocks may need more; the full body is read (up to maxProbeBytes) when the
// server ignores the range.
const (
	headerBytes   = 64 << 10
	maxProbeBytes = 8 << 20
)

// ErrNoSize is returned for sources that cannot be measured, such as videos without
// dimensions.
var ErrNoSize = errors.New("media: size unknown")

// Source is one card to measure.
type Source struct {
	URL    string
	Width  int
	Height int
	Video  bool
}

type Prober struct {
	http      *http.Client
	cache     *Cache
	userAgent string
	log       *logging.Logger
	metrics   *metrics.Manager
}

type ProberOption func(*Prober)

func WithCache(c *Cache) ProberOption { return func(p *Prober) { p.cache = c } }

func WithUserAgent(ua string) ProberOption { return func(p *Prober) { p.userAgent = ua } }

func WithLogger(l *logging.Logger) ProberOption { return func(p *Prober) { p.log = l } }

func WithMetrics(m *metrics.Manager) ProberOption { return func(p *Prober) { p.metrics = m } }

func NewProber(client *http.Client, opts ...ProberOption) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	p := &Prober{http: client, userAgent: "modshelf/0.1"}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Probe returns the dimensions of the image at url, from the cache when possible.
func (p *Prober) Probe(ctx context.Context, url string) (Size, error) {
	if s, ok, err := p.cache.Get(url); err != nil {
		p.log.Warnf("probe cache: %v", err)
	} else if ok {
		p.metrics.ProbeCache(true)
		return s, nil
	}
	p.metrics.ProbeCache(false)

	s, err := p.fetchHeader(ctx, url, true)
	if err != nil && ctx.Err() == nil {
		// Truncated header; try again with the whole body.
		s, err = p.fetchHeader(ctx, url, false)
	}
	if err != nil {
		return Size{}, err
	}
	if err := p.cache.Put(url, s); err != nil {
		p.log.Warnf("probe cache: %v", err)
	}
	return s, nil
}

func (p *Prober) fetchHeader(ctx context.Context, url string, ranged bool) (Size, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Size{}, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	if ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", headerBytes-1))
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return Size{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return Size{}, fmt.Errorf("probe %s: %s", logging.SanitizeURL(url), resp.Status)
	}
	cfg, _, err := image.DecodeConfig(io.LimitReader(resp.Body, maxProbeBytes))
	if err != nil {
		return Size{}, fmt.Errorf("probe %s: %w", logging.SanitizeURL(url), err)
	}
	s := Size{W: cfg.Width, H: cfg.Height}
	if !s.Valid() {
		return Size{}, fmt.Errorf("probe %s: %w", logging.SanitizeURL(url), ErrNoSize)
	}
	return s, nil
}

// CardHeight scales a source size to cardWidth, keeping the aspect ratio.
func CardHeight(s Size, cardWidth int) int {
	if !s.Valid() || cardWidth <= 0 {
		return cardWidth
	}
	h := s.H * cardWidth / s.W
	if h < 1 {
		h = 1
	}
	return h
}

// Measure returns a masonry.MeasureFunc over srcs. Dimensions supplied by the API win;
// stills without them are probed; videos without them fail and end up hidden.
func (p *Prober) Measure(srcs []Source, cardWidth int) masonry.MeasureFunc {
	return func(ctx context.Context, i int) (int, error) {
		src := srcs[i]
		if s := (Size{W: src.Width, H: src.Height}); s.Valid() {
			return CardHeight(s, cardWidth), nil
		}
		if src.Video || src.URL == "" {
			return 0, ErrNoSize
		}
		s, err := p.Probe(ctx, src.URL)
		if err != nil {
			return 0, err
		}
		return CardHeight(s, cardWidth), nil
	}
}
