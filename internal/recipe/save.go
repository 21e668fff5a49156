package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jxwalker/modshelf/internal/logging"
	"github.com/jxwalker/modshelf/internal/media"
	"github.com/jxwalker/modshelf/internal/metrics"
	"github.com/jxwalker/modshelf/internal/state"
	"github.com/jxwalker/modshelf/internal/util"
)

// Saver downloads original gallery images into the output directory. Saved images keep
// the generation metadata embedded by the uploader, so the host can load their workflow.
type Saver struct {
	db        *state.DB
	http      *http.Client
	outDir    string
	userAgent string
	log       *logging.Logger
	metrics   *metrics.Manager
	now       func() time.Time
}

type SaverOption func(*Saver)

func WithUserAgent(ua string) SaverOption { return func(s *Saver) { s.userAgent = ua } }

func WithLogger(l *logging.Logger) SaverOption { return func(s *Saver) { s.log = l } }

func WithMetrics(m *metrics.Manager) SaverOption { return func(s *Saver) { s.metrics = m } }

func NewSaver(db *state.DB, client *http.Client, outDir string, opts ...SaverOption) *Saver {
	if client == nil {
		client = http.DefaultClient
	}
	s := &Saver{db: db, http: client, outDir: outDir, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Saved reports where an image ended up.
type Saved struct {
	URL     string // cleaned URL of the original upload
	Path    string
	Existed bool // already saved earlier; nothing was downloaded
}

// Save downloads the original of imageURL unless it was saved before and the file still
// exists. versionID and meta are recorded alongside when known.
func (s *Saver) Save(ctx context.Context, imageURL string, versionID int64, meta json.RawMessage) (Saved, error) {
	if imageURL == "" {
		return Saved{}, errors.New("save image: URL is missing")
	}
	if s.outDir == "" {
		return Saved{}, errors.New("save image: general.output_root is not set")
	}
	clean := util.CleanImageURL(imageURL)
	out := Saved{URL: clean}

	rec, err := s.db.ImageByURL(clean)
	if err != nil {
		return out, fmt.Errorf("look up %s: %w", logging.SanitizeURL(clean), err)
	}
	if rec != nil && rec.LocalFilename != "" {
		p := filepath.Join(s.outDir, rec.LocalFilename)
		if _, err := os.Stat(p); err == nil {
			s.log.Infof("image already saved: %s", rec.LocalFilename)
			out.Path, out.Existed = p, true
			return out, nil
		}
	}

	name := fmt.Sprintf("civitai_%d_%s", s.now().Unix(), util.URLPathBase(clean))
	dest, err := util.UniquePath(s.outDir, name)
	if err != nil {
		return out, err
	}
	n, err := media.Download(ctx, s.http, clean, dest, s.userAgent)
	if err != nil {
		return out, fmt.Errorf("save image: %w", err)
	}
	if err := s.db.RecordImage(clean, filepath.Base(dest), versionID, meta); err != nil {
		return out, fmt.Errorf("record saved image: %w", err)
	}
	s.metrics.IncImagesSaved()
	s.log.Infof("saved %s (%d bytes)", filepath.Base(dest), n)
	out.Path = dest
	return out, nil
}
