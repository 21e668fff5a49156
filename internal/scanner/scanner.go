// Package scanner keeps the versions table in step with the model files on disk: it walks
// the configured roots, hashes new or changed files, and looks the hashes up on Civitai.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/classifier"
	"github.com/jxwalker/modshelf/internal/config"
	"github.com/jxwalker/modshelf/internal/lockfile"
	"github.com/jxwalker/modshelf/internal/logging"
	"github.com/jxwalker/modshelf/internal/metrics"
	"github.com/jxwalker/modshelf/internal/state"
	"github.com/jxwalker/modshelf/internal/util"
)

// Scanner scans directories for model files and records them in the state DB.
type Scanner struct {
	db         *state.DB
	cfg        *config.Config
	client     *civitai.Client
	classifier *classifier.Classifier
	log        *logging.Logger
	metrics    *metrics.Manager
	workers    int
}

type Option func(*Scanner)

// WithClient enables enrichment and cover downloads.
func WithClient(c *civitai.Client) Option { return func(s *Scanner) { s.client = c } }

func WithLogger(l *logging.Logger) Option { return func(s *Scanner) { s.log = l } }

func WithMetrics(m *metrics.Manager) Option { return func(s *Scanner) { s.metrics = m } }

// WithWorkers bounds how many files are hashed at once.
func WithWorkers(n int) Option { return func(s *Scanner) { s.workers = n } }

func New(db *state.DB, cfg *config.Config, opts ...Option) *Scanner {
	s := &Scanner{db: db, cfg: cfg, classifier: classifier.New(cfg), workers: 4}
	for _, o := range opts {
		o(s)
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s
}

// Options selects what a scan does.
type Options struct {
	Types  []string // empty: every configured category
	Force  bool     // ignore the mtime guard for this run
	Rehash bool     // zero stored mtimes first, so every file is hashed again
	Enrich bool     // look unchecked hashes up on Civitai
	Covers bool     // download missing covers from Civitai previews
	// Progress, when set, is called from scanner goroutines.
	Progress func(Progress)
}

type Progress struct {
	Stage string // walk | hash | enrich | covers
	Path  string
	Done  int
	Total int
}

// Result contains information about a scan operation
type Result struct {
	FilesScanned     int
	FilesHashed      int
	FilesSkipped     int
	FilesForgotten   int
	BytesHashed      int64
	Enriched         int
	NotFound         int
	CoversDownloaded int
	Duration         time.Duration
	Errors           []error
	// Kept lists categories with an unreadable root. Their missing files were not
	// forgotten, so an unmounted drive does not wipe the catalog.
	Kept []string
}

type candidate struct {
	path  string
	root  string
	mtime float64
	size  int64
}

// Scan brings the catalog of each selected category up to date. Per-file problems are
// collected in Result.Errors; the returned error is reserved for failures that stop
// the scan (database errors, cancellation).
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	res := &Result{}
	if s.cfg.General.DataRoot != "" {
		lock, err := lockfile.Acquire(LockPath(s.cfg))
		if err != nil {
			return res, err
		}
		defer func() { _ = lock.Release() }()
	}
	types := opts.Types
	if len(types) == 0 {
		types = s.configuredTypes()
	}
	unsorted, unsortedOK := s.walkUnsorted(ctx, res)
	for _, t := range types {
		if err := s.scanType(ctx, t, unsorted[t], unsortedOK, opts, res); err != nil {
			return res, err
		}
	}
	if opts.Enrich && s.client != nil {
		if err := s.Enrich(ctx, res, opts.Progress); err != nil {
			return res, err
		}
	}
	if opts.Covers && s.client != nil {
		if err := s.DownloadCovers(ctx, res, opts.Progress); err != nil {
			return res, err
		}
	}
	res.Duration = time.Since(start)
	s.log.Infof("scan finished in %s: %d files, %d hashed, %d skipped, %d forgotten, %d errors",
		res.Duration.Round(time.Millisecond), res.FilesScanned, res.FilesHashed, res.FilesSkipped, res.FilesForgotten, len(res.Errors))
	return res, nil
}

func (s *Scanner) configuredTypes() []string {
	seen := map[string]bool{}
	var out []string
	for t := range s.cfg.Models.Roots {
		seen[t] = true
		out = append(out, t)
	}
	if len(s.cfg.Models.Unsorted) > 0 {
		for _, t := range config.SupportedModelTypes {
			if !seen[t] {
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (s *Scanner) scanType(ctx context.Context, modelType string, extra []candidate, complete bool, opts Options, res *Result) error {
	if opts.Rehash {
		if _, err := s.db.ResetMTimes(modelType); err != nil {
			return fmt.Errorf("reset mtimes for %s: %w", modelType, err)
		}
	}
	known := map[string]float64{}
	if !opts.Force {
		var err error
		if known, err = s.db.LocalMTimes(modelType); err != nil {
			return fmt.Errorf("load %s: %w", modelType, err)
		}
	}

	var found []candidate
	for _, root := range s.cfg.Models.Roots[modelType] {
		files, ok := s.walk(ctx, root, res)
		found = append(found, files...)
		complete = complete && ok
	}
	found = append(found, extra...)
	if err := ctx.Err(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(found))
	var todo []candidate
	for _, c := range found {
		seen[c.path] = true
		if m, ok := known[c.path]; ok && m == c.mtime && m != 0 {
			res.FilesSkipped++
			continue
		}
		todo = append(todo, c)
	}
	res.FilesScanned += len(found)
	s.log.Debugf("%s: %d files, %d to hash", modelType, len(found), len(todo))

	if err := s.hashAll(ctx, modelType, todo, opts.Progress, res); err != nil {
		return err
	}

	if !complete {
		s.log.Warnf("%s: a root could not be read; keeping rows for files not seen", modelType)
		res.Kept = append(res.Kept, modelType)
		return nil
	}
	n, err := s.db.ForgetMissing(modelType, seen)
	if err != nil {
		return fmt.Errorf("forget missing %s: %w", modelType, err)
	}
	res.FilesForgotten += n
	s.metrics.SetCatalogSize(modelType, len(seen))
	return nil
}

// walk lists model files under root. Unreadable directories are skipped and reported;
// ok is false when root itself could not be read.
func (s *Scanner) walk(ctx context.Context, root string, res *Result) (files []candidate, ok bool) {
	var out []candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if path == root {
				return err
			}
			res.Errors = append(res.Errors, fmt.Errorf("walking %s: %w", path, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !classifier.IsModelFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("stat %s: %w", path, err))
			return nil
		}
		out = append(out, candidate{
			path:  path,
			root:  root,
			mtime: float64(info.ModTime().UnixNano()) / 1e9,
			size:  info.Size(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		res.Errors = append(res.Errors, fmt.Errorf("scanning %s: %w", root, err))
		return out, false
	}
	return out, true
}

// walkUnsorted walks models.unsorted once and buckets the files by detected category.
// ok is false when any unsorted root could not be read.
func (s *Scanner) walkUnsorted(ctx context.Context, res *Result) (map[string][]candidate, bool) {
	out := map[string][]candidate{}
	complete := true
	for _, root := range s.cfg.Models.Unsorted {
		files, ok := s.walk(ctx, root, res)
		complete = complete && ok
		for _, c := range files {
			t := s.classifier.Detect(c.path)
			if t == "" {
				s.log.Debugf("unsorted: cannot classify %s", c.path)
				continue
			}
			out[t] = append(out[t], c)
		}
	}
	return out, complete
}

type hashed struct {
	c    candidate
	hash string
}

// hashAll hashes todo on a bounded pool and then writes the rows from this goroutine,
// keeping SQLite writes serial.
func (s *Scanner) hashAll(ctx context.Context, modelType string, todo []candidate, progress func(Progress), res *Result) error {
	if len(todo) == 0 {
		return nil
	}
	results := make([]hashed, len(todo))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, c := range todo {
		g.Go(func() error {
			sum, n, err := util.HashFileSHA256(gctx, c.path)
			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res.Errors = append(res.Errors, fmt.Errorf("hashing %s: %w", c.path, err))
				return nil
			}
			results[i] = hashed{c: c, hash: sum}
			res.BytesHashed += n
			s.metrics.AddHashed(n)
			if progress != nil {
				progress(Progress{Stage: "hash", Path: c.path, Done: done, Total: len(todo)})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, h := range results {
		if h.hash == "" {
			continue
		}
		if err := s.db.UpsertLocalFile(state.LocalFile{
			Hash:      h.hash,
			Path:      h.c.path,
			Root:      h.c.root,
			MTime:     h.c.mtime,
			Size:      h.c.size,
			Name:      filepath.Base(h.c.path),
			ModelType: modelType,
		}); err != nil {
			return fmt.Errorf("storing %s: %w", h.c.path, err)
		}
		res.FilesHashed++
	}
	return nil
}

// LockPath is where the single-writer scan lock lives.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.General.DataRoot, "scan.lock")
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
