package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"

	"github.com/jxwalker/modshelf/internal/catalog"
	"github.com/jxwalker/modshelf/internal/hierarchy"
	"github.com/jxwalker/modshelf/internal/logging"
	"github.com/jxwalker/modshelf/internal/scanner"
	"github.com/jxwalker/modshelf/internal/state"
)

func handleScan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	var types stringList
	fs.Var(&types, "type", "model category to scan (repeatable; default: every configured category)")
	force := fs.Bool("force", false, "hash every file even if its mtime is unchanged")
	rehash := fs.Bool("rehash", false, "forget stored mtimes first so every file is hashed again")
	enrich := fs.Bool("enrich", false, "look unchecked hashes up on Civitai")
	covers := fs.Bool("covers", false, "download missing covers from Civitai previews")
	quiet := fs.Bool("quiet", false, "no progress output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := cf.open()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []scanner.Option{scanner.WithLogger(a.log), scanner.WithMetrics(a.metrics)}
	if *enrich || *covers {
		c, err := a.requireClient()
		if err != nil {
			return err
		}
		opts = append(opts, scanner.WithClient(c))
	}
	sc := scanner.New(a.db, a.cfg, opts...)
	so := scanner.Options{Types: types, Force: *force, Rehash: *rehash, Enrich: *enrich, Covers: *covers}
	if !*quiet && !*cf.jsonOut {
		so.Progress = progressPrinter(a.log)
	}
	res, err := sc.Scan(ctx, so)
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		a.log.Warnf("scan: %v", e)
	}
	if *cf.jsonOut {
		errs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			errs[i] = e.Error()
		}
		return printJSON(map[string]any{
			"files_scanned":     res.FilesScanned,
			"files_hashed":      res.FilesHashed,
			"files_skipped":     res.FilesSkipped,
			"files_forgotten":   res.FilesForgotten,
			"bytes_hashed":      res.BytesHashed,
			"enriched":          res.Enriched,
			"not_found":         res.NotFound,
			"covers_downloaded": res.CoversDownloaded,
			"kept":              res.Kept,
			"duration_ms":       res.Duration.Milliseconds(),
			"errors":            errs,
		})
	}
	fmt.Fprintf(stdout, "Scanned %d files in %s: %d hashed (%s), %d unchanged, %d removed\n",
		res.FilesScanned, res.Duration.Round(time.Millisecond), res.FilesHashed,
		humanize.Bytes(uint64(res.BytesHashed)), res.FilesSkipped, res.FilesForgotten)
	if *enrich {
		fmt.Fprintf(stdout, "Civitai: %d matched, %d unknown\n", res.Enriched, res.NotFound)
	}
	if *covers {
		fmt.Fprintf(stdout, "Covers: %d downloaded\n", res.CoversDownloaded)
	}
	if len(res.Kept) > 0 {
		fmt.Fprintf(stdout, "Kept missing files for %s: a root could not be read\n", strings.Join(res.Kept, ", "))
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d files could not be processed", len(res.Errors))
	}
	return nil
}

// progressPrinter logs a line per stage change and then at most once a second.
func progressPrinter(log *logging.Logger) func(scanner.Progress) {
	var mu sync.Mutex
	var stage string
	var last time.Time
	return func(p scanner.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Stage == stage && time.Since(last) < time.Second && p.Done != p.Total {
			return
		}
		stage, last = p.Stage, time.Now()
		log.Infof("%s %d/%d %s", p.Stage, p.Done, p.Total, filepath.Base(p.Path))
	}
}

// stringList is a repeatable string flag that also accepts comma-separated values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

func handleModels(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	query := fs.String("query", "", "only models whose name, Civitai name or base model contains this")
	typ := fs.String("type", "", "only this category")
	lang := fs.String("lang", "", "collation language for names (default: ui.language, else en)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := cf.open()
	if err != nil {
		return err
	}
	defer a.Close()

	vs, err := a.db.LocalModels("")
	if err != nil {
		return err
	}
	items := catalog.Filter(catalog.FromLocalModels(vs), *query, *typ)
	if *cf.jsonOut {
		out := make([]*state.Version, 0, len(items))
		for _, it := range items {
			out = append(out, it.Payload.(*state.Version))
		}
		return printJSON(out)
	}
	tag := language.English
	if l := firstNonEmpty(*lang, a.cfg.UI.Language); l != "" {
		if t, err := language.Parse(l); err == nil {
			tag = t
		} else {
			a.log.Warnf("models: ignoring language %q: %v", l, err)
		}
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "No models match. Run 'modshelf scan' to index the configured roots.")
		return nil
	}
	hook := hierarchy.WithCollisionHook(func(p string) { a.log.Warnf("models: two files map to %q; showing the last", p) })
	for _, sec := range hierarchy.Sections(items, hook) {
		fmt.Fprintf(stdout, "%s (%d)\n", sec.Category, hierarchy.CountLeaves(sec.Root))
		for e := range hierarchy.Order(sec.Root, hierarchy.WithLanguage(tag)) {
			indent := strings.Repeat("  ", e.Depth+1)
			if e.Kind == hierarchy.KindFolder {
				fmt.Fprintf(stdout, "%s%s/\n", indent, e.Key)
				continue
			}
			fmt.Fprintf(stdout, "%s%s%s\n", indent, e.Key, modelNote(e.Item))
		}
	}
	return nil
}

func modelNote(it catalog.Item) string {
	v, ok := it.Payload.(*state.Version)
	if !ok {
		return ""
	}
	var parts []string
	switch {
	case !v.Checked():
		parts = append(parts, "unchecked")
	case !v.Found():
		parts = append(parts, "not on civitai")
	default:
		parts = append(parts, v.ModelName)
		if v.BaseModel != "" {
			parts = append(parts, v.BaseModel)
		}
	}
	if v.FileSize > 0 {
		parts = append(parts, humanize.Bytes(uint64(v.FileSize)))
	}
	return "  [" + strings.Join(parts, ", ") + "]"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
