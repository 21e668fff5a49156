package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jxwalker/modshelf/internal/catalog"
	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/masonry"
	"github.com/jxwalker/modshelf/internal/media"
	"github.com/jxwalker/modshelf/internal/recipe"
	"github.com/jxwalker/modshelf/internal/util"
)

// galleryCard is one laid-out image in `gallery --json` output.
type galleryCard struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Username string `json:"username,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Placed   bool   `json:"placed"`
	Column   int    `json:"column"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Height   int    `json:"height"`
	Error    string `json:"error,omitempty"`
}

func handleGallery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gallery", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	model := fs.String("model", "", "local model file")
	hash := fs.String("hash", "", "SHA256 of the model instead of --model")
	width := fs.Int("width", 1200, "container width in pixels")
	filter := fs.String("filter", "", "all | image | video (default: gallery.filter_type)")
	limit := fs.Int("limit", 0, "images to fetch (default: gallery.limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *model == "" && *hash == "" {
		return errors.New("--model PATH or --hash SHA256 is required")
	}
	a, err := cf.open()
	if err != nil {
		return err
	}
	defer a.Close()
	client, err := a.requireClient()
	if err != nil {
		return err
	}

	h := strings.ToLower(strings.TrimSpace(*hash))
	if h == "" {
		if h, err = a.hashOf(ctx, *model); err != nil {
			return err
		}
	}
	g := a.cfg.Gallery
	q := civitai.ImageQuery{Sort: g.Sort, NSFW: g.NSFW, FilterType: firstNonEmpty(*filter, g.FilterType), Limit: g.Limit}
	if *limit > 0 {
		q.Limit = *limit
	}
	mv, ims, err := client.ImagesByHash(ctx, h, q)
	if err != nil {
		return err
	}

	pc := a.probeCache()
	defer func() { _ = pc.Close() }()
	prober := media.NewProber(client.HTTP(),
		media.WithCache(pc),
		media.WithUserAgent(a.cfg.Network.UserAgent),
		media.WithLogger(a.log),
		media.WithMetrics(a.metrics))
	srcs := make([]media.Source, len(ims))
	for i, im := range ims {
		srcs[i] = media.Source{URL: im.URL, Width: im.Width, Height: im.Height, Video: im.IsVideo()}
	}
	results, err := masonry.Settle(ctx, len(ims), g.ProbeConcurrency, prober.Measure(srcs, g.CardWidth))
	if err != nil {
		return err
	}
	cards := masonry.Cards(results)
	height, _ := masonry.Layout(cards, *width, g.CardWidth, g.Gap)
	a.metrics.IncLayoutPasses()

	items := catalog.FromImages(ims)
	out := make([]galleryCard, len(items))
	for i, it := range items {
		c := cards[i]
		meta, _ := recipe.ParseMeta(ims[i].Meta)
		out[i] = galleryCard{
			ID: it.ID, URL: ims[i].URL, Category: it.Category, Username: ims[i].Username,
			Prompt: meta.String("prompt"), Placed: c.Placed, Column: c.Column, X: c.X, Y: c.Y, Height: c.Height,
		}
		if results[i].Err != nil {
			out[i].Error = results[i].Err.Error()
		}
	}
	if *cf.jsonOut {
		return printJSON(map[string]any{
			"model":            mv.Model.Name,
			"version":          mv.Name,
			"version_id":       mv.ID,
			"columns":          masonry.Columns(*width, g.CardWidth, g.Gap),
			"container_height": height,
			"cards":            out,
		})
	}
	fmt.Fprintf(stdout, "%s • %s (%d): %d images, %d columns, %dpx tall\n",
		mv.Model.Name, mv.Name, mv.ID, len(out), masonry.Columns(*width, g.CardWidth, g.Gap), height)
	for _, c := range out {
		if !c.Placed {
			fmt.Fprintf(stdout, "  %-10s hidden: %s\n", c.ID, c.Error)
			continue
		}
		fmt.Fprintf(stdout, "  %-10s col %d  y %-5d h %-4d %-6s @%s  %s\n",
			c.ID, c.Column, c.Y, c.Height, c.Category, c.Username, truncate(c.Prompt, 60))
	}
	return nil
}

// hashOf returns the catalogued hash of path, hashing the file when it was never scanned.
func (a *app) hashOf(ctx context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	v, err := a.db.VersionByPath(abs)
	if err != nil {
		return "", err
	}
	if v != nil {
		return v.Hash, nil
	}
	a.log.Infof("gallery: %s is not in the catalog; hashing it", filepath.Base(abs))
	h, _, err := util.HashFileSHA256(ctx, abs)
	return h, err
}

func handleBrowse(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("browse", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	query := fs.String("query", "", "search text")
	var types, bases stringList
	fs.Var(&types, "type", "Civitai model type, e.g. LORA or Checkpoint (repeatable)")
	fs.Var(&bases, "base-model", "base model, e.g. \"SDXL 1.0\" (repeatable)")
	sort := fs.String("sort", "Highest Rated", "Highest Rated | Most Downloaded | Newest")
	period := fs.String("period", "", "AllTime | Year | Month | Week | Day")
	limit := fs.Int("limit", 20, "results per page")
	cursor := fs.String("cursor", "", "continue from a previous page")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := cf.open()
	if err != nil {
		return err
	}
	defer a.Close()
	client, err := a.requireClient()
	if err != nil {
		return err
	}
	page, err := client.SearchModels(ctx, civitai.ModelQuery{
		Query: *query, Types: types, BaseModels: bases, Sort: *sort, Period: *period, Limit: *limit, Cursor: *cursor,
	})
	if err != nil {
		return err
	}
	local, err := a.db.LocalHashes()
	if err != nil {
		return err
	}
	items := catalog.FromModels(page.Items, local)
	if *cf.jsonOut {
		models := make([]catalog.RemoteModel, len(items))
		for i, it := range items {
			models[i] = it.Payload.(catalog.RemoteModel)
		}
		return printJSON(map[string]any{"items": models, "next_cursor": page.NextCursor})
	}
	for _, it := range items {
		rm := it.Payload.(catalog.RemoteModel)
		mark := " "
		if rm.Local {
			mark = "✓"
		}
		fmt.Fprintf(stdout, "%s %-8d %-40s %-12s ↓%-6s by %s\n", mark, rm.ID, truncate(rm.Name, 40), rm.Type,
			humanize.SIWithDigits(float64(rm.Stats.DownloadCount), 1, ""), rm.Creator.Username)
	}
	if page.NextCursor != "" {
		fmt.Fprintf(stdout, "more: --cursor %s\n", page.NextCursor)
	}
	return nil
}

func handleSaveImage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("save-image", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	versionID := fs.Int64("version-id", 0, "model version the image belongs to (recorded with it)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: modshelf save-image [flags] URL")
	}
	a, err := cf.open()
	if err != nil {
		return err
	}
	defer a.Close()
	var httpc = civitai.NewHTTPClient(a.cfg)
	saver := recipe.NewSaver(a.db, httpc, a.cfg.General.OutputRoot,
		recipe.WithUserAgent(a.cfg.Network.UserAgent), recipe.WithLogger(a.log), recipe.WithMetrics(a.metrics))
	s, err := saver.Save(ctx, fs.Arg(0), *versionID, nil)
	if err != nil {
		return err
	}
	if *cf.jsonOut {
		return printJSON(s)
	}
	if s.Existed {
		fmt.Fprintf(stdout, "already saved: %s\n", s.Path)
		return nil
	}
	fmt.Fprintf(stdout, "saved %s\n", s.Path)
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
