package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/recipe"
)

func handleAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	model := fs.String("model", "", "local model file")
	hash := fs.String("hash", "", "SHA256 of the model instead of --model")
	limit := fs.Int("limit", 0, "images to analyse (default: gallery.limit)")
	sort := fs.String("sort", "", "Most Reactions | Most Comments | Newest (default: gallery.sort)")
	nsfw := fs.String("nsfw", "", "None | Soft | Mature | X (default: gallery.nsfw)")
	filter := fs.String("filter", "", "all | image | video (default: gallery.filter_type)")
	top := fs.Int("top", 10, "entries shown per section")
	refresh := fs.Bool("refresh", false, "ignore the cached analysis")
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
	q := civitai.ImageQuery{
		Sort:       firstNonEmpty(*sort, g.Sort),
		NSFW:       firstNonEmpty(*nsfw, g.NSFW),
		FilterType: firstNonEmpty(*filter, g.FilterType),
		Limit:      g.Limit,
	}
	if *limit > 0 {
		q.Limit = *limit
	}
	ttl := time.Duration(a.cfg.Cache.APITTLHours) * time.Hour
	an := recipe.NewAnalyzer(a.db, client, ttl, a.log)
	res, err := an.Analyze(ctx, h, q, *refresh)
	if err != nil {
		return err
	}
	if *cf.jsonOut {
		return printJSON(map[string]any{
			"analysis":  res,
			"suggested": res.Suggested(*top),
			"cached":    res.Cached,
		})
	}
	if res.Cached {
		a.log.Infof("analysis served from cache; --refresh fetches again")
	}
	fmt.Fprint(stdout, recipe.Report(res, *top, client.ModelURL))
	return nil
}
