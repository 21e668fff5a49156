package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jxwalker/modshelf/internal/civitai"
	"github.com/jxwalker/modshelf/internal/media"
	"github.com/jxwalker/modshelf/internal/state"
)

const coverWorkers = 10

// CoverKind says where a model's cover comes from.
type CoverKind int

const (
	CoverNone     CoverKind = iota
	CoverEmbedded           // data: URI in the safetensors header
	CoverFile               // image next to the model
	CoverRemote             // first safe preview on Civitai, not downloaded yet
)

type Cover struct {
	Kind CoverKind
	Ref  string // data URI, file path or URL
}

// CoverFor resolves a local model's cover in priority order: embedded metadata, a
// sibling image with the same stem, then the first safe Civitai preview.
func CoverFor(v *state.Version) Cover {
	if uri, ok := media.EmbeddedCover(v.LocalPath); ok {
		return Cover{Kind: CoverEmbedded, Ref: uri}
	}
	if p, ok := media.SiblingCover(v.LocalPath); ok {
		return Cover{Kind: CoverFile, Ref: p}
	}
	if u := remoteCover(v); u != "" {
		return Cover{Kind: CoverRemote, Ref: u}
	}
	return Cover{}
}

// remoteCover picks the first safe preview, or the first preview when none is rated safe.
func remoteCover(v *state.Version) string {
	if !v.Found() || v.APIResponse == "" {
		return ""
	}
	var mv civitai.ModelVersion
	if err := json.Unmarshal([]byte(v.APIResponse), &mv); err != nil {
		return ""
	}
	if im, ok := mv.FirstSFWImage(); ok {
		return im.URL
	}
	for _, im := range mv.Images {
		if !im.IsVideo() {
			return im.URL
		}
	}
	return ""
}

// DownloadCovers saves a remote cover as <stem>.png next to every local model that has
// no embedded or sibling cover.
func (s *Scanner) DownloadCovers(ctx context.Context, res *Result, progress func(Progress)) error {
	models, err := s.db.LocalModels("")
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	type job struct{ url, dest string }
	var jobs []job
	for _, v := range models {
		c := CoverFor(v)
		if c.Kind != CoverRemote {
			continue
		}
		dest := media.CoverPath(v.LocalPath)
		if fileExists(dest) {
			continue
		}
		jobs = append(jobs, job{url: c.Ref, dest: dest})
	}
	if len(jobs) == 0 {
		return nil
	}
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(coverWorkers)
	for _, j := range jobs {
		g.Go(func() error {
			_, err := media.Download(gctx, s.client.HTTP(), j.url, j.dest, s.cfg.Network.UserAgent)
			mu.Lock()
			defer mu.Unlock()
			done++
			if progress != nil {
				progress(Progress{Stage: "covers", Path: j.dest, Done: done, Total: len(jobs)})
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res.Errors = append(res.Errors, fmt.Errorf("cover %s: %w", j.dest, err))
				return nil
			}
			res.CoversDownloaded++
			return nil
		})
	}
	return g.Wait()
}
