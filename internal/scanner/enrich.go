package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jxwalker/modshelf/internal/civitai"
	friendlyerrors "github.com/jxwalker/modshelf/internal/errors"
	"github.com/jxwalker/modshelf/internal/state"
)

// enrichWorkers bounds concurrent by-hash lookups.
const enrichWorkers = 5

// Enrich looks every unchecked local hash up on Civitai. Found versions are stored with
// their model; unknown hashes are marked so they are not asked about again.
func (s *Scanner) Enrich(ctx context.Context, res *Result, progress func(Progress)) error {
	if s.client == nil {
		return errors.New("enrich: no civitai client")
	}
	pending, err := s.db.PendingEnrichment()
	if err != nil {
		return fmt.Errorf("pending enrichment: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	s.log.Infof("looking up %d hashes on %s", len(pending), s.client.BaseURL())

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichWorkers)
	for _, h := range pending {
		g.Go(func() error {
			v, err := s.client.VersionByHash(gctx, h)
			mu.Lock()
			defer mu.Unlock()
			done++
			if progress != nil {
				progress(Progress{Stage: "enrich", Path: h, Done: done, Total: len(pending)})
			}
			switch {
			case err == nil:
				if err := s.db.UpsertFromAPI(apiVersion(h, v)); err != nil {
					return fmt.Errorf("storing %s: %w", h, err)
				}
				res.Enriched++
			case errors.Is(err, friendlyerrors.ErrNotFound):
				if err := s.db.MarkNotFound(h); err != nil {
					return fmt.Errorf("marking %s: %w", h, err)
				}
				res.NotFound++
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				// Left unchecked so the next scan tries again.
				s.log.Warnf("lookup %s: %v", h[:min(12, len(h))], err)
				res.Errors = append(res.Errors, fmt.Errorf("lookup %s: %w", h, err))
			}
			return nil
		})
	}
	return g.Wait()
}

func apiVersion(hash string, v *civitai.ModelVersion) state.APIVersion {
	return state.APIVersion{
		Hash:         hash,
		VersionID:    v.ID,
		ModelID:      v.ModelID,
		ModelName:    v.Model.Name,
		ModelType:    v.Model.Type,
		Name:         v.Name,
		BaseModel:    v.BaseModel,
		TrainedWords: v.TrainedWords,
		Raw:          v.Raw,
	}
}
