package masonry

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MeasureFunc returns the rendered height of card i.
type MeasureFunc func(ctx context.Context, i int) (int, error)

// Result is the outcome of measuring one card.
type Result struct {
	Height int
	Err    error
}

// Settle measures n cards with at most limit measurements in flight and returns only
// once every measurement resolved, successfully or not. A failed measurement does not
// stop the others; its error is kept in the result. The returned error is non-nil only
// when ctx was cancelled before the barrier completed.
func Settle(ctx context.Context, n, limit int, measure MeasureFunc) ([]Result, error) {
	results := make([]Result, n)
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Err: err}
				return err
			}
			h, err := measure(gctx, i)
			results[i] = Result{Height: h, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// Cards turns settled results into cards; failed measurements become hidden cards.
func Cards(results []Result) []*Card {
	out := make([]*Card, len(results))
	for i, r := range results {
		out[i] = &Card{Height: r.Height, Hidden: r.Err != nil}
	}
	return out
}
