package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-cache/internal/cost"
)

// BatchAcquire runs reqs concurrently, bounded by Config.MaxConcurrent.
// Results keep input order. A failed item carries its error in Result.Err
// and does not stop the others. The summary covers successful items only;
// cache hits count as zero cost at the full reference price. The returned
// error is non-nil only when ctx ended before every item ran.
func (c *Coordinator) BatchAcquire(ctx context.Context, reqs []AcquireRequest) ([]Result, cost.Summary, error) {
	results := make([]Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrent)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := c.Acquire(ctx, req)
			if err != nil {
				results[i] = Result{Err: err, Error: err.Error()}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()

	var summary cost.Summary
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		summary.Add(r.Cost, r.ReferenceCost, r.FromCache || r.Shared)
	}

	zap.L().Info("pipeline: batch complete",
		zap.Int("requests", len(reqs)),
		zap.Int("failed", failed),
		zap.Int("cache_hits", summary.CacheHits),
		zap.Float64("total_cost", summary.TotalCost),
		zap.Float64("total_savings", summary.TotalSavings),
	)

	if err := ctx.Err(); err != nil {
		return results, summary, eris.Wrap(err, "pipeline: batch interrupted")
	}
	return results, summary, nil
}
