package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map calls fn for every item concurrently and returns the results in input order.
// At most limit calls run at once; limit <= 0 means no limit.
// Map waits for every call; fn is expected to honour ctx for its own deadline.
func Map[E, D any](ctx context.Context, limit int, items []E, fn func(context.Context, E) D) []D {
	results := make([]D, len(items))

	// A plain group: per-item failures stay inside results and never cancel siblings.
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		g.Go(func() error {
			results[i] = fn(ctx, item)
			return nil
		})
	}

	_ = g.Wait()

	return results
}

// ForEach calls fn for every item concurrently and waits for all calls.
func ForEach[E any](ctx context.Context, limit int, items []E, fn func(context.Context, E)) {
	Map(ctx, limit, items, func(ctx context.Context, item E) struct{} {
		fn(ctx, item)
		return struct{}{}
	})
}
