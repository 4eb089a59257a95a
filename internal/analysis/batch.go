package analysis

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Call analyses the i-th item of a batch.
type Call[T any] func(ctx context.Context, i int, item T) (Result, error)

// Batch invokes call once per item, concurrently, and waits for all of them.
// The returned slice is index-aligned with items and is only returned when
// every call succeeded; on the first failure the remaining calls see a
// cancelled context and the partial results are dropped.
func Batch[T any](ctx context.Context, items []T, call Call[T]) ([]Result, error) {
	results := make([]Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			res, err := call(gctx, i, item)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
