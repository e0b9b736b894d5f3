package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunParallel calls fn for every index in [0, n) concurrently, with at most
// limit calls in flight (no bound when limit <= 0). It waits for all of them
// and returns each call's error at its index. A panicking call reports the
// panic as its error; the other calls are unaffected.
func RunParallel(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) []error {
	if n <= 0 {
		return nil
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	errs := make([]error, n)
	for i := range n {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("task %d panicked: %v", i, r)
				}
			}()
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// CountFailed reports how many entries of errs are non-nil.
func CountFailed(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
