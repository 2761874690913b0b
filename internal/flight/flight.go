// Package flight shares first-time loads between concurrent callers.
package flight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Do runs fn once for all concurrent callers of key. fn runs under a context
// that keeps ctx's values but not its cancellation, so one caller giving up
// never fails the load for the others. Each caller stops waiting as soon as
// its own ctx is done. shared reports whether the result went to more than
// one caller.
func Do[T any](ctx context.Context, g *singleflight.Group, key string, fn func(ctx context.Context) (T, error)) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)

	ch := g.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return v, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	}
}
