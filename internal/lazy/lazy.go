// Package lazy provides a resettable single-initialization cell.
//
// Concurrent first callers of Get share one initializer run; later callers
// read the stored value under a read lock. Reset drops the value so the next
// Get runs the initializer again.
//
// The shared run is detached from the caller that started it: it keeps that
// caller's context values but not its cancellation, and is bounded by
// FlightTimeout instead. A caller whose context ends stops waiting without
// failing the others.
package lazy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FlightTimeout bounds one shared initializer run. It covers a full gateway
// probe over every mirror and profile followed by a solver call.
const FlightTimeout = 5 * time.Minute

// InitFunc produces the value for a Value cell.
type InitFunc[T any] func(ctx context.Context) (T, error)

// Value is a lazily initialized, resettable value. The zero Value is not
// usable; construct with New.
type Value[T any] struct {
	mu    sync.RWMutex
	set   bool
	val   T
	group singleflight.Group
	init  InitFunc[T]
}

// New returns a cell that runs init on first Get.
func New[T any](init InitFunc[T]) *Value[T] {
	return &Value[T]{init: init}
}

// Get returns the stored value, initializing it if needed. Failed
// initializations are not stored.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	if val, ok := v.Peek(); ok {
		return val, nil
	}
	return Do(ctx, &v.group, "init", func(fctx context.Context) (T, error) {
		if val, ok := v.Peek(); ok {
			return val, nil
		}
		val, err := v.init(fctx)
		if err != nil {
			return val, err
		}
		v.Set(val)
		return val, nil
	})
}

// Do runs fn once per key for all concurrent callers of g. fn gets a context
// detached from ctx and bounded by FlightTimeout; each caller returns early
// with ctx.Err() when its own ctx ends.
func Do[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FlightTimeout)
		defer cancel()
		return fn(fctx)
	})
	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		val, _ := res.Val.(T)
		return val, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Peek returns the stored value without initializing.
func (v *Value[T]) Peek() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val, v.set
}

// Set stores val, replacing any previous value.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	v.val, v.set = val, true
	v.mu.Unlock()
}

// Reset forgets the stored value.
func (v *Value[T]) Reset() {
	v.mu.Lock()
	var zero T
	v.val, v.set = zero, false
	v.mu.Unlock()
}
