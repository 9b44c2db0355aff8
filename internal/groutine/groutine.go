// Package groutine starts named goroutines. The name is attached as a pprof
// label so radio worker goroutines are tellable apart in profiles and stack
// dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

// Go starts fn on a new goroutine labeled with name.
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, fn)
}
