package property

import "context"

type loopKey struct{}

// LoopContext tags ctx as belonging to the dispatch loop. Reads made with a
// tagged context never block; an uncached value yields ErrReadInLoop.
func LoopContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loopKey{}, true)
}

// InLoop reports whether ctx was tagged by LoopContext.
func InLoop(ctx context.Context) bool {
	v, _ := ctx.Value(loopKey{}).(bool)
	return v
}
