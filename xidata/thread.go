package xidata

import "context"

// Thread is the calling thread of control as seen by converters. The
// interpreter it is currently bound to produces or consumes envelopes.
type Thread interface {
	InterpreterID() int64
}

type threadKey struct{}

// WithThread returns a context carrying th.
func WithThread(ctx context.Context, th Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, th)
}

// ThreadFrom returns the thread stored in ctx, if any.
func ThreadFrom(ctx context.Context) (Thread, bool) {
	th, ok := ctx.Value(threadKey{}).(Thread)
	return th, ok && th != nil
}
