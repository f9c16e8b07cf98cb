package kv

import "context"

type consistentReadKey struct{}

// WithConsistentRead marks reads made with ctx as needing the authoritative
// copy. Layered stores skip their caches for such reads; single stores
// ignore the mark. Read-modify-write cycles use it so they never build on a
// stale value.
func WithConsistentRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, consistentReadKey{}, true)
}

// ConsistentRead reports whether ctx was marked by WithConsistentRead.
func ConsistentRead(ctx context.Context) bool {
	v, _ := ctx.Value(consistentReadKey{}).(bool)
	return v
}
