// Package osext tracks the operating system processes started by the
// extension so they can be killed when it has to shut down abruptly.
package osext

import (
	"context"
)

type ctxKey int

const (
	ctxKeyRunID ctxKey = iota
)

// WithRunID saves the ID of the run, such as a VU iteration or a CLI
// session, owning the processes started with ctx.
func WithRunID(ctx context.Context, rID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, rID)
}

// GetRunID returns the run ID saved in ctx, or an empty string.
func GetRunID(ctx context.Context) string {
	rID, _ := ctx.Value(ctxKeyRunID).(string)
	return rID
}
