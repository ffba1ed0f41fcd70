package browser

import (
	"context"
)

type ctxKey int

const (
	ctxKeyViewID ctxKey = iota
)

// withViewID adds the ID of the view an operation runs for to the context.
func withViewID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyViewID, id)
}

// getViewID returns the view ID attached to the context.
func getViewID(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeyViewID).(string)
	return s
}

// contextWithDoneChan returns a new context that is canceled either
// when the done channel is closed or ctx is canceled.
func contextWithDoneChan(ctx context.Context, done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
