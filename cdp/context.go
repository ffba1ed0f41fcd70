package cdp

import (
	"context"

	"github.com/chromedp/cdproto/target"
)

type ctxKey int

const (
	ctxKeySessionID ctxKey = iota
)

// WithSessionID returns a context routing the commands executed with it,
// and the events subscribed with it, to the target session sessionID.
func WithSessionID(ctx context.Context, sessionID target.SessionID) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, sessionID)
}

// SessionID returns the session ID set in ctx, or an empty ID that targets
// the browser itself.
func SessionID(ctx context.Context) target.SessionID {
	sid, _ := ctx.Value(ctxKeySessionID).(target.SessionID)
	return sid
}
