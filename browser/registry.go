package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// sessionRegistry holds the browser session of a VU. The browser is
// launched on first use and closed when the context it was launched for is
// done.
type sessionRegistry[S io.Closer] struct {
	launch func(ctx context.Context) (S, error)

	mu      sync.Mutex
	session S
	open    bool
	ctx     context.Context
}

func newSessionRegistry[S io.Closer](launch func(ctx context.Context) (S, error)) *sessionRegistry[S] {
	return &sessionRegistry[S]{launch: launch}
}

// get returns the session open for ctx, launching it if needed. A session
// launched for another context that is not done yet is reused.
func (r *sessionRegistry[S]) get(ctx context.Context) (S, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open && r.ctx.Err() == nil {
		return r.session, nil
	}

	s, err := r.launch(ctx)
	if err != nil {
		var zero S
		return zero, fmt.Errorf("launching browser: %w", err)
	}
	r.session, r.ctx, r.open = s, ctx, true

	go func() {
		<-ctx.Done()
		r.release(s)
	}()

	return s, nil
}

// release closes s and forgets it if it is the current session.
func (r *sessionRegistry[S]) release(s S) {
	r.mu.Lock()
	if r.open && any(r.session) == any(s) {
		var zero S
		r.session, r.ctx, r.open = zero, nil, false
	}
	r.mu.Unlock()

	_ = s.Close()
}
