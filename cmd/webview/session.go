package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/grafana/xk6-webview/chromium"
	"github.com/grafana/xk6-webview/env"
	"github.com/grafana/xk6-webview/eventloop"
	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/webview"
)

// renderer is a renderer owning a browser page.
type renderer interface {
	webview.Renderer
	Close() error
}

// browserSession opens the pages views are rendered on.
type browserSession interface {
	NewRenderer(ctx context.Context, loop webview.Dispatcher) (renderer, error)
	Version(ctx context.Context) (string, error)
	Close() error
}

// launchFunc starts the browser session of a run.
type launchFunc func(ctx context.Context, opts *env.Options, logger *log.Logger) (browserSession, error)

// chromiumSession is a browserSession of a Chromium browser.
type chromiumSession struct {
	*chromium.Session
}

func (s chromiumSession) NewRenderer(ctx context.Context, loop webview.Dispatcher) (renderer, error) {
	return s.Session.NewRenderer(ctx, loop) //nolint:wrapcheck
}

func launchChromium(ctx context.Context, opts *env.Options, logger *log.Logger) (browserSession, error) {
	s, err := chromium.Launch(ctx, chromium.NewLaunchOptions(opts), logger)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return chromiumSession{s}, nil
}

// binder binds the renderers of a session to an adapter, one at a time.
type binder struct {
	session browserSession
	loop    *eventloop.Loop
	adapter *webview.Adapter
	logger  *log.Logger

	mu       sync.Mutex
	renderer renderer
}

// bind opens a page and binds it, closing the page bound before.
func (b *binder) bind(ctx context.Context) error {
	r, err := b.session.NewRenderer(ctx, b.loop)
	if err != nil {
		return fmt.Errorf("opening page: %w", err)
	}
	if err := b.adapter.Bind(ctx, r); err != nil {
		_ = r.Close()
		return err //nolint:wrapcheck
	}

	b.mu.Lock()
	prev := b.renderer
	b.renderer = r
	b.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			b.logger.Debugf("binder:bind", "closing page: %v", err)
		}
	}

	return nil
}

// close closes the bound page.
func (b *binder) close() error {
	b.mu.Lock()
	r := b.renderer
	b.renderer = nil
	b.mu.Unlock()

	if r == nil {
		return nil
	}
	return r.Close() //nolint:wrapcheck
}
