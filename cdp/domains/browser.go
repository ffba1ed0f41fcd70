package domains

import (
	"context"
	"fmt"

	cdpb "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
)

// Version identifies the browser a client is connected to.
type Version struct {
	Protocol  string
	Product   string
	Revision  string
	UserAgent string
	JSVersion string
}

// Browser exposes the CDP Browser domain actions used to manage a session.
type Browser interface {
	// Close closes the browser gracefully. The browser often exits
	// before replying, so callers should not rely on the error.
	Close(context.Context) error
	GetVersion(context.Context) (*Version, error)
}

var _ Browser = &browser{}

type browser struct {
	exec cdp.Executor
}

// NewBrowser returns a new CDP Browser domain wrapper.
func NewBrowser(exec cdp.Executor) Browser {
	return &browser{exec}
}

func (b *browser) Close(ctx context.Context) error {
	if err := cdpb.Close().Do(cdp.WithExecutor(ctx, b.exec)); err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}

func (b *browser) GetVersion(ctx context.Context) (*Version, error) {
	protocol, product, revision, userAgent, jsVersion, err := cdpb.GetVersion().Do(cdp.WithExecutor(ctx, b.exec))
	if err != nil {
		return nil, fmt.Errorf("getting browser version: %w", err)
	}

	return &Version{
		Protocol:  protocol,
		Product:   product,
		Revision:  revision,
		UserAgent: userAgent,
		JSVersion: jsVersion,
	}, nil
}
