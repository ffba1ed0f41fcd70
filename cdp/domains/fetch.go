package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpf "github.com/chromedp/cdproto/fetch"
	cdpn "github.com/chromedp/cdproto/network"
)

// Fetch exposes the CDP Fetch domain actions used to intercept requests.
type Fetch interface {
	// EnableDocuments pauses every document request before it is sent.
	EnableDocuments(context.Context) error
	Disable(context.Context) error
	ContinueRequest(ctx context.Context, id cdpf.RequestID) error
	FailRequest(ctx context.Context, id cdpf.RequestID, reason cdpn.ErrorReason) error
}

var _ Fetch = &fetch{}

type fetch struct {
	exec cdp.Executor
}

// NewFetch returns a new CDP Fetch domain wrapper.
func NewFetch(exec cdp.Executor) Fetch {
	return &fetch{exec}
}

func (f *fetch) EnableDocuments(ctx context.Context) error {
	action := cdpf.Enable().WithPatterns([]*cdpf.RequestPattern{
		{
			URLPattern:   "*",
			ResourceType: cdpn.ResourceTypeDocument,
			RequestStage: cdpf.RequestStageRequest,
		},
	})
	if err := action.Do(cdp.WithExecutor(ctx, f.exec)); err != nil {
		return fmt.Errorf("enabling fetch CDP domain: %w", err)
	}

	return nil
}

func (f *fetch) Disable(ctx context.Context) error {
	action := cdpf.Disable()
	if err := action.Do(cdp.WithExecutor(ctx, f.exec)); err != nil {
		return fmt.Errorf("disabling fetch CDP domain: %w", err)
	}

	return nil
}

func (f *fetch) ContinueRequest(ctx context.Context, id cdpf.RequestID) error {
	action := cdpf.ContinueRequest(id)
	if err := action.Do(cdp.WithExecutor(ctx, f.exec)); err != nil {
		return fmt.Errorf("continuing request %q: %w", id, err)
	}

	return nil
}

func (f *fetch) FailRequest(ctx context.Context, id cdpf.RequestID, reason cdpn.ErrorReason) error {
	action := cdpf.FailRequest(id, reason)
	if err := action.Do(cdp.WithExecutor(ctx, f.exec)); err != nil {
		return fmt.Errorf("failing request %q: %w", id, err)
	}

	return nil
}
