package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpd "github.com/chromedp/cdproto/dom"
)

// DOM exposes the CDP DOM domain actions.
type DOM interface {
	// DocumentHTML returns the markup of the document of the main frame.
	DocumentHTML(context.Context) (string, error)
}

var _ DOM = &dom{}

type dom struct {
	exec cdp.Executor
}

// NewDOM returns a new CDP DOM domain wrapper.
func NewDOM(exec cdp.Executor) DOM {
	return &dom{exec}
}

func (d *dom) DocumentHTML(ctx context.Context) (string, error) {
	root, err := cdpd.GetDocument().WithDepth(0).Do(cdp.WithExecutor(ctx, d.exec))
	if err != nil {
		return "", fmt.Errorf("getting document: %w", err)
	}
	html, err := cdpd.GetOuterHTML().WithNodeID(root.NodeID).Do(cdp.WithExecutor(ctx, d.exec))
	if err != nil {
		return "", fmt.Errorf("getting document HTML: %w", err)
	}

	return html, nil
}
