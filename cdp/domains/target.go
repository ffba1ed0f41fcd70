package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpt "github.com/chromedp/cdproto/target"
)

// Target exposes the CDP Target domain actions.
type Target interface {
	CreateBrowserContext(ctx context.Context, disposeOnDetach bool) (id string, err error)
	DisposeBrowserContext(ctx context.Context, id string) error
	CreateTarget(ctx context.Context, url, browserContextID string) (cdpt.ID, error)
	AttachToTarget(ctx context.Context, id cdpt.ID) (cdpt.SessionID, error)
	SetAutoAttach(ctx context.Context, autoAttach, waitForDebuggerOnStart, flatten bool) error
}

var _ Target = &target{}

type target struct {
	exec cdp.Executor
}

// NewTarget returns a new CDP Target domain wrapper.
func NewTarget(exec cdp.Executor) Target {
	return &target{exec}
}

func (t *target) CreateBrowserContext(ctx context.Context, disposeOnDetach bool) (id string, err error) {
	action := cdpt.CreateBrowserContext().WithDisposeOnDetach(disposeOnDetach)
	bctxID, err := action.Do(cdp.WithExecutor(ctx, t.exec))
	if err != nil {
		return "", fmt.Errorf("creating browser context: %w", err)
	}

	return string(bctxID), nil
}

func (t *target) DisposeBrowserContext(ctx context.Context, id string) error {
	action := cdpt.DisposeBrowserContext(cdp.BrowserContextID(id))
	if err := action.Do(cdp.WithExecutor(ctx, t.exec)); err != nil {
		return fmt.Errorf("disposing browser context %q: %w", id, err)
	}

	return nil
}

// CreateTarget opens a new page at url in the browser context
// browserContextID, or in the default context if it is empty.
func (t *target) CreateTarget(ctx context.Context, url, browserContextID string) (cdpt.ID, error) {
	action := cdpt.CreateTarget(url)
	if browserContextID != "" {
		action = action.WithBrowserContextID(cdp.BrowserContextID(browserContextID))
	}
	id, err := action.Do(cdp.WithExecutor(ctx, t.exec))
	if err != nil {
		return "", fmt.Errorf("creating target: %w", err)
	}

	return id, nil
}

// AttachToTarget attaches to target id with a flattened session.
func (t *target) AttachToTarget(ctx context.Context, id cdpt.ID) (cdpt.SessionID, error) {
	action := cdpt.AttachToTarget(id).WithFlatten(true)
	sid, err := action.Do(cdp.WithExecutor(ctx, t.exec))
	if err != nil {
		return "", fmt.Errorf("attaching to target %q: %w", id, err)
	}

	return sid, nil
}

// SetAutoAttach executes the CDP Target.setAutoAttach command.
func (t *target) SetAutoAttach(ctx context.Context, autoAttach, waitForDebuggerOnStart, flatten bool) error {
	action := cdpt.SetAutoAttach(autoAttach, waitForDebuggerOnStart).WithFlatten(flatten)
	if err := action.Do(cdp.WithExecutor(ctx, t.exec)); err != nil {
		return fmt.Errorf("executing setAutoAttach: %w", err)
	}

	// Target.setAutoAttach has a bug where it does not wait for new Targets being attached.
	// However making a dummy call afterwards fixes this.
	action2 := cdpt.GetTargetInfo()
	if _, err := action2.Do(cdp.WithExecutor(ctx, t.exec)); err != nil {
		return fmt.Errorf("executing getTargetInfo: %w", err)
	}

	return nil
}
