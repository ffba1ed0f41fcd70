package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpp "github.com/chromedp/cdproto/page"
)

// Page exposes the CDP Page domain actions used to drive a browser tab.
type Page interface {
	Enable(context.Context) error
	Navigate(ctx context.Context, url, referrer, frameID string) (docID string, err error)
	Reload(ctx context.Context, ignoreCache bool) error
	StopLoading(context.Context) error
	GetNavigationHistory(context.Context) (currentIndex int64, entries []*cdpp.NavigationEntry, err error)
	NavigateToHistoryEntry(ctx context.Context, entryID int64) error
	GetResourceContent(ctx context.Context, frameID cdp.FrameID, url string) ([]byte, error)
	GetFrameTree(context.Context) (*cdpp.FrameTree, error)
	Close(context.Context) error
}

var _ Page = &page{}

type page struct {
	exec cdp.Executor
}

// NewPage returns a new CDP Page domain wrapper.
func NewPage(exec cdp.Executor) Page {
	return &page{exec}
}

func (p *page) Enable(ctx context.Context) error {
	action := cdpp.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("enabling page CDP domain: %w", err)
	}

	return nil
}

// Navigate navigates the frameID frame, or the main frame if frameID is
// empty, to url. A navigation the browser refuses to start, e.g. because the
// host cannot be resolved, is returned as an error.
func (p *page) Navigate(ctx context.Context, url, referrer, frameID string) (string, error) {
	action := cdpp.Navigate(url).WithReferrer(referrer)
	if frameID != "" {
		action = action.WithFrameID(cdp.FrameID(frameID))
	}

	_, documentID, errorText, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return "", fmt.Errorf("navigating to %q: %w", url, err)
	}
	if errorText != "" {
		return documentID.String(), fmt.Errorf("navigating to %q: %s", url, errorText)
	}

	return documentID.String(), nil
}

func (p *page) Reload(ctx context.Context, ignoreCache bool) error {
	action := cdpp.Reload().WithIgnoreCache(ignoreCache)
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("reloading page: %w", err)
	}

	return nil
}

func (p *page) StopLoading(ctx context.Context) error {
	action := cdpp.StopLoading()
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("stopping page load: %w", err)
	}

	return nil
}

func (p *page) GetNavigationHistory(ctx context.Context) (int64, []*cdpp.NavigationEntry, error) {
	action := cdpp.GetNavigationHistory()
	idx, entries, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return 0, nil, fmt.Errorf("getting navigation history: %w", err)
	}

	return idx, entries, nil
}

func (p *page) NavigateToHistoryEntry(ctx context.Context, entryID int64) error {
	action := cdpp.NavigateToHistoryEntry(entryID)
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("navigating to history entry %d: %w", entryID, err)
	}

	return nil
}

func (p *page) GetResourceContent(ctx context.Context, frameID cdp.FrameID, url string) ([]byte, error) {
	action := cdpp.GetResourceContent(frameID, url)
	content, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return nil, fmt.Errorf("getting resource content of %q: %w", url, err)
	}

	return content, nil
}

func (p *page) GetFrameTree(ctx context.Context) (*cdpp.FrameTree, error) {
	action := cdpp.GetFrameTree()
	tree, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return nil, fmt.Errorf("getting frame tree: %w", err)
	}

	return tree, nil
}

func (p *page) Close(ctx context.Context) error {
	action := cdpp.Close()
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("closing page: %w", err)
	}

	return nil
}
