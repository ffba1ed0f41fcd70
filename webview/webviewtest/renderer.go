// Package webviewtest provides a renderer for testing code built on
// package webview.
package webviewtest

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/guregu/null.v3"

	"github.com/grafana/xk6-webview/webview"
)

// ErrNoHistoryEntry is returned when going back or forward past the
// history.
var ErrNoHistoryEntry = errors.New("no history entry")

// Renderer loads pages instantly: every load runs page-started,
// visited-history-updated, title-received and page-finished in a row. Its
// history behaves like a browser tab.
type Renderer struct {
	mu      sync.Mutex
	cb      *webview.Callbacks
	history []string
	index   int
	loads   []string
	closed  bool
	hold    bool
}

var _ webview.Renderer = &Renderer{}

// NewRenderer returns a renderer with an empty history. With hold set,
// loads start but only finish on StopLoading.
func NewRenderer(hold bool) *Renderer {
	return &Renderer{index: -1, hold: hold}
}

// Title returns the title the renderer reports for url.
func Title(url string) string {
	return "title of " + url
}

// DataURL returns the address the renderer visits when loading data.
func DataURL(data string, baseURL null.String) string {
	return fmt.Sprintf("%s,%s#%s", webview.DefaultDataURLPrefix, data, baseURL.String)
}

func (r *Renderer) callbacks() *webview.Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cb == nil {
		return &webview.Callbacks{}
	}
	return r.cb
}

// run runs the callbacks of a load with the lock released, as they call
// back into the renderer.
func (r *Renderer) run(url string, reload bool) {
	r.mu.Lock()
	hold := r.hold
	r.mu.Unlock()

	cb := r.callbacks()
	if cb.OnPageStarted != nil {
		cb.OnPageStarted(url, nil)
	}
	if cb.OnVisitedHistoryUpdated != nil {
		cb.OnVisitedHistoryUpdated(null.StringFrom(url), reload)
	}
	if hold {
		return
	}
	if cb.OnReceivedTitle != nil {
		cb.OnReceivedTitle(null.StringFrom(Title(url)))
	}
	if cb.OnPageFinished != nil {
		cb.OnPageFinished(url)
	}
}

func (r *Renderer) visit(url string) {
	r.mu.Lock()
	r.loads = append(r.loads, url)
	r.history = append(r.history[:r.index+1], url)
	r.index++
	r.mu.Unlock()

	r.run(url, false)
}

func (r *Renderer) move(delta int) error {
	r.mu.Lock()
	i := r.index + delta
	if i < 0 || i >= len(r.history) {
		r.mu.Unlock()
		return ErrNoHistoryEntry
	}
	r.index = i
	url := r.history[i]
	r.mu.Unlock()

	r.run(url, false)

	return nil
}

// LoadURL visits url.
func (r *Renderer) LoadURL(url string) error {
	r.visit(url)
	return nil
}

// LoadData visits the DataURL of data.
func (r *Renderer) LoadData(data string, baseURL null.String, _, _ string) error {
	r.visit(DataURL(data, baseURL))
	return nil
}

// GoBack moves one entry back in the history.
func (r *Renderer) GoBack() error { return r.move(-1) }

// GoForward moves one entry forward in the history.
func (r *Renderer) GoForward() error { return r.move(1) }

// Reload loads the current entry again.
func (r *Renderer) Reload() error {
	r.run(r.CurrentURL(), true)
	return nil
}

// StopLoading reports the current load as finished.
func (r *Renderer) StopLoading() error {
	if cb := r.callbacks(); cb.OnPageFinished != nil {
		cb.OnPageFinished(r.CurrentURL())
	}
	return nil
}

// CanGoBack reports whether there is an entry before the current one.
func (r *Renderer) CanGoBack() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.index > 0
}

// CanGoForward reports whether there is an entry after the current one.
func (r *Renderer) CanGoForward() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.index < len(r.history)-1
}

// CurrentURL returns the current history entry.
func (r *Renderer) CurrentURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index < 0 {
		return ""
	}
	return r.history[r.index]
}

// SetCallbacks replaces the callbacks.
func (r *Renderer) SetCallbacks(cb *webview.Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cb = cb
}

// Fail reports err for a request of url. It must be called on the
// goroutine owning the renderer.
func (r *Renderer) Fail(url string, err *webview.ResourceError) {
	if cb := r.callbacks(); cb.OnReceivedError != nil {
		cb.OnReceivedError(&webview.Request{URL: url, Method: "GET"}, err)
	}
}

// Close marks the renderer closed.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Renderer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

// Loads returns the URLs loaded with LoadURL and LoadData, in order.
func (r *Renderer) Loads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.loads...)
}
