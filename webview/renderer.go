package webview

import (
	"context"

	"gopkg.in/guregu/null.v3"
)

// Renderer is a live browser view. All its methods must be called on the
// goroutine owning it, and it must invoke its callbacks on that goroutine
// too.
type Renderer interface {
	LoadURL(url string) error
	LoadData(data string, baseURL null.String, mimeType, encoding string) error
	GoBack() error
	GoForward() error
	Reload() error
	StopLoading() error

	CanGoBack() bool
	CanGoForward() bool
	// CurrentURL returns the address the renderer has loaded or is
	// loading, or an empty string.
	CurrentURL() string

	// SetCallbacks replaces the lifecycle callbacks. A nil set, or a nil
	// function in it, means the event is not observed.
	SetCallbacks(cb *Callbacks)
}

// Callbacks is the set of renderer lifecycle callbacks.
type Callbacks struct {
	OnPageStarted           func(url string, icon []byte)
	OnPageFinished          func(url string)
	OnProgressChanged       func(percent int)
	OnReceivedTitle         func(title null.String)
	OnReceivedIcon          func(icon []byte)
	OnVisitedHistoryUpdated func(url null.String, isReload bool)
	OnReceivedError         func(req *Request, err *ResourceError)
	// ShouldOverrideNavigation returns true when the navigation was handled
	// and the renderer must not navigate by itself.
	ShouldOverrideNavigation func(req *Request) bool
}

// Dispatcher runs functions on the goroutine owning a renderer.
type Dispatcher interface {
	Dispatch(fn func()) bool
	Call(ctx context.Context, fn func()) error
}
