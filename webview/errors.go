package webview

import (
	"errors"
	"fmt"
)

// ErrAdapterClosed is returned when binding a renderer to a closed adapter.
var ErrAdapterClosed = errors.New("adapter closed")

// Request describes the resource request an event relates to.
type Request struct {
	URL         string
	Method      string
	Headers     map[string]string
	IsMainFrame bool
	IsRedirect  bool
	HasGesture  bool
}

// ResourceError is an error reported by the renderer while loading a
// resource. Its contents are never interpreted.
type ResourceError struct {
	Code        int
	Description string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource error %d: %s", e.Code, e.Description)
}

// LoadError pairs a resource error with the request it originated from.
// Request is nil when the error is not request scoped.
type LoadError struct {
	Request *Request
	Err     *ResourceError
}
