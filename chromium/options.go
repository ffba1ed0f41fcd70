package chromium

import (
	"time"

	"github.com/grafana/xk6-webview/env"
)

// LaunchOptions configure how a browser is launched or connected to.
type LaunchOptions struct {
	// ExecutablePath of the browser. Well known locations are searched
	// when empty.
	ExecutablePath string
	Headless       bool
	// Args are extra browser flags as "name=value" or "name".
	Args []string

	Width, Height int

	// Timeout bounds the browser start and every CDP command.
	Timeout time.Duration

	// WSURL of a running browser to connect to. A browser is launched when
	// empty.
	WSURL string

	// InterceptNavigation routes the navigations a page starts by itself
	// through the renderer's should-override callback.
	InterceptNavigation bool

	// Env looks up TMPDIR and USERPROFILE. Defaults to the process
	// environment.
	Env env.LookupFunc
}

// DefaultLaunchOptions returns the options of a headless browser.
func DefaultLaunchOptions() *LaunchOptions {
	return &LaunchOptions{
		Headless:            true,
		Width:               800,
		Height:              600,
		Timeout:             30 * time.Second,
		InterceptNavigation: true,
		Env:                 env.Lookup,
	}
}

// NewLaunchOptions returns the launch options of the environment options.
func NewLaunchOptions(o *env.Options) *LaunchOptions {
	opts := DefaultLaunchOptions()
	opts.ExecutablePath = o.ExecutablePath
	opts.Headless = o.IsHeadless()
	opts.Args = o.Args
	opts.Timeout = o.Timeout
	opts.WSURL = o.WSURL
	opts.InterceptNavigation = o.InterceptNavigation

	return opts
}

func (o *LaunchOptions) lookup() env.LookupFunc {
	if o.Env == nil {
		return env.Lookup
	}
	return o.Env
}

// tmpdir returns the value of the TMPDIR environment variable if set,
// otherwise it returns an empty string.
func (o *LaunchOptions) tmpdir() string {
	dir, _ := o.lookup()("TMPDIR")
	return dir
}

func (o *LaunchOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultLaunchOptions().Timeout
	}
	return o.Timeout
}
