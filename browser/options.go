package browser

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/grafana/xk6-webview/env"
	"github.com/grafana/xk6-webview/webview"
)

const (
	optionCaptureBackPresses = "captureBackPresses"
	optionDataURLPrefix      = "dataURLPrefix"
	optionTimeout            = "timeout"
)

// viewOptions configure a view opened by a script.
type viewOptions struct {
	CaptureBackPresses bool
	DataURLPrefix      string
	// Timeout bounds waitForLoad.
	Timeout time.Duration
}

// defaultViewOptions returns the view options of the environment options.
func defaultViewOptions(o *env.Options) *viewOptions {
	vo := &viewOptions{
		CaptureBackPresses: true,
		DataURLPrefix:      webview.DefaultDataURLPrefix,
		Timeout:            30 * time.Second,
	}
	if o == nil {
		return vo
	}
	vo.CaptureBackPresses = o.CaptureBackPresses
	if o.DataURLPrefix != "" {
		vo.DataURLPrefix = o.DataURLPrefix
	}
	if o.Timeout > 0 {
		vo.Timeout = o.Timeout
	}

	return vo
}

// parseViewOptions parses the options of open and openHTML over the
// environment defaults.
func parseViewOptions(rt *goja.Runtime, opts goja.Value, defaults *env.Options) (*viewOptions, error) {
	vo := defaultViewOptions(defaults)

	if !gojaValueExists(opts) {
		return vo, nil // return the default options
	}

	o := opts.ToObject(rt)
	for _, k := range o.Keys() {
		switch k {
		case optionCaptureBackPresses:
			vo.CaptureBackPresses = o.Get(k).ToBoolean()
		case optionDataURLPrefix:
			vo.DataURLPrefix = o.Get(k).String()
		case optionTimeout:
			switch v := o.Get(k).Export().(type) {
			case int64:
				vo.Timeout = time.Duration(v) * time.Millisecond
			case float64:
				vo.Timeout = time.Duration(v * float64(time.Millisecond))
			case string:
				d, err := time.ParseDuration(v)
				if err != nil {
					return nil, fmt.Errorf("parsing %s option: %w", optionTimeout, err)
				}
				vo.Timeout = d
			default:
				return nil, fmt.Errorf("%s option must be a duration or milliseconds, got %T", optionTimeout, v)
			}
			if vo.Timeout <= 0 {
				return nil, fmt.Errorf("%s option must be positive: %s", optionTimeout, vo.Timeout)
			}
		}
	}

	return vo, nil
}
