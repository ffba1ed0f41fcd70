package browser

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/grafana/xk6-webview/webview"
)

// mapView to the JS module.
func mapView(vu moduleVU, v *view) mapping { //nolint:funlen
	rt := vu.Runtime()

	return mapping{
		"id": func() string {
			return v.id
		},
		"content": func() mapping {
			return mapContent(v.state.Content())
		},
		"loadingState": func() mapping {
			return mapLoadingState(v.state.LoadingState())
		},
		"isLoading": v.state.IsLoading,
		"title": func() any {
			t := v.state.PageTitle()
			if !t.Valid {
				return nil
			}
			return t.String
		},
		"icon": func() any {
			icon := v.state.PageIcon()
			if icon == nil {
				return nil
			}
			return rt.NewArrayBuffer(append([]byte(nil), icon...))
		},
		"errors": func() []mapping {
			errs := v.state.Errors()
			m := make([]mapping, 0, len(errs))
			for _, e := range errs {
				m = append(m, mapLoadError(e))
			}
			return m
		},
		"load": v.load,
		"loadHTML": func(html string, baseURL goja.Value) error {
			return v.loadHTML(html, exportString(baseURL))
		},
		"back": func() error {
			return v.command(webview.CommandBack)
		},
		"forward": func() error {
			return v.command(webview.CommandForward)
		},
		"reload": func() error {
			return v.command(webview.CommandReload)
		},
		"stopLoading": func() error {
			return v.command(webview.CommandStopLoading)
		},
		"canGoBack":    v.nav.CanGoBack,
		"canGoForward": v.nav.CanGoForward,
		"backPress":    v.backPress,
		"waitForLoad": func(timeout goja.Value) error {
			d, err := parseTimeout(timeout)
			if err != nil {
				return fmt.Errorf("parsing waitForLoad timeout: %w", err)
			}
			return v.waitForLoad(d)
		},
		"rebind": v.rebind,
		"close":  v.close,
	}
}

// mapContent to the JS module: {url} or {data, baseURL}.
func mapContent(c webview.Content) mapping {
	switch c := c.(type) {
	case webview.URLContent:
		return mapping{"url": c.URL}
	case webview.DataContent:
		m := mapping{"data": c.Data, "baseURL": nil}
		if c.BaseURL.Valid {
			m["baseURL"] = c.BaseURL.String
		}
		return m
	default:
		return nil
	}
}

// mapLoadingState to the JS module: {state, progress}.
func mapLoadingState(ls webview.LoadingState) mapping {
	switch ls := ls.(type) {
	case webview.Loading:
		return mapping{"state": "loading", "progress": ls.Progress}
	default:
		return mapping{"state": "finished", "progress": 1.0}
	}
}

// parseTimeout parses a timeout in milliseconds. It is zero when
// undefined.
func parseTimeout(v goja.Value) (time.Duration, error) {
	if !gojaValueExists(v) {
		return 0, nil
	}
	switch t := exportArg(v).(type) {
	case int64:
		return time.Duration(t) * time.Millisecond, nil
	case float64:
		return time.Duration(t * float64(time.Millisecond)), nil
	default:
		return 0, fmt.Errorf("timeout must be a number of milliseconds, got %T", t)
	}
}
