package browser

import (
	"github.com/grafana/xk6-webview/webview"
)

// mapRequest to the JS module. It returns nil for a nil request.
func mapRequest(r *webview.Request) mapping {
	if r == nil {
		return nil
	}
	headers := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}

	return mapping{
		"url":         r.URL,
		"method":      r.Method,
		"headers":     headers,
		"isMainFrame": r.IsMainFrame,
		"isRedirect":  r.IsRedirect,
		"hasGesture":  r.HasGesture,
	}
}

// mapLoadError to the JS module.
func mapLoadError(e webview.LoadError) mapping {
	m := mapping{
		"request": mapRequest(e.Request),
	}
	if e.Err != nil {
		m["code"] = e.Err.Code
		m["description"] = e.Err.Description
	}

	return m
}

func requestURL(r *webview.Request) string {
	if r == nil {
		return ""
	}
	return r.URL
}
