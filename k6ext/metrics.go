// Package k6ext records web view activity as k6 metrics.
package k6ext

import (
	"context"

	k6metrics "go.k6.io/k6/metrics"
)

// Names of the custom metrics.
const (
	WebviewPageLoadName    = "webview_page_load"
	WebviewLoadErrorsName  = "webview_load_errors"
	WebviewNavigationsName = "webview_navigations"
)

// CustomMetrics are the custom k6 metrics used by xk6-webview.
type CustomMetrics struct {
	WebviewPageLoad    *k6metrics.Metric
	WebviewLoadErrors  *k6metrics.Metric
	WebviewNavigations *k6metrics.Metric
}

// RegisterCustomMetrics creates and registers our custom metrics with the k6
// VU Registry and returns our internal struct pointer.
func RegisterCustomMetrics(registry *k6metrics.Registry) *CustomMetrics {
	return &CustomMetrics{
		WebviewPageLoad: registry.MustNewMetric(
			WebviewPageLoadName, k6metrics.Trend, k6metrics.Time),
		WebviewLoadErrors: registry.MustNewMetric(
			WebviewLoadErrorsName, k6metrics.Counter),
		WebviewNavigations: registry.MustNewMetric(
			WebviewNavigationsName, k6metrics.Counter),
	}
}

// PushIfNotDone is a helper function to push a sample to a channel if the
// context is not done. It returns true if the sample was pushed, false if the
// context was done.
func PushIfNotDone(ctx context.Context, output chan<- k6metrics.SampleContainer, sample k6metrics.SampleContainer) bool {
	select {
	case <-ctx.Done():
		return false
	case output <- sample:
		return true
	}
}
