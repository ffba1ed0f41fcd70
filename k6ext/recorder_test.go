package k6ext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	k6metrics "go.k6.io/k6/metrics"

	"github.com/grafana/xk6-webview/webview"
)

func TestRegisterCustomMetrics(t *testing.T) {
	t.Parallel()

	registry := k6metrics.NewRegistry()
	m := RegisterCustomMetrics(registry)

	assert.Equal(t, k6metrics.Trend, m.WebviewPageLoad.Type)
	assert.Equal(t, k6metrics.Time, m.WebviewPageLoad.Contains)
	assert.Equal(t, k6metrics.Counter, m.WebviewLoadErrors.Type)
	assert.Equal(t, k6metrics.Counter, m.WebviewNavigations.Type)
	assert.Same(t, m.WebviewNavigations, registry.Get("webview_navigations"))
}

func TestPushIfNotDone(t *testing.T) {
	t.Parallel()

	samples := make(chan k6metrics.SampleContainer, 1)
	assert.True(t, PushIfNotDone(context.Background(), samples, k6metrics.Sample{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, PushIfNotDone(ctx, samples, k6metrics.Sample{}), "the buffer is full and ctx is done")
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	registry := k6metrics.NewRegistry()
	m := RegisterCustomMetrics(registry)
	samples := make(chan k6metrics.SampleContainer, 16)
	rec := NewRecorder(m, registry.RootTagSet().With("scenario", "default"), samples)

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	at := func(ms int) time.Time { return start.Add(time.Duration(ms) * time.Millisecond) }
	req := &webview.Request{URL: "https://example.com/missing.png"}
	doc := &webview.Request{URL: "https://missing.example/", IsMainFrame: true}
	rerr := &webview.ResourceError{Code: -105, Description: "net::ERR_NAME_NOT_RESOLVED"}

	changes := make(chan webview.Change)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(context.Background(), changes)
	}()

	rec.Command(webview.CommandReload)
	for _, c := range []webview.Change{
		{Field: webview.FieldContent, At: at(0), Snapshot: webview.Snapshot{
			Content: webview.URL("https://example.com/"), LoadingState: webview.Finished{},
		}},
		{Field: webview.FieldLoadingState, At: at(10), Snapshot: webview.Snapshot{
			LoadingState: webview.Loading{},
		}},
		{Field: webview.FieldLoadingState, At: at(20), Snapshot: webview.Snapshot{
			LoadingState: webview.Loading{Progress: 0.5},
		}},
		{Field: webview.FieldErrors, At: at(30), Snapshot: webview.Snapshot{
			LoadingState: webview.Loading{Progress: 0.5},
			Errors:       []webview.LoadError{{Request: req, Err: rerr}},
		}},
		{Field: webview.FieldErrors, At: at(40), Snapshot: webview.Snapshot{
			LoadingState: webview.Loading{Progress: 0.5},
			Errors:       []webview.LoadError{{Request: req, Err: rerr}, {Err: rerr}, {Request: doc, Err: rerr}},
		}},
		{Field: webview.FieldLoadingState, At: at(260), Snapshot: webview.Snapshot{
			LoadingState: webview.Finished{},
		}},
		{Field: webview.FieldContent, At: at(300), Snapshot: webview.Snapshot{
			Content: webview.Data("<p>hi</p>", ""), LoadingState: webview.Finished{},
		}},
	} {
		changes <- c
	}
	close(changes)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not return")
	}
	close(samples)

	type sample struct {
		metric   string
		value    float64
		tags     map[string]string
		metadata map[string]string
	}
	var got []sample
	for sc := range samples {
		for _, s := range sc.GetSamples() {
			got = append(got, sample{metric: s.Metric.Name, value: s.Value, tags: s.Tags.Map(), metadata: s.Metadata})
		}
	}
	require.Len(t, got, 7)
	assert.Equal(t, []sample{
		{"webview_navigations", 1, map[string]string{"scenario": "default", "kind": "reload"}, nil},
		{"webview_navigations", 1, map[string]string{"scenario": "default", "kind": "url"}, nil},
		{
			"webview_load_errors", 1, map[string]string{"scenario": "default", "resource": "subresource"},
			map[string]string{"url": "https://example.com/missing.png", "error_code": "-105"},
		},
		{
			"webview_load_errors", 1, map[string]string{"scenario": "default", "resource": "unknown"},
			map[string]string{"error_code": "-105"},
		},
		{
			"webview_load_errors", 1, map[string]string{"scenario": "default", "resource": "document"},
			map[string]string{"url": "https://missing.example/", "error_code": "-105"},
		},
		{"webview_page_load", 250, map[string]string{"scenario": "default"}, nil},
		{"webview_navigations", 1, map[string]string{"scenario": "default", "kind": "data"}, nil},
	}, got)
}
