package k6ext

import (
	"context"
	"strconv"
	"time"

	k6metrics "go.k6.io/k6/metrics"

	"github.com/grafana/xk6-webview/queue"
	"github.com/grafana/xk6-webview/webview"
)

// Recorder turns the changes of a view into samples of CustomMetrics:
//   - webview_page_load: the time from page-started to page-finished.
//   - webview_load_errors: every resource error the view accumulated,
//     tagged with the kind of resource. The address is sample metadata.
//   - webview_navigations: every content change and accepted navigation
//     command, tagged with its kind.
type Recorder struct {
	metrics *CustomMetrics
	tags    *k6metrics.TagSet
	samples chan<- k6metrics.SampleContainer

	pending *queue.Queue[k6metrics.SampleContainer]

	// owned by Run
	loadStart time.Time
	loading   bool
	errors    int
}

// NewRecorder returns a recorder pushing samples tagged with tags to
// samples.
func NewRecorder(m *CustomMetrics, tags *k6metrics.TagSet, samples chan<- k6metrics.SampleContainer) *Recorder {
	return &Recorder{
		metrics: m,
		tags:    tags,
		samples: samples,
		pending: queue.New[k6metrics.SampleContainer](),
	}
}

// Command records an accepted navigation command. It never blocks and can
// be registered with webview.Navigator.OnCommand.
func (r *Recorder) Command(c webview.Command) {
	r.add(r.metrics.WebviewNavigations, time.Now(), 1, "kind", c.String())
}

// Run records the state changes received on changes and pushes the samples
// until changes is closed or ctx is done. The samples recorded before
// changes was closed are pushed before Run returns.
func (r *Recorder) Run(ctx context.Context, changes <-chan webview.Change) {
	pctx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			s, err := r.pending.Pop(pctx)
			if err != nil {
				return
			}
			if !PushIfNotDone(ctx, r.samples, s) {
				return
			}
		}
	}()

	for c := range changes {
		r.observe(c)
	}
	stop()
	<-done

	for r.pending.Len() > 0 {
		s, err := r.pending.Pop(ctx)
		if err != nil || !PushIfNotDone(ctx, r.samples, s) {
			return
		}
	}
}

func (r *Recorder) observe(c webview.Change) {
	switch c.Field {
	case webview.FieldContent:
		kind := "url"
		if _, ok := c.Snapshot.Content.(webview.DataContent); ok {
			kind = "data"
		}
		r.add(r.metrics.WebviewNavigations, c.At, 1, "kind", kind)

	case webview.FieldLoadingState:
		switch {
		case c.Snapshot.IsLoading() && !r.loading:
			r.loading, r.loadStart = true, c.At
		case !c.Snapshot.IsLoading() && r.loading:
			r.loading = false
			r.add(r.metrics.WebviewPageLoad, c.At, k6metrics.D(c.At.Sub(r.loadStart)))
		}

	case webview.FieldErrors:
		n := len(c.Snapshot.Errors)
		if n < r.errors {
			// cleared by a new page load
			r.errors = 0
		}
		for _, e := range c.Snapshot.Errors[r.errors:] {
			r.push(r.metrics.WebviewLoadErrors, c.At, 1,
				r.tags.With("resource", resourceKind(e)), errorMetadata(e))
		}
		r.errors = n
	}
}

func (r *Recorder) add(m *k6metrics.Metric, at time.Time, value float64, tag ...string) {
	tags := r.tags
	for i := 0; i+1 < len(tag); i += 2 {
		tags = tags.With(tag[i], tag[i+1])
	}
	r.push(m, at, value, tags, nil)
}

func (r *Recorder) push(m *k6metrics.Metric, at time.Time, value float64, tags *k6metrics.TagSet, metadata map[string]string) {
	r.pending.Push(k6metrics.Sample{
		TimeSeries: k6metrics.TimeSeries{Metric: m, Tags: tags},
		Time:       at,
		Value:      value,
		Metadata:   metadata,
	})
}

// resourceKind tags a load error with what failed to load, so the number
// of time series does not grow with the pages visited.
func resourceKind(e webview.LoadError) string {
	switch {
	case e.Request == nil:
		return "unknown"
	case e.Request.IsMainFrame:
		return "document"
	default:
		return "subresource"
	}
}

// errorMetadata keeps the failing address and error code out of the tags.
func errorMetadata(e webview.LoadError) map[string]string {
	md := make(map[string]string, 2)
	if e.Request != nil {
		md["url"] = e.Request.URL
	}
	if e.Err != nil {
		md["error_code"] = strconv.Itoa(e.Err.Code)
	}
	return md
}
