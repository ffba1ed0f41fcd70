// Package trace provides tracing instrumentation tailored for web views.
package trace

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/xk6-webview/webview"
)

const tracerName = "k6.webview"

// liveSpan is the span of the page load a view is going through.
//
// Progress, titles and errors are reported asynchronously by the renderer,
// so they are attached to the span of the load they happened in, which the
// tracer keeps per view.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates one span per page load of a view, with events for its
// progress and errors, and child spans for the navigation commands.
type Tracer struct {
	logger logrus.FieldLogger

	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.RWMutex
	liveSpans   map[string]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider.
func NewTracer(
	logger logrus.FieldLogger, tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption,
) *Tracer {
	return &Tracer{
		logger:    logger,
		Tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[string]*liveSpan),
	}
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// GetTraceID returns the trace ID of spanCtx, or an empty string.
func GetTraceID(spanCtx trace.SpanContext) string {
	if spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID()
		return traceID.String()
	}
	return ""
}

// TraceLoad starts the span of a page load of the view viewID. A previous
// live span of the view is ended first.
// Later calls to TraceEvent, TraceCommand and EndLoad with the same viewID
// are associated with this span.
func (t *Tracer) TraceLoad(ctx context.Context, viewID, url string) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[viewID]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}

	const spanName = "load"
	ls.ctx, ls.span = t.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("webview.id", viewID),
		attribute.String("webview.url", url),
	))
	t.liveSpans[viewID] = ls

	t.logger.Debugf("TraceLoad: traceID: %q viewID: %q url: %q",
		GetTraceID(trace.SpanContextFromContext(ls.ctx)), viewID, url)

	return ls.ctx, &SpanLogger{Span: ls.span, logger: t.logger, spanName: spanName}
}

// TraceEvent adds an event to the live span of viewID. It is ignored when
// the view is not loading.
func (t *Tracer) TraceEvent(viewID, eventName string, attrs ...attribute.KeyValue) {
	t.liveSpansMu.RLock()
	defer t.liveSpansMu.RUnlock()

	ls := t.liveSpans[viewID]
	if ls == nil {
		t.logger.Debugf("TraceEvent: no live span eventName: %q viewID: %q", eventName, viewID)
		return
	}
	ls.span.AddEvent(eventName, trace.WithAttributes(attrs...))
}

// RecordError records err on the live span of viewID and marks the load as
// failed.
func (t *Tracer) RecordError(viewID string, err *webview.ResourceError, req *webview.Request) {
	t.liveSpansMu.RLock()
	defer t.liveSpansMu.RUnlock()

	ls := t.liveSpans[viewID]
	if ls == nil || err == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.Int("webview.error.code", err.Code)}
	if req != nil {
		attrs = append(attrs, attribute.String("webview.request.url", req.URL))
	}
	ls.span.RecordError(err, trace.WithAttributes(attrs...))
	ls.span.SetStatus(codes.Error, err.Description)
}

// EndLoad ends the live span of viewID, if any.
func (t *Tracer) EndLoad(viewID string) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[viewID]
	if ls == nil {
		return
	}
	delete(t.liveSpans, viewID)
	ls.span.End()
}

// TraceCommand adds a span for a navigation command to the live span of
// viewID and returns it. It is the caller's responsibility to end it.
// Without a live span, the new span is created based on ctx.
func (t *Tracer) TraceCommand(
	ctx context.Context, viewID string, c webview.Command, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.RLock()
	defer t.liveSpansMu.RUnlock()

	spanName := "command." + c.String()
	if ls := t.liveSpans[viewID]; ls != nil {
		ctx = ls.ctx
	}
	sCtx, span := t.Start(ctx, spanName, opts...)

	return sCtx, &SpanLogger{Span: span, logger: t.logger, spanName: spanName}
}

// Watch traces the loads of the view viewID from its state changes until
// changes is closed. A load still live then is ended.
func (t *Tracer) Watch(ctx context.Context, viewID string, changes <-chan webview.Change) {
	defer t.EndLoad(viewID)

	var (
		loading bool
		nerrs   int
	)
	for c := range changes {
		s := c.Snapshot
		switch c.Field {
		case webview.FieldLoadingState:
			switch ls := s.LoadingState.(type) {
			case webview.Loading:
				if !loading {
					loading, nerrs = true, 0
					t.TraceLoad(ctx, viewID, webview.EffectiveURL(s.Content).String)
				}
				t.TraceEvent(viewID, "progress", attribute.Float64("webview.progress", ls.Progress))
			case webview.Finished:
				if loading {
					loading = false
					t.EndLoad(viewID)
				}
			}
		case webview.FieldPageTitle:
			if s.PageTitle.Valid {
				t.TraceEvent(viewID, "title", attribute.String("webview.title", s.PageTitle.String))
			}
		case webview.FieldErrors:
			if len(s.Errors) < nerrs {
				nerrs = 0
			}
			for _, e := range s.Errors[nerrs:] {
				t.RecordError(viewID, e.Err, e.Request)
			}
			nerrs = len(s.Errors)
		}
	}
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}

	return meta
}

// SpanLogger is a Span that will log the method calls.
type SpanLogger struct {
	trace.Span
	logger   logrus.FieldLogger
	spanName string
}

// SetStatus will log some info before calling the underlying SetStatus.
func (i *SpanLogger) SetStatus(code codes.Code, description string) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("SetStatus: spanName: %q traceID: %q code: %q description: %q", i.spanName, traceID, code, description)

	i.Span.SetStatus(code, description)
}

// End will log some info before calling the underlying End.
func (i *SpanLogger) End(options ...trace.SpanEndOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("End: spanName: %q traceID: %q", i.spanName, traceID)

	i.Span.End(options...)
}

// RecordError will log some info before calling the underlying RecordError.
func (i *SpanLogger) RecordError(err error, options ...trace.EventOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("RecordError: spanName: %q traceID: %q err: %q", i.spanName, traceID, err)

	i.Span.RecordError(err, options...)
}
