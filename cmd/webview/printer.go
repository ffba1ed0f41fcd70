package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/grafana/xk6-webview/webview"
)

// printer writes the changes of a view and the replies to commands.
type printer struct {
	mu sync.Mutex
	w  io.Writer

	field *color.Color
	value *color.Color
	fail  *color.Color
	info  *color.Color

	// owned by watch
	errors int
}

func newPrinter(w io.Writer, noColor bool) *printer {
	p := &printer{
		w:     w,
		field: color.New(color.FgCyan),
		value: color.New(color.Bold),
		fail:  color.New(color.FgRed),
		info:  color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{p.field, p.value, p.fail, p.info} {
			c.DisableColor()
		}
	}

	return p
}

// watch prints changes until the channel is closed.
func (p *printer) watch(changes <-chan webview.Change) {
	for c := range changes {
		p.change(c)
	}
}

func (p *printer) change(c webview.Change) {
	s := c.Snapshot
	switch c.Field {
	case webview.FieldContent:
		p.line(c.Field.String(), formatContent(s.Content))
	case webview.FieldLoadingState:
		p.line(c.Field.String(), formatLoadingState(s.LoadingState))
	case webview.FieldPageTitle:
		if s.PageTitle.Valid {
			p.line(c.Field.String(), fmt.Sprintf("%q", s.PageTitle.String))
		}
	case webview.FieldPageIcon:
		if len(s.PageIcon) > 0 {
			p.line(c.Field.String(), fmt.Sprintf("%d bytes", len(s.PageIcon)))
		}
	case webview.FieldErrors:
		if len(s.Errors) < p.errors {
			p.errors = 0
		}
		for _, e := range s.Errors[p.errors:] {
			p.error(e)
		}
		p.errors = len(s.Errors)
	}
}

func (p *printer) line(field, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "%s %s\n", p.field.Sprintf("%-12s", field), p.value.Sprint(value))
}

func (p *printer) error(e webview.LoadError) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "%s %s\n", p.field.Sprintf("%-12s", webview.FieldErrors.String()), p.fail.Sprint(formatLoadError(e)))
}

// snapshot prints the whole state of a view.
func (p *printer) snapshot(s webview.Snapshot, canGoBack, canGoForward bool) {
	title := "<none>"
	if s.PageTitle.Valid {
		title = fmt.Sprintf("%q", s.PageTitle.String)
	}
	icon := "<none>"
	if len(s.PageIcon) > 0 {
		icon = fmt.Sprintf("%d bytes", len(s.PageIcon))
	}
	errs := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		errs = append(errs, formatLoadError(e))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, kv := range [][2]string{
		{"content", formatContent(s.Content)},
		{"loading", formatLoadingState(s.LoadingState)},
		{"title", title},
		{"icon", icon},
		{"errors", fmt.Sprintf("%d %s", len(errs), strings.Join(errs, "; "))},
		{"history", fmt.Sprintf("back=%t forward=%t", canGoBack, canGoForward)},
	} {
		fmt.Fprintf(p.w, "  %s %s\n", p.info.Sprintf("%-8s", kv[0]), strings.TrimSpace(kv[1]))
	}
}

// reply prints an informational message.
func (p *printer) reply(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, p.info.Sprintf(format, args...))
}

// failure prints a command error.
func (p *printer) failure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, p.fail.Sprintf("error: %v", err))
}

func formatContent(c webview.Content) string {
	switch c := c.(type) {
	case webview.URLContent:
		return "url " + c.URL
	case webview.DataContent:
		s := fmt.Sprintf("data (%d bytes)", len(c.Data))
		if c.BaseURL.Valid {
			s += " base " + c.BaseURL.String
		}
		return s
	default:
		return "<none>"
	}
}

func formatLoadingState(ls webview.LoadingState) string {
	if l, ok := ls.(webview.Loading); ok {
		return fmt.Sprintf("loading %.0f%%", l.Progress*100)
	}
	return "finished"
}

func formatLoadError(e webview.LoadError) string {
	var s string
	if e.Err != nil {
		s = fmt.Sprintf("%d %s", e.Err.Code, e.Err.Description)
	}
	if e.Request != nil {
		s += " url=" + e.Request.URL
	}
	return strings.TrimSpace(s)
}
