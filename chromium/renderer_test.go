package chromium

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/xk6-webview/eventloop"
	"github.com/grafana/xk6-webview/webview"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// pngIcon is a 1x1 PNG.
const pngIcon = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func newTestRenderer(t *testing.T, b *fakeBrowser, intercept bool) (*Renderer, *eventloop.Loop) {
	t.Helper()

	loop := eventloop.New(context.Background(), nil)
	t.Cleanup(loop.Close)

	r, err := NewRenderer(context.Background(), b.connect(), loop, RendererOptions{
		Timeout:             waitFor,
		InterceptNavigation: intercept,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	return r, loop
}

// recorder records the callbacks of a renderer, on the loop.
type recorder struct {
	mu     sync.Mutex
	events []string
	icons  [][]byte
	errors []*webview.ResourceError

	override func(req *webview.Request) bool
}

func (rec *recorder) add(format string, args ...any) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.events = append(rec.events, fmt.Sprintf(format, args...))
}

func (rec *recorder) seen() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return append([]string(nil), rec.events...)
}

func (rec *recorder) has(event string) bool {
	for _, e := range rec.seen() {
		if e == event {
			return true
		}
	}
	return false
}

func (rec *recorder) callbacks() *webview.Callbacks {
	return &webview.Callbacks{
		OnPageStarted:     func(url string, _ []byte) { rec.add("started") },
		OnPageFinished:    func(url string) { rec.add("finished %s", url) },
		OnProgressChanged: func(p int) { rec.add("progress %d", p) },
		OnReceivedTitle:   func(title null.String) { rec.add("title %s", title.String) },
		OnReceivedIcon: func(icon []byte) {
			rec.mu.Lock()
			rec.icons = append(rec.icons, icon)
			rec.mu.Unlock()
			rec.add("icon")
		},
		OnVisitedHistoryUpdated: func(url null.String, isReload bool) {
			rec.add("visited %s reload:%t", url.String, isReload)
		},
		OnReceivedError: func(req *webview.Request, err *webview.ResourceError) {
			rec.mu.Lock()
			rec.errors = append(rec.errors, err)
			rec.mu.Unlock()
			rec.add("error %s", req.URL)
		},
		ShouldOverrideNavigation: func(req *webview.Request) bool {
			rec.add("override %s", req.URL)
			if rec.override != nil {
				return rec.override(req)
			}
			return false
		},
	}
}

func onLoop(t *testing.T, loop *eventloop.Loop, fn func()) {
	t.Helper()
	require.NoError(t, loop.Call(context.Background(), fn))
}

func TestRendererSetup(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(t)
	r, _ := newTestRenderer(t, b, true)

	assert.Equal(t, fakeTargetID, r.ID())
	assert.Equal(t, []cdproto.MethodType{
		cdproto.CommandTargetCreateTarget,
		cdproto.CommandTargetAttachToTarget,
		cdproto.CommandPageEnable,
		cdproto.CommandNetworkEnable,
		cdproto.CommandFetchEnable,
		cdproto.CommandPageGetFrameTree,
	}, b.received())

	require.NoError(t, r.Close())
	assert.Contains(t, b.received(), cdproto.MethodType(cdproto.CommandPageClose))
	require.NoError(t, r.Close(), "closing twice")
}

func TestRendererSetupWithoutInterception(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(t)
	newTestRenderer(t, b, false)

	assert.NotContains(t, b.received(), cdproto.MethodType(cdproto.CommandFetchEnable))
}

func TestRendererLoadURL(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(t)
	b.page("https://example.com/", `<html><head><title>
		Example   Domain </title></head><body></body></html>`)
	r, loop := newTestRenderer(t, b, true)

	rec := &recorder{}
	onLoop(t, loop, func() {
		r.SetCallbacks(rec.callbacks())
		require.NoError(t, r.LoadURL("https://example.com/"))
		assert.Equal(t, "https://example.com/", r.CurrentURL())
	})

	require.Eventually(t, func() bool {
		return len(rec.seen()) == 5
	}, waitFor, tick)
	assert.Equal(t, []string{
		"started",
		"visited https://example.com/ reload:false",
		"title Example Domain",
		"progress 99",
		"finished https://example.com/",
	}, rec.seen())
	assert.NotContains(t, b.received(), cdproto.MethodType(cdproto.CommandFetchFailRequest))

	onLoop(t, loop, func() {
		assert.False(t, r.CanGoBack(), "the blank page is not in the history")
		assert.False(t, r.CanGoForward())
	})
}

func TestRendererHistory(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(t)
	r, loop := newTestRenderer(t, b, true)

	rec := &recorder{}
	onLoop(t, loop, func() { r.SetCallbacks(rec.callbacks()) })

	visited := func(n int) {
		t.Helper()
		require.Eventually(t, func() bool {
			var got int
			for _, e := range rec.seen() {
				if strings.HasPrefix(e, "visited") {
					got++
				}
			}
			return got == n
		}, waitFor, tick)
	}

	onLoop(t, loop, func() { require.NoError(t, r.LoadURL("https://example.com/one")) })
	visited(1)
	onLoop(t, loop, func() { require.NoError(t, r.LoadURL("https://example.com/two")) })
	visited(2)

	onLoop(t, loop, func() {
		assert.True(t, r.CanGoBack())
		assert.False(t, r.CanGoForward())
		require.NoError(t, r.GoBack())
	})
	visited(3)
	onLoop(t, loop, func() {
		assert.Equal(t, "https://example.com/one", r.CurrentURL())
		assert.False(t, r.CanGoBack())
		assert.True(t, r.CanGoForward())
		require.NoError(t, r.GoBack(), "going back at the first entry is a no-op")
		require.NoError(t, r.GoForward())
	})
	visited(4)
	onLoop(t, loop, func() { require.NoError(t, r.Reload()) })
	visited(5)

	var got []string
	for _, e := range rec.seen() {
		if strings.HasPrefix(e, "visited") {
			got = append(got, e)
		}
	}
	assert.Equal(t, []string{
		"visited https://example.com/one reload:false",
		"visited https://example.com/two reload:false",
		"visited https://example.com/one reload:false",
		"visited https://example.com/two reload:false",
		"visited https://example.com/two reload:true",
	}, got)
	assert.NotContains(t, b.received(), cdproto.MethodType(cdproto.CommandFetchFailRequest))
}

func TestRendererLoadData(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(t)
	r, loop := newTestRenderer(t, b, true)

	rec := &recorder{}
	markup := `<html><head><title>Inline</title><link rel="icon" href="data:image/png;base64,` + pngIcon + `"></head></html>`
	onLoop(t, loop, func() {
		r.SetCallbacks(rec.callbacks())
		require.NoError(t, r.LoadData(markup, null.StringFrom("https://example.com/"), "", ""))
	})

	require.Eventually(t, func() bool { return rec.has("icon") }, waitFor, tick)
	assert.Contains(t, rec.seen(), "title Inline")

	params := b.receivedParams(cdproto.CommandPageNavigate)
	require.Len(t, params, 1)
	const prefix = "data:text/html;charset=utf-8;base64,"
	assert.Contains(t, params[0], prefix)

	icon, err := base64.StdEncoding.DecodeString(pngIcon)
	require.NoError(t, err)
	rec.mu.Lock()
	assert.Equal(t, [][]byte{icon}, rec.icons)
	rec.mu.Unlock()

	onLoop(t, loop, func() {
		u := r.CurrentURL()
		require.True(t, strings.HasPrefix(u, prefix))
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, prefix))
		require.NoError(t, err)
		assert.Equal(t, `<base href="https://example.com/">`+markup, string(data))
	})
	assert.NotContains(t, b.received(), cdproto.MethodType(cdproto.CommandFetchContinueRequest), "data is never intercepted")
}

func TestRendererShouldOverrideNavigation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handled bool
		want    cdproto.MethodType
	}{
		{name: "handled", handled: true, want: cdproto.CommandFetchFailRequest},
		{name: "let_through", handled: false, want: cdproto.CommandFetchContinueRequest},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := newFakeBrowser(t)
			r, loop := newTestRenderer(t, b, true)

			var overridden []*webview.Request
			rec := &recorder{override: func(req *webview.Request) bool {
				overridden = append(overridden, req)
				return tt.handled
			}}
			onLoop(t, loop, func() {
				r.SetCallbacks(rec.callbacks())
				require.NoError(t, r.LoadURL("https://example.com/"))
			})
			require.Eventually(t, func() bool {
				return rec.has("finished https://example.com/")
			}, waitFor, tick)

			b.click("https://example.com/link")
			require.Eventually(t, func() bool {
				for _, m := range b.received() {
					if m == tt.want {
						return true
					}
				}
				return false
			}, waitFor, tick)

			onLoop(t, loop, func() {
				require.Len(t, overridden, 1)
				assert.Equal(t, "https://example.com/link", overridden[0].URL)
				assert.True(t, overridden[0].IsMainFrame)
				assert.Equal(t, "GET", overridden[0].Method)
				assert.Equal(t, map[string]string{"Accept": "text/html"}, overridden[0].Headers)
			})
			if tt.handled {
				assert.NotContains(t, rec.seen(), "visited https://example.com/link reload:false")
				for _, e := range rec.seen() {
					assert.False(t, strings.HasPrefix(e, "error"), "aborted navigations are no errors")
				}
				return
			}
			require.Eventually(t, func() bool {
				return rec.has("visited https://example.com/link reload:false")
			}, waitFor, tick)
		})
	}
}

func TestRendererLoadingFailed(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(t)
	b.fail("https://unresolvable.test/", "net::ERR_NAME_NOT_RESOLVED")
	r, loop := newTestRenderer(t, b, true)

	rec := &recorder{}
	onLoop(t, loop, func() {
		r.SetCallbacks(rec.callbacks())
		err := r.LoadURL("https://unresolvable.test/")
		require.ErrorContains(t, err, "net::ERR_NAME_NOT_RESOLVED")
	})

	require.Eventually(t, func() bool {
		for _, e := range rec.seen() {
			if strings.HasPrefix(e, "finished") {
				return true
			}
		}
		return false
	}, waitFor, tick)

	assert.Contains(t, rec.seen(), "error https://unresolvable.test/")
	assert.Contains(t, rec.seen(), "visited https://unresolvable.test/ reload:false",
		"error pages report the address that failed")
	rec.mu.Lock()
	assert.Equal(t, []*webview.ResourceError{
		{Code: -105, Description: "net::ERR_NAME_NOT_RESOLVED"},
	}, rec.errors)
	rec.mu.Unlock()
}

func TestRendererAdapter(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(t)
	b.page("https://example.com/", `<html><head><title>Home</title></head></html>`)
	b.page("https://example.com/link", `<html><head><title>Link</title></head></html>`)
	r, loop := newTestRenderer(t, b, true)

	state := webview.NewURLState("https://example.com/")
	nav := webview.NewNavigator(nil)
	a := webview.NewAdapter(state, nav, loop, webview.Options{CaptureBackPresses: true})
	t.Cleanup(a.Close)
	require.NoError(t, a.Bind(context.Background(), r))

	loaded := func(title string) {
		t.Helper()
		require.Eventually(t, func() bool {
			return !state.IsLoading() && state.PageTitle().String == title
		}, waitFor, tick)
	}
	loaded("Home")
	assert.False(t, nav.CanGoBack())

	// A click goes through the state, which loads it.
	b.click("https://example.com/link")
	loaded("Link")
	assert.Equal(t, webview.URL("https://example.com/link"), state.Content())
	assert.Contains(t, b.received(), cdproto.MethodType(cdproto.CommandFetchFailRequest))
	require.Eventually(t, nav.CanGoBack, waitFor, tick)

	require.True(t, a.HandleBackPress())
	loaded("Home")
	assert.Equal(t, webview.URL("https://example.com/"), state.Content())
	require.Eventually(t, nav.CanGoForward, waitFor, tick)
	assert.Empty(t, state.Errors())
}
