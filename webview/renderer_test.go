package webview

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/xk6-webview/eventloop"
)

// testRenderer is a renderer recording the calls it receives. Its history
// behaves like a browser tab: loading a URL drops the forward entries.
type testRenderer struct {
	mu      sync.Mutex
	calls   []string
	loads   []string
	datas   []DataContent
	history []string
	index   int
	cb      *Callbacks

	failCommands bool
	// callbacksWhenCreated records whether callbacks were set when
	// markCreated ran.
	callbacksWhenCreated bool
}

var _ Renderer = &testRenderer{}

func newTestRenderer() *testRenderer {
	return &testRenderer{index: -1}
}

func (r *testRenderer) record(call string) {
	r.calls = append(r.calls, call)
}

func (r *testRenderer) LoadURL(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("loadURL")
	r.loads = append(r.loads, url)
	r.history = append(r.history[:r.index+1], url)
	r.index++

	return nil
}

func (r *testRenderer) LoadData(data string, baseURL null.String, mimeType, encoding string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("loadData")
	r.datas = append(r.datas, DataContent{Data: data, BaseURL: baseURL})
	if encoding != "utf-8" || mimeType != "" {
		return errors.New("unexpected encoding or mime type")
	}

	return nil
}

func (r *testRenderer) command(name string, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record(name)
	if r.failCommands {
		return errors.New(name + " failed")
	}
	fn()

	return nil
}

func (r *testRenderer) GoBack() error {
	return r.command("goBack", func() {
		if r.index > 0 {
			r.index--
		}
	})
}

func (r *testRenderer) GoForward() error {
	return r.command("goForward", func() {
		if r.index < len(r.history)-1 {
			r.index++
		}
	})
}

func (r *testRenderer) Reload() error      { return r.command("reload", func() {}) }
func (r *testRenderer) StopLoading() error { return r.command("stopLoading", func() {}) }

func (r *testRenderer) CanGoBack() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.index > 0
}

func (r *testRenderer) CanGoForward() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.index < len(r.history)-1
}

func (r *testRenderer) CurrentURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index < 0 {
		return ""
	}
	return r.history[r.index]
}

func (r *testRenderer) SetCallbacks(cb *Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("setCallbacks")
	r.cb = cb
}

func (r *testRenderer) markCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("created")
	r.callbacksWhenCreated = r.cb != nil
}

func (r *testRenderer) callbacks() *Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cb
}

func (r *testRenderer) count(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for _, c := range r.calls {
		if c == call {
			n++
		}
	}
	return n
}

// commands returns the navigation commands received, in order.
func (r *testRenderer) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var got []string
	for _, c := range r.calls {
		switch c {
		case "goBack", "goForward", "reload", "stopLoading":
			got = append(got, c)
		}
	}
	return got
}

func (r *testRenderer) loadedURLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.loads...)
}

func (r *testRenderer) loadedData() []DataContent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]DataContent(nil), r.datas...)
}

// testView wires a State, a Navigator and an Adapter on a real event loop.
type testView struct {
	t     *testing.T
	loop  *eventloop.Loop
	state *State
	nav   *Navigator
	a     *Adapter
}

func newTestView(t *testing.T, content Content, opts Options) *testView {
	t.Helper()

	loop := eventloop.New(context.Background(), nil)
	state := NewState(content)
	nav := NewNavigator(nil)
	a := NewAdapter(state, nav, loop, opts)
	t.Cleanup(func() {
		a.Close()
		loop.Close()
	})

	return &testView{t: t, loop: loop, state: state, nav: nav, a: a}
}

func (v *testView) bind(r *testRenderer) {
	v.t.Helper()
	require.NoError(v.t, v.a.Bind(context.Background(), r))
}

// onLoop runs fn on the event loop, as a renderer callback would run.
func (v *testView) onLoop(fn func()) {
	v.t.Helper()
	require.NoError(v.t, v.loop.Call(context.Background(), fn))
}

// flush waits for the work queued on the event loop so far.
func (v *testView) flush() {
	v.t.Helper()
	v.onLoop(func() {})
}
