package webview

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/guregu/null.v3"

	"github.com/grafana/xk6-webview/log"
)

// DefaultDataURLPrefix is the address prefix renderers report while loading
// inline data. Visited history updates with this prefix never replace the
// content.
const DefaultDataURLPrefix = "data:text/html"

// Options configure an Adapter.
type Options struct {
	// CaptureBackPresses makes HandleBackPress navigate back while the view
	// can go back.
	CaptureBackPresses bool

	// OnCreated is called with every renderer being bound, before the
	// lifecycle callbacks are set. It can be used to configure renderer
	// settings; callbacks set here are overwritten.
	OnCreated func(r Renderer)

	// OnError receives every resource error reported by the renderer.
	OnError func(req *Request, err *ResourceError)

	DataURLPrefix string

	Logger *log.Logger
}

// Adapter binds one renderer at a time to a State and a Navigator.
type Adapter struct {
	state *State
	nav   *Navigator
	loop  Dispatcher
	opts  Options

	mu      sync.Mutex
	current *binding
	closed  bool
	unwatch func()

	logger *log.Logger
}

type binding struct {
	renderer Renderer
	gen      *generation

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAdapter returns an adapter that runs renderer work on loop.
func NewAdapter(state *State, nav *Navigator, loop Dispatcher, opts Options) *Adapter {
	if opts.DataURLPrefix == "" {
		opts.DataURLPrefix = DefaultDataURLPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}

	a := &Adapter{
		state:  state,
		nav:    nav,
		loop:   loop,
		opts:   opts,
		logger: logger,
	}
	a.unwatch = state.watchContent(a.scheduleRender)

	return a
}

// State returns the state the adapter writes to.
func (a *Adapter) State() *State { return a.state }

// Navigator returns the navigator the adapter drains.
func (a *Adapter) Navigator() *Navigator { return a.nav }

// Renderer returns the bound renderer, or nil.
func (a *Adapter) Renderer() Renderer {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil
	}
	return a.current.renderer
}

// Bind binds r, replacing the renderer bound before. Navigation commands
// still pending for the previous renderer are dropped. It returns once r is
// wired up and its first render pass ran.
func (a *Adapter) Bind(ctx context.Context, r Renderer) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAdapterClosed
	}
	prev := a.current
	cctx, cancel := context.WithCancel(context.Background())
	b := &binding{renderer: r, gen: a.nav.bind(), ctx: cctx, cancel: cancel}
	a.current = b
	a.mu.Unlock()

	if prev != nil {
		a.logger.Debugf("Adapter:Bind", "rebinding, abandoning generation %d", prev.gen.id)
		prev.stop()
	}

	err := a.loop.Call(ctx, func() {
		if prev != nil {
			prev.renderer.SetCallbacks(nil)
		}
		if !a.isBound(b) {
			return
		}
		if a.opts.OnCreated != nil {
			a.opts.OnCreated(r)
		}
		r.SetCallbacks(a.callbacks(b))
		a.render()

		go a.consume(b.ctx, b)
	})
	if err != nil {
		return fmt.Errorf("binding renderer: %w", err)
	}

	return nil
}

// Unbind detaches the bound renderer, if any. Pending commands are dropped
// and later requests are ignored until a renderer is bound again.
func (a *Adapter) Unbind(ctx context.Context) error {
	a.mu.Lock()
	b := a.current
	a.current = nil
	a.mu.Unlock()

	if b == nil {
		return nil
	}
	a.nav.unbind(b.gen)
	b.stop()

	err := a.loop.Call(ctx, func() {
		b.renderer.SetCallbacks(nil)
	})
	if err != nil {
		return fmt.Errorf("unbinding renderer: %w", err)
	}

	return nil
}

// Close unbinds the renderer and stops following content changes.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.unwatch()
	if err := a.Unbind(context.Background()); err != nil {
		a.logger.Debugf("Adapter:Close", "%v", err)
	}
}

// HandleBackPress handles a back gesture. It requests a back navigation and
// returns true if back presses are captured and the view can go back.
// Otherwise it returns false and the gesture should have its default
// effect.
func (a *Adapter) HandleBackPress() bool {
	if !a.opts.CaptureBackPresses || !a.nav.CanGoBack() {
		return false
	}
	a.nav.RequestBack()

	return true
}

func (b *binding) stop() {
	b.cancel()
}

func (a *Adapter) isBound(b *binding) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.current == b
}

func (a *Adapter) bound() *binding {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.current
}

// consume drains the command channel of b until it is abandoned.
func (a *Adapter) consume(ctx context.Context, b *binding) {
	a.logger.Debugf("Adapter:consume", "generation %d starts", b.gen.id)
	defer a.logger.Debugf("Adapter:consume", "generation %d returns", b.gen.id)

	for {
		c, err := b.gen.commands.Pop(ctx)
		if err != nil {
			return
		}
		a.loop.Dispatch(func() { a.execute(b, c) })
	}
}

func (a *Adapter) execute(b *binding, c Command) {
	if !a.nav.isCurrent(b.gen) {
		a.logger.Debugf("Adapter:execute", "dropping %s of abandoned generation %d", c, b.gen.id)
		return
	}

	var err error
	switch c {
	case CommandBack:
		err = b.renderer.GoBack()
	case CommandForward:
		err = b.renderer.GoForward()
	case CommandReload:
		err = b.renderer.Reload()
	case CommandStopLoading:
		err = b.renderer.StopLoading()
	}
	if err != nil {
		a.logger.Errorf("Adapter:execute", "executing %s: %v", c, err)
	}
}

func (a *Adapter) scheduleRender() {
	if !a.loop.Dispatch(a.render) {
		a.logger.Debugf("Adapter:scheduleRender", "event loop closed")
	}
}

// render loads the current content into the bound renderer.
func (a *Adapter) render() {
	b := a.bound()
	if b == nil {
		return
	}
	r := b.renderer

	switch c := a.state.Content().(type) {
	case URLContent:
		if c.URL != "" && c.URL != r.CurrentURL() {
			a.logger.Debugf("Adapter:render", "loading url:%q", c.URL)
			if err := r.LoadURL(c.URL); err != nil {
				a.logger.Errorf("Adapter:render", "loading %q: %v", c.URL, err)
			}
		}
	case DataContent:
		a.logger.Debugf("Adapter:render", "loading data len:%d baseURL:%q", len(c.Data), c.BaseURL.String)
		if err := r.LoadData(c.Data, c.BaseURL, "", "utf-8"); err != nil {
			a.logger.Errorf("Adapter:render", "loading data: %v", err)
		}
	}

	a.updateCapability(r)
}

func (a *Adapter) updateCapability(r Renderer) {
	a.nav.setCapability(r.CanGoBack(), r.CanGoForward())
}

// callbacks returns the lifecycle callbacks for binding b. Events arriving
// after b was replaced are ignored.
func (a *Adapter) callbacks(b *binding) *Callbacks {
	return &Callbacks{
		OnPageStarted: func(url string, _ []byte) {
			if !a.isBound(b) {
				return
			}
			a.state.pageStarted()
		},
		OnProgressChanged: func(percent int) {
			if !a.isBound(b) {
				return
			}
			a.state.progressChanged(percent)
		},
		OnPageFinished: func(url string) {
			if !a.isBound(b) {
				return
			}
			a.state.setLoadingState(Finished{})
			a.updateCapability(b.renderer)
		},
		OnReceivedTitle: func(title null.String) {
			if !a.isBound(b) {
				return
			}
			a.state.setPageTitle(title)
		},
		OnReceivedIcon: func(icon []byte) {
			if !a.isBound(b) {
				return
			}
			a.state.setPageIcon(icon)
		},
		OnVisitedHistoryUpdated: func(url null.String, isReload bool) {
			if !a.isBound(b) {
				return
			}
			a.visitedHistoryUpdated(url)
		},
		OnReceivedError: func(req *Request, err *ResourceError) {
			if !a.isBound(b) {
				return
			}
			if err != nil {
				a.state.addError(LoadError{Request: req, Err: err})
			}
			if a.opts.OnError != nil {
				a.opts.OnError(req, err)
			}
		},
		ShouldOverrideNavigation: func(req *Request) bool {
			if !a.isBound(b) {
				return true
			}
			// every navigation goes through the content of the state
			if req != nil {
				a.state.SetContent(URL(req.URL))
			}
			return true
		},
	}
}

// visitedHistoryUpdated follows navigations the renderer did by itself,
// such as redirects and history traversal.
func (a *Adapter) visitedHistoryUpdated(url null.String) {
	if !url.Valid || strings.HasPrefix(url.String, a.opts.DataURLPrefix) {
		return
	}
	if cur := EffectiveURL(a.state.Content()); cur.Valid && cur.String == url.String {
		return
	}
	a.state.SetContent(URL(url.String))
}
