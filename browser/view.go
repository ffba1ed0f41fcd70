package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafana/xk6-webview/eventloop"
	"github.com/grafana/xk6-webview/k6ext"
	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/storage"
	"github.com/grafana/xk6-webview/trace"
	"github.com/grafana/xk6-webview/webview"
)

var errViewClosed = errors.New("view closed")

var viewIDs atomic.Uint64

// closableRenderer is a renderer owning a browser page.
type closableRenderer interface {
	webview.Renderer
	Close() error
}

// rendererFactory opens a renderer running its callbacks on loop.
type rendererFactory func(ctx context.Context, loop webview.Dispatcher) (closableRenderer, error)

// hooks observe a view. All are optional.
type hooks struct {
	recorder *k6ext.Recorder
	tracer   *trace.Tracer
	icons    *storage.IconRecorder
}

// view is a web view opened by a script: a state and a navigator bound to
// a renderer through an adapter.
type view struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	loop    *eventloop.Loop
	state   *webview.State
	nav     *webview.Navigator
	adapter *webview.Adapter
	opts    *viewOptions
	loads   *loadTracker

	newRenderer rendererFactory
	logger      *log.Logger

	mu       sync.Mutex
	renderer closableRenderer
	closed   bool
	mark     loadMark

	wg sync.WaitGroup
}

// initialContent returns the content a view is opened with.
func initialContent(content, baseURL string, isHTML bool) webview.Content {
	if isHTML {
		return webview.Data(content, baseURL)
	}
	return webview.URL(content)
}

// newView opens a view showing content on a renderer of newRenderer. The
// view is closed once ctx is done.
func newView(
	ctx context.Context, content webview.Content, opts *viewOptions,
	newRenderer rendererFactory, h hooks, logger *log.Logger,
) (*view, error) {
	if opts == nil {
		opts = defaultViewOptions(nil)
	}
	if logger == nil {
		logger = log.NewNullLogger()
	}

	id := fmt.Sprintf("view-%d", viewIDs.Add(1))
	vctx, cancel := context.WithCancel(withViewID(ctx, id))
	v := &view{
		id:          id,
		ctx:         vctx,
		cancel:      cancel,
		loop:        eventloop.New(vctx, logger),
		state:       webview.NewState(content),
		nav:         webview.NewNavigator(logger),
		opts:        opts,
		loads:       newLoadTracker(),
		newRenderer: newRenderer,
		logger:      logger,
	}
	v.adapter = webview.NewAdapter(v.state, v.nav, v.loop, webview.Options{
		CaptureBackPresses: opts.CaptureBackPresses,
		DataURLPrefix:      opts.DataURLPrefix,
		OnError: func(req *webview.Request, err *webview.ResourceError) {
			if err == nil {
				return
			}
			logger.Debugf("view:OnError", "vid:%s url:%q err:%v", id, requestURL(req), err)
		},
		Logger: logger,
	})
	v.observe(ctx, h)

	if err := v.bind(vctx); err != nil {
		if cerr := v.close(); cerr != nil {
			logger.Debugf("view:new", "vid:%s closing: %v", id, cerr)
		}
		return nil, err
	}
	go func() {
		<-vctx.Done()
		if err := v.close(); err != nil {
			logger.Errorf("view:new", "vid:%s closing: %v", id, err)
		}
	}()

	logger.Debugf("view:new", "vid:%s content:%q", id, webview.EffectiveURL(content).String)

	return v, nil
}

// observe subscribes the load tracker and the hooks to the state, and the
// hooks to the accepted navigation commands. Samples are pushed with ctx
// so that the last ones survive the view.
func (v *view) observe(ctx context.Context, h hooks) {
	subscribe := func(run func(changes <-chan webview.Change)) {
		changes := v.state.Subscribe(v.ctx)
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			run(changes)
		}()
	}
	subscribe(v.loads.run)

	var onCommand []func(webview.Command)
	if rec := h.recorder; rec != nil {
		subscribe(func(changes <-chan webview.Change) { rec.Run(ctx, changes) })
		onCommand = append(onCommand, rec.Command)
	}
	if tracer := h.tracer; tracer != nil {
		subscribe(func(changes <-chan webview.Change) { tracer.Watch(v.ctx, v.id, changes) })
		onCommand = append(onCommand, func(c webview.Command) {
			_, span := tracer.TraceCommand(v.ctx, v.id, c)
			span.End()
		})
	}
	if icons := h.icons; icons != nil {
		subscribe(func(changes <-chan webview.Change) { icons.Record(v.ctx, changes) })
	}
	if len(onCommand) == 0 {
		return
	}
	v.nav.OnCommand(func(c webview.Command) {
		for _, fn := range onCommand {
			fn(c)
		}
	})
}

// bind opens a renderer and binds it, closing the one bound before. The
// new renderer loads the current content.
func (v *view) bind(ctx context.Context) error {
	r, err := v.newRenderer(ctx, v.loop)
	if err != nil {
		return fmt.Errorf("opening renderer: %w", err)
	}

	v.expectLoad()
	if err := v.adapter.Bind(ctx, r); err != nil {
		if cerr := r.Close(); cerr != nil {
			v.logger.Debugf("view:bind", "vid:%s closing renderer: %v", v.id, cerr)
		}
		if errors.Is(err, webview.ErrAdapterClosed) {
			return errViewClosed
		}
		return err //nolint:wrapcheck
	}

	v.mu.Lock()
	prev := v.renderer
	v.renderer = r
	if v.closed {
		// close ran while binding and did not see r
		prev, v.renderer = r, nil
	}
	v.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			v.logger.Debugf("view:bind", "vid:%s closing renderer: %v", v.id, err)
		}
	}

	return nil
}

// rebind replaces the renderer of the view by a new one.
func (v *view) rebind() error {
	if err := v.checkOpen(); err != nil {
		return err
	}

	return v.bind(v.ctx)
}

func (v *view) checkOpen() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errViewClosed
	}
	return nil
}

// expectLoad makes waitForLoad wait for the load requested next.
func (v *view) expectLoad() {
	m := loadMark{at: time.Now(), loading: v.state.IsLoading()}

	v.mu.Lock()
	v.mark = m
	v.mu.Unlock()
}

func (v *view) load(url string) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	v.expectLoad()
	v.state.SetContent(webview.URL(url))

	return nil
}

func (v *view) loadHTML(html, baseURL string) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	v.expectLoad()
	v.state.SetContent(webview.Data(html, baseURL))

	return nil
}

// command requests the navigation command c.
func (v *view) command(c webview.Command) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	v.expectLoad()

	switch c {
	case webview.CommandBack:
		v.nav.RequestBack()
	case webview.CommandForward:
		v.nav.RequestForward()
	case webview.CommandReload:
		v.nav.RequestReload()
	case webview.CommandStopLoading:
		v.nav.RequestStopLoading()
	}

	return nil
}

// backPress handles a back gesture and reports whether it was consumed.
func (v *view) backPress() (bool, error) {
	if err := v.checkOpen(); err != nil {
		return false, err
	}
	v.expectLoad()

	return v.adapter.HandleBackPress(), nil
}

// waitForLoad waits until the load requested last finished. A load still
// in progress when it was requested counts. The view options timeout
// applies when timeout is not positive.
func (v *view) waitForLoad(timeout time.Duration) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = v.opts.Timeout
	}

	v.mu.Lock()
	m := v.mark
	v.mu.Unlock()

	ctx, cancel := contextWithDoneChan(v.ctx, v.loads.done)
	defer cancel()
	ctx, tcancel := context.WithTimeout(ctx, timeout)
	defer tcancel()

	if err := v.loads.wait(ctx, m); err != nil {
		if v.checkOpen() != nil || v.ctx.Err() != nil {
			return errViewClosed
		}
		return fmt.Errorf("waiting for %s to load: %w", getViewID(v.ctx), err)
	}

	return nil
}

// close closes the renderer and stops the view. The samples recorded until
// then are pushed before it returns.
func (v *view) close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	r := v.renderer
	v.renderer = nil
	v.mu.Unlock()

	v.adapter.Close()
	var err error
	if r != nil {
		if cerr := r.Close(); cerr != nil {
			err = fmt.Errorf("closing %s: %w", v.id, cerr)
		}
	}
	v.cancel()
	v.loop.Close()
	v.wg.Wait()

	v.logger.Debugf("view:close", "vid:%s", v.id)

	return err
}

// loadMark is the moment a load was requested.
type loadMark struct {
	at      time.Time
	loading bool
}

// loadTracker follows the loading episodes of a view.
type loadTracker struct {
	mu              sync.Mutex
	loading         bool
	startedAt       time.Time
	finishedAt      time.Time
	finishedStartAt time.Time
	changed         chan struct{}

	done chan struct{}
}

func newLoadTracker() *loadTracker {
	return &loadTracker{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (t *loadTracker) run(changes <-chan webview.Change) {
	defer close(t.done)

	for c := range changes {
		if c.Field != webview.FieldLoadingState {
			continue
		}
		t.mu.Lock()
		switch c.Snapshot.LoadingState.(type) {
		case webview.Loading:
			if !t.loading {
				t.loading = true
				t.startedAt = c.At
			}
		case webview.Finished:
			if t.loading {
				t.loading = false
				t.finishedAt = c.At
				t.finishedStartAt = t.startedAt
			}
		}
		close(t.changed)
		t.changed = make(chan struct{})
		t.mu.Unlock()
	}
}

// satisfies reports whether a load requested at m finished. When the view
// was loading at m, the end of that load is enough.
func (t *loadTracker) satisfies(m loadMark) bool {
	if m.loading {
		return t.finishedAt.After(m.at)
	}
	return t.finishedStartAt.After(m.at)
}

func (t *loadTracker) wait(ctx context.Context, m loadMark) error {
	for {
		t.mu.Lock()
		ok, changed := t.satisfies(m), t.changed
		t.mu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck
		}
	}
}
