package chromium

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	cdptypes "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/pkg/errors"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/xk6-webview/cdp"
	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/webview"
)

// maxIconSize bounds the icons fetched over HTTP.
const maxIconSize = 1 << 20

// RendererOptions configure a Renderer.
type RendererOptions struct {
	// Timeout bounds every CDP command.
	Timeout time.Duration
	// InterceptNavigation asks the should-override callback before a page
	// navigates by itself.
	InterceptNavigation bool
}

// Renderer is a Chromium page target driven over CDP. Its methods must be
// called on the loop it was created with, which also runs its callbacks.
type Renderer struct {
	ctx    context.Context
	cancel context.CancelFunc
	client *cdp.Client
	loop   webview.Dispatcher
	logger *log.Logger
	opts   RendererOptions
	icons  *http.Client

	targetID    target.ID
	sessionID   target.SessionID
	unsubscribe func()

	navs navigations

	// owned by the loop
	cb         *webview.Callbacks
	currentURL string
	history    []*page.NavigationEntry
	histIndex  int64
	episode    int64

	// owned by the event goroutine
	mainFrame   cdptypes.FrameID
	loading     bool
	episodes    int64
	started     int
	finished    int
	progress    int
	documentURL string
	requests    map[network.RequestID]*trackedRequest

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

type trackedRequest struct {
	req *webview.Request
	// episode the request was counted in for the progress, or zero.
	episode int64
}

var _ webview.Renderer = &Renderer{}

var rendererEvents = []cdproto.MethodType{
	cdproto.EventPageFrameStartedLoading,
	cdproto.EventPageFrameStoppedLoading,
	cdproto.EventPageFrameNavigated,
	cdproto.EventPageNavigatedWithinDocument,
	cdproto.EventPageDomContentEventFired,
	cdproto.EventNetworkRequestWillBeSent,
	cdproto.EventNetworkLoadingFinished,
	cdproto.EventNetworkLoadingFailed,
	cdproto.EventFetchRequestPaused,
	cdproto.EventInspectorTargetCrashed,
}

// NewRenderer opens a new page in the browser client is connected to. Its
// callbacks run on loop.
func NewRenderer(
	ctx context.Context, client *cdp.Client, loop webview.Dispatcher, opts RendererOptions, logger *log.Logger,
) (_ *Renderer, rerr error) {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLaunchOptions().Timeout
	}
	tctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	targetID, err := client.Target.CreateTarget(tctx, "about:blank", "")
	if err != nil {
		return nil, errors.Wrap(err, "creating page target")
	}
	sessionID, err := client.Target.AttachToTarget(tctx, targetID)
	if err != nil {
		return nil, errors.Wrapf(err, "attaching to page target %s", targetID)
	}

	r := &Renderer{
		client:    client,
		loop:      loop,
		logger:    logger,
		opts:      opts,
		icons:     &http.Client{Timeout: opts.Timeout},
		targetID:  targetID,
		sessionID: sessionID,
		histIndex: -1,
		requests:  make(map[network.RequestID]*trackedRequest),
		done:      make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(cdp.WithSessionID(context.Background(), sessionID))
	defer func() {
		if rerr != nil {
			r.cancel()
		}
	}()

	// Subscribe before enabling the domains to not miss their first events.
	events, unsubscribe := client.Subscribe(r.ctx, rendererEvents...)
	r.unsubscribe = unsubscribe

	sctx, scancel := context.WithTimeout(r.ctx, opts.Timeout)
	defer scancel()
	if err := client.Page.Enable(sctx); err != nil {
		return nil, errors.Wrap(err, "setting up page")
	}
	if err := client.Network.Enable(sctx); err != nil {
		return nil, errors.Wrap(err, "setting up page")
	}
	if opts.InterceptNavigation {
		if err := client.Fetch.EnableDocuments(sctx); err != nil {
			return nil, errors.Wrap(err, "setting up page")
		}
	}
	tree, err := client.Page.GetFrameTree(sctx)
	if err != nil {
		return nil, errors.Wrap(err, "setting up page")
	}
	r.mainFrame = tree.Frame.ID

	go r.handleEvents(events)
	logger.Debugf("Renderer:New", "tid:%v sid:%v fid:%v", targetID, sessionID, r.mainFrame)

	return r, nil
}

// ID returns the ID of the page target.
func (r *Renderer) ID() string {
	return string(r.targetID)
}

// Close closes the page. The renderer can not be used anymore.
func (r *Renderer) Close() error {
	var err error
	r.closeOnce.Do(func() {
		ctx, cancel := r.commandContext()
		defer cancel()
		if cerr := r.client.Page.Close(ctx); cerr != nil && r.client.Err() == nil {
			err = errors.Wrap(cerr, "closing page")
		}
		r.cancel()
		r.unsubscribe()
		<-r.done
		r.wg.Wait()
	})

	return err
}

func (r *Renderer) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.ctx, r.opts.Timeout)
}

// LoadURL navigates the page to url.
func (r *Renderer) LoadURL(url string) error {
	r.currentURL = url

	return r.navigate(navURL, url)
}

// LoadData navigates the page to data, with relative addresses resolved
// against baseURL if it is present.
func (r *Renderer) LoadData(data string, baseURL null.String, mimeType, encoding string) error {
	if mimeType == "" {
		mimeType = "text/html"
	}
	if encoding == "" {
		encoding = "utf-8"
	}
	if baseURL.Valid && baseURL.String != "" {
		data = baseElement(baseURL.String) + data
	}
	u := dataURL(data, mimeType, encoding)
	r.currentURL = u

	return r.navigate(navData, u)
}

func (r *Renderer) navigate(kind navKind, url string) error {
	ctx, cancel := r.commandContext()
	defer cancel()

	r.navs.expect(kind)
	if _, err := r.client.Page.Navigate(ctx, url, "", ""); err != nil {
		var cerr *cdproto.Error
		if errors.As(err, &cerr) {
			// Refused before it started, no document will commit.
			r.navs.cancel()
		}
		return errors.Wrap(err, "navigating")
	}

	return nil
}

// GoBack navigates to the previous history entry, if any.
func (r *Renderer) GoBack() error {
	return r.goTo(r.histIndex - 1)
}

// GoForward navigates to the next history entry, if any.
func (r *Renderer) GoForward() error {
	return r.goTo(r.histIndex + 1)
}

func (r *Renderer) goTo(index int64) error {
	if index < 0 || index >= int64(len(r.history)) {
		return nil
	}
	entry := r.history[index]

	ctx, cancel := r.commandContext()
	defer cancel()

	r.navs.expect(navHistory)
	if err := r.client.Page.NavigateToHistoryEntry(ctx, entry.ID); err != nil {
		r.navs.cancel()
		return errors.Wrap(err, "traversing history")
	}
	r.histIndex = index
	r.currentURL = entry.URL

	return nil
}

// Reload reloads the current document.
func (r *Renderer) Reload() error {
	ctx, cancel := r.commandContext()
	defer cancel()

	r.navs.expect(navReload)
	if err := r.client.Page.Reload(ctx, false); err != nil {
		r.navs.cancel()
		return errors.Wrap(err, "reloading")
	}

	return nil
}

// StopLoading stops the current load.
func (r *Renderer) StopLoading() error {
	ctx, cancel := r.commandContext()
	defer cancel()

	return errors.Wrap(r.client.Page.StopLoading(ctx), "stopping")
}

// CanGoBack reports whether there is a previous history entry.
func (r *Renderer) CanGoBack() bool {
	return r.histIndex > 0
}

// CanGoForward reports whether there is a next history entry.
func (r *Renderer) CanGoForward() bool {
	return r.histIndex >= 0 && r.histIndex < int64(len(r.history))-1
}

// CurrentURL returns the address loaded or being loaded.
func (r *Renderer) CurrentURL() string {
	return r.currentURL
}

// SetCallbacks replaces the lifecycle callbacks.
func (r *Renderer) SetCallbacks(cb *webview.Callbacks) {
	r.cb = cb
}

// refreshHistory reads the navigation history of the page. The blank page
// every target starts with is left out.
func (r *Renderer) refreshHistory() {
	ctx, cancel := r.commandContext()
	defer cancel()

	index, entries, err := r.client.Page.GetNavigationHistory(ctx)
	if err != nil {
		r.logger.Debugf("Renderer:refreshHistory", "tid:%v err:%v", r.targetID, err)
		return
	}
	if len(entries) > 1 && entries[0].URL == "about:blank" {
		entries = entries[1:]
		index--
	}
	r.history, r.histIndex = entries, index
}

// dispatch runs fn with the callbacks on the loop, if there are any.
func (r *Renderer) dispatch(fn func(cb *webview.Callbacks)) {
	r.loop.Dispatch(func() {
		if r.cb != nil {
			fn(r.cb)
		}
	})
}

func (r *Renderer) handleEvents(events <-chan *cdp.Event) {
	defer close(r.done)

	for ev := range events {
		switch ev := ev.Data.(type) {
		case *page.EventFrameStartedLoading:
			r.onFrameStartedLoading(ev)
		case *page.EventFrameStoppedLoading:
			r.onFrameStoppedLoading(ev)
		case *page.EventFrameNavigated:
			r.onFrameNavigated(ev)
		case *page.EventNavigatedWithinDocument:
			r.onNavigatedWithinDocument(ev)
		case *page.EventDomContentEventFired:
			r.onDOMContentLoaded()
		case *network.EventRequestWillBeSent:
			r.onRequestWillBeSent(ev)
		case *network.EventLoadingFinished:
			r.onRequestDone(ev.RequestID)
		case *network.EventLoadingFailed:
			r.onLoadingFailed(ev)
		case *fetch.EventRequestPaused:
			r.onRequestPaused(ev)
		case *inspector.EventTargetCrashed:
			r.logger.Errorf("Renderer", "page %v crashed", r.targetID)
		}
	}
}

func (r *Renderer) onFrameStartedLoading(ev *page.EventFrameStartedLoading) {
	if ev.FrameID != r.mainFrame {
		return
	}
	r.loading = true
	r.started, r.finished, r.progress = 0, 0, 0
	r.episodes++

	n, url := r.episodes, r.documentURL
	r.loop.Dispatch(func() {
		r.episode = n
		if r.cb != nil && r.cb.OnPageStarted != nil {
			r.cb.OnPageStarted(url, nil)
		}
	})
}

func (r *Renderer) onFrameStoppedLoading(ev *page.EventFrameStoppedLoading) {
	if ev.FrameID != r.mainFrame {
		return
	}
	r.loading = false
	r.navs.stopped()

	url := r.documentURL
	r.dispatch(func(cb *webview.Callbacks) {
		if cb.OnPageFinished != nil {
			cb.OnPageFinished(url)
		}
	})
}

func (r *Renderer) onFrameNavigated(ev *page.EventFrameNavigated) {
	if ev.Frame == nil || ev.Frame.ParentID != "" {
		return
	}
	r.mainFrame = ev.Frame.ID
	isReload, superseded := r.navs.committed()

	url := ev.Frame.URL + ev.Frame.URLFragment
	if ev.Frame.UnreachableURL != "" {
		// an error page of a failed navigation
		url = ev.Frame.UnreachableURL
	}
	r.documentURL = url

	r.loop.Dispatch(func() {
		r.refreshHistory()
		if superseded {
			r.logger.Debugf("Renderer:onFrameNavigated", "tid:%v skipping superseded url:%q", r.targetID, url)
			return
		}
		r.currentURL = url
		if r.cb != nil && r.cb.OnVisitedHistoryUpdated != nil {
			r.cb.OnVisitedHistoryUpdated(null.StringFrom(url), isReload)
		}
	})
}

func (r *Renderer) onNavigatedWithinDocument(ev *page.EventNavigatedWithinDocument) {
	if ev.FrameID != r.mainFrame {
		return
	}
	r.navs.sameDocument()

	url := ev.URL
	r.documentURL = url
	r.loop.Dispatch(func() {
		r.refreshHistory()
		r.currentURL = url
		if r.cb != nil && r.cb.OnVisitedHistoryUpdated != nil {
			r.cb.OnVisitedHistoryUpdated(null.StringFrom(url), false)
		}
	})
}

// onDOMContentLoaded reports the title and the icon of the main document.
func (r *Renderer) onDOMContentLoaded() {
	ctx, cancel := r.commandContext()
	defer cancel()

	markup, err := r.client.DOM.DocumentHTML(ctx)
	if err != nil {
		r.logger.Debugf("Renderer:onDOMContentLoaded", "tid:%v err:%v", r.targetID, err)
		return
	}
	doc, err := parseDocument(r.documentURL, markup)
	if err != nil {
		r.logger.Debugf("Renderer:onDOMContentLoaded", "tid:%v err:%v", r.targetID, err)
		return
	}

	if doc.title.Valid {
		title := doc.title
		r.dispatch(func(cb *webview.Callbacks) {
			if cb.OnReceivedTitle != nil {
				cb.OnReceivedTitle(title)
			}
		})
	}
	if doc.iconURL != "" {
		r.wg.Add(1)
		go r.fetchIcon(r.episodes, r.mainFrame, doc.iconURL)
	}
}

// fetchIcon reports the icon at iconURL, unless a new page started loading
// in the meantime.
func (r *Renderer) fetchIcon(episode int64, frameID cdptypes.FrameID, iconURL string) {
	defer r.wg.Done()

	icon, err := r.readIcon(frameID, iconURL)
	if err != nil {
		r.logger.Debugf("Renderer:fetchIcon", "tid:%v url:%q err:%v", r.targetID, iconURL, err)
		return
	}
	if len(icon) == 0 {
		return
	}
	r.loop.Dispatch(func() {
		if r.episode != episode || r.cb == nil || r.cb.OnReceivedIcon == nil {
			return
		}
		r.cb.OnReceivedIcon(icon)
	})
}

func (r *Renderer) readIcon(frameID cdptypes.FrameID, iconURL string) ([]byte, error) {
	if strings.HasPrefix(iconURL, "data:") {
		return decodeDataURL(iconURL)
	}

	ctx, cancel := r.commandContext()
	defer cancel()

	icon, err := r.client.Page.GetResourceContent(ctx, frameID, iconURL)
	if err == nil {
		return icon, nil
	}
	if !strings.HasPrefix(iconURL, "http://") && !strings.HasPrefix(iconURL, "https://") {
		return nil, err //nolint:wrapcheck
	}

	// The page did not load the icon itself.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetching icon")
	}
	resp, err := r.icons.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching icon")
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching icon: %s", resp.Status)
	}
	icon, err = io.ReadAll(io.LimitReader(resp.Body, maxIconSize))

	return icon, errors.Wrap(err, "reading icon")
}

func (r *Renderer) onRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	t, ok := r.requests[ev.RequestID]
	if !ok {
		t = &trackedRequest{}
		r.requests[ev.RequestID] = t
	}
	t.req = &webview.Request{
		URL:         ev.Request.URL + ev.Request.URLFragment,
		Method:      ev.Request.Method,
		Headers:     headers(ev.Request.Headers),
		IsMainFrame: ev.Type == network.ResourceTypeDocument && ev.FrameID == r.mainFrame,
		IsRedirect:  ev.RedirectResponse != nil,
		HasGesture:  ev.HasUserGesture,
	}
	if t.req.IsMainFrame {
		r.documentURL = t.req.URL
	}
	// A redirect keeps the request ID and is counted once.
	if !ok && r.loading && ev.FrameID == r.mainFrame {
		t.episode = r.episodes
		r.started++
	}
}

// onRequestDone forgets a request and updates the loading progress.
func (r *Renderer) onRequestDone(id network.RequestID) *webview.Request {
	t, ok := r.requests[id]
	if !ok {
		return nil
	}
	delete(r.requests, id)
	if t.episode == 0 || t.episode != r.episodes || !r.loading {
		return t.req
	}

	r.finished++
	p := 100 * r.finished / r.started
	if p > 99 {
		// 100 is for the page-finished callback
		p = 99
	}
	if p > r.progress {
		r.progress = p
		r.dispatch(func(cb *webview.Callbacks) {
			if cb.OnProgressChanged != nil {
				cb.OnProgressChanged(p)
			}
		})
	}

	return t.req
}

func (r *Renderer) onLoadingFailed(ev *network.EventLoadingFailed) {
	req := r.onRequestDone(ev.RequestID)
	if ev.Canceled || ev.ErrorText == "net::ERR_ABORTED" {
		// stopped, replaced or overridden
		return
	}

	rerr := &webview.ResourceError{Code: netErrorCode(ev.ErrorText), Description: ev.ErrorText}
	r.dispatch(func(cb *webview.Callbacks) {
		if cb.OnReceivedError != nil {
			cb.OnReceivedError(req, rerr)
		}
	})
}

func (r *Renderer) onRequestPaused(ev *fetch.EventRequestPaused) {
	networkID := string(ev.NetworkID)
	if ev.Request == nil ||
		ev.FrameID != r.mainFrame ||
		ev.ResourceType != network.ResourceTypeDocument ||
		strings.HasPrefix(ev.Request.URL, "data:") ||
		r.navs.intercepted(networkID) {
		r.continueRequest(ev.RequestID)
		return
	}

	req := &webview.Request{
		URL:         ev.Request.URL + ev.Request.URLFragment,
		Method:      ev.Request.Method,
		Headers:     headers(ev.Request.Headers),
		IsMainFrame: true,
	}
	id := ev.RequestID
	ok := r.loop.Dispatch(func() {
		if r.cb != nil && r.cb.ShouldOverrideNavigation != nil && r.cb.ShouldOverrideNavigation(req) {
			r.logger.Debugf("Renderer:onRequestPaused", "tid:%v overridden url:%q", r.targetID, req.URL)
			r.failRequest(id)
			return
		}
		r.navs.allow(networkID)
		r.continueRequest(id)
	})
	if !ok {
		r.continueRequest(id)
	}
}

func (r *Renderer) continueRequest(id fetch.RequestID) {
	ctx, cancel := r.commandContext()
	defer cancel()

	if err := r.client.Fetch.ContinueRequest(ctx, id); err != nil {
		r.logger.Debugf("Renderer:continueRequest", "tid:%v rid:%v err:%v", r.targetID, id, err)
	}
}

func (r *Renderer) failRequest(id fetch.RequestID) {
	ctx, cancel := r.commandContext()
	defer cancel()

	if err := r.client.Fetch.FailRequest(ctx, id, network.ErrorReasonAborted); err != nil {
		r.logger.Debugf("Renderer:failRequest", "tid:%v rid:%v err:%v", r.targetID, id, err)
	}
}

func headers(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for k, v := range h {
		m[k] = fmt.Sprint(v)
	}
	return m
}

// netErrors maps the network error names of Chromium to their codes.
var netErrors = map[string]int{ //nolint:gochecknoglobals
	"net::ERR_FAILED":                   -2,
	"net::ERR_ABORTED":                  -3,
	"net::ERR_FILE_NOT_FOUND":           -6,
	"net::ERR_TIMED_OUT":                -7,
	"net::ERR_ACCESS_DENIED":            -10,
	"net::ERR_BLOCKED_BY_CLIENT":        -20,
	"net::ERR_BLOCKED_BY_RESPONSE":      -27,
	"net::ERR_CONNECTION_CLOSED":        -100,
	"net::ERR_CONNECTION_RESET":         -101,
	"net::ERR_CONNECTION_REFUSED":       -102,
	"net::ERR_CONNECTION_ABORTED":       -103,
	"net::ERR_CONNECTION_FAILED":        -104,
	"net::ERR_NAME_NOT_RESOLVED":        -105,
	"net::ERR_INTERNET_DISCONNECTED":    -106,
	"net::ERR_SSL_PROTOCOL_ERROR":       -107,
	"net::ERR_ADDRESS_UNREACHABLE":      -109,
	"net::ERR_CONNECTION_TIMED_OUT":     -118,
	"net::ERR_CERT_COMMON_NAME_INVALID": -200,
	"net::ERR_CERT_DATE_INVALID":        -201,
	"net::ERR_CERT_AUTHORITY_INVALID":   -202,
	"net::ERR_INVALID_URL":              -300,
	"net::ERR_UNKNOWN_URL_SCHEME":       -302,
	"net::ERR_TOO_MANY_REDIRECTS":       -310,
	"net::ERR_INVALID_RESPONSE":         -320,
	"net::ERR_EMPTY_RESPONSE":           -324,
	"net::ERR_HTTP2_PROTOCOL_ERROR":     -337,
}

// netErrorCode returns the code of a Chromium network error, or the code of
// ERR_FAILED if the error is unknown.
func netErrorCode(errorText string) int {
	if code, ok := netErrors[errorText]; ok {
		return code
	}
	return netErrors["net::ERR_FAILED"]
}
