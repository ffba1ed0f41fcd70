package chromium

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-webview/cdp"
	"github.com/grafana/xk6-webview/cdp/cdptest"
)

const (
	fakeTargetID  = "T1"
	fakeSessionID = "S1"
	fakeFrameID   = "F1"
)

// fakeBrowser answers the commands of a Renderer like a browser with one
// tab. Document requests are paused until the renderer continues them.
type fakeBrowser struct {
	t   *testing.T
	srv *cdptest.Server

	mu       sync.Mutex
	pages    map[string]string
	failing  map[string]string
	history  []string
	index    int
	seq      int
	paused   map[string]*pausedNavigation
	conn     *cdptest.Conn
	commands []cdproto.MethodType
}

// pausedNavigation is a document request waiting for the renderer.
type pausedNavigation struct {
	url       string
	networkID string
	// navigate is the command which started the navigation, if any. It is
	// answered once the request was continued or failed.
	navigate *cdproto.Message
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()

	b := &fakeBrowser{
		t:       t,
		pages:   make(map[string]string),
		failing: make(map[string]string),
		history: []string{"about:blank"},
		paused:  make(map[string]*pausedNavigation),
	}
	b.srv = cdptest.NewServer(t, b.handle)

	return b
}

// page makes url serve markup.
func (b *fakeBrowser) page(url, markup string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pages[url] = markup
}

// fail makes the requests to url fail with errorText.
func (b *fakeBrowser) fail(url, errorText string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failing[url] = errorText
}

// connect returns a CDP client connected to the browser.
func (b *fakeBrowser) connect() *cdp.Client {
	b.t.Helper()

	client := cdp.NewClient(context.Background(), nil)
	require.NoError(b.t, client.Connect(context.Background(), b.srv.WSURL()))
	b.t.Cleanup(func() { _ = client.Close() })

	return client
}

// click simulates a link click: the page navigates by itself to url.
func (b *fakeBrowser) click(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pause(url, nil)
}

func (b *fakeBrowser) received() []cdproto.MethodType {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]cdproto.MethodType(nil), b.commands...)
}

// receivedParams returns the params of the commands method received.
func (b *fakeBrowser) receivedParams(method cdproto.MethodType) []string {
	var params []string
	for _, msg := range b.srv.Received() {
		if msg.Method == method {
			params = append(params, string(msg.Params))
		}
	}
	return params
}

func (b *fakeBrowser) handle(conn *cdptest.Conn, msg *cdproto.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.conn = conn
	b.commands = append(b.commands, msg.Method)

	var params struct {
		URL       string `json:"url"`
		EntryID   int    `json:"entryId"`
		RequestID string `json:"requestId"`
	}
	if len(msg.Params) > 0 {
		require.NoError(b.t, json.Unmarshal(msg.Params, &params))
	}

	switch msg.Method {
	case cdproto.CommandTargetCreateTarget:
		conn.Reply(msg, fmt.Sprintf(`{"targetId":%q}`, fakeTargetID))
	case cdproto.CommandTargetAttachToTarget:
		conn.Reply(msg, fmt.Sprintf(`{"sessionId":%q}`, fakeSessionID))
	case cdproto.CommandPageGetFrameTree:
		conn.Reply(msg, fmt.Sprintf(`{"frameTree":{"frame":{"id":%q,"loaderId":"L0","url":"about:blank"}}}`, fakeFrameID))
	case cdproto.CommandPageNavigate:
		if strings.HasPrefix(params.URL, "data:") {
			b.commit(params.URL, "", true)
			conn.Reply(msg, fmt.Sprintf(`{"frameId":%q}`, fakeFrameID))
			return
		}
		b.pause(params.URL, msg)
	case cdproto.CommandFetchContinueRequest:
		conn.Reply(msg, "{}")
		b.resume(params.RequestID, true)
	case cdproto.CommandFetchFailRequest:
		conn.Reply(msg, "{}")
		b.resume(params.RequestID, false)
	case cdproto.CommandPageReload:
		conn.Reply(msg, "{}")
		b.commit(b.history[b.index], "", false)
	case cdproto.CommandPageGetNavigationHistory:
		conn.Reply(msg, b.navigationHistory())
	case cdproto.CommandPageNavigateToHistoryEntry:
		conn.Reply(msg, "{}")
		b.index = params.EntryID
		b.commit(b.history[b.index], "", false)
	case cdproto.CommandDOMGetDocument:
		conn.Reply(msg, `{"root":{"nodeId":1,"backendNodeId":1,"nodeType":9,"nodeName":"#document","localName":"","nodeValue":""}}`)
	case cdproto.CommandDOMGetOuterHTML:
		markup, err := json.Marshal(b.markup(b.history[b.index]))
		require.NoError(b.t, err)
		conn.Reply(msg, fmt.Sprintf(`{"outerHTML":%s}`, markup))
	default:
		conn.Reply(msg, "{}")
	}
}

func (b *fakeBrowser) pause(url string, navigate *cdproto.Message) {
	b.seq++
	id, networkID := fmt.Sprintf("I%d", b.seq), fmt.Sprintf("R%d", b.seq)
	b.paused[id] = &pausedNavigation{url: url, networkID: networkID, navigate: navigate}
	b.emit(cdproto.EventFetchRequestPaused, fmt.Sprintf(
		`{"requestId":%q,"networkId":%q,"frameId":%q,"resourceType":"Document","request":{"url":%q,"method":"GET","headers":{"Accept":"text/html"}}}`,
		id, networkID, fakeFrameID, url))
}

func (b *fakeBrowser) resume(id string, proceed bool) {
	p, ok := b.paused[id]
	if !ok {
		return
	}
	delete(b.paused, id)

	errorText := b.failing[p.url]
	switch {
	case !proceed:
		b.emit(cdproto.EventNetworkLoadingFailed, fmt.Sprintf(
			`{"requestId":%q,"type":"Document","errorText":"net::ERR_ABORTED"}`, p.networkID))
		errorText = "net::ERR_ABORTED"
	default:
		b.commit(p.url, p.networkID, true)
	}
	if p.navigate != nil {
		b.conn.Reply(p.navigate, fmt.Sprintf(`{"frameId":%q,"errorText":%q}`, fakeFrameID, errorText))
	}
}

// commit loads url in the tab, pushing a history entry if push is set.
func (b *fakeBrowser) commit(url, networkID string, push bool) {
	if networkID == "" {
		b.seq++
		networkID = fmt.Sprintf("R%d", b.seq)
	}
	b.emit(cdproto.EventPageFrameStartedLoading, fmt.Sprintf(`{"frameId":%q}`, fakeFrameID))
	if !strings.HasPrefix(url, "data:") {
		b.emit(cdproto.EventNetworkRequestWillBeSent, fmt.Sprintf(
			`{"requestId":%q,"loaderId":"L1","documentURL":%q,"type":"Document","frameId":%q,"hasUserGesture":false,"request":{"url":%q,"method":"GET","headers":{}}}`,
			networkID, url, fakeFrameID, url))
	}

	frame := fmt.Sprintf(`{"id":%q,"loaderId":"L1","url":%q}`, fakeFrameID, url)
	if errorText, ok := b.failing[url]; ok {
		b.emit(cdproto.EventNetworkLoadingFailed, fmt.Sprintf(
			`{"requestId":%q,"type":"Document","errorText":%q}`, networkID, errorText))
		frame = fmt.Sprintf(`{"id":%q,"loaderId":"L1","url":"chrome-error://chromewebdata/","unreachableUrl":%q}`, fakeFrameID, url)
	}
	if push {
		b.history = append(b.history[:b.index+1], url)
		b.index++
	}
	b.emit(cdproto.EventPageFrameNavigated, fmt.Sprintf(`{"frame":%s,"type":"Navigation"}`, frame))
	b.emit(cdproto.EventPageDomContentEventFired, `{"timestamp":1}`)
	if _, ok := b.failing[url]; !ok && !strings.HasPrefix(url, "data:") {
		b.emit(cdproto.EventNetworkLoadingFinished, fmt.Sprintf(`{"requestId":%q,"timestamp":1,"encodedDataLength":10}`, networkID))
	}
	b.emit(cdproto.EventPageFrameStoppedLoading, fmt.Sprintf(`{"frameId":%q}`, fakeFrameID))
}

func (b *fakeBrowser) markup(url string) string {
	if m, ok := b.pages[url]; ok {
		return m
	}
	if strings.HasPrefix(url, "data:") {
		data, err := decodeDataURL(url)
		require.NoError(b.t, err)
		return string(data)
	}
	return "<html><head></head><body></body></html>"
}

func (b *fakeBrowser) navigationHistory() string {
	entries := make([]string, 0, len(b.history))
	for i, u := range b.history {
		entries = append(entries, fmt.Sprintf(
			`{"id":%d,"url":%q,"userTypedURL":%q,"title":"","transitionType":"typed"}`, i, u, u))
	}
	return fmt.Sprintf(`{"currentIndex":%d,"entries":[%s]}`, b.index, strings.Join(entries, ","))
}

func (b *fakeBrowser) emit(method cdproto.MethodType, params string) {
	b.conn.Write(&cdproto.Message{
		SessionID: fakeSessionID,
		Method:    method,
		Params:    easyjson.RawMessage(params),
	})
}
