package cdp

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-webview/cdp/cdptest"
	"github.com/grafana/xk6-webview/cdp/domains"
)

func newConnectedClient(t *testing.T, handler cdptest.Handler) (*Client, *cdptest.Server) {
	t.Helper()

	server := cdptest.NewServer(t, handler)
	c := NewClient(context.Background(), nil)
	require.NoError(t, c.Connect(context.Background(), server.WSURL()))
	t.Cleanup(func() { _ = c.Close() })

	return c, server
}

func TestClientConnect(t *testing.T) {
	t.Parallel()

	c, server := newConnectedClient(t, nil)
	assert.Equal(t, server.WSURL(), c.URL())
	assert.NoError(t, c.Err())

	err := c.Connect(context.Background(), server.WSURL())
	assert.ErrorContains(t, err, "already established")

	require.NoError(t, c.Close())
	<-c.Done()
	assert.ErrorIs(t, c.Err(), ErrClientClosed)
	assert.ErrorIs(t, c.Page.Enable(context.Background()), ErrClientClosed)
}

func TestClientNotConnected(t *testing.T) {
	t.Parallel()

	c := NewClient(context.Background(), nil)
	err := c.Page.Enable(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientExecute(t *testing.T) {
	t.Parallel()

	c, server := newConnectedClient(t, func(conn *cdptest.Conn, msg *cdproto.Message) {
		switch msg.Method {
		case cdproto.CommandBrowserGetVersion:
			conn.Reply(msg, `{
				"protocolVersion": "1.3",
				"product": "HeadlessChrome/120.0.6099.71",
				"revision": "@9729082fe6174c0a371fc66501f5efc5d69d3d2b",
				"userAgent": "Mozilla/5.0",
				"jsVersion": "12.0.267.8"
			}`)
		default:
			cdptest.DefaultHandler(conn, msg)
		}
	})

	v, err := c.Browser.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &domains.Version{
		Protocol:  "1.3",
		Product:   "HeadlessChrome/120.0.6099.71",
		Revision:  "@9729082fe6174c0a371fc66501f5efc5d69d3d2b",
		UserAgent: "Mozilla/5.0",
		JSVersion: "12.0.267.8",
	}, v)

	require.NoError(t, c.Page.Enable(context.Background()))
	assert.Equal(t, []cdproto.MethodType{
		cdproto.CommandBrowserGetVersion,
		cdproto.CommandPageEnable,
	}, server.Methods())
}

func TestClientExecuteError(t *testing.T) {
	t.Parallel()

	c, _ := newConnectedClient(t, func(conn *cdptest.Conn, msg *cdproto.Message) {
		conn.ReplyError(msg, -32000, "No history entry with given id")
	})

	err := c.Page.NavigateToHistoryEntry(context.Background(), 42)
	var cdpErr *cdproto.Error
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, int64(-32000), cdpErr.Code)
	assert.Equal(t, "No history entry with given id", cdpErr.Message)
}

func TestClientExecuteContextDone(t *testing.T) {
	t.Parallel()

	// never replies
	c, _ := newConnectedClient(t, func(*cdptest.Conn, *cdproto.Message) {})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Page.StopLoading(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientSessionRouting(t *testing.T) {
	t.Parallel()

	c, server := newConnectedClient(t, nil)

	ctx := WithSessionID(context.Background(), "session_1")
	require.NoError(t, c.Page.Enable(ctx))
	require.NoError(t, c.Network.Enable(context.Background()))

	received := server.Received()
	require.Len(t, received, 2)
	assert.EqualValues(t, "session_1", received[0].SessionID)
	assert.Empty(t, received[1].SessionID)
}

func TestClientSubscribe(t *testing.T) {
	t.Parallel()

	c, server := newConnectedClient(t, nil)

	ctx := WithSessionID(context.Background(), "session_1")
	events, cancel := c.Subscribe(ctx, cdproto.EventPageFrameStartedLoading)
	defer cancel()

	server.Emit("session_2", string(cdproto.EventPageFrameStartedLoading), `{"frameId":"other"}`)
	server.Emit("session_1", string(cdproto.EventPageFrameStoppedLoading), `{"frameId":"main"}`)
	server.Emit("session_1", string(cdproto.EventPageFrameStartedLoading), `{"frameId":"main"}`)

	select {
	case ev := <-events:
		assert.Equal(t, cdproto.MethodType(cdproto.EventPageFrameStartedLoading), ev.Name)
		assert.EqualValues(t, "session_1", ev.SessionID)
		data, ok := ev.Data.(*page.EventFrameStartedLoading)
		require.True(t, ok)
		assert.EqualValues(t, "main", data.FrameID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	for range events {
	}
}

func TestClientSubscribeEndsOnClose(t *testing.T) {
	t.Parallel()

	c, _ := newConnectedClient(t, nil)
	events, cancel := c.Subscribe(context.Background())
	defer cancel()

	require.NoError(t, c.Close())

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not closed")
	}
}

func TestClientClosureAbnormal(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, nil)
	c := NewClient(context.Background(), nil)
	require.NoError(t, c.Connect(context.Background(), server.URL("/closure-abnormal")))

	err := c.Page.Enable(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
	<-c.Done()
}

func TestClientClosedByContext(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(ctx, nil)
	require.NoError(t, c.Connect(context.Background(), server.WSURL()))

	cancel()
	<-c.Done()
	assert.ErrorIs(t, c.Err(), context.Canceled)
	assert.ErrorIs(t, c.Err(), ErrClientClosed)
}
