// Package cdp implements a Chrome DevTools Protocol client over a websocket
// connection, with flattened target sessions.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"

	"github.com/grafana/xk6-webview/cdp/domains"
	"github.com/grafana/xk6-webview/log"
)

var (
	// ErrNotConnected is returned when executing a command before Connect.
	ErrNotConnected = errors.New("CDP client not connected")
	// ErrClientClosed is returned once the client or its connection is
	// closed.
	ErrClientClosed = errors.New("CDP client closed")
)

var _ cdp.Executor = &Client{}

// Client manages CDP communication with the browser. Commands are routed to
// a target session with WithSessionID.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger

	Browser domains.Browser
	Page    domains.Page
	Target  domains.Target
	Network domains.Network
	Fetch   domains.Fetch
	DOM     domains.DOM

	connMu sync.RWMutex
	conn   *connection
	wsURL  string

	msgID     atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message

	watcher *eventWatcher

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// NewClient returns a new Client that is unusable until a CDP connection is
// established with Connect. The client is closed when ctx is done.
func NewClient(ctx context.Context, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		pending: make(map[int64]chan *cdproto.Message),
		watcher: newEventWatcher(),
		done:    make(chan struct{}),
	}

	c.Browser = domains.NewBrowser(c)
	c.Page = domains.NewPage(c)
	c.Target = domains.NewTarget(c)
	c.Network = domains.NewNetwork(c)
	c.Fetch = domains.NewFetch(c)
	c.DOM = domains.NewDOM(c)

	return c
}

// Connect to the browser that exposes a CDP API at wsURL.
func (c *Client) Connect(ctx context.Context, wsURL string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	conn, err := dial(ctx, wsURL, c.logger)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		_ = conn.close(websocket.CloseGoingAway)
		return ErrClientClosed
	default:
	}
	c.logger.Infof("cdp", "established CDP connection to %q", wsURL)
	c.conn = conn
	c.wsURL = wsURL

	go c.recvLoop(conn)
	go func() {
		select {
		case <-c.ctx.Done():
			c.shutdown(c.ctx.Err())
		case <-c.done:
		}
	}()

	return nil
}

// Close closes the connection to the browser. Commands waiting for a reply
// return ErrClientClosed and every event subscription ends.
func (c *Client) Close() error {
	return c.shutdown(ErrClientClosed)
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the client was closed, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
		return nil
	}
}

// URL returns the websocket URL the client is connected to.
func (c *Client) URL() string {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return c.wsURL
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive. The command goes to the session set in ctx, if any.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
	}
	msg := &cdproto.Message{
		ID:        c.msgID.Add(1),
		SessionID: SessionID(ctx),
		Method:    cdproto.MethodType(method),
		Params:    buf,
	}
	c.logger.Debugf("Client:Execute", "sid:%v id:%d method:%q", msg.SessionID, msg.ID, method)

	// Register for the reply before sending, the browser can answer before
	// writeMessage returns.
	recvCh := make(chan *cdproto.Message, 1)
	c.pendingMu.Lock()
	c.pending[msg.ID] = recvCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	if err := conn.writeMessage(msg); err != nil {
		c.shutdown(err)
		return fmt.Errorf("sending %s: %w", method, c.closedErr())
	}

	select {
	case reply := <-recvCh:
		switch {
		case reply.Error != nil:
			return reply.Error
		case res != nil:
			return easyjson.Unmarshal(reply.Result, res) //nolint:wrapcheck
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executing %s: %w", method, ctx.Err())
	case <-c.done:
		return fmt.Errorf("executing %s: %w", method, c.closedErr())
	}
}

// Subscribe returns a channel receiving the given events of the session set
// in ctx, in arrival order, and a function cancelling the subscription. No
// events means every event of the session. The channel is closed once the
// subscription is cancelled, ctx is done or the client is closed.
func (c *Client) Subscribe(ctx context.Context, events ...cdproto.MethodType) (<-chan *Event, func()) {
	sub := c.watcher.subscribe(SessionID(ctx), events...)
	ctx, cancel := context.WithCancel(ctx)

	ch := make(chan *Event)
	go func() {
		defer close(ch)
		defer c.watcher.unsubscribe(sub)

		for {
			ev, err := sub.queue.Pop(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, cancel
}

func (c *Client) recvLoop(conn *connection) {
	for {
		msg, err := conn.readMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		switch {
		case msg.Method != "":
			ev, err := cdproto.UnmarshalMessage(msg)
			if err != nil {
				var unknown cdp.ErrUnknownCommandOrEvent
				if errors.As(err, &unknown) {
					// Most likely an event of a newer browser unknown to
					// cdproto, skip it.
					c.logger.Debugf("Client:recvLoop", "skipping unknown event %q", msg.Method)
					continue
				}
				c.logger.Errorf("cdp", "unmarshalling CDP event %q: %v", msg.Method, err)
				continue
			}
			c.watcher.notify(&Event{Name: msg.Method, SessionID: msg.SessionID, Data: ev})

		case msg.ID != 0:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.pendingMu.Unlock()
			if !ok {
				c.logger.Debugf("Client:recvLoop", "no one waits for reply id:%d", msg.ID)
				continue
			}
			ch <- msg

		default:
			c.logger.Errorf("cdp", "ignoring malformed incoming message (missing id or method): %#v", msg)
		}
	}
}

// shutdown closes the client for reason. Only the first call has an effect.
func (c *Client) shutdown(reason error) error {
	var err error
	c.closeOnce.Do(func() {
		c.err = reason
		close(c.done)
		c.cancel()
		c.watcher.close()

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}
		if !errors.Is(reason, ErrClientClosed) {
			c.logger.Debugf("Client:shutdown", "wsURL:%q reason:%v", conn.wsURL, reason)
		}
		if cerr := conn.close(websocket.CloseGoingAway); cerr != nil && errors.Is(reason, ErrClientClosed) {
			err = fmt.Errorf("closing CDP connection: %w", cerr)
		}
	})

	return err
}

// closedErr returns ErrClientClosed, joined with the reason the connection
// went down.
func (c *Client) closedErr() error {
	if c.err == nil || errors.Is(c.err, ErrClientClosed) {
		return ErrClientClosed
	}
	return fmt.Errorf("%w: %w", ErrClientClosed, c.err)
}
