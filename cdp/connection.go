package cdp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/oxtoacart/bpool"

	"github.com/grafana/xk6-webview/log"
)

const (
	wsWriteBufferSize  = 1 << 20
	wsHandshakeTimeout = 60 * time.Second
	wsCloseTimeout     = 10 * time.Second

	// writeBufPoolSize is the number of encoded message buffers kept around
	// for reuse.
	writeBufPoolSize = 16
)

// connection is a websocket connection speaking CDP messages. Reads must
// happen on a single goroutine; writes can come from any goroutine.
type connection struct {
	ws     *websocket.Conn
	wsURL  string
	logger *log.Logger

	writeMu sync.Mutex
	bufs    *bpool.BufferPool

	closeOnce sync.Once
}

func dial(ctx context.Context, wsURL string, logger *log.Logger) (*connection, error) {
	var header http.Header
	var tlsConfig *tls.Config
	wsd := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  tlsConfig,
		WriteBufferSize:  wsWriteBufferSize,
	}

	ws, _, err := wsd.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", wsURL, err)
	}

	return &connection{
		ws:     ws,
		wsURL:  wsURL,
		logger: logger,
		bufs:   bpool.NewBufferPool(writeBufPoolSize),
	}, nil
}

func (c *connection) readMessage() (*cdproto.Message, error) {
	_, buf, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	c.logger.Tracef("cdp:recv", "<- %s", buf)

	var msg cdproto.Message
	decoder := jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&decoder)
	if err := decoder.Error(); err != nil {
		return nil, fmt.Errorf("decoding CDP message: %w", err)
	}

	return &msg, nil
}

func (c *connection) writeMessage(msg *cdproto.Message) error {
	var encoder jwriter.Writer
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		return fmt.Errorf("encoding CDP message: %w", err)
	}

	buf := c.bufs.Get()
	defer c.bufs.Put(buf)
	if _, err := encoder.DumpTo(buf); err != nil {
		return fmt.Errorf("encoding CDP message: %w", err)
	}

	c.logger.Tracef("cdp:send", "-> %s", buf.Bytes())

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteMessage(websocket.TextMessage, buf.Bytes()) //nolint:wrapcheck
}

// close sends a close frame with code and closes the connection. Calls
// after the first one are no-ops.
func (c *connection) close(code int) error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		err = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(wsCloseTimeout),
		)
		c.writeMu.Unlock()

		if cerr := c.ws.Close(); err == nil {
			err = cerr
		}
	})

	return err
}
