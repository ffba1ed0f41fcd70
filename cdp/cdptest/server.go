// Package cdptest provides a websocket server speaking CDP that can stand in
// for a real browser in tests.
package cdptest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/stretchr/testify/require"
)

// Handler answers a command received by the server. Replies and events are
// sent by writing them to conn.
type Handler func(conn *Conn, msg *cdproto.Message)

// Server is a test server speaking CDP on /cdp. Every other path is served
// by httpbin.
type Server struct {
	t          testing.TB
	Mux        *http.ServeMux
	ServerHTTP *httptest.Server

	handler Handler

	mu       sync.Mutex
	received []*cdproto.Message
	conns    []*Conn
}

// Conn is one client connection of the server.
type Conn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
}

// NewServer returns a fully configured and running CDP test server. A nil
// handler answers every command with an empty result.
func NewServer(t testing.TB, handler Handler) *Server {
	t.Helper()

	if handler == nil {
		handler = DefaultHandler
	}
	mux := http.NewServeMux()
	mux.Handle("/", httpbin.New().Handler())

	s := &Server{
		t:       t,
		Mux:     mux,
		handler: handler,
	}
	mux.HandleFunc("/cdp", s.serveCDP)
	mux.HandleFunc("/closure-abnormal", serveClosureAbnormal)

	s.ServerHTTP = httptest.NewServer(mux)
	t.Cleanup(func() {
		s.closeConns()
		s.ServerHTTP.Close()
	})

	return s
}

// URL returns the websocket URL of path on the server.
func (s *Server) URL(path string) string {
	u, err := url.Parse(s.ServerHTTP.URL)
	require.NoError(s.t, err)

	return fmt.Sprintf("ws://%s%s", u.Host, path)
}

// WSURL returns the websocket URL of the CDP endpoint.
func (s *Server) WSURL() string {
	return s.URL("/cdp")
}

// Received returns the commands received so far, in arrival order.
func (s *Server) Received() []*cdproto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*cdproto.Message(nil), s.received...)
}

// Methods returns the methods of the commands received so far.
func (s *Server) Methods() []cdproto.MethodType {
	s.mu.Lock()
	defer s.mu.Unlock()

	methods := make([]cdproto.MethodType, 0, len(s.received))
	for _, m := range s.received {
		methods = append(methods, m.Method)
	}
	return methods
}

// Broadcast writes msg to every connected client.
func (s *Server) Broadcast(msg *cdproto.Message) {
	s.mu.Lock()
	conns := append([]*Conn(nil), s.conns...)
	s.mu.Unlock()

	for _, c := range conns {
		c.Write(msg)
	}
}

// Emit sends the event method with the JSON params to every client, for
// session sessionID.
func (s *Server) Emit(sessionID, method, params string) {
	s.Broadcast(&cdproto.Message{
		SessionID: target.SessionID(sessionID),
		Method:    cdproto.MethodType(method),
		Params:    easyjson.RawMessage(params),
	})
}

// CloseConns closes every client connection without a close handshake.
func (s *Server) CloseConns() {
	s.closeConns()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}

func (s *Server) serveCDP(w http.ResponseWriter, req *http.Request) {
	ws, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
	if err != nil {
		return
	}
	conn := &Conn{ws: ws, done: make(chan struct{})}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	defer close(conn.done)
	for {
		_, buf, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg cdproto.Message
		decoder := jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&decoder)
		if err := decoder.Error(); err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, &msg)
		s.mu.Unlock()

		s.handler(conn, &msg)
	}
}

// serveClosureAbnormal forces a connection closure without a proper
// websocket close message exchange.
func serveClosureAbnormal(w http.ResponseWriter, req *http.Request) {
	conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
	if err != nil {
		return
	}
	_ = conn.Close()
}

// Write sends msg to the client.
func (c *Conn) Write(msg *cdproto.Message) {
	encoder := jwriter.Writer{}
	msg.MarshalEasyJSON(&encoder)
	if encoder.Error != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	writer, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return
	}
	if _, err := encoder.DumpTo(writer); err != nil {
		return
	}
	_ = writer.Close()
}

// Reply answers the command msg with the JSON result.
func (c *Conn) Reply(msg *cdproto.Message, result string) {
	c.Write(&cdproto.Message{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Result:    easyjson.RawMessage(result),
	})
}

// ReplyError answers the command msg with a CDP error.
func (c *Conn) ReplyError(msg *cdproto.Message, code int64, message string) {
	c.Write(&cdproto.Message{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Error:     &cdproto.Error{Code: code, Message: message},
	})
}

// DefaultHandler answers every command with an empty result.
func DefaultHandler(conn *Conn, msg *cdproto.Message) {
	if msg.Method == "" {
		return
	}
	conn.Reply(msg, "{}")
}
