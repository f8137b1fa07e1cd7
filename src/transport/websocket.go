// MIT License
//
// Copyright (c) 2024 sphinx-core
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// go/src/transport/websocket.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/lyra-core/go/src/log"
	"github.com/lyra-core/go/src/security"
)

// ErrClosed is returned when writing to a closed connection.
var ErrClosed = errors.New("connection closed")

// NewWebSocketServer creates a server that will listen on address.
func NewWebSocketServer(address string, handler Handler, hooks Hooks) *WebSocketServer {
	s := &WebSocketServer{
		address: address,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		handler: handler,
		hooks:   hooks,
		log:     logger.Named("transport"),
		conns:   make(map[*Conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.handleWebSocket)
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: handshakeTimeout}
	return s
}

// Listen binds the configured address.
func (s *WebSocketServer) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return nil, fmt.Errorf("websocket listen on %s: %w", s.address, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until Shutdown.
func (s *WebSocketServer) Serve(ln net.Listener) error {
	s.log.Infow("websocket server listening", "address", ln.Addr().String(), "path", wsPath)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting, closes every connection and waits for their
// read loops to exit.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	for _, c := range conns {
		c.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// handleWebSocket upgrades HTTP to WebSocket and runs the read loop.
func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	remote := r.Header.Get(headerAddress)
	if _, err := NormalizeAddress(remote); err != nil {
		remote = r.RemoteAddr
	}
	c := newConn(ws, remote, true)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	if s.hooks.OnConnect != nil {
		s.hooks.OnConnect(c)
	}

	c.Serve(s.handler)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	if s.hooks.OnClose != nil {
		s.hooks.OnClose(c)
	}
}

// Dial connects to a peer. localAddress is announced so the peer can
// attribute the connection to this node's listening address. The caller
// runs Serve on the returned connection.
func Dial(ctx context.Context, address, localAddress string) (*Conn, error) {
	if _, err := NormalizeAddress(address); err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	if localAddress != "" {
		header.Set(headerAddress, localAddress)
	}
	ws, _, err := dialer.DialContext(ctx, "ws://"+address+wsPath, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return newConn(ws, address, false), nil
}

func newConn(ws *websocket.Conn, remote string, inbound bool) *Conn {
	ws.SetReadLimit(defaultReadLimit)
	return &Conn{ws: ws, remote: remote, inbound: inbound, done: make(chan struct{})}
}

// Remote returns the peer address of the connection.
func (c *Conn) Remote() string { return c.remote }

// Inbound reports whether the peer dialed us.
func (c *Conn) Inbound() bool { return c.inbound }

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Serve reads envelopes until the connection fails or is closed.
// Frames that do not decode are skipped.
func (c *Conn) Serve(handler Handler) {
	defer c.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := security.DecodeMessage(data)
		if err != nil {
			logger.Debugf("transport: undecodable frame from %s: %v", c.remote, err)
			continue
		}
		handler(c, msg)
	}
}

// Send writes one envelope. It is safe for concurrent use.
func (c *Conn) Send(msg *security.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.Close()
		return fmt.Errorf("write to %s: %w", c.remote, err)
	}
	return nil
}

// Close closes the connection. Only the first call has an effect.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}
