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

// go/src/transport/types.go
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lyra-core/go/src/security"
	"go.uber.org/zap"
)

// Framing limits
const (
	wsPath           = "/ws"
	headerAddress    = "X-Lyra-Address" // Listening address of the dialing node
	defaultReadLimit = 4 << 20          // Largest accepted frame, a full BlockBatch fits
	writeWait        = 5 * time.Second
	handshakeTimeout = 5 * time.Second
)

// Handler receives every decoded envelope of a connection, on the
// connection's read goroutine.
type Handler func(c *Conn, msg *security.Message)

// Hooks observe the connection lifecycle of a server.
type Hooks struct {
	OnConnect func(c *Conn)
	OnClose   func(c *Conn)
}

// Conn is one websocket connection carrying signed envelopes.
type Conn struct {
	ws        *websocket.Conn
	remote    string // peer listening address when announced, otherwise the socket address
	inbound   bool
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// WebSocketServer accepts peer connections on /ws.
type WebSocketServer struct {
	address    string
	upgrader   websocket.Upgrader
	handler    Handler
	hooks      Hooks
	httpServer *http.Server
	log        *zap.SugaredLogger

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}
