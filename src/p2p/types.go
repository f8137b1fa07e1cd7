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

// go/src/p2p/types.go
package p2p

import (
	"sync"
	"time"

	"github.com/lni/goutils/syncutil"
	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/network"
	"github.com/lyra-core/go/src/security"
	"github.com/lyra-core/go/src/transport"
	"go.uber.org/zap"
)

// Score adjustments applied to the sending address.
const (
	rewardAccepted  = 1
	penaltyRejected = -10
)

// MessageHandler receives envelopes read from peers. consensus.Engine
// implements it.
type MessageHandler interface {
	HandleMessage(msg *security.Message) consensus.RelayVerdict
}

// Config configures a Server.
type Config struct {
	ListenAddress string        // Bind address of the websocket endpoint
	PublicAddress string        // Address announced to peers; defaults to ListenAddress
	Seeds         []string      // Seed addresses dialed on start
	BanDuration   time.Duration // Ban applied when a peer's score reaches zero
	DialInterval  time.Duration // Period of the connection maintenance loop
	DialTimeout   time.Duration
	PeerTimeout   time.Duration // Silent peers are disconnected after this long
}

// Server keeps websocket connections to the other validators and floods
// accepted envelopes to them.
type Server struct {
	cfg     Config
	book    *network.NodeManager
	ws      *transport.WebSocketServer
	stopper *syncutil.Stopper
	log     *zap.SugaredLogger

	handlerMu sync.RWMutex
	handler   MessageHandler

	mu      sync.RWMutex
	conns   map[*transport.Conn]struct{}
	dialing map[string]bool
	kick    chan struct{}
	started bool
	stopped bool
}

// NodeManager returns the server's address book.
func (s *Server) NodeManager() *network.NodeManager {
	return s.book
}

// Peer is an alias for network.Peer.
type Peer = network.Peer
