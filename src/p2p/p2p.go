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

// go/src/p2p/p2p.go
package p2p

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/lni/goutils/syncutil"
	"github.com/lyra-core/go/src/common"
	logger "github.com/lyra-core/go/src/log"
	"github.com/lyra-core/go/src/network"
	"github.com/lyra-core/go/src/transport"
)

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("p2p server stopped")

// NewServer creates a server. Seeds are normalized and added to the
// address book; the own public address is skipped.
func NewServer(cfg Config) (*Server, error) {
	if cfg.PublicAddress == "" {
		cfg.PublicAddress = cfg.ListenAddress
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = time.Hour
	}
	if cfg.DialInterval <= 0 {
		cfg.DialInterval = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = time.Minute
	}
	seeds, err := transport.NormalizeAddresses(cfg.Seeds)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		book:    network.NewNodeManager(cfg.BanDuration),
		stopper: syncutil.NewStopper(),
		log:     logger.Named("p2p").With("address", cfg.PublicAddress),
		conns:   make(map[*transport.Conn]struct{}),
		dialing: make(map[string]bool),
		kick:    make(chan struct{}, 1),
	}
	for _, addr := range seeds {
		if addr != cfg.PublicAddress {
			s.book.AddNode(addr, true)
		}
	}
	s.ws = transport.NewWebSocketServer(cfg.ListenAddress, s.onMessage, transport.Hooks{
		OnConnect: func(c *transport.Conn) { s.register(c) },
		OnClose:   s.unregister,
	})
	return s, nil
}

// SetHandler installs the receiver of inbound envelopes. It must be called
// before Start.
func (s *Server) SetHandler(h MessageHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = h
}

// Start binds the listen address and starts the maintenance loop.
func (s *Server) Start() error {
	ln, err := s.ws.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve starts the server on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		ln.Close()
		return errors.New("p2p server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.stopper.RunWorker(func() {
		if err := s.ws.Serve(ln); err != nil {
			s.log.Errorw("websocket server failed", "err", err)
		}
	})
	s.stopper.RunWorker(s.maintain)
	return nil
}

// Stop closes every connection and waits for the workers to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	outbound := make([]*transport.Conn, 0, len(s.conns))
	for c := range s.conns {
		if !c.Inbound() {
			outbound = append(outbound, c)
		}
	}
	s.mu.Unlock()

	if started {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.ws.Shutdown(ctx); err != nil {
			s.log.Warnw("websocket shutdown", "err", err)
		}
		cancel()
	}
	for _, c := range outbound {
		c.Close()
	}
	s.stopper.Stop()
	s.log.Info("p2p server stopped")
}

// Address returns the announced address.
func (s *Server) Address() string { return s.cfg.PublicAddress }

// OnNodeAddress records an address announced by a validator and triggers
// a dial when it is new.
func (s *Server) OnNodeAddress(accountID, address string) {
	addr, err := transport.NormalizeAddress(address)
	if err != nil || addr == s.cfg.PublicAddress {
		return
	}
	if s.book.UpsertAccount(accountID, addr) {
		s.log.Debugw("learned validator address", "account", common.Shorten(accountID), "peer", addr)
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Peers returns the address book snapshot.
func (s *Server) Peers() []network.PeerInfo {
	return s.book.Snapshot()
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// maintain dials dialable addresses and prunes silent peers.
func (s *Server) maintain() {
	ticker := time.NewTicker(s.cfg.DialInterval)
	defer ticker.Stop()
	for {
		s.dialAll()
		for _, addr := range s.book.PruneInactivePeers(s.cfg.PeerTimeout) {
			s.log.Infow("disconnecting silent peer", "peer", addr)
			s.closeAddress(addr)
		}
		select {
		case <-s.stopper.ShouldStop():
			return
		case <-ticker.C:
		case <-s.kick:
		}
	}
}

func (s *Server) dialAll() {
	for _, addr := range s.book.Dialable() {
		if addr == s.cfg.PublicAddress {
			continue
		}
		s.mu.Lock()
		if s.stopped || s.dialing[addr] {
			s.mu.Unlock()
			continue
		}
		s.dialing[addr] = true
		s.mu.Unlock()

		addr := addr
		s.stopper.RunWorker(func() { s.dial(addr) })
	}
}

// dial connects to addr and runs the read loop until the connection ends.
func (s *Server) dial(addr string) {
	defer func() {
		s.mu.Lock()
		delete(s.dialing, addr)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	go func() {
		select {
		case <-s.stopper.ShouldStop():
			cancel()
		case <-ctx.Done():
		}
	}()
	c, err := transport.Dial(ctx, addr, s.cfg.PublicAddress)
	cancel()
	if err != nil {
		s.log.Debugw("dial failed", "peer", addr, "err", err)
		return
	}
	if !s.register(c) {
		return
	}
	c.Serve(s.onMessage)
	s.unregister(c)
}
