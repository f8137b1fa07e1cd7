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

// go/src/p2p/peer.go
package p2p

import (
	"fmt"

	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/security"
	"github.com/lyra-core/go/src/transport"
	"golang.org/x/sync/errgroup"
)

// register records an open connection. Connections from banned addresses
// and connections opened during shutdown are closed.
func (s *Server) register(c *transport.Conn) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		c.Close()
		return false
	}
	if err := s.book.AddPeer(c.Remote(), c.Inbound()); err != nil {
		s.mu.Unlock()
		s.log.Debugw("refusing peer", "peer", c.Remote(), "err", err)
		c.Close()
		return false
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.log.Infow("peer connected", "peer", c.Remote(), "inbound", c.Inbound())
	return true
}

// unregister forgets a closed connection. The address stays connected in
// the book while another connection to it is open.
func (s *Server) unregister(c *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; !ok {
		return
	}
	delete(s.conns, c)
	for other := range s.conns {
		if other.Remote() == c.Remote() {
			return
		}
	}
	s.book.RemovePeer(c.Remote())
	s.log.Infow("peer disconnected", "peer", c.Remote())
}

func (s *Server) closeAddress(addr string) {
	s.mu.RLock()
	var matches []*transport.Conn
	for c := range s.conns {
		if c.Remote() == addr {
			matches = append(matches, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range matches {
		c.Close()
	}
}

// onMessage hands an envelope to the engine, floods it on when accepted
// and scores the sending address.
func (s *Server) onMessage(from *transport.Conn, msg *security.Message) {
	s.book.Touch(from.Remote())

	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()
	if h == nil {
		return
	}

	verdict := h.HandleMessage(msg)
	switch {
	case verdict == consensus.Accepted:
		s.book.UpdateScore(from.Remote(), rewardAccepted)
		s.propagate(msg, from)
	case verdict.Penalize():
		score, banned := s.book.UpdateScore(from.Remote(), penaltyRejected)
		s.log.Debugw("rejected message", "peer", from.Remote(), "verdict", verdict.String(), "score", score)
		if banned {
			s.closeAddress(from.Remote())
		}
	}
}

// Broadcast sends msg to every connected peer.
func (s *Server) Broadcast(msg *security.Message) error {
	return s.propagate(msg, nil)
}

// propagate sends msg to every connection except origin and returns the
// first send failure. Failed connections are closed by the transport.
func (s *Server) propagate(msg *security.Message, origin *transport.Conn) error {
	s.mu.RLock()
	targets := make([]*transport.Conn, 0, len(s.conns))
	for c := range s.conns {
		if c != origin {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	var g errgroup.Group
	for _, c := range targets {
		c := c
		g.Go(func() error {
			if err := c.Send(msg); err != nil {
				return fmt.Errorf("send to %s: %w", c.Remote(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
