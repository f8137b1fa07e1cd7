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

// go/src/p2p/p2p_test.go
package p2p

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/security"
	"github.com/lyra-core/go/src/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testVersion = 4

type recordingHandler struct {
	relay   *consensus.Relay
	verdict consensus.RelayVerdict // returned instead of the relay verdict when non-zero
	mu      sync.Mutex
	got     []*security.Message
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{relay: consensus.NewRelay(testVersion, time.Minute, time.Minute, time.Minute)}
}

func (h *recordingHandler) HandleMessage(msg *security.Message) consensus.RelayVerdict {
	if h.verdict != consensus.Accepted {
		return h.verdict
	}
	v := h.relay.Accept(msg, time.Now())
	if v == consensus.Accepted {
		h.mu.Lock()
		h.got = append(h.got, msg)
		h.mu.Unlock()
	}
	return v
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

type testPeer struct {
	srv     *Server
	handler *recordingHandler
	addr    string
}

func startPeer(t *testing.T, seeds ...string) *testPeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	srv, err := NewServer(Config{
		ListenAddress: addr,
		Seeds:         seeds,
		DialInterval:  50 * time.Millisecond,
		DialTimeout:   time.Second,
		BanDuration:   time.Hour,
	})
	require.NoError(t, err)
	h := newRecordingHandler()
	srv.SetHandler(h)
	require.NoError(t, srv.Serve(ln))
	return &testPeer{srv: srv, handler: h, addr: addr}
}

func signedMessage(t *testing.T, id *security.Identity, n int) *security.Message {
	t.Helper()
	msg, err := security.NewMessage(security.MsgHeartbeat, id.AccountID(), testVersion, map[string]int{"n": n})
	require.NoError(t, err)
	msg.Sign(id)
	return msg
}

func connected(p *testPeer, addr string) bool {
	for _, a := range p.srv.NodeManager().GetPeers() {
		if a == addr {
			return true
		}
	}
	return false
}

func TestGossipFloodsAcrossHops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := startPeer(t)
	a := startPeer(t, b.addr)
	c := startPeer(t, b.addr)
	defer func() {
		a.srv.Stop()
		b.srv.Stop()
		c.srv.Stop()
	}()

	require.Eventually(t, func() bool {
		return connected(b, a.addr) && connected(b, c.addr) && connected(a, b.addr) && connected(c, b.addr)
	}, 5*time.Second, 20*time.Millisecond)

	id, err := security.GenerateIdentity()
	require.NoError(t, err)
	msg := signedMessage(t, id, 1)
	a.handler.relay.Remember(msg, time.Now())
	require.NoError(t, a.srv.Broadcast(msg))

	require.Eventually(t, func() bool { return c.handler.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, b.handler.count())
	// echoes of the message are dropped by the relay
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, a.handler.count())
	require.Equal(t, 1, c.handler.count())

	node, ok := b.srv.NodeManager().GetNode(a.addr)
	require.True(t, ok)
	require.Greater(t, node.Score, 50)
}

func TestRejectedMessagesBanSender(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := startPeer(t)
	b.handler.verdict = consensus.BadSignature
	a := startPeer(t, b.addr)
	defer func() {
		a.srv.Stop()
		b.srv.Stop()
	}()

	require.Eventually(t, func() bool { return connected(b, a.addr) && connected(a, b.addr) }, 5*time.Second, 20*time.Millisecond)

	id, err := security.GenerateIdentity()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.srv.Broadcast(signedMessage(t, id, i)))
	}

	require.Eventually(t, func() bool { return b.srv.NodeManager().IsBanned(a.addr) }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return !connected(b, a.addr) }, 5*time.Second, 20*time.Millisecond)

	// redials are refused while the ban lasts
	time.Sleep(200 * time.Millisecond)
	require.False(t, connected(b, a.addr))
}

func TestAnnouncedAddressIsDialed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := startPeer(t)
	b := startPeer(t)
	defer func() {
		a.srv.Stop()
		b.srv.Stop()
	}()

	a.srv.OnNodeAddress("account-b", b.addr)
	a.srv.OnNodeAddress("account-a", a.addr)

	require.Eventually(t, func() bool { return connected(a, b.addr) && connected(b, a.addr) }, 5*time.Second, 20*time.Millisecond)
	addr, ok := a.srv.NodeManager().AddressOf("account-b")
	require.True(t, ok)
	require.Equal(t, b.addr, addr)
	_, ok = a.srv.NodeManager().AddressOf("account-a")
	require.False(t, ok)
	require.Equal(t, 1, a.srv.ConnectionCount())
}

func TestStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := startPeer(t)
	a.srv.Stop()
	a.srv.Stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.ErrorIs(t, a.srv.Serve(ln), ErrStopped)

	_, err = NewServer(Config{ListenAddress: "127.0.0.1:0", Seeds: []string{"bogus"}})
	require.Error(t, err)
}

func TestBroadcastReportsFailedSend(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := startPeer(t)
	b := startPeer(t)
	defer func() {
		a.srv.Stop()
		b.srv.Stop()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := transport.Dial(ctx, a.addr, b.addr)
	require.NoError(t, err)
	require.True(t, b.srv.register(c))

	id, err := security.GenerateIdentity()
	require.NoError(t, err)
	require.NoError(t, b.srv.Broadcast(signedMessage(t, id, 1)))
	require.Eventually(t, func() bool { return a.handler.count() == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, c.Close())
	err = b.srv.Broadcast(signedMessage(t, id, 2))
	require.ErrorIs(t, err, transport.ErrClosed)
	require.Contains(t, err.Error(), a.addr)
}
