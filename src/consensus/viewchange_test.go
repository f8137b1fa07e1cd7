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

// go/src/consensus/viewchange_test.go
package consensus

import (
	"testing"
	"time"

	"github.com/lyra-core/go/src/security"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type queued struct {
	to  *vcNode
	msg *security.Message
}

// vcHub delivers view change messages in FIFO order on the calling goroutine.
type vcHub struct {
	nodes   []*vcNode
	voters  []string
	queue   []queued
	pumping bool
	sbHash  string
}

type vcNode struct {
	hub     *vcHub
	id      *security.Identity
	h       *ViewChangeHandler
	down    bool
	canJoin bool
	elected string
	votes   int
	phases  []string
}

func (n *vcNode) AccountID() string       { return n.id.AccountID() }
func (n *vcNode) Sign(data []byte) string { return n.id.Sign(data) }
func (n *vcNode) LastHashes() (string, int64, string) {
	return n.hub.sbHash, 5, "cons-hash"
}
func (n *vcNode) VoterSnapshot() []string { return append([]string(nil), n.hub.voters...) }
func (n *vcNode) CanJoin() bool           { return n.canJoin }
func (n *vcNode) Phase(p string)          { n.phases = append(n.phases, p) }
func (n *vcNode) LeaderSelected(_ int64, leader string, votes int) {
	n.elected, n.votes = leader, votes
}

func (n *vcNode) Send(t security.MessageType, payload interface{}) {
	msg, err := security.NewMessage(t, "", 4, payload)
	if err != nil {
		panic(err)
	}
	msg.Sign(n.id)
	for _, other := range n.hub.nodes {
		if other != n && !other.down {
			n.hub.queue = append(n.hub.queue, queued{to: other, msg: msg})
		}
	}
	n.hub.pump()
}

func (h *vcHub) pump() {
	if h.pumping {
		return
	}
	h.pumping = true
	defer func() { h.pumping = false }()
	for len(h.queue) > 0 {
		q := h.queue[0]
		h.queue = h.queue[1:]
		q.to.h.Process(q.msg)
	}
}

func newVCHub(t *testing.T, n int) *vcHub {
	hub := &vcHub{sbHash: "sb-hash"}
	for i := 0; i < n; i++ {
		id, err := security.GenerateIdentity()
		require.NoError(t, err)
		node := &vcNode{hub: hub, id: id, canJoin: true}
		node.h = NewViewChangeHandler(node, 10*time.Second, zap.NewNop().Sugar())
		hub.nodes = append(hub.nodes, node)
		hub.voters = append(hub.voters, id.AccountID())
	}
	return hub
}

func TestViewChangeConvergesWithFourVoters(t *testing.T) {
	hub := newVCHub(t, 4)
	hub.nodes[0].h.BeginChangeView()

	leader := hub.nodes[0].elected
	require.NotEmpty(t, leader)
	for _, n := range hub.nodes {
		require.Equal(t, leader, n.elected)
		require.GreaterOrEqual(t, n.votes, 3)
		require.False(t, n.h.IsViewChanging())
		require.EqualValues(t, 6, n.h.ViewID())
	}
	require.Contains(t, hub.voters, leader)
}

func TestViewChangeWithoutLeader(t *testing.T) {
	hub := newVCHub(t, 4)
	hub.nodes[0].down = true
	hub.voters = hub.voters[1:]

	hub.nodes[1].h.BeginChangeView()
	leader := hub.nodes[1].elected
	require.NotEmpty(t, leader)
	require.NotEqual(t, hub.nodes[0].AccountID(), leader)
	for _, n := range hub.nodes[1:] {
		require.Equal(t, leader, n.elected)
		require.Equal(t, 3, n.votes)
	}
	require.Empty(t, hub.nodes[0].elected)
}

func TestViewChangeNeedsQuorum(t *testing.T) {
	hub := newVCHub(t, 4)
	hub.nodes[2].down = true
	hub.nodes[3].down = true
	hub.nodes[0].h.BeginChangeView()
	require.True(t, hub.nodes[0].h.IsViewChanging())
	require.Empty(t, hub.nodes[0].elected)
	require.Empty(t, hub.nodes[1].elected)

	h := hub.nodes[0].h
	h.now = func() time.Time { return time.Now().Add(11 * time.Second) }
	require.True(t, h.CheckTimeout())
	require.False(t, h.IsViewChanging())
	require.Zero(t, h.ViewID())
}

func TestViewChangeRejectsIllegalSenders(t *testing.T) {
	hub := newVCHub(t, 4)
	node := hub.nodes[0]
	node.canJoin = false

	stranger, err := security.GenerateIdentity()
	require.NoError(t, err)
	msg, err := security.NewMessage(security.MsgViewChangeRequest, "", 4,
		ViewChangeRequest{ViewID: 6, RequestSignature: stranger.Sign([]byte("sb-hash|cons-hash"))})
	require.NoError(t, err)
	msg.Sign(stranger)
	node.h.Process(msg)

	node.h.mu.Lock()
	require.Empty(t, node.h.requests)
	node.h.mu.Unlock()

	wrongView, err := security.NewMessage(security.MsgViewChangeRequest, "", 4,
		ViewChangeRequest{ViewID: 9, RequestSignature: hub.nodes[1].Sign([]byte("sb-hash|cons-hash"))})
	require.NoError(t, err)
	wrongView.Sign(hub.nodes[1].id)
	node.h.Process(wrongView)
	node.h.mu.Lock()
	require.Empty(t, node.h.requests)
	node.h.mu.Unlock()

	ok, err := security.NewMessage(security.MsgViewChangeRequest, "", 4,
		ViewChangeRequest{ViewID: 6, RequestSignature: hub.nodes[1].Sign([]byte("sb-hash|cons-hash"))})
	require.NoError(t, err)
	ok.Sign(hub.nodes[1].id)
	node.h.Process(ok)
	node.h.Process(ok)
	node.h.mu.Lock()
	require.Len(t, node.h.requests, 1)
	require.False(t, node.h.requestSent, "nodes that cannot join only listen")
	node.h.mu.Unlock()
}

func TestTopCandidate(t *testing.T) {
	best, n := topCandidate(map[string]int{"Lb": 2, "La": 2, "Lc": 1})
	require.Equal(t, "La", best)
	require.Equal(t, 2, n)
}

func replyFrom(t *testing.T, from *vcNode, candidate string) *security.Message {
	t.Helper()
	msg, err := security.NewMessage(security.MsgViewChangeReply, "", 4, ViewChangeReply{ViewID: 6, Candidate: candidate})
	require.NoError(t, err)
	msg.Sign(from.id)
	return msg
}

func TestViewChangeReplySwitch(t *testing.T) {
	const (
		a = iota
		b
		c
	)
	cases := []struct {
		name    string
		replies []int // candidate of the replies from voters 1, 2, 3 in order
		want    int
		sent    int
	}{
		{name: "single rival ties", replies: []int{b}, want: a, sent: 0},
		{name: "rival gains a strict lead", replies: []int{b, b}, want: b, sent: 1},
		{name: "split rivals", replies: []int{b, c}, want: a, sent: 0},
		{name: "tie after support", replies: []int{a, b, b}, want: a, sent: 0},
		{name: "rival catches up", replies: []int{b, a, b}, want: a, sent: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hub := newVCHub(t, 7)
			node := hub.nodes[0]
			for _, other := range hub.nodes[1:] {
				other.down = true
			}
			candidates := []string{hub.voters[4], hub.voters[5], hub.voters[6]}

			node.h.mu.Lock()
			node.h.openLocked(6, "sb-hash|cons-hash")
			node.h.myReply = candidates[a]
			node.h.replies[node.AccountID()] = candidates[a]
			node.h.mu.Unlock()

			for i, r := range tc.replies {
				node.h.Process(replyFrom(t, hub.nodes[i+1], candidates[r]))
			}

			node.h.mu.Lock()
			defer node.h.mu.Unlock()
			require.Equal(t, candidates[tc.want], node.h.myReply)
			require.Equal(t, candidates[tc.want], node.h.replies[node.AccountID()])
			require.False(t, node.h.commitSent)
			sent := 0
			for _, p := range node.phases {
				if p == "reply" {
					sent++
				}
			}
			require.Equal(t, tc.sent, sent)
		})
	}
}
