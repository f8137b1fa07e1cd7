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

// go/src/consensus/viewchange.go
package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/lyra-core/go/src/security"
	"go.uber.org/zap"
)

// viewChangeEnv is what the handler needs from its node.
type viewChangeEnv interface {
	AccountID() string
	Sign(data []byte) string
	// LastHashes returns the last service block hash and height and the last consolidation hash.
	LastHashes() (serviceHash string, serviceHeight int64, consolidationHash string)
	// VoterSnapshot refreshes stakes and returns the voters of a new round.
	VoterSnapshot() []string
	// CanJoin reports whether a peer request may pull this node into a round.
	CanJoin() bool
	Send(t security.MessageType, payload interface{})
	LeaderSelected(viewID int64, leader string, votes int)
	Phase(phase string)
}

// ViewChangeHandler runs the request, reply and commit phases of leader
// election. Outbound messages and callbacks are collected under the lock
// and executed after it is released.
type ViewChangeHandler struct {
	mu  sync.Mutex
	env viewChangeEnv
	log *zap.SugaredLogger

	timeout time.Duration
	now     func() time.Time

	viewID   int64
	started  time.Time // zero while idle
	voters   map[string]struct{}
	quorum   int
	reqHash  string // "serviceHash|consolidationHash" signed by requests
	requests map[string]string // sender -> request signature
	replies  map[string]string // sender -> candidate
	commits  map[string]string // sender -> candidate

	requestSent    bool
	myReply        string
	commitSent     bool
	leaderSelected bool
}

// NewViewChangeHandler creates an idle handler.
func NewViewChangeHandler(env viewChangeEnv, timeout time.Duration, log *zap.SugaredLogger) *ViewChangeHandler {
	vc := &ViewChangeHandler{env: env, log: log, timeout: timeout, now: time.Now}
	vc.resetLocked()
	return vc
}

func (vc *ViewChangeHandler) resetLocked() {
	vc.viewID = 0
	vc.started = time.Time{}
	vc.voters = nil
	vc.quorum = 0
	vc.reqHash = ""
	vc.requests = make(map[string]string)
	vc.replies = make(map[string]string)
	vc.commits = make(map[string]string)
	vc.requestSent = false
	vc.myReply = ""
	vc.commitSent = false
	vc.leaderSelected = false
}

// Reset discards the current round.
func (vc *ViewChangeHandler) Reset() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.resetLocked()
}

// ShiftView ends the round after a service block was finalized.
func (vc *ViewChangeHandler) ShiftView() {
	vc.Reset()
}

// IsViewChanging reports whether a round is open and has not elected a leader.
func (vc *ViewChangeHandler) IsViewChanging() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return !vc.started.IsZero() && !vc.leaderSelected
}

// ViewID returns the target view of the open round, 0 while idle.
func (vc *ViewChangeHandler) ViewID() int64 {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.viewID
}

// CheckTimeout resets a round older than the view change timeout.
func (vc *ViewChangeHandler) CheckTimeout() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.started.IsZero() || vc.now().Sub(vc.started) <= vc.timeout {
		return false
	}
	vc.log.Infow("view change round timed out", "view", vc.viewID, "requests", len(vc.requests))
	vc.resetLocked()
	return true
}

// openLocked starts a round for viewID when idle.
func (vc *ViewChangeHandler) openLocked(viewID int64, reqHash string) {
	if !vc.started.IsZero() {
		return
	}
	vc.viewID = viewID
	vc.reqHash = reqHash
	vc.started = vc.now()
	snapshot := vc.env.VoterSnapshot()
	vc.voters = make(map[string]struct{}, len(snapshot))
	for _, id := range snapshot {
		vc.voters[id] = struct{}{}
	}
	vc.quorum = Quorum(len(snapshot))
	vc.log.Infow("view change round opened", "view", viewID, "voters", len(snapshot), "quorum", vc.quorum)
}

func (vc *ViewChangeHandler) expected() (int64, string) {
	sbHash, sbHeight, consHash := vc.env.LastHashes()
	return sbHeight + 1, sbHash + "|" + consHash
}

// BeginChangeView broadcasts this node's request for the next view.
func (vc *ViewChangeHandler) BeginChangeView() {
	viewID, reqHash := vc.expected()
	var actions []func()
	vc.mu.Lock()
	if !vc.started.IsZero() && (vc.viewID != viewID || vc.requestSent) {
		vc.mu.Unlock()
		return
	}
	vc.openLocked(viewID, reqHash)
	actions = vc.requestLocked(actions)
	vc.mu.Unlock()
	run(actions)
}

func (vc *ViewChangeHandler) requestLocked(actions []func()) []func() {
	self := vc.env.AccountID()
	sig := vc.env.Sign([]byte(vc.reqHash))
	vc.requestSent = true
	if _, ok := vc.voters[self]; ok {
		vc.requests[self] = sig
	}
	req := ViewChangeRequest{ViewID: vc.viewID, RequestSignature: sig}
	actions = append(actions, func() {
		vc.env.Phase("request")
		vc.env.Send(security.MsgViewChangeRequest, req)
	})
	return vc.checkRequestsLocked(actions)
}

// Process handles one view change message from an active peer.
func (vc *ViewChangeHandler) Process(msg *security.Message) {
	var (
		req       ViewChangeRequest
		candidate string
		msgView   int64
	)
	switch msg.Type {
	case security.MsgViewChangeRequest:
		if msg.Decode(&req) != nil {
			return
		}
		msgView = req.ViewID
	case security.MsgViewChangeReply:
		var reply ViewChangeReply
		if msg.Decode(&reply) != nil {
			return
		}
		msgView, candidate = reply.ViewID, reply.Candidate
	case security.MsgViewChangeCommit:
		var cmt ViewChangeCommit
		if msg.Decode(&cmt) != nil {
			return
		}
		msgView, candidate = cmt.ViewID, cmt.Candidate
	default:
		return
	}
	viewID, reqHash := vc.expected()
	if msgView != viewID {
		vc.log.Debugw("view change for another view", "from", msg.From, "view", msgView, "expected", viewID)
		return
	}

	var actions []func()
	vc.mu.Lock()
	vc.openLocked(viewID, reqHash)
	if vc.viewID != viewID || vc.leaderSelected {
		vc.mu.Unlock()
		return
	}
	if _, legal := vc.voters[msg.From]; !legal {
		vc.mu.Unlock()
		vc.log.Debugw("view change from non voter dropped", "from", msg.From)
		return
	}
	switch msg.Type {
	case security.MsgViewChangeRequest:
		actions = vc.onRequestLocked(msg.From, req, actions)
	case security.MsgViewChangeReply:
		actions = vc.onReplyLocked(msg.From, candidate, actions)
	case security.MsgViewChangeCommit:
		actions = vc.onCommitLocked(msg.From, candidate, actions)
	}
	vc.mu.Unlock()
	run(actions)
}

func (vc *ViewChangeHandler) onRequestLocked(from string, req ViewChangeRequest, actions []func()) []func() {
	if _, dup := vc.requests[from]; dup {
		return actions
	}
	if !security.VerifyAccountSignature([]byte(vc.reqHash), from, req.RequestSignature) {
		vc.log.Debugw("view change request over other hashes", "from", from)
		return actions
	}
	vc.requests[from] = req.RequestSignature
	if !vc.requestSent && vc.env.CanJoin() {
		actions = vc.requestLocked(actions)
	}
	return vc.checkRequestsLocked(actions)
}

// checkRequestsLocked nominates the sender of the lowest request signature
// once a quorum of requests is in.
func (vc *ViewChangeHandler) checkRequestsLocked(actions []func()) []func() {
	if vc.myReply != "" || len(vc.requests) < vc.quorum {
		return actions
	}
	candidate, lowest := "", ""
	for from, sig := range vc.requests {
		if candidate == "" || sig < lowest {
			candidate, lowest = from, sig
		}
	}
	return vc.replyLocked(candidate, actions)
}

func (vc *ViewChangeHandler) replyLocked(candidate string, actions []func()) []func() {
	vc.myReply = candidate
	if _, ok := vc.voters[vc.env.AccountID()]; ok {
		vc.replies[vc.env.AccountID()] = candidate
	}
	reply := ViewChangeReply{ViewID: vc.viewID, Candidate: candidate}
	actions = append(actions, func() {
		vc.env.Phase("reply")
		vc.env.Send(security.MsgViewChangeReply, reply)
	})
	return vc.checkRepliesLocked(actions)
}

func (vc *ViewChangeHandler) onReplyLocked(from, candidate string, actions []func()) []func() {
	if candidate == "" || vc.replies[from] == candidate {
		return actions
	}
	vc.replies[from] = candidate
	if vc.myReply != "" {
		tally := countVotes(vc.replies)
		if best, n := topCandidate(tally); best != vc.myReply && n > tally[vc.myReply] {
			vc.log.Infow("switching view change nomination", "view", vc.viewID, "from", vc.myReply, "to", best)
			return vc.replyLocked(best, actions)
		}
	}
	return vc.checkRepliesLocked(actions)
}

func (vc *ViewChangeHandler) checkRepliesLocked(actions []func()) []func() {
	if vc.commitSent {
		return actions
	}
	best, n := topCandidate(countVotes(vc.replies))
	if n < vc.quorum {
		return actions
	}
	vc.commitSent = true
	if _, ok := vc.voters[vc.env.AccountID()]; ok {
		vc.commits[vc.env.AccountID()] = best
	}
	cmt := ViewChangeCommit{ViewID: vc.viewID, Candidate: best}
	actions = append(actions, func() {
		vc.env.Phase("commit")
		vc.env.Send(security.MsgViewChangeCommit, cmt)
	})
	return vc.checkCommitsLocked(actions)
}

func (vc *ViewChangeHandler) onCommitLocked(from, candidate string, actions []func()) []func() {
	if _, dup := vc.commits[from]; dup || candidate == "" {
		return actions
	}
	vc.commits[from] = candidate
	return vc.checkCommitsLocked(actions)
}

func (vc *ViewChangeHandler) checkCommitsLocked(actions []func()) []func() {
	if vc.leaderSelected {
		return actions
	}
	best, n := topCandidate(countVotes(vc.commits))
	if n < vc.quorum {
		return actions
	}
	vc.leaderSelected = true
	viewID := vc.viewID
	vc.log.Infow("leader elected", "view", viewID, "leader", best, "votes", n)
	return append(actions, func() {
		vc.env.Phase("elected")
		vc.env.LeaderSelected(viewID, best, n)
	})
}

func countVotes(votes map[string]string) map[string]int {
	tally := make(map[string]int, len(votes))
	for _, c := range votes {
		tally[c]++
	}
	return tally
}

// topCandidate returns the candidate with most votes, ties to the lowest id.
func topCandidate(tally map[string]int) (string, int) {
	ids := make([]string, 0, len(tally))
	for id := range tally {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	best, n := "", 0
	for _, id := range ids {
		if tally[id] > n {
			best, n = id, tally[id]
		}
	}
	return best, n
}

func run(actions []func()) {
	for _, a := range actions {
		a()
	}
}
