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

// go/src/consensus/worker.go
package consensus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/lyra-core/go/src/common"
	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/security"
)

// workItem is either a peer envelope or a local step of the session.
type workItem struct {
	msg *security.Message
	fn  func()
}

// worker serializes everything that happens to one block hash. Votes
// can arrive before the candidate; they wait in pending until the
// session state is attached.
type worker struct {
	e       *Engine
	hash    string
	created time.Time

	mailbox chan workItem
	state   atomic.Pointer[AuthState]
	local   bool

	ready     chan struct{}
	readyOnce sync.Once
	quit      chan struct{}
	quitOnce  sync.Once

	pending *orderedmap.OrderedMap[string, *security.Message] // signature -> envelope, touched by run only
}

func newWorker(e *Engine, hash string) *worker {
	return &worker{
		e:       e,
		hash:    hash,
		created: time.Now(),
		mailbox: make(chan workItem, mailboxSize),
		ready:   make(chan struct{}),
		quit:    make(chan struct{}),
		pending: orderedmap.NewOrderedMap[string, *security.Message](),
	}
}

// attach sets the session state. Only the first call has an effect.
func (w *worker) attach(st *AuthState, local bool) bool {
	attached := false
	w.readyOnce.Do(func() {
		w.local = local
		w.state.Store(st)
		close(w.ready)
		attached = true
	})
	return attached
}

func (w *worker) stop() {
	w.quitOnce.Do(func() { close(w.quit) })
}

func (w *worker) run() {
	ready := w.ready
	for {
		select {
		case <-ready:
			ready = nil
			w.onCreated()
		case it := <-w.mailbox:
			switch {
			case it.fn != nil:
				it.fn()
			case ready != nil:
				w.queue(it.msg)
			default:
				w.handleMsg(it.msg)
			}
		case <-w.quit:
			return
		case <-w.e.stopper.ShouldStop():
			return
		}
	}
}

func (w *worker) queue(msg *security.Message) {
	if w.pending.Len() >= mailboxSize {
		return
	}
	w.pending.Set(msg.Signature, msg)
}

// post hands a peer envelope to the worker. It never blocks.
func (w *worker) post(msg *security.Message) {
	select {
	case w.mailbox <- workItem{msg: msg}:
	default:
		w.e.log.Warnw("session mailbox full", "block", common.Shorten(w.hash), "type", msg.Type)
	}
}

// postLocal runs fn on the worker goroutine unless the session ends first.
func (w *worker) postLocal(fn func()) {
	select {
	case w.mailbox <- workItem{fn: fn}:
	case <-w.quit:
	case <-w.e.stopper.ShouldStop():
	}
}

func (w *worker) onCreated() {
	st := w.state.Load()
	if w.local {
		w.e.send(security.MsgPrePrepare, PrePrepare{Block: st.Block()})
	}
	for el := w.pending.Front(); el != nil; el = el.Next() {
		w.handleMsg(el.Value)
	}
	w.pending = orderedmap.NewOrderedMap[string, *security.Message]()
	w.e.goSafe(func() { w.authorize(st) })
}

// authorize produces the local prepare for st.
func (w *worker) authorize(st *AuthState) {
	e := w.e
	me := e.id.AccountID()
	if !st.InView(me) {
		st.SetLocalResult(core.NotReadyForConsensus)
		return
	}
	p := &Prepare{BlockHash: st.Hash(), Result: core.NotReadyForConsensus}
	if s := e.State(); s == StateAlmighty || s == StateGenesis {
		ctx, cancel := context.WithTimeout(e.ctx, e.opts.ConsensusTimeout)
		code, sig, err := e.auth.Authorize(ctx, st.Block())
		cancel()
		if err != nil {
			e.log.Warnw("authorizer failed", "block", st.Block(), "err", err)
			code = core.UnknownError
		}
		p.Result = code
		if code == core.Success && sig != nil {
			p.AuthSign = sig
			p.ProposedUIndex = e.proposeUIndex()
		} else if code == core.Success {
			p.Result = core.UnknownError
		}
	}
	st.SetLocalResult(p.Result)
	if p.Result != core.Success {
		e.log.Debugw("local verdict", "block", st.Block(), "result", p.Result)
	}
	w.postLocal(func() {
		st.AddPrepare(me, p)
		e.send(security.MsgPrepare, p)
		w.checkPrepares(st)
	})
}

func (w *worker) handleMsg(msg *security.Message) {
	st := w.state.Load()
	switch msg.Type {
	case security.MsgPrepare:
		var p Prepare
		if err := msg.Decode(&p); err != nil {
			return
		}
		if st.AddPrepare(msg.From, &p) {
			w.checkPrepares(st)
		}
	case security.MsgCommit:
		var c Commit
		if err := msg.Decode(&c); err != nil {
			return
		}
		if st.AddCommit(msg.From, &c) {
			w.checkCommits(st)
		}
	}
}

func (w *worker) checkPrepares(st *AuthState) {
	c, ok := st.CheckPrepares()
	if !ok {
		return
	}
	e := w.e
	if c.Consensus != ResultYea {
		e.log.Infow("block rejected by quorum", "block", st.Block())
		e.closeSession(w, ResultNay)
		return
	}
	me := e.id.AccountID()
	if !st.InView(me) {
		return
	}
	st.AddCommit(me, c)
	e.send(security.MsgCommit, c)
	w.checkCommits(st)
}

func (w *worker) checkCommits(st *AuthState) {
	if b, ok := st.CheckCommits(); ok {
		w.e.finalize(w, st, b)
	}
}

// SessionHandle follows one block session.
type SessionHandle struct {
	st *AuthState
}

// Hash returns the block hash of the session.
func (h *SessionHandle) Hash() string { return h.st.Hash() }

// Done is closed when the session ends.
func (h *SessionHandle) Done() <-chan struct{} { return h.st.Done() }

// Result returns the session result, ResultPending while it runs.
func (h *SessionHandle) Result() ConsensusResult { return h.st.Result() }

// Wait blocks until the session ends or ctx is done.
func (h *SessionHandle) Wait(ctx context.Context) (ConsensusResult, error) {
	select {
	case <-h.st.Done():
		return h.st.Result(), nil
	case <-ctx.Done():
		return ResultPending, fmt.Errorf("waiting for block %s: %w", common.Shorten(h.st.Hash()), ctx.Err())
	}
}
