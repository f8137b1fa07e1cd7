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

// go/src/consensus/session.go
package consensus

import (
	"time"

	"github.com/lyra-core/go/src/common"
	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/security"
)

// viewFor returns the voters of a block. Service blocks are voted on by
// every qualified voter, everything else by the primary authorizers.
func (e *Engine) viewFor(b *core.Block) []string {
	if b.Type == core.TypeService {
		return e.board.AllVoters()
	}
	return e.board.PrimaryAuthorizers()
}

// Submit starts consensus on a block created by a client of this node.
func (e *Engine) Submit(b *core.Block) (*SessionHandle, error) {
	if e.stopped.Load() {
		return nil, ErrStopped
	}
	if e.State() != StateAlmighty {
		return nil, ErrNotReady
	}
	if e.vc.IsViewChanging() {
		return nil, ErrViewChanging
	}
	if b == nil || !b.VerifyHash() || !b.VerifySignature() {
		return nil, ErrInvalidBlock
	}
	return e.submitInternal(b, e.viewFor(b))
}

// submitInternal skips the state gate. Genesis and service blocks use it.
func (e *Engine) submitInternal(b *core.Block, view []string) (*SessionHandle, error) {
	return e.startSession(b, view, true)
}

// startSession opens the session of b or returns the running one.
func (e *Engine) startSession(b *core.Block, view []string, local bool) (*SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped.Load() {
		return nil, ErrStopped
	}
	if _, closed := e.recentlyClosed[b.Hash]; closed || e.ledger.HasBlock(b.Hash) {
		return nil, ErrAlreadyFinalized
	}
	w, ok := e.workers[b.Hash]
	if ok {
		if st := w.state.Load(); st != nil {
			return &SessionHandle{st: st}, nil
		}
	}
	if b.IsTransaction() {
		for _, other := range e.workers {
			st := other.state.Load()
			if st == nil {
				continue
			}
			ob := st.Block()
			if ob.IsTransaction() && ob.AccountID == b.AccountID && ob.Height == b.Height && ob.Hash != b.Hash {
				return nil, ErrDoubleSpend
			}
		}
	}
	if !ok {
		w = newWorker(e, b.Hash)
		e.workers[b.Hash] = w
		e.stopper.RunWorker(w.run)
	}
	st := NewAuthState(b, view, time.Now())
	w.attach(st, local)
	e.metrics.sessionsStarted.Inc()
	e.log.Debugw("session opened", "block", b, "voters", len(view), "local", local)
	return &SessionHandle{st: st}, nil
}

// getWorker returns the worker of hash, creating a state-less one for
// votes that overtake their candidate. Finalized hashes return nil.
func (e *Engine) getWorker(hash string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.workers[hash]; ok {
		return w
	}
	if e.stopped.Load() {
		return nil
	}
	if _, closed := e.recentlyClosed[hash]; closed || e.ledger.HasBlock(hash) {
		return nil
	}
	w := newWorker(e, hash)
	e.workers[hash] = w
	e.stopper.RunWorker(w.run)
	return w
}

func (e *Engine) onPrePrepare(msg *security.Message) {
	var pp PrePrepare
	if err := msg.Decode(&pp); err != nil || pp.Block == nil {
		return
	}
	b := pp.Block
	if !b.VerifyHash() || !b.VerifySignature() {
		e.log.Debugw("bad candidate block", "from", common.Shorten(msg.From))
		return
	}
	if _, err := e.startSession(b, e.viewFor(b), false); err != nil {
		e.log.Debugw("candidate not accepted", "block", b, "err", err)
	}
}

func (e *Engine) onVote(msg *security.Message) {
	var ref struct {
		BlockHash string `json:"block_hash"`
	}
	if err := msg.Decode(&ref); err != nil || ref.BlockHash == "" {
		return
	}
	if w := e.getWorker(ref.BlockHash); w != nil {
		w.post(msg)
	}
}

// closeSession ends a session with r. It returns false when the session
// already had a result.
func (e *Engine) closeSession(w *worker, r ConsensusResult) bool {
	finished := false
	if st := w.state.Load(); st != nil {
		finished = st.Finish(r)
	}
	e.mu.Lock()
	if e.workers[w.hash] == w {
		delete(e.workers, w.hash)
	}
	e.recentlyClosed[w.hash] = time.Now()
	e.mu.Unlock()
	w.stop()
	if finished {
		e.metrics.sessionsFinished.WithLabelValues(r.String()).Inc()
	}
	return finished
}

// finalize persists a block that reached a commit quorum.
func (e *Engine) finalize(w *worker, st *AuthState, b *core.Block) {
	missingPrev := b.PreviousHash != "" && !e.ledger.HasBlock(b.PreviousHash)
	stored, err := e.ledger.Persist(b)
	if err != nil {
		e.log.Errorw("failed to persist finalized block", "block", b, "err", err)
		e.closeSession(w, ResultUncertain)
		e.fire(TriggerLocalNodeOutOfSync, 0)
		return
	}
	e.closeSession(w, ResultYea)
	e.metrics.finalizeLatency.Observe(time.Since(st.Created()).Seconds())
	if !stored {
		return
	}
	e.log.Infow("block finalized", "block", b, "uindex", b.UIndex)
	if e.opts.OnBlockFinalized != nil {
		e.opts.OnBlockFinalized(b)
	}
	switch b.Type {
	case core.TypeService:
		e.onServiceBlock(b)
	case core.TypeConsolidation:
		e.onConsolidationFinalized(b, st)
	}
	if missingPrev && e.State() == StateAlmighty {
		e.log.Warnw("previous block is missing, resyncing", "block", b)
		e.fire(TriggerLocalNodeMissingBlock, e.ledger.TotalBlockCount())
	}
}
