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

// go/src/consensus/consolidation.go
package consensus

import (
	"errors"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/params"
)

// genesis runs on seed0 once the primary authorizers are in Genesis. It
// creates the first service block and the first consolidation block.
// Other nodes wait for the consolidation block to finalize.
func (e *Engine) genesis() {
	me := e.id.AccountID()
	if me != e.opts.Network.Seed0() {
		return
	}
	for e.State() == StateGenesis {
		e.board.Observe(me, e.authorizerSignature(), StateGenesis, e.opts.Address)
		if n := e.board.CountPrimariesIn(StateGenesis); n < e.opts.GenesisQuorum {
			e.log.Infow("waiting for primary authorizers to enter genesis", "ready", n, "need", e.opts.GenesisQuorum)
		} else if e.createGenesis() {
			return
		}
		if !e.sleep(e.opts.GenesisPoll) {
			return
		}
	}
}

// createGenesis returns true once the genesis consolidation block is final.
func (e *Engine) createGenesis() bool {
	if _, err := e.ledger.FindLastConsolidationBlock(); err == nil {
		e.fire(TriggerGenesisDone, 0)
		return true
	}
	seeds := e.opts.Network.StandbyValidators
	svc, err := e.ledger.FindLastServiceBlock()
	if errors.Is(err, core.ErrNotFound) {
		stakes := make([]core.StakeRecord, 0, len(seeds))
		for _, s := range seeds {
			stakes = append(stakes, core.StakeRecord{Account: s, Amount: params.GenesisStake.Dec()})
		}
		svc = &core.Block{
			Type: core.TypeService,
			Service: &core.ServiceData{
				Leader:      e.id.AccountID(),
				Authorizers: append([]string(nil), seeds...),
				Voters:      append([]string(nil), seeds...),
				Stakes:      stakes,
			},
		}
		if err := svc.Initialize(nil, e.id); err != nil {
			e.log.Errorw("failed to build genesis service block", "err", err)
			return false
		}
		if !e.runToEnd(svc, seeds) {
			return false
		}
	} else if err != nil {
		e.log.Errorw("ledger read failed during genesis", "err", err)
		return false
	}

	if !e.sleep(e.opts.NewLeaderDelay) {
		return false
	}
	hashes := []string{svc.Hash}
	cons := &core.Block{
		Type:        core.TypeConsolidation,
		ServiceHash: svc.Hash,
		Consolidation: &core.ConsolidationData{
			BlockHashes:     hashes,
			MerkleRoot:      core.MerkleRoot(hashes),
			TotalBlockCount: 1,
			LastServiceHash: svc.Hash,
			TotalFees:       "0",
		},
	}
	if err := cons.Initialize(nil, e.id); err != nil {
		e.log.Errorw("failed to build genesis consolidation block", "err", err)
		return false
	}
	return e.runToEnd(cons, e.board.PrimaryAuthorizers())
}

// runToEnd runs a local session and waits for its result.
func (e *Engine) runToEnd(b *core.Block, view []string) bool {
	h, err := e.submitInternal(b, view)
	if err != nil {
		e.log.Warnw("genesis block not started", "block", b, "err", err)
		return false
	}
	res, err := h.Wait(e.ctx)
	if err != nil || res != ResultYea {
		e.log.Warnw("genesis block not finalized", "block", b, "result", res)
		return false
	}
	return true
}

// maybeConsolidate proposes a consolidation block when this node leads and
// enough blocks, or old enough blocks, are unconsolidated.
func (e *Engine) maybeConsolidate() {
	if e.board.Leader() != e.id.AccountID() {
		return
	}
	e.mu.Lock()
	for _, w := range e.workers {
		if st := w.state.Load(); st != nil && st.Block().Type == core.TypeConsolidation {
			e.mu.Unlock()
			return
		}
	}
	e.mu.Unlock()

	hashes, err := e.ledger.UnconsolidatedHashes()
	if err != nil || len(hashes) == 0 {
		return
	}
	lastCons, err := e.ledger.FindLastConsolidationBlock()
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return
	}
	due := len(hashes) >= e.opts.ConsolidationThreshold ||
		lastCons == nil || time.Since(millis(lastCons.Timestamp)) >= e.opts.ConsolidationInterval
	if !due {
		return
	}
	lastSb, err := e.ledger.FindLastServiceBlock()
	if err != nil {
		return
	}

	total := int64(len(hashes))
	if lastCons != nil {
		total += lastCons.Consolidation.TotalBlockCount
	}
	fees := uint256.NewInt(0)
	for _, h := range hashes {
		blk, err := e.ledger.FindBlockByHash(h)
		if err != nil {
			e.log.Warnw("unconsolidated block missing", "hash", h, "err", err)
			return
		}
		if blk.Transfer == nil || blk.Transfer.Fee == "" {
			continue
		}
		if fee, err := uint256.FromDecimal(blk.Transfer.Fee); err == nil {
			fees.Add(fees, fee)
		}
	}
	b := &core.Block{
		Type:        core.TypeConsolidation,
		ServiceHash: lastSb.Hash,
		Consolidation: &core.ConsolidationData{
			BlockHashes:     hashes,
			MerkleRoot:      core.MerkleRoot(hashes),
			TotalBlockCount: total,
			LastServiceHash: lastSb.Hash,
			TotalFees:       fees.Dec(),
		},
	}
	if err := b.Initialize(lastCons, e.id); err != nil {
		e.log.Errorw("failed to build consolidation block", "err", err)
		return
	}
	if _, err := e.submitInternal(b, e.board.PrimaryAuthorizers()); err != nil {
		e.log.Warnw("consolidation not started", "err", err)
		return
	}
	e.log.Infow("consolidating", "blocks", len(hashes), "height", b.Height)
}

// onConsolidationFinalized completes genesis, detects local divergence and
// starts a view change when the qualified authorizers moved.
func (e *Engine) onConsolidationFinalized(b *core.Block, st *AuthState) {
	if e.State() == StateGenesis {
		e.fire(TriggerGenesisDone, 0)
		return
	}
	if st.InView(e.id.AccountID()) {
		if code, ok := st.LocalResult(); ok && code != core.Success {
			e.log.Warnw("local node disagreed with a finalized consolidation", "block", b, "local", code)
			if e.State() == StateAlmighty {
				e.fire(TriggerLocalNodeOutOfSync, 0)
			}
			return
		}
	}
	lastSb, err := e.ledger.FindLastServiceBlock()
	if err != nil {
		return
	}
	primary, _ := e.updateVoters()
	if !sameSet(lastSb.Service.Authorizers, primary) && e.State() == StateAlmighty && !e.vc.IsViewChanging() {
		e.log.Infow("authorizer set changed, requesting view change",
			"current", len(lastSb.Service.Authorizers), "qualified", len(primary))
		e.vc.BeginChangeView()
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
