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

// go/src/consensus/lifecycle.go
package consensus

import (
	"fmt"
)

// transitions is the lifecycle table. Anything not listed is illegal.
var transitions = map[BlockChainState]map[Trigger]BlockChainState{
	StateNull: {
		TriggerLocalNodeStartup: StateInitializing,
	},
	StateInitializing: {
		TriggerDatabaseSync: StateStaticSync,
	},
	StateStaticSync: {
		TriggerQueryingConsensusNode:    StateStaticSync,
		TriggerConsensusBlockChainEmpty: StateGenesis,
		TriggerConsensusNodesInitSynced: StateEngaging,
	},
	StateGenesis: {
		TriggerGenesisDone: StateAlmighty,
	},
	StateEngaging: {
		TriggerLocalNodeFullySynced: StateAlmighty,
	},
	StateAlmighty: {
		TriggerLocalNodeOutOfSync:    StateStaticSync,
		TriggerLocalNodeMissingBlock: StateEngaging,
	},
}

// Transition returns the state reached from s on t.
func Transition(s BlockChainState, t Trigger) (BlockChainState, error) {
	if next, ok := transitions[s][t]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, t, s)
}

// State returns the current lifecycle state.
func (e *Engine) State() BlockChainState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// fire applies t and runs the entry action of the new state on its own
// goroutine. Illegal triggers are ignored.
func (e *Engine) fire(t Trigger, height int64) bool {
	e.stateMu.Lock()
	prev := e.state
	next, err := Transition(prev, t)
	if err != nil {
		e.stateMu.Unlock()
		e.log.Debugw("trigger ignored", "trigger", t, "state", prev)
		return false
	}
	e.state = next
	e.stateMu.Unlock()

	e.metrics.lifecycleState.Set(float64(next))
	e.log.Infow("lifecycle transition", "from", prev, "to", next, "trigger", t)
	e.goSafe(func() { e.onEnter(next, height) })
	return true
}

func (e *Engine) onEnter(s BlockChainState, height int64) {
	switch s {
	case StateInitializing:
		e.initialize()
	case StateStaticSync:
		e.staticSync()
	case StateGenesis:
		e.genesis()
	case StateEngaging:
		e.engage(height)
	case StateAlmighty:
		e.enterAlmighty()
	}
}

// initialize seeds the billboard from the last service block, or from the
// standby validators on an empty ledger.
func (e *Engine) initialize() {
	seeds := e.opts.Network.StandbyValidators
	if sb, err := e.ledger.FindLastServiceBlock(); err == nil {
		e.board.SetLeader(sb.Service.Leader)
		e.board.UpdatePrimary(sb.Service.Authorizers)
		e.board.SetAllVoters(sb.Service.Voters)
	} else {
		e.board.SetLeader(e.opts.Network.Seed0())
		e.board.UpdatePrimary(seeds)
		e.board.SetAllVoters(seeds)
	}
	e.fire(TriggerDatabaseSync, 0)
}

// staticSync compares the local ledger with the majority of primary
// authorizers and decides between genesis, catch-up and another poll.
func (e *Engine) staticSync() {
	statuses, ok := e.collectStatuses()
	if !ok {
		return
	}
	major := majority(statuses)
	mine := e.ledger.TotalBlockCount()
	e.log.Infow("status poll", "replies", len(statuses), "majority_height", major.height,
		"group", len(major.peers), "local_height", mine)

	switch {
	case len(major.peers) >= statusMajority && major.height == 0 && mine == 0:
		e.fire(TriggerConsensusBlockChainEmpty, 0)
	case len(major.peers) >= statusMajority && major.height >= 2:
		if e.ledger.LastUIndex() < major.lastUIndex {
			if err := e.syncer.SyncTo(e.ctx, major.lastUIndex, major.peers); err != nil {
				e.log.Warnw("database sync failed", "err", err)
				e.fire(TriggerQueryingConsensusNode, 0)
				return
			}
		}
		e.fire(TriggerConsensusNodesInitSynced, major.height)
	default:
		e.fire(TriggerQueryingConsensusNode, 0)
	}
}

// engage closes the gap to the live head before going Almighty.
func (e *Engine) engage(height int64) {
	if height > 2 {
		statuses, ok := e.collectStatuses()
		if !ok {
			return
		}
		head := highest(statuses)
		if len(head.peers) > 0 && e.ledger.LastUIndex() < head.lastUIndex {
			if err := e.syncer.SyncTo(e.ctx, head.lastUIndex, head.peers); err != nil {
				e.log.Warnw("engaging sync incomplete", "err", err)
			}
		}
	}
	e.fire(TriggerLocalNodeFullySynced, 0)
}

func (e *Engine) enterAlmighty() {
	e.declareNodeUp()
	e.uindexSeed.Store(e.ledger.LastUIndex())
	if sb, err := e.ledger.FindLastServiceBlock(); err == nil {
		e.board.SetLeader(sb.Service.Leader)
	}
	e.log.Infow("node is almighty", "leader", e.board.Leader(), "uindex", e.ledger.LastUIndex())
}
