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

// go/src/consensus/heartbeat.go
package consensus

import (
	"time"

	"github.com/lni/goutils/syncutil"
	"github.com/lyra-core/go/src/common"
	"github.com/lyra-core/go/src/params"
	"github.com/lyra-core/go/src/security"
)

// runPeriodic calls fn every interval on a stopper worker until the
// stopper stops. With immediate set the first call happens right away.
func runPeriodic(stopper *syncutil.Stopper, interval time.Duration, immediate bool, fn func()) {
	stopper.RunWorker(func() {
		if immediate {
			select {
			case <-stopper.ShouldStop():
				return
			default:
				fn()
			}
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stopper.ShouldStop():
				return
			}
		}
	})
}

// maintenance is the heartbeat tick.
func (e *Engine) maintenance() {
	state := e.State()
	now := time.Now()
	if state == StateAlmighty || state == StateGenesis {
		if n := e.relay.Purge(now); n > 0 {
			e.log.Debugw("relay purged", "entries", n)
		}
	}

	me := e.id.AccountID()
	sig := e.authorizerSignature()
	if _, ok := e.board.Get(me); !ok && state >= StateStaticSync {
		e.declareNodeUp()
	} else {
		e.board.Observe(me, sig, state, e.opts.Address)
	}
	e.send(security.MsgHeartbeat, Heartbeat{
		AccountID:           me,
		NodeVersion:         params.NodeVersion,
		State:               state,
		Address:             e.opts.Address,
		AuthorizerSignature: sig,
	})
	e.metrics.billboardSize.Set(float64(e.board.Len()))

	if state == StateAlmighty {
		e.maybeConsolidate()
	}

	e.mu.Lock()
	for hash, closed := range e.recentlyClosed {
		if now.Sub(closed) > e.opts.MessageRetention {
			delete(e.recentlyClosed, hash)
		}
	}
	e.mu.Unlock()
}

// sweep expires view change rounds and sessions that outlived their timeout.
func (e *Engine) sweep() {
	if e.vc.CheckTimeout() {
		e.log.Warnw("view change round timed out", "view", e.vc.ViewID())
	}
	now := time.Now()
	var expired, orphans []*worker
	e.mu.Lock()
	for _, w := range e.workers {
		if st := w.state.Load(); st != nil {
			if st.Expired(now, e.opts.ConsensusTimeout) {
				expired = append(expired, w)
			}
		} else if now.Sub(w.created) > e.opts.ConsensusTimeout {
			orphans = append(orphans, w)
		}
	}
	for _, w := range orphans {
		delete(e.workers, w.hash)
	}
	e.mu.Unlock()

	for _, w := range orphans {
		w.stop()
	}
	timedOut := false
	for _, w := range expired {
		if e.closeSession(w, ResultUncertain) {
			p, c := w.state.Load().Counts()
			e.log.Warnw("session timed out", "block", common.Shorten(w.hash), "prepares", p, "commits", c)
			timedOut = true
		}
	}
	if timedOut && e.State() == StateAlmighty && !e.vc.IsViewChanging() {
		e.vc.BeginChangeView()
	}
}
