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

// go/src/consensus/engine.go
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/goutils/syncutil"
	"github.com/lyra-core/go/src/common"
	"github.com/lyra-core/go/src/core"
	logger "github.com/lyra-core/go/src/log"
	"github.com/lyra-core/go/src/params"
	"github.com/lyra-core/go/src/security"
	"go.uber.org/zap"
)

// Engine owns the billboard, the relay, the block sessions and the view
// change handler of one node. It is created once per process and torn
// down with Stop.
type Engine struct {
	opts   Options
	id     *security.Identity
	ledger Ledger
	auth   Authorizer
	net    Broadcaster
	log    *zap.SugaredLogger

	board   *Billboard
	relay   *Relay
	vc      *ViewChangeHandler
	syncer  *syncer
	metrics *metrics

	stopper *syncutil.Stopper
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	stopped atomic.Bool

	inbox chan *security.Message // verified envelopes waiting for dispatch
	vcCh  chan *security.Message // view change envelopes, handled by their own loop

	mu             sync.Mutex
	workers        map[string]*worker   // block hash -> session worker
	recentlyClosed map[string]time.Time // block hash -> close time

	stateMu sync.RWMutex
	state   BlockChainState

	statusMu sync.Mutex
	statuses map[string]*NodeStatus

	uindexSeed atomic.Int64

	electionMu sync.Mutex
	vcRetries  int
	lastErr    error
}

// EngineStatus is a point in time view of the node.
type EngineStatus struct {
	AccountID             string   `json:"account_id"`
	NetworkID             string   `json:"network_id"`
	NodeVersion           string   `json:"node_version"`
	State                 string   `json:"state"`
	Leader                string   `json:"leader"`
	PrimaryAuthorizers    []string `json:"primary_authorizers"`
	AllVoters             []string `json:"all_voters"`
	ActiveNodes           int      `json:"active_nodes"`
	ViewChanging          bool     `json:"view_changing"`
	Sessions              int      `json:"sessions"`
	TotalBlockCount       int64    `json:"total_block_count"`
	LastUIndex            int64    `json:"last_uindex"`
	LastServiceHash       string   `json:"last_service_hash"`
	LastConsolidationHash string   `json:"last_consolidation_hash"`
	LastError             string   `json:"last_error,omitempty"`
}

// NewEngine wires an engine. Start must be called to join the network.
func NewEngine(opts Options, id *security.Identity, ledger Ledger, auth Authorizer, net Broadcaster) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consensus options: %w", err)
	}
	if id == nil || ledger == nil || auth == nil || net == nil {
		return nil, errors.New("engine needs an identity, a ledger, an authorizer and a broadcaster")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:           opts,
		id:             id,
		ledger:         ledger,
		auth:           auth,
		net:            net,
		log:            logger.Named("consensus").With("node", common.Shorten(id.AccountID())),
		stopper:        syncutil.NewStopper(),
		ctx:            ctx,
		cancel:         cancel,
		inbox:          make(chan *security.Message, inboxSize),
		vcCh:           make(chan *security.Message, inboxSize),
		workers:        make(map[string]*worker),
		recentlyClosed: make(map[string]time.Time),
		metrics:        newMetrics(opts.Registerer),
	}
	e.board = NewBillboard(NewQuorumCalculator(opts.MinAuthorizers, opts.MaxAuthorizers),
		opts.MinimalAuthorizerBalance, opts.StaleNodeWindow)
	e.relay = NewRelay(opts.Network.ProtocolVersion, opts.ReplayWindow, opts.FutureSkew, opts.MessageRetention)
	e.vc = NewViewChangeHandler(&vcEnv{e}, opts.ViewChangeTimeout, logger.Named("viewchange").With("node", common.Shorten(id.AccountID())))
	e.syncer = newSyncer(e, opts.StatusWait)
	return e, nil
}

// Start launches the loops and fires LocalNodeStartup.
func (e *Engine) Start() error {
	if e.stopped.Load() {
		return ErrStopped
	}
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("consensus engine already started")
	}
	e.stopper.RunWorker(e.dispatchLoop)
	e.stopper.RunWorker(e.viewChangeLoop)
	runPeriodic(e.stopper, e.opts.SweepInterval, false, e.sweep)
	runPeriodic(e.stopper, e.opts.HeartbeatInterval, true, e.maintenance)
	e.fire(TriggerLocalNodeStartup, 0)
	return nil
}

// Stop cancels every loop and session and waits for them to exit.
func (e *Engine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	e.cancel()
	e.stopper.Stop()
	e.log.Infow("consensus engine stopped")
}

// goSafe runs f on a stopper worker unless the engine is stopping.
func (e *Engine) goSafe(f func()) {
	if e.stopped.Load() {
		return
	}
	e.stopper.RunWorker(f)
}

// sleep waits d and returns false if the engine stops first.
func (e *Engine) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.stopper.ShouldStop():
		return false
	}
}

// AccountID returns the node account.
func (e *Engine) AccountID() string { return e.id.AccountID() }

// Billboard returns the roster of this node.
func (e *Engine) Billboard() *Billboard { return e.board }

// HandleMessage runs the relay checks on an envelope received from a peer
// and queues accepted envelopes for dispatch. Only Accepted envelopes
// should be forwarded.
func (e *Engine) HandleMessage(msg *security.Message) RelayVerdict {
	v := e.relay.Accept(msg, time.Now())
	if v != Accepted {
		e.metrics.relayDrops.WithLabelValues(v.String()).Inc()
		return v
	}
	select {
	case e.inbox <- msg:
	default:
		e.metrics.relayDrops.WithLabelValues("inbox_full").Inc()
		e.log.Warnw("inbox full, dropping message", "type", msg.Type, "from", common.Shorten(msg.From))
	}
	return v
}

func (e *Engine) dispatchLoop() {
	for {
		select {
		case msg := <-e.inbox:
			e.dispatch(msg)
		case <-e.stopper.ShouldStop():
			return
		}
	}
}

func (e *Engine) viewChangeLoop() {
	for {
		select {
		case msg := <-e.vcCh:
			e.vc.Process(msg)
		case <-e.stopper.ShouldStop():
			return
		}
	}
}

// dispatch routes one verified envelope by type.
func (e *Engine) dispatch(msg *security.Message) {
	switch msg.Type {
	case security.MsgHeartbeat:
		e.onHeartbeat(msg)
	case security.MsgNodeUp:
		e.onNodeUp(msg)
	case security.MsgPrePrepare:
		if e.sessionsOpen() {
			e.onPrePrepare(msg)
		}
	case security.MsgPrepare, security.MsgCommit:
		if e.sessionsOpen() {
			e.onVote(msg)
		}
	case security.MsgViewChangeRequest, security.MsgViewChangeReply, security.MsgViewChangeCommit:
		if e.State() != StateAlmighty || !e.board.IsActive(msg.From) {
			return
		}
		select {
		case e.vcCh <- msg:
		default:
			e.log.Warnw("view change queue full", "from", common.Shorten(msg.From))
		}
	case security.MsgStatusInquiry:
		e.onStatusInquiry(msg)
	case security.MsgStatusReply:
		e.onStatusReply(msg)
	case security.MsgBlockQuery:
		e.onBlockQuery(msg)
	case security.MsgBlockBatch:
		e.onBlockBatch(msg)
	}
}

// sessionsOpen reports whether block sessions are processed in the current state.
func (e *Engine) sessionsOpen() bool {
	switch e.State() {
	case StateGenesis, StateEngaging, StateAlmighty:
		return true
	}
	return false
}

// send signs and gossips a payload. The envelope is remembered by the
// relay so echoes from peers are dropped.
func (e *Engine) send(t security.MessageType, payload interface{}) {
	msg, err := security.NewMessage(t, e.id.AccountID(), e.opts.Network.ProtocolVersion, payload)
	if err != nil {
		e.log.Errorw("failed to build message", "type", t, "err", err)
		return
	}
	msg.Sign(e.id)
	e.relay.Remember(msg, time.Now())
	if err := e.net.Broadcast(msg); err != nil {
		e.log.Debugw("broadcast failed", "type", t, "err", err)
	}
}

// authorizerSignature signs the last service hash, or seed0 before genesis.
func (e *Engine) authorizerSignature() string {
	if sb, err := e.ledger.FindLastServiceBlock(); err == nil {
		return e.id.SignString(sb.Hash)
	}
	return e.id.SignString(e.opts.Network.Seed0())
}

func (e *Engine) onHeartbeat(msg *security.Message) {
	var hb Heartbeat
	if err := msg.Decode(&hb); err != nil || hb.AccountID != msg.From {
		return
	}
	e.board.Observe(msg.From, hb.AuthorizerSignature, hb.State, hb.Address)
	if hb.Address != "" && e.opts.OnNodeAddress != nil {
		e.opts.OnNodeAddress(msg.From, hb.Address)
	}
	if msg.From != e.tickNode() || e.State() != StateAlmighty || e.vc.IsViewChanging() {
		return
	}
	if leader := e.board.Leader(); !e.board.IsActive(leader) {
		e.log.Infow("leader is offline, requesting view change", "leader", common.Shorten(leader))
		e.updateVoters()
		e.vc.BeginChangeView()
	}
}

func (e *Engine) onNodeUp(msg *security.Message) {
	var up NodeUp
	if err := msg.Decode(&up); err != nil || up.AccountID != msg.From {
		return
	}
	if e.board.Announce(msg.From, up.AuthorizerSignature, up.Address) {
		e.log.Infow("node joined", "account", common.Shorten(msg.From), "address", up.Address)
	}
	if up.Address != "" && e.opts.OnNodeAddress != nil {
		e.opts.OnNodeAddress(msg.From, up.Address)
	}
}

// declareNodeUp puts this node on its own billboard and announces it.
func (e *Engine) declareNodeUp() {
	sig := e.authorizerSignature()
	e.board.Observe(e.id.AccountID(), sig, e.State(), e.opts.Address)
	e.send(security.MsgNodeUp, NodeUp{
		AccountID:           e.id.AccountID(),
		NodeVersion:         params.NodeVersion,
		Address:             e.opts.Address,
		AuthorizerSignature: sig,
	})
}

// tickNode is the first standby validator present on the billboard. Its
// heartbeat drives the leader liveness check.
func (e *Engine) tickNode() string {
	for _, seed := range e.opts.Network.StandbyValidators {
		if e.board.IsActive(seed) {
			return seed
		}
	}
	return ""
}

// updateVoters refreshes stakes and recomputes the voter sets.
func (e *Engine) updateVoters() (primary, all []string) {
	if err := e.board.RefreshStakes(e.ledger, e.opts.StakeRefreshStale); err != nil {
		e.log.Warnw("stake refresh failed", "err", err)
	}
	primary, all = e.board.ComputeVoters()
	if len(all) == 0 {
		all = e.board.PrimaryAuthorizers()
		e.board.SetAllVoters(all)
	}
	e.metrics.billboardSize.Set(float64(e.board.Len()))
	return primary, all
}

// proposeUIndex returns the next global index this node proposes.
func (e *Engine) proposeUIndex() int64 {
	for {
		cur := e.uindexSeed.Load()
		next := cur
		if last := e.ledger.LastUIndex(); last > next {
			next = last
		}
		next++
		if e.uindexSeed.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// onLeaderSelected arms the service block proposal on the new leader and
// the re-election timer on every node.
func (e *Engine) onLeaderSelected(viewID int64, leader string, votes int) {
	e.board.SetCandidate(leader, votes)
	if leader == e.id.AccountID() {
		e.goSafe(func() {
			if e.sleep(e.opts.NewLeaderDelay) {
				e.createServiceBlock(viewID)
			}
		})
	}
	e.goSafe(func() {
		if e.sleep(e.opts.ViewChangeTimeout) {
			e.checkElection(viewID)
		}
	})
}

func (e *Engine) createServiceBlock(viewID int64) {
	lastSb, err := e.ledger.FindLastServiceBlock()
	if err != nil {
		e.log.Errorw("cannot propose service block without a previous one", "err", err)
		return
	}
	if lastSb.Height >= viewID {
		return
	}
	primary, all := e.updateVoters()
	b := &core.Block{
		Type:        core.TypeService,
		ServiceHash: lastSb.Hash,
		Service:     &core.ServiceData{Leader: e.id.AccountID(), Authorizers: primary, Voters: all},
	}
	if err := b.Initialize(lastSb, e.id); err != nil {
		e.log.Errorw("failed to build service block", "err", err)
		return
	}
	if _, err := e.startSession(b, all, true); err != nil {
		e.log.Warnw("service block rejected locally", "err", err)
		return
	}
	e.log.Infow("proposed service block", "height", b.Height, "authorizers", len(primary), "voters", len(all))
}

// checkElection restarts the view change when the elected leader did not
// produce the service block of viewID in time.
func (e *Engine) checkElection(viewID int64) {
	if sb, err := e.ledger.FindLastServiceBlock(); err == nil && sb.Height >= viewID {
		return
	}
	e.electionMu.Lock()
	e.vcRetries++
	retries := e.vcRetries
	exhausted := retries > e.opts.MaxViewChangeRetries
	if exhausted {
		e.lastErr = ErrViewChangeExhausted
	}
	e.electionMu.Unlock()

	if exhausted {
		e.log.Errorw("leader election keeps failing, giving up until a service block arrives",
			"view", viewID, "retries", retries)
		return
	}
	if e.State() == StateAlmighty {
		e.log.Warnw("elected leader produced no service block, restarting view change", "view", viewID, "retry", retries)
		e.vc.Reset()
		e.vc.BeginChangeView()
	}
}

// onServiceBlock installs the roster of a finalized service block.
func (e *Engine) onServiceBlock(sb *core.Block) {
	e.board.UpdatePrimary(sb.Service.Authorizers)
	e.board.SetAllVoters(sb.Service.Voters)
	e.board.SetLeader(sb.Service.Leader)
	e.vc.ShiftView()
	e.electionMu.Lock()
	e.vcRetries = 0
	e.lastErr = nil
	e.electionMu.Unlock()
	e.log.Infow("new view", "height", sb.Height, "leader", common.Shorten(sb.Service.Leader),
		"authorizers", len(sb.Service.Authorizers))
}

// LastError returns the persistent error condition, if any.
func (e *Engine) LastError() error {
	e.electionMu.Lock()
	defer e.electionMu.Unlock()
	return e.lastErr
}

// Status returns a snapshot of the node.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	sessions := len(e.workers)
	e.mu.Unlock()
	ls := e.localStatus()
	s := EngineStatus{
		AccountID:             e.id.AccountID(),
		NetworkID:             e.opts.Network.NetworkID,
		NodeVersion:           params.NodeVersion,
		State:                 ls.State.String(),
		Leader:                e.board.Leader(),
		PrimaryAuthorizers:    e.board.PrimaryAuthorizers(),
		AllVoters:             e.board.AllVoters(),
		ActiveNodes:           e.board.Len(),
		ViewChanging:          e.vc.IsViewChanging(),
		Sessions:              sessions,
		TotalBlockCount:       ls.TotalBlockCount,
		LastUIndex:            ls.LastUIndex,
		LastServiceHash:       ls.LastServiceHash,
		LastConsolidationHash: ls.LastConsolidationHash,
	}
	if err := e.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

// vcEnv binds the view change handler to its engine.
type vcEnv struct{ e *Engine }

func (v *vcEnv) AccountID() string       { return v.e.id.AccountID() }
func (v *vcEnv) Sign(data []byte) string { return v.e.id.Sign(data) }
func (v *vcEnv) CanJoin() bool           { return v.e.State() == StateAlmighty }
func (v *vcEnv) Phase(p string)          { v.e.metrics.viewChanges.WithLabelValues(p).Inc() }

func (v *vcEnv) LastHashes() (string, int64, string) {
	var (
		sbHash, consHash string
		height           int64
	)
	if sb, err := v.e.ledger.FindLastServiceBlock(); err == nil {
		sbHash, height = sb.Hash, sb.Height
	}
	if cons, err := v.e.ledger.FindLastConsolidationBlock(); err == nil {
		consHash = cons.Hash
	}
	return sbHash, height, consHash
}

func (v *vcEnv) VoterSnapshot() []string {
	_, all := v.e.updateVoters()
	return all
}

func (v *vcEnv) Send(t security.MessageType, payload interface{}) { v.e.send(t, payload) }

func (v *vcEnv) LeaderSelected(viewID int64, leader string, votes int) {
	v.e.onLeaderSelected(viewID, leader, votes)
}
