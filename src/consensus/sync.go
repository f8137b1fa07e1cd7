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

// go/src/consensus/sync.go
package consensus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/params"
	"github.com/lyra-core/go/src/security"
)

// statusMajority is the minimum group of agreeing status replies.
const statusMajority = 3

// heightGroup is a set of peers reporting the same block count.
type heightGroup struct {
	height     int64
	lastUIndex int64
	peers      []string
}

// majority returns the largest group of statuses by TotalBlockCount,
// ties to the higher count.
func majority(statuses map[string]*NodeStatus) heightGroup {
	groups := make(map[int64]*heightGroup)
	for id, s := range statuses {
		g, ok := groups[s.TotalBlockCount]
		if !ok {
			g = &heightGroup{height: s.TotalBlockCount}
			groups[s.TotalBlockCount] = g
		}
		g.peers = append(g.peers, id)
		if s.LastUIndex > g.lastUIndex {
			g.lastUIndex = s.LastUIndex
		}
	}
	var best heightGroup
	for _, g := range groups {
		if len(g.peers) > len(best.peers) || (len(g.peers) == len(best.peers) && g.height > best.height) {
			best = *g
		}
	}
	sort.Strings(best.peers)
	return best
}

// highest returns the peers reporting the highest UIndex.
func highest(statuses map[string]*NodeStatus) heightGroup {
	var best heightGroup
	for id, s := range statuses {
		switch {
		case s.LastUIndex > best.lastUIndex:
			best = heightGroup{height: s.TotalBlockCount, lastUIndex: s.LastUIndex, peers: []string{id}}
		case s.LastUIndex == best.lastUIndex && s.LastUIndex > 0:
			best.peers = append(best.peers, id)
		}
	}
	sort.Strings(best.peers)
	return best
}

// collectStatuses broadcasts a status inquiry and gathers replies for StatusWait.
// It returns false when the engine stops while waiting.
func (e *Engine) collectStatuses() (map[string]*NodeStatus, bool) {
	e.statusMu.Lock()
	e.statuses = make(map[string]*NodeStatus)
	e.statusMu.Unlock()

	e.send(security.MsgStatusInquiry, StatusInquiry{})
	if !e.sleep(e.opts.StatusWait) {
		return nil, false
	}

	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	out := make(map[string]*NodeStatus, len(e.statuses))
	for id, s := range e.statuses {
		out[id] = s
	}
	return out, true
}

func (e *Engine) localStatus() NodeStatus {
	s := NodeStatus{
		AccountID:       e.id.AccountID(),
		NodeVersion:     params.NodeVersion,
		State:           e.State(),
		TotalBlockCount: e.ledger.TotalBlockCount(),
		LastUIndex:      e.ledger.LastUIndex(),
	}
	if sb, err := e.ledger.FindLastServiceBlock(); err == nil {
		s.LastServiceHash = sb.Hash
	}
	if cons, err := e.ledger.FindLastConsolidationBlock(); err == nil {
		s.LastConsolidationHash = cons.Hash
	}
	return s
}

func (e *Engine) onStatusInquiry(*security.Message) {
	e.send(security.MsgStatusReply, e.localStatus())
}

// onStatusReply keeps one reply per active primary authorizer.
func (e *Engine) onStatusReply(msg *security.Message) {
	var s NodeStatus
	if err := msg.Decode(&s); err != nil || s.AccountID != msg.From {
		return
	}
	if !e.board.IsPrimary(msg.From) || !e.board.IsActive(msg.From) {
		e.log.Debugw("status reply from non primary dropped", "from", msg.From)
		return
	}
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if e.statuses == nil || len(e.statuses) >= maxStatusReplies {
		return
	}
	if _, dup := e.statuses[msg.From]; !dup {
		e.statuses[msg.From] = &s
	}
}

// onBlockQuery answers queries addressed to this node.
func (e *Engine) onBlockQuery(msg *security.Message) {
	var q BlockQuery
	if err := msg.Decode(&q); err != nil || q.To != e.id.AccountID() {
		return
	}
	limit := q.Limit
	if limit <= 0 || limit > syncBatchLimit {
		limit = syncBatchLimit
	}
	blocks, err := e.ledger.BlocksFrom(q.FromUIndex, limit)
	if err != nil {
		e.log.Warnw("block query failed", "from", msg.From, "err", err)
		return
	}
	e.send(security.MsgBlockBatch, BlockBatch{To: msg.From, Blocks: blocks})
}

func (e *Engine) onBlockBatch(msg *security.Message) {
	var b BlockBatch
	if err := msg.Decode(&b); err != nil || b.To != e.id.AccountID() {
		return
	}
	e.syncer.deliver(msg.From, b.Blocks)
}

type batchFrom struct {
	from   string
	blocks []*core.Block
}

// syncer pulls finalized blocks from peers in UIndex order.
type syncer struct {
	e       *Engine
	mu      sync.Mutex
	batches chan batchFrom
	wait    time.Duration
}

func newSyncer(e *Engine, wait time.Duration) *syncer {
	return &syncer{e: e, batches: make(chan batchFrom, 16), wait: wait}
}

func (s *syncer) deliver(from string, blocks []*core.Block) {
	select {
	case s.batches <- batchFrom{from: from, blocks: blocks}:
	default:
	}
}

// SyncTo fetches blocks round robin from peers until the local UIndex
// reaches target. It fails once every peer in a row made no progress.
func (s *syncer) SyncTo(ctx context.Context, target int64, peers []string) error {
	if len(peers) == 0 {
		return fmt.Errorf("no peers to sync from")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
drain:
	for {
		select {
		case <-s.batches:
		default:
			break drain
		}
	}
	ledger := s.e.ledger
	stalled := 0
	for i := 0; ledger.LastUIndex() < target; i++ {
		if stalled >= len(peers) {
			return fmt.Errorf("sync stalled at uindex %d of %d", ledger.LastUIndex(), target)
		}
		peer := peers[i%len(peers)]
		before := ledger.LastUIndex()
		s.e.send(security.MsgBlockQuery, BlockQuery{To: peer, FromUIndex: before, Limit: syncBatchLimit})

		timer := time.NewTimer(s.wait)
	wait:
		for {
			select {
			case b := <-s.batches:
				if b.from != peer {
					continue
				}
				if err := s.apply(b.blocks); err != nil {
					s.e.log.Warnw("rejected sync batch", "peer", peer, "err", err)
				}
				break wait
			case <-timer.C:
				break wait
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
		timer.Stop()
		if ledger.LastUIndex() > before {
			stalled = 0
		} else {
			stalled++
		}
	}
	return nil
}

func (s *syncer) apply(blocks []*core.Block) error {
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].UIndex < blocks[j].UIndex })
	for _, b := range blocks {
		if b == nil || !b.VerifyHash() || !b.VerifySignature() {
			return fmt.Errorf("invalid block in batch")
		}
		if b.UHash != core.UHash(b.UIndex, b.Height, b.Hash) {
			return fmt.Errorf("block %s has a bad uhash", b.Hash)
		}
		if s.e.ledger.HasBlock(b.Hash) {
			continue
		}
		view, err := s.e.certifyingView(b)
		if err != nil {
			return err
		}
		if err := verifyAuthorizations(b, view); err != nil {
			return err
		}
		stored, err := s.e.ledger.Persist(b)
		if err != nil {
			return err
		}
		if stored && b.Type == core.TypeService {
			s.e.onServiceBlock(b)
		}
	}
	return nil
}

// certifyingView returns the voters whose commits finalized b. Service
// blocks record their own voters, each of which must hold the minimal
// stake; the genesis service block is voted by the standby validators.
// Other blocks are voted by the authorizers of the service block they
// reference, or of the last local service block.
func (e *Engine) certifyingView(b *core.Block) ([]string, error) {
	if b.Type == core.TypeService {
		if b.Service == nil {
			return nil, fmt.Errorf("service block %s has no roster", b.Hash)
		}
		if b.PreviousHash == "" {
			return e.opts.Network.StandbyValidators, nil
		}
		if !e.ledger.HasBlock(b.PreviousHash) {
			return nil, fmt.Errorf("service block %s follows unknown block %s", b.Hash, b.PreviousHash)
		}
		for _, v := range b.Service.Voters {
			stake, err := e.ledger.StakeOf(v)
			if err != nil {
				return nil, err
			}
			if stake.Cmp(e.opts.MinimalAuthorizerBalance) < 0 {
				return nil, fmt.Errorf("service block %s lists unqualified voter %s", b.Hash, v)
			}
		}
		return b.Service.Voters, nil
	}
	var (
		sb  *core.Block
		err error
	)
	if b.ServiceHash != "" {
		sb, err = e.ledger.FindBlockByHash(b.ServiceHash)
	} else {
		sb, err = e.ledger.FindLastServiceBlock()
	}
	if err != nil {
		return nil, fmt.Errorf("no service block governs %s: %w", b.Hash, err)
	}
	if sb.Service == nil {
		return nil, fmt.Errorf("block %s references non service block %s", b.Hash, sb.Hash)
	}
	return sb.Service.Authorizers, nil
}

// verifyAuthorizations checks that b carries valid signatures over its hash
// from a quorum of view, one per authorizer.
func verifyAuthorizations(b *core.Block, view []string) error {
	members := make(map[string]struct{}, len(view))
	for _, v := range view {
		members[v] = struct{}{}
	}
	if len(members) == 0 {
		return fmt.Errorf("block %s has no voters to certify it", b.Hash)
	}
	signed := make(map[string]struct{}, len(b.Authorizations))
	for _, a := range b.Authorizations {
		if _, ok := members[a.Key]; !ok {
			return fmt.Errorf("block %s is signed by %s outside its view", b.Hash, a.Key)
		}
		if _, dup := signed[a.Key]; dup {
			return fmt.Errorf("block %s is signed twice by %s", b.Hash, a.Key)
		}
		if !security.VerifyAccountSignature([]byte(b.Hash), a.Key, a.Signature) {
			return fmt.Errorf("block %s has a bad authorization from %s", b.Hash, a.Key)
		}
		signed[a.Key] = struct{}{}
	}
	if need := Quorum(len(members)); len(signed) < need {
		return fmt.Errorf("block %s has %d of %d required authorizations", b.Hash, len(signed), need)
	}
	return nil
}
