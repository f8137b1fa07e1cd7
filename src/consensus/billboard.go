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

// go/src/consensus/billboard.go
package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// StakeLookup returns the current stake of an account.
type StakeLookup interface {
	StakeOf(accountID string) (*uint256.Int, error)
}

// ActiveNode is one live node in the billboard.
type ActiveNode struct {
	AccountID           string          `json:"account_id"`
	LastActive          time.Time       `json:"last_active"`
	Votes               *uint256.Int    `json:"votes"`
	Address             string          `json:"address,omitempty"`
	AuthorizerSignature string          `json:"authorizer_signature,omitempty"`
	State               BlockChainState `json:"state"`
}

func (n *ActiveNode) clone() ActiveNode {
	c := *n
	c.Votes = new(uint256.Int).Set(n.Votes)
	return c
}

// BillboardSnapshot is a read-only copy of the billboard.
type BillboardSnapshot struct {
	Nodes              []ActiveNode `json:"nodes"`
	PrimaryAuthorizers []string     `json:"primary_authorizers"`
	AllVoters          []string     `json:"all_voters"`
	CurrentLeader      string       `json:"current_leader"`
	LeaderCandidate    string       `json:"leader_candidate"`
	CandidateVotes     int          `json:"candidate_votes"`
}

// Billboard tracks live nodes and derives the voter sets. It is the only
// mutator of its records; other components read copies.
type Billboard struct {
	mu    sync.RWMutex
	nodes map[string]*ActiveNode

	primaryAuthorizers []string
	allVoters          []string
	currentLeader      string
	leaderCandidate    string
	candidateVotes     int

	calc        *QuorumCalculator
	minBalance  *uint256.Int
	staleWindow time.Duration
	now         func() time.Time
}

// NewBillboard creates an empty billboard.
func NewBillboard(calc *QuorumCalculator, minBalance *uint256.Int, staleWindow time.Duration) *Billboard {
	return &Billboard{
		nodes:       make(map[string]*ActiveNode),
		calc:        calc,
		minBalance:  minBalance,
		staleWindow: staleWindow,
		now:         time.Now,
	}
}

// Observe records a sighting of accountID and prunes stale nodes.
// It returns true when the node was not on the billboard before.
// The voter sets are left alone; they change on ComputeVoters, which the
// engine runs after each stake refresh, or when a service block installs them.
func (b *Billboard) Observe(accountID, signature string, state BlockChainState, address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.pruneLocked(now, b.staleWindow)
	n, ok := b.nodes[accountID]
	if !ok {
		n = &ActiveNode{AccountID: accountID, Votes: uint256.NewInt(0)}
		b.nodes[accountID] = n
	}
	n.LastActive = now
	n.State = state
	if signature != "" {
		n.AuthorizerSignature = signature
	}
	if address != "" {
		n.Address = address
	}
	return !ok
}

// Announce upserts a node from a NodeUp. New nodes start in StaticSync.
func (b *Billboard) Announce(accountID, signature, address string) bool {
	b.mu.RLock()
	n, ok := b.nodes[accountID]
	state := StateStaticSync
	if ok {
		state = n.State
	}
	b.mu.RUnlock()
	return b.Observe(accountID, signature, state, address)
}

// Prune removes nodes not seen within window and returns their ids.
func (b *Billboard) Prune(window time.Duration) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pruneLocked(b.now(), window)
}

func (b *Billboard) pruneLocked(now time.Time, window time.Duration) []string {
	var removed []string
	for id, n := range b.nodes {
		if now.Sub(n.LastActive) > window {
			delete(b.nodes, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// RefreshStakes prunes with window then reloads every node's votes.
func (b *Billboard) RefreshStakes(lookup StakeLookup, window time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now(), window)
	for id, n := range b.nodes {
		v, err := lookup.StakeOf(id)
		if err != nil {
			return err
		}
		n.Votes = v
	}
	return nil
}

// ComputeVoters derives the voter sets from the current records and stores
// the full set as AllVoters. Qualified nodes have at least the minimal
// balance; they are ordered by votes descending then account id ascending.
// primary is the clamped prefix that a new service block would install.
func (b *Billboard) ComputeVoters() (primary, all []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	qualified := make([]*ActiveNode, 0, len(b.nodes))
	for _, n := range b.nodes {
		if n.Votes.Cmp(b.minBalance) >= 0 {
			qualified = append(qualified, n)
		}
	}
	sort.Slice(qualified, func(i, j int) bool {
		if c := qualified[i].Votes.Cmp(qualified[j].Votes); c != 0 {
			return c > 0
		}
		return qualified[i].AccountID < qualified[j].AccountID
	})
	all = make([]string, len(qualified))
	for i, n := range qualified {
		all[i] = n.AccountID
	}
	take := b.calc.QualifiedNodeCount(len(all))
	if take > len(all) {
		take = len(all)
	}
	primary = append([]string(nil), all[:take]...)
	b.allVoters = all
	return primary, append([]string(nil), all...)
}

// UpdatePrimary installs the authorizers of a service block.
func (b *Billboard) UpdatePrimary(authorizers []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primaryAuthorizers = append([]string(nil), authorizers...)
}

// SetAllVoters overrides the voter set, used before stakes exist.
func (b *Billboard) SetAllVoters(voters []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allVoters = append([]string(nil), voters...)
}

// SetLeader records the leader named by the last service block.
func (b *Billboard) SetLeader(leader string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentLeader = leader
}

// SetCandidate records the winner of a view change.
func (b *Billboard) SetCandidate(candidate string, votes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaderCandidate = candidate
	b.candidateVotes = votes
}

// PrimaryAuthorizers returns a copy of the primary set.
func (b *Billboard) PrimaryAuthorizers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.primaryAuthorizers...)
}

// AllVoters returns a copy of the full voter set.
func (b *Billboard) AllVoters() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.allVoters...)
}

// Leader returns the current leader.
func (b *Billboard) Leader() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentLeader
}

// IsActive reports whether accountID is on the billboard.
func (b *Billboard) IsActive(accountID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.nodes[accountID]
	return ok
}

// IsPrimary reports whether accountID is a primary authorizer.
func (b *Billboard) IsPrimary(accountID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, id := range b.primaryAuthorizers {
		if id == accountID {
			return true
		}
	}
	return false
}

// Get returns a copy of one record.
func (b *Billboard) Get(accountID string) (ActiveNode, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.nodes[accountID]
	if !ok {
		return ActiveNode{}, false
	}
	return n.clone(), true
}

// CountPrimariesIn counts active primary authorizers in state.
func (b *Billboard) CountPrimariesIn(state BlockChainState) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, id := range b.primaryAuthorizers {
		if n, ok := b.nodes[id]; ok && n.State == state {
			count++
		}
	}
	return count
}

// Len returns the number of active nodes.
func (b *Billboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.nodes)
}

// Snapshot copies the whole billboard, nodes sorted by account id.
func (b *Billboard) Snapshot() BillboardSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := BillboardSnapshot{
		Nodes:              make([]ActiveNode, 0, len(b.nodes)),
		PrimaryAuthorizers: append([]string(nil), b.primaryAuthorizers...),
		AllVoters:          append([]string(nil), b.allVoters...),
		CurrentLeader:      b.currentLeader,
		LeaderCandidate:    b.leaderCandidate,
		CandidateVotes:     b.candidateVotes,
	}
	for _, n := range b.nodes {
		s.Nodes = append(s.Nodes, n.clone())
	}
	sort.Slice(s.Nodes, func(i, j int) bool { return s.Nodes[i].AccountID < s.Nodes[j].AccountID })
	return s
}
