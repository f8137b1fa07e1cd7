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

// go/src/consensus/types.go
package consensus

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/params"
	"github.com/lyra-core/go/src/security"
	"github.com/prometheus/client_golang/prometheus"
)

// Ledger is the persistence boundary used by the engine.
// Persist must be idempotent for blocks with an identical hash.
type Ledger interface {
	core.ChainReader
	FindLastConsolidationBlock() (*core.Block, error)
	Persist(b *core.Block) (bool, error)
	HasBlock(hash string) bool
	UnconsolidatedHashes() ([]string, error)
	BlocksFrom(fromUIndex int64, limit int) ([]*core.Block, error)
	LastUIndex() int64
	TotalBlockCount() int64
	StakeOf(accountID string) (*uint256.Int, error)
}

// Authorizer validates candidate blocks. It must be safe for concurrent use.
type Authorizer = core.Authorizer

// Broadcaster gossips signed envelopes to every peer.
// Implementations must not deliver the message back to the sender's engine.
type Broadcaster interface {
	Broadcast(msg *security.Message) error
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(msg *security.Message) error

// Broadcast calls f.
func (f BroadcasterFunc) Broadcast(msg *security.Message) error { return f(msg) }

// Options configures an Engine. Zero durations fall back to DefaultOptions.
type Options struct {
	Network *params.NetworkParameters

	ConsensusTimeout  time.Duration // Session abandon threshold
	ViewChangeTimeout time.Duration // Round abandon threshold and leader grace period
	StaleNodeWindow   time.Duration // Billboard pruning window on observe
	StakeRefreshStale time.Duration // Pruning window applied before stakes are refreshed
	ReplayWindow      time.Duration // Oldest accepted message age
	FutureSkew        time.Duration // Newest accepted message skew
	MessageRetention  time.Duration // Relay dedup retention
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	StatusWait        time.Duration // Time to collect status replies
	GenesisPoll       time.Duration // seed0 poll interval while waiting for peers in Genesis
	NewLeaderDelay    time.Duration // Grace delay before a new leader proposes its service block

	MinAuthorizers           int
	MaxAuthorizers           int
	MaxViewChangeRetries     int
	GenesisQuorum            int
	MinimalAuthorizerBalance *uint256.Int

	ConsolidationThreshold int           // Unconsolidated blocks that force a consolidation
	ConsolidationInterval  time.Duration // Age after which any unconsolidated block is consolidated

	// Address is announced to peers in heartbeats.
	Address string

	// OnBlockFinalized is called once for every block this node persists through consensus.
	OnBlockFinalized func(b *core.Block)

	// OnNodeAddress is called when a peer announces its address.
	OnNodeAddress func(accountID, address string)

	// Registerer receives the consensus metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
}

// DefaultOptions returns the production timings.
func DefaultOptions(network *params.NetworkParameters) Options {
	return Options{
		Network:                  network,
		ConsensusTimeout:         params.ConsensusTimeout,
		ViewChangeTimeout:        params.ViewChangeTimeout,
		StaleNodeWindow:          params.StaleNodeWindow,
		StakeRefreshStale:        params.StakeRefreshStale,
		ReplayWindow:             params.ReplayWindow,
		FutureSkew:               params.FutureSkew,
		MessageRetention:         params.MessageRetention,
		HeartbeatInterval:        params.HeartbeatInterval,
		SweepInterval:            params.SweepInterval,
		StatusWait:               params.StatusWait,
		GenesisPoll:              3 * time.Second,
		NewLeaderDelay:           time.Second,
		MinAuthorizers:           params.MinAuthorizers,
		MaxAuthorizers:           params.MaxAuthorizers,
		MaxViewChangeRetries:     5,
		GenesisQuorum:            params.GenesisQuorum,
		MinimalAuthorizerBalance: params.MinimalAuthorizerBalance,
		ConsolidationThreshold:   10,
		ConsolidationInterval:    10 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions(o.Network)
	durations := []struct{ v, def *time.Duration }{
		{&o.ConsensusTimeout, &d.ConsensusTimeout}, {&o.ViewChangeTimeout, &d.ViewChangeTimeout},
		{&o.StaleNodeWindow, &d.StaleNodeWindow}, {&o.StakeRefreshStale, &d.StakeRefreshStale},
		{&o.ReplayWindow, &d.ReplayWindow}, {&o.FutureSkew, &d.FutureSkew},
		{&o.MessageRetention, &d.MessageRetention}, {&o.HeartbeatInterval, &d.HeartbeatInterval},
		{&o.SweepInterval, &d.SweepInterval}, {&o.StatusWait, &d.StatusWait},
		{&o.GenesisPoll, &d.GenesisPoll}, {&o.NewLeaderDelay, &d.NewLeaderDelay},
		{&o.ConsolidationInterval, &d.ConsolidationInterval},
	}
	for _, p := range durations {
		if *p.v <= 0 {
			*p.v = *p.def
		}
	}
	ints := []struct{ v, def *int }{
		{&o.MinAuthorizers, &d.MinAuthorizers}, {&o.MaxAuthorizers, &d.MaxAuthorizers},
		{&o.MaxViewChangeRetries, &d.MaxViewChangeRetries}, {&o.GenesisQuorum, &d.GenesisQuorum},
		{&o.ConsolidationThreshold, &d.ConsolidationThreshold},
	}
	for _, p := range ints {
		if *p.v <= 0 {
			*p.v = *p.def
		}
	}
	if o.MinimalAuthorizerBalance == nil {
		o.MinimalAuthorizerBalance = d.MinimalAuthorizerBalance
	}
	if o.MessageRetention < o.ReplayWindow+o.FutureSkew {
		o.MessageRetention = o.ReplayWindow + o.FutureSkew
	}
	return o
}

// Validate checks the option invariants.
func (o Options) Validate() error {
	if o.Network == nil {
		return errors.New("consensus options without network parameters")
	}
	if err := o.Network.Validate(); err != nil {
		return err
	}
	if o.MinAuthorizers < params.MinAuthorizers || o.MinAuthorizers > o.MaxAuthorizers {
		return errors.New("authorizer clamp must satisfy 4 <= min <= max")
	}
	if !NewQuorumVerifier(o.MinAuthorizers, MaxFaulty(o.MinAuthorizers)).VerifyQuorumIntersection() {
		return errors.New("minimal authorizer set cannot tolerate a faulty node")
	}
	return nil
}
