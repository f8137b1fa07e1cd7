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

// go/src/consensus/global.go
package consensus

import (
	"errors"
	"time"
)

// Mailbox and batch sizes
const (
	inboxSize        = 1024 // Verified messages waiting for dispatch
	mailboxSize      = 256  // Per-session mailbox and out-of-order queue bound
	syncBatchLimit   = 100  // Blocks per BlockBatch reply
	maxStatusReplies = 64   // Status replies kept per inquiry
)

// BlockChainState is the lifecycle state of a node
type BlockChainState int

// Trigger is a lifecycle event
type Trigger int

// ConsensusResult is the outcome of one block session
type ConsensusResult int

// Lifecycle states, initial state is StateNull
const (
	StateNull         BlockChainState = iota // Not started
	StateInitializing                        // Loading the last service block and seeding the roster
	StateStaticSync                          // Polling peers and catching up the database
	StateGenesis                             // Waiting for seed0 to create the first blocks
	StateEngaging                            // Replaying blocks up to the live head
	StateAlmighty                            // Steady state
)

// Lifecycle triggers
const (
	TriggerLocalNodeStartup Trigger = iota
	TriggerDatabaseSync
	TriggerQueryingConsensusNode
	TriggerConsensusBlockChainEmpty
	TriggerConsensusNodesInitSynced
	TriggerGenesisDone
	TriggerLocalNodeFullySynced
	TriggerLocalNodeOutOfSync
	TriggerLocalNodeMissingBlock
)

// Session results
const (
	ResultPending   ConsensusResult = iota // Votes still being collected
	ResultYea                              // Quorum accepted and the block was persisted
	ResultNay                              // Quorum rejected
	ResultUncertain                        // Timed out or failed to persist
)

var (
	// ErrDoubleSpend is returned when another session is active for the same account and height
	ErrDoubleSpend = errors.New("double spend: a block for this account and height is already in consensus")

	// ErrNotReady is returned when the node is not in a state that accepts new blocks
	ErrNotReady = errors.New("node is not ready for consensus")

	// ErrViewChanging is returned while a leader election is in progress
	ErrViewChanging = errors.New("view change in progress")

	// ErrAlreadyFinalized is returned for blocks that are persisted or recently closed
	ErrAlreadyFinalized = errors.New("block already finalized")

	// ErrInvalidBlock is returned by Submit for blocks with a bad hash or signature
	ErrInvalidBlock = errors.New("block hash or signature is invalid")

	// ErrStopped is returned after the engine has been stopped
	ErrStopped = errors.New("consensus engine stopped")

	// ErrViewChangeExhausted is recorded when consecutive elections fail to produce a service block
	ErrViewChangeExhausted = errors.New("view change retries exhausted")

	// ErrIllegalTransition is returned by Transition for triggers not allowed in a state
	ErrIllegalTransition = errors.New("illegal lifecycle transition")
)

var stateNames = [...]string{"Null", "Initializing", "StaticSync", "Genesis", "Engaging", "Almighty"}

func (s BlockChainState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

var triggerNames = [...]string{
	"LocalNodeStartup", "DatabaseSync", "QueryingConsensusNode", "ConsensusBlockChainEmpty",
	"ConsensusNodesInitSynced", "GenesisDone", "LocalNodeFullySynced", "LocalNodeOutOfSync",
	"LocalNodeMissingBlock",
}

func (t Trigger) String() string {
	if t >= 0 && int(t) < len(triggerNames) {
		return triggerNames[t]
	}
	return "Unknown"
}

var resultNames = [...]string{"Pending", "Yea", "Nay", "Uncertain"}

func (r ConsensusResult) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "Unknown"
}

// millis converts a unix millisecond timestamp.
func millis(ms int64) time.Time { return time.UnixMilli(ms) }
