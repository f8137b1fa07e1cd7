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

// go/src/consensus/messages.go
package consensus

import (
	"github.com/lyra-core/go/src/core"
)

// Heartbeat is broadcast every maintenance tick.
type Heartbeat struct {
	AccountID           string          `json:"account_id"`
	NodeVersion         string          `json:"node_version"`
	State               BlockChainState `json:"state"`
	Address             string          `json:"address,omitempty"`
	AuthorizerSignature string          `json:"authorizer_signature"` // over the last service hash, or seed0 id before genesis
}

// NodeUp announces a node that is missing from its own billboard.
type NodeUp struct {
	AccountID           string `json:"account_id"`
	NodeVersion         string `json:"node_version"`
	Address             string `json:"address,omitempty"`
	AuthorizerSignature string `json:"authorizer_signature"`
}

// PrePrepare carries a candidate block.
type PrePrepare struct {
	Block *core.Block `json:"block"`
}

// Prepare is one voter's verdict on a candidate.
type Prepare struct {
	BlockHash      string                       `json:"block_hash"`
	Result         core.ResultCode              `json:"result"`
	AuthSign       *core.AuthorizationSignature `json:"auth_sign,omitempty"`
	ProposedUIndex int64                        `json:"proposed_uindex"`
}

// Commit confirms the decided outcome of a session.
type Commit struct {
	BlockHash      string                        `json:"block_hash"`
	Consensus      ConsensusResult               `json:"consensus"`
	UIndex         int64                         `json:"uindex"`
	UHash          string                        `json:"uhash"`
	Authorizations []core.AuthorizationSignature `json:"authorizations,omitempty"`
}

// ViewChangeRequest asks for a new leader at ViewID.
type ViewChangeRequest struct {
	ViewID           int64  `json:"view_id"`
	RequestSignature string `json:"request_signature"` // over "lastServiceHash|lastConsolidationHash"
}

// ViewChangeReply nominates a candidate.
type ViewChangeReply struct {
	ViewID    int64  `json:"view_id"`
	Candidate string `json:"candidate"`
}

// ViewChangeCommit confirms a candidate that reached quorum replies.
type ViewChangeCommit struct {
	ViewID    int64  `json:"view_id"`
	Candidate string `json:"candidate"`
}

// StatusInquiry asks every node for its NodeStatus.
type StatusInquiry struct{}

// NodeStatus is the reply to a StatusInquiry.
type NodeStatus struct {
	AccountID             string          `json:"account_id"`
	NodeVersion           string          `json:"node_version"`
	State                 BlockChainState `json:"state"`
	TotalBlockCount       int64           `json:"total_block_count"`
	LastUIndex            int64           `json:"last_uindex"`
	LastConsolidationHash string          `json:"last_consolidation_hash"`
	LastServiceHash       string          `json:"last_service_hash"`
}

// BlockQuery asks one peer for blocks from a UIndex on.
type BlockQuery struct {
	To         string `json:"to"`
	FromUIndex int64  `json:"from_uindex"`
	Limit      int    `json:"limit"`
}

// BlockBatch answers a BlockQuery.
type BlockBatch struct {
	To     string        `json:"to"`
	Blocks []*core.Block `json:"blocks"`
}
