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

// go/src/core/config.go
package core

// BlockType identifies the kind of a block.
type BlockType int

// ResultCode is the verdict of an authorizer on a candidate block.
type ResultCode int

const (
	// TypeNull is the zero value and never valid on the wire
	TypeNull BlockType = iota

	// TypeSendTransfer debits the account chain and names a destination
	TypeSendTransfer

	// TypeReceiveTransfer credits an existing account chain from a send block
	TypeReceiveTransfer

	// TypeOpenAccount credits a new account chain and starts it at height 1
	TypeOpenAccount

	// TypeService records the validator roster and the elected leader
	TypeService

	// TypeConsolidation checkpoints a batch of finalized blocks under a Merkle root
	TypeConsolidation
)

const (
	// Success indicates the block content is legal and was signed
	Success ResultCode = iota

	// InvalidSignature indicates the creator signature does not verify
	InvalidSignature

	// InvalidHash indicates the block hash does not match its content
	InvalidHash

	// InvalidPreviousBlock indicates a broken link to the previous block of the chain
	InvalidPreviousBlock

	// BlockExists indicates the ledger already holds the block
	BlockExists

	// NotReadyForConsensus indicates the local node cannot vote on the block yet
	NotReadyForConsensus

	// InvalidConsolidation indicates a consolidation block with a bad batch or root
	InvalidConsolidation

	// InvalidTransferData indicates a transfer with a bad destination or amount
	InvalidTransferData

	// InvalidServiceData indicates a service block with an empty roster or leader
	InvalidServiceData

	// UnknownBlockType indicates no authorizer is registered for the block type
	UnknownBlockType

	// UnknownError indicates the authorizer failed for a non-content reason
	UnknownError
)

var blockTypeNames = map[BlockType]string{
	TypeNull:            "Null",
	TypeSendTransfer:    "SendTransfer",
	TypeReceiveTransfer: "ReceiveTransfer",
	TypeOpenAccount:     "OpenAccount",
	TypeService:         "Service",
	TypeConsolidation:   "Consolidation",
}

func (t BlockType) String() string {
	if n, ok := blockTypeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// IsTransaction reports whether blocks of this type move funds on an account chain.
func (t BlockType) IsTransaction() bool {
	return t == TypeSendTransfer || t == TypeReceiveTransfer || t == TypeOpenAccount
}

var resultCodeNames = [...]string{
	"Success", "InvalidSignature", "InvalidHash", "InvalidPreviousBlock", "BlockExists",
	"NotReadyForConsensus", "InvalidConsolidation", "InvalidTransferData", "InvalidServiceData",
	"UnknownBlockType", "UnknownError",
}

func (c ResultCode) String() string {
	if c >= 0 && int(c) < len(resultCodeNames) {
		return resultCodeNames[c]
	}
	return "UnknownError"
}
