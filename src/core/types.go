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

// go/src/core/types.go
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lyra-core/go/src/common"
	"github.com/lyra-core/go/src/security"
)

const (
	// ServiceChain is the chain id shared by all service blocks
	ServiceChain = "#service"

	// ConsolidationChain is the chain id shared by all consolidation blocks
	ConsolidationChain = "#consolidation"
)

var errMissingPayload = errors.New("block payload does not match its type")

// Signer signs block hashes on behalf of an account.
type Signer interface {
	AccountID() string
	Sign(data []byte) string
}

// AuthorizationSignature is one authorizer's signature over a block hash.
type AuthorizationSignature struct {
	Key       string `json:"key"`       // Authorizer account id
	Signature string `json:"signature"` // Signature over the block hash
}

// TransferData is the payload of send, receive and open blocks.
type TransferData struct {
	Destination string `json:"destination,omitempty"` // Receiver account for sends
	SourceHash  string `json:"source_hash,omitempty"` // Send block being received
	Amount      string `json:"amount"`                // Decimal amount in the smallest unit
	Fee         string `json:"fee"`                   // Decimal fee in the smallest unit
}

// StakeRecord assigns an initial stake to an account in the genesis service block.
type StakeRecord struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// ServiceData is the roster recorded by a service block.
type ServiceData struct {
	Leader      string        `json:"leader"`
	Authorizers []string      `json:"authorizers"`
	Voters      []string      `json:"voters"`
	Stakes      []StakeRecord `json:"stakes,omitempty"`
}

// ConsolidationData is the checkpoint recorded by a consolidation block.
type ConsolidationData struct {
	BlockHashes     []string `json:"block_hashes"`
	MerkleRoot      string   `json:"merkle_root"`
	TotalBlockCount int64    `json:"total_block_count"`
	LastServiceHash string   `json:"last_service_hash"`
	TotalFees       string   `json:"total_fees"`
}

// Block is a candidate or finalized ledger entry.
// Hash covers the content fields; UIndex, UHash and Authorizations are set by consensus.
type Block struct {
	Type         BlockType `json:"type"`
	Height       int64     `json:"height"`
	AccountID    string    `json:"account_id"`
	PreviousHash string    `json:"previous_hash,omitempty"`
	ServiceHash  string    `json:"service_hash,omitempty"`
	Timestamp    int64     `json:"timestamp"`

	Transfer      *TransferData      `json:"transfer,omitempty"`
	Service       *ServiceData       `json:"service,omitempty"`
	Consolidation *ConsolidationData `json:"consolidation,omitempty"`

	Hash           string                   `json:"hash"`
	Signature      string                   `json:"signature"`
	UIndex         int64                    `json:"uindex"`
	UHash          string                   `json:"uhash,omitempty"`
	Authorizations []AuthorizationSignature `json:"authorizations,omitempty"`
}

// ChainID returns the chain the block extends.
func (b *Block) ChainID() string {
	switch b.Type {
	case TypeService:
		return ServiceChain
	case TypeConsolidation:
		return ConsolidationChain
	default:
		return b.AccountID
	}
}

// IsTransaction reports whether the block is subject to the double spend guard.
func (b *Block) IsTransaction() bool { return b.Type.IsTransaction() }

func (b *Block) checkPayload() error {
	switch b.Type {
	case TypeSendTransfer, TypeReceiveTransfer, TypeOpenAccount:
		if b.Transfer == nil {
			return errMissingPayload
		}
	case TypeService:
		if b.Service == nil {
			return errMissingPayload
		}
	case TypeConsolidation:
		if b.Consolidation == nil {
			return errMissingPayload
		}
	default:
		return fmt.Errorf("unknown block type %d", b.Type)
	}
	return nil
}

// CalculateHash hashes the content fields of the block.
func (b *Block) CalculateHash() (string, error) {
	if err := b.checkPayload(); err != nil {
		return "", err
	}
	content := struct {
		Type          BlockType          `json:"type"`
		Height        int64              `json:"height"`
		AccountID     string             `json:"account_id"`
		PreviousHash  string             `json:"previous_hash"`
		ServiceHash   string             `json:"service_hash"`
		Timestamp     int64              `json:"timestamp"`
		Transfer      *TransferData      `json:"transfer,omitempty"`
		Service       *ServiceData       `json:"service,omitempty"`
		Consolidation *ConsolidationData `json:"consolidation,omitempty"`
	}{b.Type, b.Height, b.AccountID, b.PreviousHash, b.ServiceHash, b.Timestamp, b.Transfer, b.Service, b.Consolidation}
	data, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	return common.HashHex(data), nil
}

// Initialize links the block after prev (nil for the first block of a chain),
// stamps it, and signs the resulting hash.
func (b *Block) Initialize(prev *Block, signer Signer) error {
	if prev != nil {
		b.Height = prev.Height + 1
		b.PreviousHash = prev.Hash
	} else {
		b.Height = 1
		b.PreviousHash = ""
	}
	if b.Timestamp == 0 {
		b.Timestamp = time.Now().UnixMilli()
	}
	b.AccountID = signer.AccountID()
	hash, err := b.CalculateHash()
	if err != nil {
		return err
	}
	b.Hash = hash
	b.Signature = signer.Sign([]byte(hash))
	return nil
}

// VerifyHash reports whether Hash matches the content.
func (b *Block) VerifyHash() bool {
	h, err := b.CalculateHash()
	return err == nil && h == b.Hash
}

// VerifySignature checks the creator signature over the hash.
func (b *Block) VerifySignature() bool {
	return security.VerifyAccountSignature([]byte(b.Hash), b.AccountID, b.Signature)
}

// SetUIndex assigns the global sequence position and its hash.
func (b *Block) SetUIndex(uindex int64) {
	b.UIndex = uindex
	b.UHash = UHash(uindex, b.Height, b.Hash)
}

// UHash binds a global index to a block.
func UHash(uindex, height int64, hash string) string {
	return common.HashString(strconv.FormatInt(uindex, 10), strconv.FormatInt(height, 10), hash)
}

// Clone returns a deep copy.
func (b *Block) Clone() *Block {
	c := *b
	if b.Transfer != nil {
		t := *b.Transfer
		c.Transfer = &t
	}
	if b.Service != nil {
		s := *b.Service
		s.Authorizers = append([]string(nil), b.Service.Authorizers...)
		s.Voters = append([]string(nil), b.Service.Voters...)
		s.Stakes = append([]StakeRecord(nil), b.Service.Stakes...)
		c.Service = &s
	}
	if b.Consolidation != nil {
		cd := *b.Consolidation
		cd.BlockHashes = append([]string(nil), b.Consolidation.BlockHashes...)
		c.Consolidation = &cd
	}
	c.Authorizations = append([]AuthorizationSignature(nil), b.Authorizations...)
	return &c
}

func (b *Block) String() string {
	return fmt.Sprintf("%s %s@%d %s", b.Type, common.Shorten(b.AccountID), b.Height, common.Shorten(b.Hash))
}
