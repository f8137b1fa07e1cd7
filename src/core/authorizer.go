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

// go/src/core/authorizer.go
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/lyra-core/go/src/security"
)

// ErrNotFound is returned by chain readers for missing blocks.
var ErrNotFound = errors.New("not found")

// ChainReader is the read side of the ledger used by authorizers.
type ChainReader interface {
	FindBlockByHash(hash string) (*Block, error)
	FindLatestBlock(chainID string) (*Block, error)
	FindLastServiceBlock() (*Block, error)
}

// Authorizer validates one kind of block.
type Authorizer interface {
	Authorize(ctx context.Context, b *Block) (ResultCode, *AuthorizationSignature, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, b *Block) (ResultCode, *AuthorizationSignature, error)

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, b *Block) (ResultCode, *AuthorizationSignature, error) {
	return f(ctx, b)
}

// Registry dispatches authorization by block type.
type Registry struct {
	mu          sync.RWMutex
	authorizers map[BlockType]Authorizer
}

// NewRegistry returns a registry with the structural authorizers for every
// known block type. Accepted blocks are signed by signer.
func NewRegistry(chain ChainReader, signer Signer) *Registry {
	base := &baseAuthorizer{chain: chain, signer: signer}
	r := &Registry{authorizers: make(map[BlockType]Authorizer)}
	transfer := &transferAuthorizer{base}
	r.Register(TypeSendTransfer, transfer)
	r.Register(TypeReceiveTransfer, transfer)
	r.Register(TypeOpenAccount, transfer)
	r.Register(TypeService, &serviceAuthorizer{base})
	r.Register(TypeConsolidation, &consolidationAuthorizer{base})
	return r
}

// Register installs or replaces the authorizer for t.
func (r *Registry) Register(t BlockType, a Authorizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorizers[t] = a
}

// Authorize runs the authorizer registered for the block type.
func (r *Registry) Authorize(ctx context.Context, b *Block) (ResultCode, *AuthorizationSignature, error) {
	r.mu.RLock()
	a, ok := r.authorizers[b.Type]
	r.mu.RUnlock()
	if !ok {
		return UnknownBlockType, nil, nil
	}
	if err := ctx.Err(); err != nil {
		return UnknownError, nil, err
	}
	return a.Authorize(ctx, b)
}

type baseAuthorizer struct {
	chain  ChainReader
	signer Signer
}

// verify runs the checks common to every block type.
func (a *baseAuthorizer) verify(b *Block) (ResultCode, error) {
	if !b.VerifyHash() {
		return InvalidHash, nil
	}
	if !b.VerifySignature() {
		return InvalidSignature, nil
	}
	if _, err := a.chain.FindBlockByHash(b.Hash); err == nil {
		return BlockExists, nil
	} else if !errors.Is(err, ErrNotFound) {
		return UnknownError, err
	}

	latest, err := a.chain.FindLatestBlock(b.ChainID())
	switch {
	case errors.Is(err, ErrNotFound):
		if b.Height != 1 || b.PreviousHash != "" {
			return InvalidPreviousBlock, nil
		}
	case err != nil:
		return UnknownError, err
	default:
		if b.PreviousHash != latest.Hash || b.Height != latest.Height+1 {
			return InvalidPreviousBlock, nil
		}
	}
	return Success, nil
}

func (a *baseAuthorizer) sign(b *Block) *AuthorizationSignature {
	return &AuthorizationSignature{Key: a.signer.AccountID(), Signature: a.signer.Sign([]byte(b.Hash))}
}

type transferAuthorizer struct{ *baseAuthorizer }

func (a *transferAuthorizer) Authorize(_ context.Context, b *Block) (ResultCode, *AuthorizationSignature, error) {
	if code, err := a.verify(b); code != Success {
		return code, nil, err
	}
	t := b.Transfer
	if _, err := uint256.FromDecimal(t.Amount); err != nil {
		return InvalidTransferData, nil, nil
	}
	if t.Fee != "" {
		if _, err := uint256.FromDecimal(t.Fee); err != nil {
			return InvalidTransferData, nil, nil
		}
	}
	switch b.Type {
	case TypeSendTransfer:
		if !security.ValidateAccountID(t.Destination) || t.Destination == b.AccountID {
			return InvalidTransferData, nil, nil
		}
	case TypeOpenAccount:
		if b.Height != 1 {
			return InvalidPreviousBlock, nil, nil
		}
		fallthrough
	case TypeReceiveTransfer:
		src, err := a.chain.FindBlockByHash(t.SourceHash)
		if errors.Is(err, ErrNotFound) {
			return InvalidTransferData, nil, nil
		} else if err != nil {
			return UnknownError, nil, err
		}
		if src.Type != TypeSendTransfer || src.Transfer.Destination != b.AccountID {
			return InvalidTransferData, nil, nil
		}
	}
	return Success, a.sign(b), nil
}

type serviceAuthorizer struct{ *baseAuthorizer }

func (a *serviceAuthorizer) Authorize(_ context.Context, b *Block) (ResultCode, *AuthorizationSignature, error) {
	if code, err := a.verify(b); code != Success {
		return code, nil, err
	}
	s := b.Service
	if s.Leader == "" || len(s.Authorizers) == 0 || len(s.Voters) == 0 {
		return InvalidServiceData, nil, nil
	}
	for _, acct := range append(append([]string{s.Leader}, s.Authorizers...), s.Voters...) {
		if !security.ValidateAccountID(acct) {
			return InvalidServiceData, nil, nil
		}
	}
	for _, st := range s.Stakes {
		if _, err := uint256.FromDecimal(st.Amount); err != nil || b.Height != 1 {
			return InvalidServiceData, nil, nil
		}
	}
	return Success, a.sign(b), nil
}

type consolidationAuthorizer struct{ *baseAuthorizer }

func (a *consolidationAuthorizer) Authorize(_ context.Context, b *Block) (ResultCode, *AuthorizationSignature, error) {
	if code, err := a.verify(b); code != Success {
		return code, nil, err
	}
	c := b.Consolidation
	if len(c.BlockHashes) == 0 || MerkleRoot(c.BlockHashes) != c.MerkleRoot {
		return InvalidConsolidation, nil, nil
	}
	last, err := a.chain.FindLastServiceBlock()
	if err != nil {
		return NotReadyForConsensus, nil, nil
	}
	if c.LastServiceHash != last.Hash {
		return InvalidConsolidation, nil, nil
	}
	for _, h := range c.BlockHashes {
		if _, err := a.chain.FindBlockByHash(h); errors.Is(err, ErrNotFound) {
			return NotReadyForConsensus, nil, nil
		} else if err != nil {
			return UnknownError, nil, fmt.Errorf("lookup consolidated block %s: %w", h, err)
		}
	}
	return Success, a.sign(b), nil
}
