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

// go/src/core/core_test.go
package core

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/lyra-core/go/src/common"
	"github.com/lyra-core/go/src/security"
	"github.com/stretchr/testify/require"
)

type memChain struct {
	blocks map[string]*Block
	latest map[string]*Block
}

func newMemChain() *memChain {
	return &memChain{blocks: map[string]*Block{}, latest: map[string]*Block{}}
}

func (m *memChain) add(b *Block) {
	m.blocks[b.Hash] = b
	m.latest[b.ChainID()] = b
}

func (m *memChain) FindBlockByHash(hash string) (*Block, error) {
	if b, ok := m.blocks[hash]; ok {
		return b, nil
	}
	return nil, ErrNotFound
}

func (m *memChain) FindLatestBlock(chainID string) (*Block, error) {
	if b, ok := m.latest[chainID]; ok {
		return b, nil
	}
	return nil, ErrNotFound
}

func (m *memChain) FindLastServiceBlock() (*Block, error) {
	return m.FindLatestBlock(ServiceChain)
}

func newIdentity(t *testing.T) *security.Identity {
	id, err := security.GenerateIdentity()
	require.NoError(t, err)
	return id
}

func TestBlockHashAndSignature(t *testing.T) {
	id := newIdentity(t)
	b := &Block{Type: TypeSendTransfer, Transfer: &TransferData{Destination: newIdentity(t).AccountID(), Amount: "10"}}
	require.NoError(t, b.Initialize(nil, id))
	require.EqualValues(t, 1, b.Height)
	require.True(t, b.VerifyHash())
	require.True(t, b.VerifySignature())

	b.SetUIndex(42)
	require.True(t, b.VerifyHash(), "consensus fields are outside the hash")
	require.Equal(t, UHash(42, 1, b.Hash), b.UHash)

	c := b.Clone()
	c.Transfer.Amount = "11"
	require.Equal(t, "10", b.Transfer.Amount)
	require.False(t, c.VerifyHash())

	next := &Block{Type: TypeSendTransfer, Transfer: &TransferData{Destination: c.Transfer.Destination, Amount: "1"}}
	require.NoError(t, next.Initialize(b, id))
	require.EqualValues(t, 2, next.Height)
	require.Equal(t, b.Hash, next.PreviousHash)

	bad := &Block{Type: TypeService}
	require.Error(t, bad.Initialize(nil, id))
}

func TestMerkleRoot(t *testing.T) {
	require.Equal(t, "", MerkleRoot(nil))

	a := common.HashHex([]byte("a"))
	raw, _ := hex.DecodeString(a)
	require.Equal(t, hex.EncodeToString(common.HashBytes(raw)), MerkleRoot([]string{a}))

	b := common.HashHex([]byte("b"))
	c := common.HashHex([]byte("c"))
	three := MerkleRoot([]string{a, b, c})
	four := MerkleRoot([]string{a, b, c, c})
	require.Equal(t, four, three, "odd levels duplicate the last node")
	require.NotEqual(t, three, MerkleRoot([]string{b, a, c}))
}

func TestRegistryTransfer(t *testing.T) {
	chain := newMemChain()
	voter := newIdentity(t)
	reg := NewRegistry(chain, voter)
	ctx := context.Background()

	alice, bob := newIdentity(t), newIdentity(t)
	send := &Block{Type: TypeSendTransfer, Transfer: &TransferData{Destination: bob.AccountID(), Amount: "100", Fee: "1"}}
	require.NoError(t, send.Initialize(nil, alice))

	code, sig, err := reg.Authorize(ctx, send)
	require.NoError(t, err)
	require.Equal(t, Success, code)
	require.Equal(t, voter.AccountID(), sig.Key)
	require.True(t, security.VerifyAccountSignature([]byte(send.Hash), sig.Key, sig.Signature))

	chain.add(send)
	code, _, _ = reg.Authorize(ctx, send)
	require.Equal(t, BlockExists, code)

	fork := &Block{Type: TypeSendTransfer, Transfer: &TransferData{Destination: bob.AccountID(), Amount: "5"}}
	require.NoError(t, fork.Initialize(nil, alice))
	code, _, _ = reg.Authorize(ctx, fork)
	require.Equal(t, InvalidPreviousBlock, code)

	open := &Block{Type: TypeOpenAccount, Transfer: &TransferData{SourceHash: send.Hash, Amount: "100"}}
	require.NoError(t, open.Initialize(nil, bob))
	code, _, _ = reg.Authorize(ctx, open)
	require.Equal(t, Success, code)

	tampered := open.Clone()
	tampered.Transfer.Amount = "1000"
	code, _, _ = reg.Authorize(ctx, tampered)
	require.Equal(t, InvalidHash, code)

	badAmount := &Block{Type: TypeSendTransfer, Transfer: &TransferData{Destination: alice.AccountID(), Amount: "ten"}}
	require.NoError(t, badAmount.Initialize(nil, bob))
	code, _, _ = reg.Authorize(ctx, badAmount)
	require.Equal(t, InvalidTransferData, code)
}

func TestRegistryServiceAndConsolidation(t *testing.T) {
	chain := newMemChain()
	leader := newIdentity(t)
	reg := NewRegistry(chain, leader)
	ctx := context.Background()

	roster := []string{leader.AccountID(), newIdentity(t).AccountID()}
	svc := &Block{Type: TypeService, Service: &ServiceData{Leader: leader.AccountID(), Authorizers: roster, Voters: roster,
		Stakes: []StakeRecord{{Account: roster[0], Amount: "2000000"}}}}
	require.NoError(t, svc.Initialize(nil, leader))
	code, _, err := reg.Authorize(ctx, svc)
	require.NoError(t, err)
	require.Equal(t, Success, code)
	chain.add(svc)

	cons := &Block{Type: TypeConsolidation, Consolidation: &ConsolidationData{
		BlockHashes: []string{svc.Hash}, MerkleRoot: MerkleRoot([]string{svc.Hash}), TotalBlockCount: 1, LastServiceHash: svc.Hash,
	}}
	require.NoError(t, cons.Initialize(nil, leader))
	code, _, err = reg.Authorize(ctx, cons)
	require.NoError(t, err)
	require.Equal(t, Success, code)

	wrongRoot := cons.Clone()
	wrongRoot.Consolidation.MerkleRoot = "00"
	require.NoError(t, wrongRoot.Initialize(nil, leader))
	code, _, _ = reg.Authorize(ctx, wrongRoot)
	require.Equal(t, InvalidConsolidation, code)

	code, _, _ = reg.Authorize(ctx, &Block{Type: TypeNull})
	require.Equal(t, UnknownBlockType, code)

	reg.Register(TypeService, AuthorizerFunc(func(context.Context, *Block) (ResultCode, *AuthorizationSignature, error) {
		return NotReadyForConsensus, nil, nil
	}))
	code, _, _ = reg.Authorize(ctx, svc)
	require.Equal(t, NotReadyForConsensus, code)
}
