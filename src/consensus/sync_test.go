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

// go/src/consensus/sync_test.go
package consensus

import (
	"testing"

	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/security"
	"github.com/stretchr/testify/require"
)

func accountsOf(ids []*security.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.AccountID()
	}
	return out
}

func authorize(b *core.Block, signers ...*security.Identity) {
	b.Authorizations = nil
	for _, id := range signers {
		b.Authorizations = append(b.Authorizations,
			core.AuthorizationSignature{Key: id.AccountID(), Signature: id.Sign([]byte(b.Hash))})
	}
}

// persistedService stores a service block installing seeds as authorizers.
func persistedService(t *testing.T, e *Engine, seeds []*security.Identity) *core.Block {
	t.Helper()
	sb := &core.Block{
		Type:    core.TypeService,
		Service: &core.ServiceData{Leader: seeds[0].AccountID(), Authorizers: accountsOf(seeds), Voters: accountsOf(seeds)},
	}
	require.NoError(t, sb.Initialize(nil, seeds[0]))
	sb.SetUIndex(1)
	authorize(sb, seeds[:3]...)
	stored, err := e.ledger.Persist(sb)
	require.NoError(t, err)
	require.True(t, stored)
	return sb
}

func TestSyncRejectsUncertifiedBlocks(t *testing.T) {
	e, seeds := newIdleEngine(t, nil)
	persistedService(t, e, seeds)

	alice, err := security.GenerateIdentity()
	require.NoError(t, err)
	stranger, err := security.GenerateIdentity()
	require.NoError(t, err)

	cases := []struct {
		name    string
		signers []*security.Identity
		tamper  func(b *core.Block)
	}{
		{name: "no authorizations"},
		{name: "below quorum", signers: seeds[:2]},
		{name: "outside the view", signers: []*security.Identity{seeds[0], seeds[1], stranger}},
		{name: "repeated authorizer", signers: []*security.Identity{seeds[0], seeds[1], seeds[1]}},
		{name: "bad signature", signers: seeds[:3], tamper: func(b *core.Block) {
			b.Authorizations[2].Signature = seeds[2].Sign([]byte("other"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := sendBlock(t, alice, nil, seeds[1].AccountID(), "10")
			b.SetUIndex(2)
			authorize(b, tc.signers...)
			if tc.tamper != nil {
				tc.tamper(b)
			}
			require.Error(t, e.syncer.apply([]*core.Block{b}))
			require.False(t, e.ledger.HasBlock(b.Hash))
		})
	}

	b := sendBlock(t, alice, nil, seeds[1].AccountID(), "10")
	b.SetUIndex(2)
	authorize(b, seeds[1], seeds[2], seeds[3])
	require.NoError(t, e.syncer.apply([]*core.Block{b}))
	require.True(t, e.ledger.HasBlock(b.Hash))
	require.NoError(t, e.syncer.apply([]*core.Block{b}), "known blocks are skipped")
}

func TestSyncServiceBlockNeedsQualifiedVoters(t *testing.T) {
	e, seeds := newIdleEngine(t, nil)
	genesis := persistedService(t, e, seeds)

	next := &core.Block{
		Type:        core.TypeService,
		ServiceHash: genesis.Hash,
		Service:     &core.ServiceData{Leader: seeds[1].AccountID(), Authorizers: accountsOf(seeds), Voters: accountsOf(seeds)},
	}
	require.NoError(t, next.Initialize(genesis, seeds[1]))
	next.SetUIndex(2)
	authorize(next, seeds...)

	// the ledger holds no stakes, so none of the listed voters qualifies
	err := e.syncer.apply([]*core.Block{next})
	require.ErrorContains(t, err, "unqualified voter")
	require.False(t, e.ledger.HasBlock(next.Hash))
}

func TestVerifyAuthorizationsNeedsVoters(t *testing.T) {
	b := &core.Block{Hash: "h"}
	require.Error(t, verifyAuthorizations(b, nil))
}
