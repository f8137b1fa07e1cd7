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

// go/src/consensus/authstate_test.go
package consensus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/security"
	"github.com/stretchr/testify/require"
)

func newVoters(t *testing.T, n int) []*security.Identity {
	ids := make([]*security.Identity, n)
	for i := range ids {
		id, err := security.GenerateIdentity()
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func accountIDs(ids []*security.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.AccountID()
	}
	return out
}

func candidateBlock(t *testing.T, from *security.Identity) *core.Block {
	to, err := security.GenerateIdentity()
	require.NoError(t, err)
	b := &core.Block{Type: core.TypeSendTransfer, Transfer: &core.TransferData{Destination: to.AccountID(), Amount: "1"}}
	require.NoError(t, b.Initialize(nil, from))
	return b
}

func accept(id *security.Identity, b *core.Block, uindex int64) *Prepare {
	return &Prepare{
		BlockHash:      b.Hash,
		Result:         core.Success,
		AuthSign:       &core.AuthorizationSignature{Key: id.AccountID(), Signature: id.Sign([]byte(b.Hash))},
		ProposedUIndex: uindex,
	}
}

func TestAuthStateYea(t *testing.T) {
	voters := newVoters(t, 4)
	b := candidateBlock(t, voters[0])
	s := NewAuthState(b, accountIDs(voters), time.Now())
	require.Equal(t, 3, s.Quorum())

	outsider := newVoters(t, 1)[0]
	require.False(t, s.AddPrepare(outsider.AccountID(), accept(outsider, b, 1)))

	forged := accept(voters[1], b, 1)
	forged.AuthSign.Signature = voters[2].Sign([]byte(b.Hash))
	require.False(t, s.AddPrepare(voters[1].AccountID(), forged))

	require.True(t, s.AddPrepare(voters[0].AccountID(), accept(voters[0], b, 7)))
	require.False(t, s.AddPrepare(voters[0].AccountID(), accept(voters[0], b, 7)))
	require.True(t, s.AddPrepare(voters[1].AccountID(), accept(voters[1], b, 5)))
	_, decided := s.CheckPrepares()
	require.False(t, decided)

	require.True(t, s.AddPrepare(voters[2].AccountID(), accept(voters[2], b, 7)))
	commit, decided := s.CheckPrepares()
	require.True(t, decided)
	require.Equal(t, ResultYea, commit.Consensus)
	require.EqualValues(t, 7, commit.UIndex)
	require.Len(t, commit.Authorizations, 3)
	require.Equal(t, voters[0].AccountID(), commit.Authorizations[0].Key)

	_, again := s.CheckPrepares()
	require.False(t, again)

	bad := *commit
	bad.UIndex = 8
	require.False(t, s.AddCommit(voters[3].AccountID(), &bad))

	for i := 0; i < 2; i++ {
		require.True(t, s.AddCommit(voters[i].AccountID(), commit))
		_, ok := s.CheckCommits()
		require.False(t, ok)
	}
	require.True(t, s.AddCommit(voters[2].AccountID(), commit))
	final, ok := s.CheckCommits()
	require.True(t, ok)
	require.EqualValues(t, 7, final.UIndex)
	require.Equal(t, commit.UHash, final.UHash)
	require.Len(t, final.Authorizations, 3)
	require.Zero(t, b.UIndex, "the candidate itself is not mutated")

	_, ok = s.CheckCommits()
	require.False(t, ok)

	require.True(t, s.Finish(ResultYea))
	require.False(t, s.Finish(ResultUncertain))
	require.Equal(t, ResultYea, s.Result())
	<-s.Done()
}

func TestAuthStateNay(t *testing.T) {
	voters := newVoters(t, 4)
	b := candidateBlock(t, voters[0])
	s := NewAuthState(b, accountIDs(voters), time.Now())
	for i := 0; i < 3; i++ {
		require.True(t, s.AddPrepare(voters[i].AccountID(), &Prepare{BlockHash: b.Hash, Result: core.InvalidPreviousBlock}))
	}
	commit, decided := s.CheckPrepares()
	require.True(t, decided)
	require.Equal(t, ResultNay, commit.Consensus)
	require.False(t, s.AddCommit(voters[0].AccountID(), commit))
}

func TestAuthStateSingleDecisionUnderConcurrency(t *testing.T) {
	voters := newVoters(t, 19)
	b := candidateBlock(t, voters[0])
	s := NewAuthState(b, accountIDs(voters), time.Now())

	var decisions, finishes atomic.Int32
	var wg sync.WaitGroup
	for _, v := range voters {
		wg.Add(1)
		go func(v *security.Identity) {
			defer wg.Done()
			s.AddPrepare(v.AccountID(), accept(v, b, 1))
			if _, ok := s.CheckPrepares(); ok {
				decisions.Add(1)
			}
			if s.Finish(ResultYea) {
				finishes.Add(1)
			}
		}(v)
	}
	wg.Wait()
	require.EqualValues(t, 1, decisions.Load())
	require.EqualValues(t, 1, finishes.Load())
}

func TestMostProposed(t *testing.T) {
	require.EqualValues(t, 3, mostProposed(map[int64]int{5: 2, 3: 2, 9: 1}))
	require.EqualValues(t, 9, mostProposed(map[int64]int{5: 1, 9: 3}))
}
