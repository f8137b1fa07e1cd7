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

// go/src/consensus/billboard_test.go
package consensus

import (
	"fmt"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type stakeMap map[string]uint64

func (s stakeMap) StakeOf(id string) (*uint256.Int, error) {
	return uint256.NewInt(s[id]), nil
}

func newTestBillboard(now *time.Time) *Billboard {
	b := NewBillboard(NewQuorumCalculator(4, 19), uint256.NewInt(1_000_000), time.Minute)
	b.now = func() time.Time { return *now }
	return b
}

func TestComputeVotersDeterministic(t *testing.T) {
	now := time.Now()
	stakes := stakeMap{"Lc": 3_000_000, "La": 2_000_000, "Lb": 2_000_000, "Ld": 5_000_000, "Le": 999_999, "Lf": 1_000_000}

	ids := []string{"Lf", "Le", "Ld", "Lc", "Lb", "La"}
	build := func(order []string) ([]string, []string) {
		b := newTestBillboard(&now)
		for _, id := range order {
			b.Observe(id, "", StateAlmighty, "")
		}
		require.NoError(t, b.RefreshStakes(stakes, time.Minute))
		return b.ComputeVoters()
	}

	p1, a1 := build(ids)
	p2, a2 := build([]string{"La", "Lb", "Lc", "Ld", "Le", "Lf"})
	require.Equal(t, p1, p2)
	require.Equal(t, a1, a2)
	require.Equal(t, []string{"Ld", "Lc", "La", "Lb", "Lf"}, a1)
	require.Equal(t, a1, p1)
}

func TestComputeVotersClamp(t *testing.T) {
	now := time.Now()
	b := newTestBillboard(&now)
	stakes := stakeMap{}
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("L%02d", i)
		stakes[id] = uint64(2_000_000 + i)
		b.Observe(id, "", StateAlmighty, "")
	}
	require.NoError(t, b.RefreshStakes(stakes, time.Minute))
	primary, all := b.ComputeVoters()
	require.Len(t, primary, 19)
	require.Len(t, all, 25)
	require.Equal(t, "L24", primary[0])
	require.Equal(t, all, b.AllVoters())

	small := newTestBillboard(&now)
	small.Observe("L1", "", StateAlmighty, "")
	require.NoError(t, small.RefreshStakes(stakeMap{"L1": 2_000_000}, time.Minute))
	primary, _ = small.ComputeVoters()
	require.Equal(t, []string{"L1"}, primary)
}

func TestObservePrunesStaleNodes(t *testing.T) {
	now := time.Now()
	b := newTestBillboard(&now)
	require.True(t, b.Observe("La", "sig", StateGenesis, "ws://a"))
	require.False(t, b.Observe("La", "", StateGenesis, ""))
	n, ok := b.Get("La")
	require.True(t, ok)
	require.Equal(t, "sig", n.AuthorizerSignature)
	require.Equal(t, "ws://a", n.Address)

	now = now.Add(30 * time.Second)
	b.Observe("Lb", "", StateAlmighty, "")
	require.NoError(t, b.RefreshStakes(stakeMap{}, 20*time.Second))
	require.False(t, b.IsActive("La"))
	require.True(t, b.IsActive("Lb"))

	now = now.Add(61 * time.Second)
	b.Observe("Lc", "", StateAlmighty, "")
	require.False(t, b.IsActive("Lb"))
	require.Equal(t, 1, b.Len())

	require.True(t, b.Announce("Ld", "", ""))
	n, _ = b.Get("Ld")
	require.Equal(t, StateStaticSync, n.State)
}

func TestPrimaryStateCount(t *testing.T) {
	now := time.Now()
	b := newTestBillboard(&now)
	b.UpdatePrimary([]string{"La", "Lb", "Lc", "Ld"})
	b.Observe("La", "", StateGenesis, "")
	b.Observe("Lb", "", StateGenesis, "")
	b.Observe("Lc", "", StateStaticSync, "")
	b.Observe("Lx", "", StateGenesis, "")
	require.Equal(t, 2, b.CountPrimariesIn(StateGenesis))
	require.True(t, b.IsPrimary("Ld"))
	require.False(t, b.IsPrimary("Lx"))

	b.SetLeader("La")
	b.SetCandidate("Lb", 3)
	s := b.Snapshot()
	require.Equal(t, "La", s.CurrentLeader)
	require.Equal(t, "Lb", s.LeaderCandidate)
	require.Len(t, s.Nodes, 4)
	require.Equal(t, "La", s.Nodes[0].AccountID)
}

func TestInstalledVotersSurviveMembershipChanges(t *testing.T) {
	now := time.Now()
	b := newTestBillboard(&now)
	installed := []string{"La", "Lb", "Lc", "Ld"}
	b.UpdatePrimary(installed)
	b.SetAllVoters(installed)

	b.Observe("Le", "", StateAlmighty, "")
	now = now.Add(2 * time.Minute)
	b.Observe("Lf", "", StateAlmighty, "")
	_, ok := b.Get("Le")
	require.False(t, ok, "stale nodes are pruned on observe")
	require.Equal(t, installed, b.AllVoters())
	require.Equal(t, installed, b.PrimaryAuthorizers())

	stakes := stakeMap{"Lf": 2_000_000}
	require.NoError(t, b.RefreshStakes(stakes, time.Minute))
	_, all := b.ComputeVoters()
	require.Equal(t, []string{"Lf"}, all)
	require.Equal(t, all, b.AllVoters())
}
