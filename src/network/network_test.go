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

// go/src/network/network_test.go
package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddressBookAccounts(t *testing.T) {
	nm := NewNodeManager(time.Minute)
	require.True(t, nm.AddNode("127.0.0.1:4500", true))
	require.False(t, nm.AddNode("127.0.0.1:4500", true))

	require.True(t, nm.UpsertAccount("Lacct", "127.0.0.1:4500"))
	require.False(t, nm.UpsertAccount("Lacct", "127.0.0.1:4500"))
	addr, ok := nm.AddressOf("Lacct")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:4500", addr)

	require.True(t, nm.UpsertAccount("Lacct", "127.0.0.1:4600"))
	old, ok := nm.GetNode("127.0.0.1:4500")
	require.True(t, ok)
	require.Empty(t, old.AccountID)
	moved, ok := nm.GetNode("127.0.0.1:4600")
	require.True(t, ok)
	require.Equal(t, "Lacct", moved.AccountID)

	nm.RemoveNode("127.0.0.1:4600")
	_, ok = nm.AddressOf("Lacct")
	require.False(t, ok)
}

func TestScoresBanAndRecover(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	nm := NewNodeManager(time.Minute)
	nm.now = func() time.Time { return now }
	nm.AddNode("a:1", true)
	nm.AddNode("b:1", true)

	score, banned := nm.UpdateScore("a:1", 500)
	require.Equal(t, MaxScore, score)
	require.False(t, banned)
	require.Equal(t, []string{"a:1", "b:1"}, nm.Dialable())

	score, banned = nm.UpdateScore("b:1", -InitialScore)
	require.Zero(t, score)
	require.True(t, banned)
	require.Equal(t, []string{"a:1"}, nm.Dialable())
	require.Error(t, nm.AddPeer("b:1", true))

	now = now.Add(2 * time.Minute)
	require.False(t, nm.IsBanned("b:1"))
	n, _ := nm.GetNode("b:1")
	require.Equal(t, ScoreFloor, n.Score)
	require.Contains(t, nm.Dialable(), "b:1")

	_, banned = nm.UpdateScore("unknown:1", -10)
	require.False(t, banned)
}

func TestPeersAndPruning(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	nm := NewNodeManager(time.Minute)
	nm.now = func() time.Time { return now }

	require.NoError(t, nm.AddPeer("a:1", false))
	require.NoError(t, nm.AddPeer("b:1", true))
	require.Equal(t, []string{"a:1", "b:1"}, nm.GetPeers())
	require.Empty(t, nm.Dialable())

	nm.Touch("a:1")
	now = now.Add(time.Hour)
	nm.Touch("a:1")
	require.Equal(t, []string{"b:1"}, nm.PruneInactivePeers(time.Minute))
	require.Equal(t, []string{"a:1"}, nm.GetPeers())

	nm.RemovePeer("a:1")
	snap := nm.Snapshot()
	require.Len(t, snap, 2)
	for _, info := range snap {
		require.False(t, info.Connected)
		require.Equal(t, NodeStatusInactive, info.Status)
	}
}

func TestGetNodePortConfigs(t *testing.T) {
	configs, err := GetNodePortConfigs(3, 45100)
	require.NoError(t, err)
	require.Len(t, configs, 3)
	seen := map[string]bool{}
	for i, c := range configs {
		require.Equal(t, "Node-"+string(rune('0'+i)), c.Name)
		require.False(t, seen[c.P2PAddr])
		require.False(t, seen[c.HTTPAddr])
		seen[c.P2PAddr], seen[c.HTTPAddr] = true, true
	}
	_, err = GetNodePortConfigs(0, 45100)
	require.Error(t, err)
}
