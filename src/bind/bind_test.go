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

// go/src/bind/bind_test.go
package bind

import (
	"context"
	"testing"
	"time"

	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/http"
	"github.com/lyra-core/go/src/params"
	"github.com/lyra-core/go/src/security"
	"github.com/stretchr/testify/require"
)

func fastOptions() consensus.Options {
	return consensus.Options{
		HeartbeatInterval: 100 * time.Millisecond,
		SweepInterval:     20 * time.Millisecond,
		StatusWait:        300 * time.Millisecond,
		GenesisPoll:       100 * time.Millisecond,
		NewLeaderDelay:    100 * time.Millisecond,
		ConsensusTimeout:  5 * time.Second,
		ViewChangeTimeout: 3 * time.Second,
	}
}

func TestNewNodeValidatesConfig(t *testing.T) {
	_, err := NewNode(NodeConfig{Name: "n"})
	require.Error(t, err)

	_, err = SetupNodes(TestnetConfig{Nodes: 3, BasePort: 47000})
	require.Error(t, err)

	id, err := security.GenerateIdentity()
	require.NoError(t, err)
	_, err = NewNode(NodeConfig{
		Name:      "n",
		Identity:  id,
		Network:   params.DevnetParams([]string{id.AccountID()}),
		P2PListen: "127.0.0.1:0",
	})
	require.Error(t, err, "a single standby validator is not a network")
}

func TestTestnetReachesAlmighty(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-node network test")
	}
	nodes, err := SetupNodes(TestnetConfig{Nodes: 4, BasePort: 47100, DataDir: t.TempDir(), Options: fastOptions()})
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, Shutdown(ctx, nodes))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
	defer cancel()
	require.NoError(t, WaitAlmighty(ctx, nodes))

	c := http.NewClient(nodes[0].httpAddr, 5*time.Second)
	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, consensus.StateAlmighty.String(), st.State)
	require.Equal(t, nodes[0].Identity.AccountID(), st.AccountID)
	require.NotEmpty(t, st.LastServiceHash)

	snap, err := c.Billboard(ctx)
	require.NoError(t, err)
	require.Len(t, snap.PrimaryAuthorizers, 4)

	require.Len(t, nodes[1].P2P.Peers(), 3)
}
