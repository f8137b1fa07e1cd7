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

// go/src/bind/nodes.go
package bind

import (
	"context"
	"fmt"
	"time"

	"github.com/lyra-core/go/src/common"
	"github.com/lyra-core/go/src/consensus"
	logger "github.com/lyra-core/go/src/log"
	"github.com/lyra-core/go/src/network"
	"github.com/lyra-core/go/src/params"
	"github.com/lyra-core/go/src/security"
)

// TestnetConfig describes an in-process network of validators.
type TestnetConfig struct {
	Nodes    int
	BasePort int
	DataDir  string            // Empty keeps ledgers and keys in memory
	Options  consensus.Options // Timing overrides shared by every node
}

// SetupNodes assembles and starts a local network. Every node is a standby
// validator, the first one is seed0, and every node dials all others.
func SetupNodes(cfg TestnetConfig) ([]*Node, error) {
	if cfg.Nodes < params.MinAuthorizers {
		return nil, fmt.Errorf("a network needs at least %d nodes, got %d", params.MinAuthorizers, cfg.Nodes)
	}
	ports, err := network.GetNodePortConfigs(cfg.Nodes, cfg.BasePort)
	if err != nil {
		return nil, err
	}

	ids := make([]*security.Identity, cfg.Nodes)
	seeds := make([]string, cfg.Nodes)
	for i, pc := range ports {
		if cfg.DataDir != "" {
			ids[i], err = security.LoadOrCreateIdentity(common.GetKeyFilePath(cfg.DataDir, pc.Name))
		} else {
			ids[i], err = security.GenerateIdentity()
		}
		if err != nil {
			return nil, fmt.Errorf("identity for %s: %w", pc.Name, err)
		}
		seeds[i] = ids[i].AccountID()
	}
	netParams := params.DevnetParams(seeds)

	nodes := make([]*Node, 0, cfg.Nodes)
	for i, pc := range ports {
		peers := make([]string, 0, len(ports)-1)
		for j, other := range ports {
			if j != i {
				peers = append(peers, other.P2PAddr)
			}
		}
		nc := NodeConfig{
			Name:       pc.Name,
			Identity:   ids[i],
			Network:    netParams,
			Options:    cfg.Options,
			P2PListen:  pc.P2PAddr,
			Peers:      peers,
			HTTPListen: pc.HTTPAddr,
		}
		if cfg.DataDir != "" {
			nc.LedgerPath = common.GetLevelDBPath(cfg.DataDir, pc.Name)
		}
		n, err := NewNode(nc)
		if err != nil {
			shutdownQuietly(nodes)
			return nil, err
		}
		nodes = append(nodes, n)
	}

	for i, n := range nodes {
		if err := n.Start(); err != nil {
			shutdownQuietly(nodes)
			return nil, err
		}
		logger.Infof("Node %s: p2p %s, REST %s", n.Name, ports[i].P2PAddr, ports[i].HTTPAddr)
	}
	return nodes, nil
}

func shutdownQuietly(nodes []*Node) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].started {
			nodes[i].Shutdown(ctx)
		} else {
			nodes[i].Ledger.Close()
		}
	}
}

// WaitAlmighty blocks until every node reports the Almighty state.
func WaitAlmighty(ctx context.Context, nodes []*Node) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		ready := 0
		for _, n := range nodes {
			if n.Engine.State() == consensus.StateAlmighty {
				ready++
			}
		}
		if ready == len(nodes) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d of %d nodes reached Almighty: %w", ready, len(nodes), ctx.Err())
		case <-ticker.C:
		}
	}
}
