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

// go/src/bind/bind.go
package bind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lyra-core/go/src/common"
	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/core"
	database "github.com/lyra-core/go/src/core/state"
	"github.com/lyra-core/go/src/http"
	logger "github.com/lyra-core/go/src/log"
	"github.com/lyra-core/go/src/p2p"
	"github.com/lyra-core/go/src/params"
	"github.com/lyra-core/go/src/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NodeConfig is everything needed to assemble one validator.
type NodeConfig struct {
	Name          string
	Identity      *security.Identity
	Network       *params.NetworkParameters
	Options       consensus.Options // Network and Address are filled in
	P2PListen     string
	PublicAddress string // Defaults to P2PListen
	Peers         []string
	HTTPListen    string // Empty disables the REST server
	LedgerPath    string // Empty keeps the ledger in memory
}

// Node is an assembled validator: ledger, engine, gossip and REST.
type Node struct {
	Name     string
	Identity *security.Identity
	Ledger   *database.Ledger
	Engine   *consensus.Engine
	P2P      *p2p.Server
	HTTP     *http.Server
	Registry *prometheus.Registry

	httpAddr string
	httpDone chan error
	mu       sync.Mutex
	started  bool
}

// NewNode wires a validator without starting it.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.Name == "" || cfg.Identity == nil || cfg.Network == nil || cfg.P2PListen == "" {
		return nil, errors.New("node config needs a name, an identity, network parameters and a p2p address")
	}
	if cfg.PublicAddress == "" {
		cfg.PublicAddress = cfg.P2PListen
	}

	var (
		ledger *database.Ledger
		err    error
	)
	if cfg.LedgerPath != "" {
		ledger, err = database.OpenLedger(cfg.LedgerPath)
	} else {
		ledger, err = database.OpenMemLedger()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger for %s: %w", cfg.Name, err)
	}

	srv, err := p2p.NewServer(p2p.Config{
		ListenAddress: cfg.P2PListen,
		PublicAddress: cfg.PublicAddress,
		Seeds:         cfg.Peers,
		PeerTimeout:   4 * nonZero(cfg.Options.HeartbeatInterval, params.HeartbeatInterval),
	})
	if err != nil {
		ledger.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := cfg.Options
	opts.Network = cfg.Network
	opts.Address = cfg.PublicAddress
	opts.Registerer = reg
	opts.OnNodeAddress = srv.OnNodeAddress
	engine, err := consensus.NewEngine(opts, cfg.Identity, ledger, core.NewRegistry(ledger, cfg.Identity), srv)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	srv.SetHandler(engine)

	n := &Node{
		Name:     cfg.Name,
		Identity: cfg.Identity,
		Ledger:   ledger,
		Engine:   engine,
		P2P:      srv,
		Registry: reg,
		httpAddr: cfg.HTTPListen,
	}
	if cfg.HTTPListen != "" {
		api := http.FromEngine(engine, ledger, srv.Peers)
		n.HTTP = http.NewServer(cfg.HTTPListen, api, reg, nonZero(cfg.Options.ConsensusTimeout, params.ConsensusTimeout))
	}
	return n, nil
}

func nonZero(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Start binds the listeners, then starts the engine.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return fmt.Errorf("node %s already started", n.Name)
	}
	if err := n.P2P.Start(); err != nil {
		return fmt.Errorf("p2p server for %s: %w", n.Name, err)
	}
	if n.HTTP != nil {
		ln, err := net.Listen("tcp", n.httpAddr)
		if err != nil {
			n.P2P.Stop()
			return fmt.Errorf("REST server for %s: %w", n.Name, err)
		}
		n.httpDone = make(chan error, 1)
		go func() { n.httpDone <- n.HTTP.Serve(ln) }()
	}
	if err := n.Engine.Start(); err != nil {
		if n.HTTP != nil {
			n.HTTP.Shutdown(context.Background())
			<-n.httpDone
			n.httpDone = nil
		}
		n.P2P.Stop()
		return err
	}
	n.started = true
	logger.Infof("Node %s started, account %s, p2p %s", n.Name, common.Shorten(n.Identity.AccountID()), n.P2P.Address())
	return nil
}
