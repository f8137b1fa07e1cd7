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

// go/src/http/node.go
package http

import (
	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/network"
)

// engineAPI adapts a consensus engine to NodeAPI.
type engineAPI struct {
	engine *consensus.Engine
	chain  core.ChainReader
	peers  func() []network.PeerInfo
}

// FromEngine builds the NodeAPI of a running node. peers may be nil.
func FromEngine(engine *consensus.Engine, chain core.ChainReader, peers func() []network.PeerInfo) NodeAPI {
	return &engineAPI{engine: engine, chain: chain, peers: peers}
}

func (a *engineAPI) Status() consensus.EngineStatus { return a.engine.Status() }

func (a *engineAPI) Billboard() consensus.BillboardSnapshot { return a.engine.Billboard().Snapshot() }

func (a *engineAPI) Peers() []network.PeerInfo {
	if a.peers == nil {
		return []network.PeerInfo{}
	}
	return a.peers()
}

func (a *engineAPI) FindBlock(hash string) (*core.Block, error) { return a.chain.FindBlockByHash(hash) }

func (a *engineAPI) Submit(b *core.Block) (Session, error) {
	h, err := a.engine.Submit(b)
	if err != nil {
		return nil, err
	}
	return h, nil
}
