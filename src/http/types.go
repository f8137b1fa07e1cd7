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

// go/src/http/types.go
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/network"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// NodeAPI is what the REST server needs from a running node.
type NodeAPI interface {
	Status() consensus.EngineStatus
	Billboard() consensus.BillboardSnapshot
	Peers() []network.PeerInfo
	FindBlock(hash string) (*core.Block, error)
	Submit(b *core.Block) (Session, error)
}

// Session follows a submitted block.
type Session interface {
	Hash() string
	Wait(ctx context.Context) (consensus.ConsensusResult, error)
}

// Server is the REST endpoint of a node.
type Server struct {
	address     string
	router      *gin.Engine
	api         NodeAPI
	gatherer    prometheus.Gatherer
	waitTimeout time.Duration
	httpServer  *http.Server
	log         *zap.SugaredLogger
}

// SubmitResponse is returned by POST /blocks.
type SubmitResponse struct {
	Hash   string `json:"hash"`
	Result string `json:"result"`          // Pending, Yea, Nay or Uncertain
	UIndex int64  `json:"uindex,omitempty"` // Set once the block is persisted
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
