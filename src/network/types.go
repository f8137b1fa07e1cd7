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

// go/src/network/types.go
package network

import (
	"sync"
	"time"
)

// NodeStatus represents the connection state of a known address.
type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusInactive NodeStatus = "inactive"
	NodeStatusUnknown  NodeStatus = "unknown"
)

// Score bounds of the address book.
const (
	InitialScore = 50  // Score of a newly learned address
	MaxScore     = 100 // Upper clamp
	ScoreFloor   = 20  // Addresses below the floor are not dialed
)

// NodeManager is the address book of a validator: every known peer address,
// the account behind it once announced, its connection state and score.
type NodeManager struct {
	nodes       map[string]*Node     // Known nodes, keyed by address
	peers       map[string]*Peer     // Connected peers, keyed by address
	accounts    map[string]string    // Account id -> address
	bans        map[string]time.Time // Address -> ban expiry
	banDuration time.Duration        // Ban applied when a score reaches zero
	now         func() time.Time
	mu          sync.RWMutex
}

// Node is one known peer address.
type Node struct {
	Address   string     // host:port of the peer's websocket endpoint
	AccountID string     // Validator account announced from this address, if known
	Status    NodeStatus // Current status (active/inactive/unknown)
	Score     int        // Behaviour score in [0, MaxScore]
	LastSeen  time.Time  // Last activity timestamp
	Seed      bool       // Configured rather than learned
}

// Peer is a node with an open connection.
type Peer struct {
	Node             *Node
	ConnectionStatus string    // connected/disconnected
	Inbound          bool      // Accepted rather than dialed
	ConnectedAt      time.Time // Connection timestamp
	LastSeen         time.Time // Last message received
}

// PeerInfo is a shareable snapshot of an address book entry.
type PeerInfo struct {
	Address   string     `json:"address"`
	AccountID string     `json:"account_id,omitempty"`
	Status    NodeStatus `json:"status"`
	Score     int        `json:"score"`
	Connected bool       `json:"connected"`
	LastSeen  time.Time  `json:"last_seen"`
	Banned    bool       `json:"banned,omitempty"`
}

// NodePortConfig is the port assignment of one testnet node.
type NodePortConfig struct {
	Name     string // Node name (e.g., Node-0, Node-1)
	P2PAddr  string // Websocket listen address (e.g., 127.0.0.1:4500)
	HTTPAddr string // REST listen address (e.g., 127.0.0.1:4501)
}
