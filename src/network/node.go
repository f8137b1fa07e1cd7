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

// go/src/network/node.go
package network

import (
	"time"
)

// NewNode creates an address book entry with the initial score.
func NewNode(address string, seed bool) *Node {
	return &Node{
		Address:  address,
		Status:   NodeStatusUnknown,
		Score:    InitialScore,
		LastSeen: time.Now(),
		Seed:     seed,
	}
}

// UpdateStatus sets the node's status and updates the timestamp.
func (n *Node) UpdateStatus(status NodeStatus) {
	n.Status = status
	n.LastSeen = time.Now()
}

// NewPeer constructs a disconnected peer for node.
func NewPeer(node *Node, inbound bool) *Peer {
	return &Peer{
		Node:             node,
		ConnectionStatus: "disconnected",
		Inbound:          inbound,
	}
}

// ConnectPeer marks the peer connected.
func (p *Peer) ConnectPeer() {
	now := time.Now()
	p.ConnectionStatus = "connected"
	p.ConnectedAt = now
	p.LastSeen = now
	p.Node.UpdateStatus(NodeStatusActive)
}

// DisconnectPeer marks a peer as disconnected.
func (p *Peer) DisconnectPeer() {
	p.ConnectionStatus = "disconnected"
	p.ConnectedAt = time.Time{}
	p.Node.UpdateStatus(NodeStatusInactive)
}

// GetPeerInfo returns a serializable summary of the node.
func (n *Node) GetPeerInfo() PeerInfo {
	return PeerInfo{
		Address:   n.Address,
		AccountID: n.AccountID,
		Status:    n.Status,
		Score:     n.Score,
		LastSeen:  n.LastSeen,
	}
}
