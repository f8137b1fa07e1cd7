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

// go/src/network/manager.go
package network

import (
	"fmt"
	"sort"
	"time"

	logger "github.com/lyra-core/go/src/log"
)

// NewNodeManager creates an empty address book. Peers whose score drops to
// zero are banned for banDuration.
func NewNodeManager(banDuration time.Duration) *NodeManager {
	return &NodeManager{
		nodes:       make(map[string]*Node),
		peers:       make(map[string]*Peer),
		accounts:    make(map[string]string),
		bans:        make(map[string]time.Time),
		banDuration: banDuration,
		now:         time.Now,
	}
}

// AddNode adds an address if it is not known yet. It returns true when added.
func (nm *NodeManager) AddNode(address string, seed bool) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if _, exists := nm.nodes[address]; exists {
		return false
	}
	nm.nodes[address] = NewNode(address, seed)
	logger.Debugf("address book: added %s", address)
	return true
}

// UpsertAccount binds accountID to address, adding the address if needed.
// It returns true when the binding changed.
func (nm *NodeManager) UpsertAccount(accountID, address string) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if nm.accounts[accountID] == address {
		return false
	}
	if old, ok := nm.accounts[accountID]; ok {
		if n, exists := nm.nodes[old]; exists && n.AccountID == accountID {
			n.AccountID = ""
		}
	}
	n, exists := nm.nodes[address]
	if !exists {
		n = NewNode(address, false)
		nm.nodes[address] = n
	}
	n.AccountID = accountID
	nm.accounts[accountID] = address
	return true
}

// AddressOf returns the address announced by accountID.
func (nm *NodeManager) AddressOf(accountID string) (string, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	addr, ok := nm.accounts[accountID]
	return addr, ok
}

// RemoveNode removes an address and its peer entry.
func (nm *NodeManager) RemoveNode(address string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if n, exists := nm.nodes[address]; exists {
		if n.AccountID != "" && nm.accounts[n.AccountID] == address {
			delete(nm.accounts, n.AccountID)
		}
		delete(nm.nodes, address)
		delete(nm.peers, address)
	}
}

// GetNode returns a copy of the entry of address.
func (nm *NodeManager) GetNode(address string) (Node, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	n, ok := nm.nodes[address]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// AddPeer records an open connection to address. Banned addresses are refused.
func (nm *NodeManager) AddPeer(address string, inbound bool) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if nm.bannedLocked(address) {
		return fmt.Errorf("peer %s is banned until %s", address, nm.bans[address].Format(time.RFC3339))
	}
	n, exists := nm.nodes[address]
	if !exists {
		n = NewNode(address, false)
		nm.nodes[address] = n
	}
	peer := NewPeer(n, inbound)
	peer.ConnectPeer()
	peer.LastSeen = nm.now()
	nm.peers[address] = peer
	return nil
}

// RemovePeer records a closed connection.
func (nm *NodeManager) RemovePeer(address string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if peer, exists := nm.peers[address]; exists {
		peer.DisconnectPeer()
		delete(nm.peers, address)
	}
}

// Touch records activity on a connected peer.
func (nm *NodeManager) Touch(address string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	now := nm.now()
	if peer, ok := nm.peers[address]; ok {
		peer.LastSeen = now
		peer.Node.LastSeen = now
	}
}

// PruneInactivePeers drops connected peers silent for longer than timeout
// and returns their addresses.
func (nm *NodeManager) PruneInactivePeers(timeout time.Duration) []string {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	var pruned []string
	now := nm.now()
	for addr, peer := range nm.peers {
		if now.Sub(peer.LastSeen) > timeout {
			peer.DisconnectPeer()
			delete(nm.peers, addr)
			pruned = append(pruned, addr)
		}
	}
	return pruned
}

// UpdateScore adjusts the score of address, clamped to [0, MaxScore].
// A score reaching zero bans the address. It returns the new score and
// whether the address is banned.
func (nm *NodeManager) UpdateScore(address string, delta int) (int, bool) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	n, exists := nm.nodes[address]
	if !exists {
		return 0, false
	}
	n.Score += delta
	switch {
	case n.Score <= 0:
		n.Score = 0
		nm.bans[address] = nm.now().Add(nm.banDuration)
		logger.Warnf("address book: banned %s until %s", address, nm.bans[address].Format(time.RFC3339))
	case n.Score > MaxScore:
		n.Score = MaxScore
	}
	return n.Score, nm.bannedLocked(address)
}

// IsBanned reports whether address is currently banned.
func (nm *NodeManager) IsBanned(address string) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.bannedLocked(address)
}

func (nm *NodeManager) bannedLocked(address string) bool {
	until, ok := nm.bans[address]
	if !ok {
		return false
	}
	if nm.now().After(until) {
		delete(nm.bans, address)
		if n, exists := nm.nodes[address]; exists && n.Score < ScoreFloor {
			n.Score = ScoreFloor
		}
		return false
	}
	return true
}

// Dialable returns unconnected, unbanned addresses at or above the score
// floor, best score first.
func (nm *NodeManager) Dialable() []string {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	var out []*Node
	for addr, n := range nm.nodes {
		if _, connected := nm.peers[addr]; connected || nm.bannedLocked(addr) || n.Score < ScoreFloor {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Address < out[j].Address
	})
	addrs := make([]string, len(out))
	for i, n := range out {
		addrs[i] = n.Address
	}
	return addrs
}

// GetPeers returns the connected addresses.
func (nm *NodeManager) GetPeers() []string {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	addrs := make([]string, 0, len(nm.peers))
	for addr := range nm.peers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Snapshot lists every entry, sorted by address.
func (nm *NodeManager) Snapshot() []PeerInfo {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	out := make([]PeerInfo, 0, len(nm.nodes))
	for addr, n := range nm.nodes {
		info := n.GetPeerInfo()
		_, info.Connected = nm.peers[addr]
		info.Banned = nm.bannedLocked(addr)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
