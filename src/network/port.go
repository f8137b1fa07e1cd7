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

// go/src/network/port.go
package network

import (
	"fmt"
	"net"
)

const portStep = 2 // p2p and http port of one node

// FindFreePort returns the first TCP port at or above basePort that can be
// bound on 127.0.0.1, skipping ports in used.
func FindFreePort(basePort int, used map[int]bool) (int, error) {
	for port := basePort; port <= 65535; port++ {
		if used[port] {
			continue
		}
		ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free tcp ports available starting from %d", basePort)
}

// GetNodePortConfigs assigns a websocket and a REST port to numNodes local
// nodes, starting at basePort and skipping ports already taken.
func GetNodePortConfigs(numNodes, basePort int) ([]NodePortConfig, error) {
	if numNodes <= 0 {
		return nil, fmt.Errorf("node count must be positive, got %d", numNodes)
	}
	used := make(map[int]bool)
	configs := make([]NodePortConfig, numNodes)
	next := basePort
	for i := range configs {
		p2pPort, err := FindFreePort(next, used)
		if err != nil {
			return nil, fmt.Errorf("p2p port for node %d: %w", i, err)
		}
		used[p2pPort] = true
		httpPort, err := FindFreePort(p2pPort+1, used)
		if err != nil {
			return nil, fmt.Errorf("http port for node %d: %w", i, err)
		}
		used[httpPort] = true
		configs[i] = NodePortConfig{
			Name:     fmt.Sprintf("Node-%d", i),
			P2PAddr:  fmt.Sprintf("127.0.0.1:%d", p2pPort),
			HTTPAddr: fmt.Sprintf("127.0.0.1:%d", httpPort),
		}
		next = p2pPort + portStep
	}
	return configs, nil
}
