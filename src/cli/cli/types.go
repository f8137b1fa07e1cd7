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

// go/src/cli/cli/types.go
package cli

// Flag names
const (
	ConfigKey   = "config"
	LogLevelKey = "log-level"
	LogFileKey  = "log-file"
	OutKey      = "out"
	NodesKey    = "nodes"
	BasePortKey = "base-port"
	DataDirKey  = "data-dir"
	APIKey      = "api"
	TimeoutKey  = "timeout"
)

// testnetFlags holds the parsed flags of the testnet command.
type testnetFlags struct {
	nodes    int
	basePort int
	dataDir  string
}

// NodeSummary is printed for every testnet node once it is up.
type NodeSummary struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	P2P       string `json:"p2p"`
	State     string `json:"state"`
	Leader    string `json:"leader"`
}
