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

// go/src/params/network.go
package params

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Protocol level constants shared by every node of a network.
const (
	ProtocolVersion = 4       // Wire protocol version carried by every signed message
	NodeVersion     = "2.2.0" // Software version announced in heartbeats

	MinAuthorizers = 4  // Lower clamp of the primary authorizer set
	MaxAuthorizers = 19 // Upper clamp of the primary authorizer set, also the voter cap

	ConsensusTimeout  = 8 * time.Second  // Session abandon threshold
	ViewChangeTimeout = 10 * time.Second // Round abandon threshold
	StaleNodeWindow   = 60 * time.Second // Billboard pruning window on observe
	StakeRefreshStale = 40 * time.Second // Pruning window applied when stakes are refreshed
	ReplayWindow      = 18 * time.Second // Oldest accepted message age
	FutureSkew        = 3 * time.Second  // Newest accepted message skew
	MessageRetention  = 60 * time.Second // Relay dedup cache retention

	HeartbeatInterval = 15 * time.Second
	SweepInterval     = 200 * time.Millisecond
	StatusWait        = 5 * time.Second

	GenesisQuorum = 4 // Primary authorizers that must be in Genesis before seed0 starts
)

// MinimalAuthorizerBalance is the stake required to be selected as a voter.
var MinimalAuthorizerBalance = uint256.NewInt(1_000_000)

// GenesisStake is the stake credited to every standby validator by the genesis service block.
var GenesisStake = uint256.NewInt(2_000_000)

// NetworkParameters identifies a Lyra network and its standby validators.
type NetworkParameters struct {
	NetworkID         string   // Human readable network id (devnet, testnet, ...)
	ProtocolVersion   int      // Protocol version accepted on this network
	StandbyValidators []string // Seed account ids, seed0 first
	DefaultP2PPort    uint16   // Default websocket port
	DefaultHTTPPort   uint16   // Default REST port
}

// DevnetParams returns the parameters for a local development network.
func DevnetParams(seeds []string) *NetworkParameters {
	return &NetworkParameters{
		NetworkID:         "devnet",
		ProtocolVersion:   ProtocolVersion,
		StandbyValidators: append([]string(nil), seeds...),
		DefaultP2PPort:    4504,
		DefaultHTTPPort:   4505,
	}
}

// TestnetParams returns the parameters for the public test network.
func TestnetParams(seeds []string) *NetworkParameters {
	params := DevnetParams(seeds)
	params.NetworkID = "testnet"
	params.DefaultP2PPort = 4503
	params.DefaultHTTPPort = 4506
	return params
}

// ForNetwork selects parameters by network id.
func ForNetwork(id string, seeds []string) (*NetworkParameters, error) {
	switch id {
	case "", "devnet":
		return DevnetParams(seeds), nil
	case "testnet":
		return TestnetParams(seeds), nil
	default:
		return nil, fmt.Errorf("unknown network id: %s", id)
	}
}

// Seed0 returns the first standby validator or an empty string.
func (p *NetworkParameters) Seed0() string {
	if len(p.StandbyValidators) == 0 {
		return ""
	}
	return p.StandbyValidators[0]
}

// Validate checks that enough seeds are configured to bootstrap a network.
func (p *NetworkParameters) Validate() error {
	if len(p.StandbyValidators) < MinAuthorizers {
		return fmt.Errorf("network %s needs at least %d standby validators, got %d",
			p.NetworkID, MinAuthorizers, len(p.StandbyValidators))
	}
	seen := make(map[string]struct{}, len(p.StandbyValidators))
	for _, id := range p.StandbyValidators {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate standby validator %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
