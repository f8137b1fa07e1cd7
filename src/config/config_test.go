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

// go/src/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
network: testnet
standby_validators:
  - seedA
  - seedB
  - seedC
  - seedD
node:
  data_dir: /tmp/lyra
log:
  level: debug
p2p:
  listen: 127.0.0.1:4600
  peers: [127.0.0.1:4601, 127.0.0.1:4602]
consensus_timeout: 12
min_authorizers: 5
consensus:
  heartbeat_interval: 2s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "devnet", cfg.Network)
	require.Equal(t, 8*time.Second, cfg.ConsensusTimeout)
	require.Equal(t, 10*time.Second, cfg.ViewChangeTimeout)
	require.Equal(t, 60*time.Second, cfg.StaleNodeWindow)
	require.Equal(t, 18*time.Second, cfg.ReplayWindow)
	require.Equal(t, 4, cfg.MinAuthorizers)
	require.Equal(t, 19, cfg.MaxAuthorizers)
	require.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 200*time.Millisecond, cfg.SweepInterval)
	require.Equal(t, cfg.P2PListen, cfg.PublicAddress)
	require.NoError(t, cfg.Validate())

	// four standby validators are needed to build the network parameters
	_, err = cfg.NetworkParameters()
	require.Error(t, err)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("VIEWCHANGE_TIMEOUT", "7")
	t.Setenv("MAX_AUTHORIZERS", "9")
	t.Setenv("LYRA_LOG_LEVEL", "warn")
	t.Setenv("LYRA_HTTP_LISTEN", "127.0.0.1:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "testnet", cfg.Network)
	require.Equal(t, []string{"seedA", "seedB", "seedC", "seedD"}, cfg.StandbyValidators)
	require.Equal(t, []string{"127.0.0.1:4601", "127.0.0.1:4602"}, cfg.Peers)
	require.Equal(t, "/tmp/lyra", cfg.DataDir)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, "127.0.0.1:9000", cfg.HTTPListen)
	require.Equal(t, 12*time.Second, cfg.ConsensusTimeout)
	require.Equal(t, 7*time.Second, cfg.ViewChangeTimeout)
	require.Equal(t, 5, cfg.MinAuthorizers)
	require.Equal(t, 9, cfg.MaxAuthorizers)
	require.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	require.NoError(t, cfg.Validate())

	network, err := cfg.NetworkParameters()
	require.NoError(t, err)
	require.Equal(t, "seedA", network.Seed0())

	opts := cfg.ConsensusOptions(network)
	require.Equal(t, 12*time.Second, opts.ConsensusTimeout)
	require.Equal(t, 9, opts.MaxAuthorizers)
	require.Equal(t, "127.0.0.1:4600", opts.Address)
	require.NoError(t, opts.Validate())
}

func TestEnvironmentLists(t *testing.T) {
	t.Setenv("LYRA_STANDBY_VALIDATORS", "a, b,c,,d")
	t.Setenv("LYRA_P2P_PEERS", "127.0.0.1:1")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d"}, cfg.StandbyValidators)
	require.Equal(t, []string{"127.0.0.1:1"}, cfg.Peers)
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.MinAuthorizers = 3
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.MinAuthorizers, cfg.MaxAuthorizers = 10, 9
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.ReplayWindow = 0
	require.ErrorContains(t, cfg.Validate(), "MESSAGE_REPLAY_WINDOW")

	cfg = base()
	cfg.Network = "mainnet"
	require.Error(t, cfg.Validate())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
