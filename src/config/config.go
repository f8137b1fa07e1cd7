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

// go/src/config/config.go
// Package config loads the node configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/params"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment overrides of the dotted keys.
const EnvPrefix = "LYRA"

// Keys that also bind to an unprefixed environment variable.
var exactEnv = map[string]string{
	"consensus_timeout":     "CONSENSUS_TIMEOUT",
	"viewchange_timeout":    "VIEWCHANGE_TIMEOUT",
	"min_authorizers":       "MIN_AUTHORIZERS",
	"max_authorizers":       "MAX_AUTHORIZERS",
	"stale_node_window":     "STALE_NODE_WINDOW",
	"message_replay_window": "MESSAGE_REPLAY_WINDOW",
}

// Config is the resolved configuration of one node.
type Config struct {
	Network           string
	StandbyValidators []string // Seed account ids, seed0 first

	DataDir string
	KeyFile string

	LogLevel string
	LogFile  string

	P2PListen     string
	PublicAddress string
	Peers         []string
	HTTPListen    string

	ConsensusTimeout  time.Duration
	ViewChangeTimeout time.Duration
	StaleNodeWindow   time.Duration
	ReplayWindow      time.Duration
	MinAuthorizers    int
	MaxAuthorizers    int

	HeartbeatInterval    time.Duration
	SweepInterval        time.Duration
	StatusWait           time.Duration
	MaxViewChangeRetries int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "devnet")
	v.SetDefault("node.data_dir", "data")
	v.SetDefault("node.key_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("p2p.listen", "0.0.0.0:4504")
	v.SetDefault("p2p.public_address", "")
	v.SetDefault("http.listen", "127.0.0.1:4505")

	v.SetDefault("consensus_timeout", int(params.ConsensusTimeout/time.Second))
	v.SetDefault("viewchange_timeout", int(params.ViewChangeTimeout/time.Second))
	v.SetDefault("stale_node_window", int(params.StaleNodeWindow/time.Second))
	v.SetDefault("message_replay_window", int(params.ReplayWindow/time.Second))
	v.SetDefault("min_authorizers", params.MinAuthorizers)
	v.SetDefault("max_authorizers", params.MaxAuthorizers)

	v.SetDefault("consensus.heartbeat_interval", params.HeartbeatInterval)
	v.SetDefault("consensus.sweep_interval", params.SweepInterval)
	v.SetDefault("consensus.status_wait", params.StatusWait)
	v.SetDefault("consensus.max_view_change_retries", 5)
}

// Load reads path when it is not empty, then applies the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range exactEnv {
		if err := v.BindEnv(key, env, EnvPrefix+"_"+strings.ToUpper(key)); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Network:           v.GetString("network"),
		StandbyValidators: stringList(v, "standby_validators"),
		DataDir:           v.GetString("node.data_dir"),
		KeyFile:           v.GetString("node.key_file"),
		LogLevel:          v.GetString("log.level"),
		LogFile:           v.GetString("log.file"),
		P2PListen:         v.GetString("p2p.listen"),
		PublicAddress:     v.GetString("p2p.public_address"),
		Peers:             stringList(v, "p2p.peers"),
		HTTPListen:        v.GetString("http.listen"),

		ConsensusTimeout:  seconds(v, "consensus_timeout"),
		ViewChangeTimeout: seconds(v, "viewchange_timeout"),
		StaleNodeWindow:   seconds(v, "stale_node_window"),
		ReplayWindow:      seconds(v, "message_replay_window"),
		MinAuthorizers:    v.GetInt("min_authorizers"),
		MaxAuthorizers:    v.GetInt("max_authorizers"),

		HeartbeatInterval:    v.GetDuration("consensus.heartbeat_interval"),
		SweepInterval:        v.GetDuration("consensus.sweep_interval"),
		StatusWait:           v.GetDuration("consensus.status_wait"),
		MaxViewChangeRetries: v.GetInt("consensus.max_view_change_retries"),
	}
	if cfg.PublicAddress == "" {
		cfg.PublicAddress = cfg.P2PListen
	}
	return cfg, nil
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

// stringList accepts a YAML list or a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	raw := v.Get(key)
	var items []string
	switch t := raw.(type) {
	case nil:
		return nil
	case string:
		items = strings.Split(t, ",")
	default:
		items = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// Validate checks the clamps and windows.
func (c *Config) Validate() error {
	if c.MinAuthorizers < params.MinAuthorizers {
		return fmt.Errorf("MIN_AUTHORIZERS must be at least %d, got %d", params.MinAuthorizers, c.MinAuthorizers)
	}
	if c.MinAuthorizers > c.MaxAuthorizers {
		return fmt.Errorf("MIN_AUTHORIZERS (%d) exceeds MAX_AUTHORIZERS (%d)", c.MinAuthorizers, c.MaxAuthorizers)
	}
	windows := map[string]time.Duration{
		"CONSENSUS_TIMEOUT":     c.ConsensusTimeout,
		"VIEWCHANGE_TIMEOUT":    c.ViewChangeTimeout,
		"STALE_NODE_WINDOW":     c.StaleNodeWindow,
		"MESSAGE_REPLAY_WINDOW": c.ReplayWindow,
		"heartbeat_interval":    c.HeartbeatInterval,
		"sweep_interval":        c.SweepInterval,
		"status_wait":           c.StatusWait,
	}
	for name, d := range windows {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.P2PListen == "" {
		return errors.New("p2p.listen is required")
	}
	if _, err := params.ForNetwork(c.Network, c.StandbyValidators); err != nil {
		return err
	}
	return nil
}

// NetworkParameters resolves the network id and standby validators.
func (c *Config) NetworkParameters() (*params.NetworkParameters, error) {
	p, err := params.ForNetwork(c.Network, c.StandbyValidators)
	if err != nil {
		return nil, err
	}
	return p, p.Validate()
}

// ConsensusOptions converts the configuration to engine options.
func (c *Config) ConsensusOptions(network *params.NetworkParameters) consensus.Options {
	opts := consensus.DefaultOptions(network)
	opts.ConsensusTimeout = c.ConsensusTimeout
	opts.ViewChangeTimeout = c.ViewChangeTimeout
	opts.StaleNodeWindow = c.StaleNodeWindow
	opts.ReplayWindow = c.ReplayWindow
	opts.MinAuthorizers = c.MinAuthorizers
	opts.MaxAuthorizers = c.MaxAuthorizers
	opts.HeartbeatInterval = c.HeartbeatInterval
	opts.SweepInterval = c.SweepInterval
	opts.StatusWait = c.StatusWait
	opts.MaxViewChangeRetries = c.MaxViewChangeRetries
	opts.Address = c.PublicAddress
	if c.StaleNodeWindow < opts.StakeRefreshStale {
		opts.StakeRefreshStale = c.StaleNodeWindow
	}
	return opts
}
