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

// go/src/cli/cli/cli.go
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lyra-core/go/src/bind"
	"github.com/lyra-core/go/src/common"
	"github.com/lyra-core/go/src/config"
	"github.com/lyra-core/go/src/http"
	logger "github.com/lyra-core/go/src/log"
	"github.com/lyra-core/go/src/params"
	"github.com/lyra-core/go/src/security"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the lyra-node command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "lyra-node",
		Short:         "Lyra validator node",
		Version:       params.NodeVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			lvl, _ := c.Flags().GetString(LogLevelKey)
			file, _ := c.Flags().GetString(LogFileKey)
			return logger.Init(lvl, file)
		},
	}
	root.PersistentFlags().String(LogLevelKey, "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String(LogFileKey, "", "Optional JSON log file")

	root.AddCommand(runCommand(), keygenCommand(), testnetCommand(), statusCommand())
	return root
}

func runCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Runs a validator node",
		RunE:  runFunc,
	}
	c.Flags().String(ConfigKey, "", "Path to the node YAML configuration")
	return c
}

func runFunc(c *cobra.Command, _ []string) error {
	path, _ := c.Flags().GetString(ConfigKey)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, file := cfg.LogLevel, cfg.LogFile
	if c.Flags().Changed(LogLevelKey) {
		level, _ = c.Flags().GetString(LogLevelKey)
	}
	if c.Flags().Changed(LogFileKey) {
		file, _ = c.Flags().GetString(LogFileKey)
	}
	if err := logger.Init(level, file); err != nil {
		return err
	}
	defer logger.Sync()

	netParams, err := cfg.NetworkParameters()
	if err != nil {
		return err
	}
	keyFile := cfg.KeyFile
	if keyFile == "" {
		keyFile = common.GetKeyFilePath(cfg.DataDir, "node")
	}
	id, err := security.LoadOrCreateIdentity(keyFile)
	if err != nil {
		return err
	}

	node, err := bind.NewNode(bind.NodeConfig{
		Name:          "node",
		Identity:      id,
		Network:       netParams,
		Options:       cfg.ConsensusOptions(netParams),
		P2PListen:     cfg.P2PListen,
		PublicAddress: cfg.PublicAddress,
		Peers:         cfg.Peers,
		HTTPListen:    cfg.HTTPListen,
		LedgerPath:    common.GetLevelDBPath(cfg.DataDir, "node"),
	})
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		node.Ledger.Close()
		return err
	}
	logger.Infof("Validator %s running on %s (%s)", id.AccountID(), netParams.NetworkID, cfg.P2PListen)

	ctx, stop := signalContext(c.Context())
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reportStatus(gctx, []*bind.Node{node}, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("Shutting down validator")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return node.Shutdown(sctx)
	})
	return g.Wait()
}

func keygenCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "keygen",
		Short: "Generates a node identity file",
		RunE: func(c *cobra.Command, _ []string) error {
			out, _ := c.Flags().GetString(OutKey)
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			id, err := security.GenerateIdentity()
			if err != nil {
				return err
			}
			if err := id.Save(out); err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), id.AccountID())
			return nil
		},
	}
	c.Flags().String(OutKey, "node_key.json", "Identity file to write")
	return c
}

func testnetCommand() *cobra.Command {
	var f testnetFlags
	c := &cobra.Command{
		Use:   "testnet",
		Short: "Runs an in-process network of validators",
		RunE: func(c *cobra.Command, _ []string) error {
			return testnetFunc(c, f)
		},
	}
	c.Flags().IntVar(&f.nodes, NodesKey, params.MinAuthorizers, "Number of validators")
	c.Flags().IntVar(&f.basePort, BasePortKey, 4500, "First port to try")
	c.Flags().StringVar(&f.dataDir, DataDirKey, "", "Data directory; empty keeps everything in memory")
	return c
}

func testnetFunc(c *cobra.Command, f testnetFlags) error {
	defer logger.Sync()
	nodes, err := bind.SetupNodes(bind.TestnetConfig{Nodes: f.nodes, BasePort: f.basePort, DataDir: f.dataDir})
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context())
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wctx, cancel := context.WithTimeout(gctx, 2*time.Minute)
		defer cancel()
		if err := bind.WaitAlmighty(wctx, nodes); err != nil {
			logger.Warnf("Testnet not ready: %v", err)
			return nil
		}
		return printJSON(c.OutOrStdout(), summarize(nodes))
	})
	g.Go(func() error {
		reportStatus(gctx, nodes, 30*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return bind.Shutdown(sctx, nodes)
	})
	return g.Wait()
}

func statusCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Prints the status of a running node",
		RunE: func(c *cobra.Command, _ []string) error {
			api, _ := c.Flags().GetString(APIKey)
			timeout, _ := c.Flags().GetDuration(TimeoutKey)
			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()
			st, err := http.NewClient(api, timeout).Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), st)
		},
	}
	c.Flags().String(APIKey, "127.0.0.1:4505", "REST address of the node")
	c.Flags().Duration(TimeoutKey, 5*time.Second, "Request timeout")
	return c
}
