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

// go/src/cli/cli/helper.go
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyra-core/go/src/bind"
	"github.com/lyra-core/go/src/common"
	logger "github.com/lyra-core/go/src/log"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func summarize(nodes []*bind.Node) []NodeSummary {
	out := make([]NodeSummary, len(nodes))
	for i, n := range nodes {
		st := n.Engine.Status()
		out[i] = NodeSummary{
			Name:      n.Name,
			AccountID: st.AccountID,
			P2P:       n.P2P.Address(),
			State:     st.State,
			Leader:    st.Leader,
		}
	}
	return out
}

// reportStatus logs one line per node every interval until ctx is done.
func reportStatus(ctx context.Context, nodes []*bind.Node, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, n := range nodes {
			st := n.Engine.Status()
			logger.Infof("%s: state=%s leader=%s blocks=%d uindex=%d peers=%d",
				n.Name, st.State, common.Shorten(st.Leader), st.TotalBlockCount, st.LastUIndex, n.P2P.ConnectionCount())
			if st.LastError != "" {
				logger.Warnf("%s: %s", n.Name, st.LastError)
			}
		}
	}
}
