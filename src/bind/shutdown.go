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

// go/src/bind/shutdown.go
package bind

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/lyra-core/go/src/log"
)

// Shutdown stops one node in reverse start order: REST, engine, gossip,
// then the ledger.
func (n *Node) Shutdown(ctx context.Context) error {
	var errs []error
	if n.HTTP != nil && n.httpDone != nil {
		logger.Infof("Shutting down REST server for %s", n.Name)
		if err := n.HTTP.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("REST server shutdown failed for %s: %w", n.Name, err))
		} else if err := <-n.httpDone; err != nil {
			errs = append(errs, fmt.Errorf("REST server for %s: %w", n.Name, err))
		}
		n.httpDone = nil
	}

	logger.Infof("Stopping consensus engine for %s", n.Name)
	n.Engine.Stop()
	if err := n.Engine.LastError(); err != nil {
		logger.Warnf("Engine of %s stopped with %v", n.Name, err)
	}

	logger.Infof("Stopping p2p server for %s", n.Name)
	n.P2P.Stop()

	if err := n.Ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger close failed for %s: %w", n.Name, err))
	}
	return errors.Join(errs...)
}

// Shutdown stops every node, last started first.
func Shutdown(ctx context.Context, nodes []*Node) error {
	var errs []error
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i] == nil {
			continue
		}
		if err := nodes[i].Shutdown(ctx); err != nil {
			logger.Errorf("Shutdown of %s: %v", nodes[i].Name, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
