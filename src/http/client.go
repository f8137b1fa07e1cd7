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

// go/src/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/core"
)

// Client talks to the REST server of a node.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient creates a client for host:port.
func NewClient(address string, timeout time.Duration) *Client {
	return &Client{base: "http://" + address, hc: &http.Client{Timeout: timeout}}
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (consensus.EngineStatus, error) {
	var st consensus.EngineStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Billboard fetches GET /billboard.
func (c *Client) Billboard(ctx context.Context) (consensus.BillboardSnapshot, error) {
	var snap consensus.BillboardSnapshot
	err := c.do(ctx, http.MethodGet, "/billboard", nil, &snap)
	return snap, err
}

// Block fetches GET /blocks/:hash.
func (c *Client) Block(ctx context.Context, hash string) (*core.Block, error) {
	var b core.Block
	if err := c.do(ctx, http.MethodGet, "/blocks/"+hash, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SubmitBlock posts a signed block and returns the session outcome.
func (c *Client) SubmitBlock(ctx context.Context, b *core.Block) (SubmitResponse, error) {
	var resp SubmitResponse
	err := c.do(ctx, http.MethodPost, "/blocks", b, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: %d", method, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
