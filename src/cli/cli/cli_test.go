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

// go/src/cli/cli/cli_test.go
package cli

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lyra-core/go/src/security"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestKeygenWritesIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node_key.json")
	out, err := execute(t, "keygen", "--out", path, "--log-level", "error")
	require.NoError(t, err)

	account := strings.TrimSpace(out)
	require.True(t, security.ValidateAccountID(account))

	id, err := security.LoadOrCreateIdentity(path)
	require.NoError(t, err)
	require.Equal(t, account, id.AccountID())

	_, err = execute(t, "keygen", "--out", path, "--log-level", "error")
	require.ErrorContains(t, err, "already exists")
}

func TestRunRejectsBadConfig(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "error")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_authorizers: 2\n"), 0o600))
	_, err = execute(t, "run", "--config", path, "--log-level", "error")
	require.ErrorContains(t, err, "MIN_AUTHORIZERS")
}

func TestBadLogLevel(t *testing.T) {
	_, err := execute(t, "keygen", "--out", filepath.Join(t.TempDir(), "k.json"), "--log-level", "loud")
	require.Error(t, err)
}

func TestStatusUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = execute(t, "status", "--api", addr, "--timeout", "1s", "--log-level", "error")
	require.Error(t, err)
}

func TestTestnetNeedsFourNodes(t *testing.T) {
	_, err := execute(t, "testnet", "--nodes", "2", "--log-level", "error")
	require.Error(t, err)
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, []NodeSummary{{Name: "Node-0", AccountID: "acc", State: "Almighty"}}))
	var got []NodeSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "Node-0", got[0].Name)
}
