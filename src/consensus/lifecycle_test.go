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

// go/src/consensus/lifecycle_test.go
package consensus

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/lni/goutils/syncutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTransitionTable(t *testing.T) {
	legal := []struct {
		from    BlockChainState
		trigger Trigger
		to      BlockChainState
	}{
		{StateNull, TriggerLocalNodeStartup, StateInitializing},
		{StateInitializing, TriggerDatabaseSync, StateStaticSync},
		{StateStaticSync, TriggerQueryingConsensusNode, StateStaticSync},
		{StateStaticSync, TriggerConsensusBlockChainEmpty, StateGenesis},
		{StateStaticSync, TriggerConsensusNodesInitSynced, StateEngaging},
		{StateGenesis, TriggerGenesisDone, StateAlmighty},
		{StateEngaging, TriggerLocalNodeFullySynced, StateAlmighty},
		{StateAlmighty, TriggerLocalNodeOutOfSync, StateStaticSync},
		{StateAlmighty, TriggerLocalNodeMissingBlock, StateEngaging},
	}
	for _, tc := range legal {
		got, err := Transition(tc.from, tc.trigger)
		require.NoError(t, err, "%s on %s", tc.trigger, tc.from)
		require.Equal(t, tc.to, got)
	}

	illegal := []struct {
		from    BlockChainState
		trigger Trigger
	}{
		{StateNull, TriggerGenesisDone},
		{StateAlmighty, TriggerLocalNodeStartup},
		{StateGenesis, TriggerLocalNodeOutOfSync},
		{StateEngaging, TriggerConsensusBlockChainEmpty},
		{StateInitializing, TriggerLocalNodeFullySynced},
	}
	for _, tc := range illegal {
		got, err := Transition(tc.from, tc.trigger)
		require.ErrorIs(t, err, ErrIllegalTransition)
		require.Equal(t, tc.from, got)
	}
}

func TestFireIgnoresIllegalTriggers(t *testing.T) {
	e, _ := newIdleEngine(t, nil)
	require.False(t, e.fire(TriggerGenesisDone, 0))
	require.Equal(t, StateNull, e.State())
}

func TestRunPeriodicStopsWithStopper(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	stopper := syncutil.NewStopper()
	var calls atomic.Int32
	runPeriodic(stopper, 5*time.Millisecond, true, func() { calls.Add(1) })
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	stopper.Stop()

	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, n, calls.Load())
}

func TestEngineStopReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e, _ := newIdleEngine(t, nil)
	require.NoError(t, e.Start())
	require.Error(t, e.Start())
	require.Eventually(t, func() bool { return e.State() == StateStaticSync }, 2*time.Second, 5*time.Millisecond)
	e.Stop()
	e.Stop()
	require.ErrorIs(t, e.Start(), ErrStopped)
}
