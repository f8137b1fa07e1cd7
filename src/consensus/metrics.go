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

// go/src/consensus/metrics.go
package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the consensus collectors of one engine
type metrics struct {
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	finalizeLatency  prometheus.Histogram
	viewChanges      *prometheus.CounterVec
	relayDrops       *prometheus.CounterVec
	billboardSize    prometheus.Gauge
	lifecycleState   prometheus.Gauge
}

// newMetrics creates and registers the collectors. A nil registerer uses a private registry.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metrics{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consensus_sessions_started_total",
			Help: "Block sessions opened",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_sessions_finished_total",
			Help: "Block sessions finished by result",
		}, []string{"result"}),
		finalizeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "consensus_finalize_seconds",
			Help:    "Time from session creation to persistence",
			Buckets: prometheus.DefBuckets,
		}),
		viewChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_view_changes_total",
			Help: "View change phases entered by this node",
		}, []string{"phase"}),
		relayDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_relay_drops_total",
			Help: "Envelopes dropped by the relay",
		}, []string{"reason"}),
		billboardSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consensus_billboard_nodes",
			Help: "Active nodes on the billboard",
		}),
		lifecycleState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consensus_lifecycle_state",
			Help: "Current lifecycle state (0 Null .. 5 Almighty)",
		}),
	}
	reg.MustRegister(m.sessionsStarted, m.sessionsFinished, m.finalizeLatency,
		m.viewChanges, m.relayDrops, m.billboardSize, m.lifecycleState)
	return m
}
