// Copyright 2023 Ross Light
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//		 https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package daemonpool

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors for a [Pool]. Register it with
// a registry to expose it on a /metrics endpoint.
type Metrics struct {
	activeConnections prometheus.Gauge
	idleConnections   prometheus.Gauge
	totalCreated      prometheus.Counter
	connectionErrors  prometheus.Counter
	AcquireWait       prometheus.Histogram
}

func newMetrics() *Metrics {
	return &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "harmonia",
			Subsystem: "daemon_pool",
			Name:      "active_connections",
			Help:      "Number of daemon connections currently open (idle or leased).",
		}),
		idleConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "harmonia",
			Subsystem: "daemon_pool",
			Name:      "idle_connections",
			Help:      "Number of daemon connections sitting idle in the pool.",
		}),
		totalCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harmonia",
			Subsystem: "daemon_pool",
			Name:      "connections_created_total",
			Help:      "Total number of daemon connections ever dialed and handshaked.",
		}),
		connectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harmonia",
			Subsystem: "daemon_pool",
			Name:      "connection_errors_total",
			Help:      "Total number of dial, handshake, or health-check failures.",
		}),
		AcquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "harmonia",
			Subsystem: "daemon_pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time callers spent waiting in the fair acquire queue.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Collectors returns every collector so callers can register them in
// bulk with a prometheus.Registerer.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.activeConnections,
		m.idleConnections,
		m.totalCreated,
		m.connectionErrors,
		m.AcquireWait,
	}
}
