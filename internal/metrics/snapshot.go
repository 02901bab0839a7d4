// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot is the parallel JSON view of the collector's state,
// mirroring original_source/src/metrics.rs's get_json_metrics.
type Snapshot struct {
	Requests    SnapshotRequests   `json:"requests"`
	Latency     SnapshotLatency    `json:"latency"`
	Connections SnapshotConns      `json:"connections"`
	Throughput  SnapshotThroughput `json:"throughput"`
	Uptime      SnapshotUptime     `json:"uptime"`
}

type SnapshotRequests struct {
	Total     int64   `json:"total"`
	PerSecond float64 `json:"per_second"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type SnapshotLatency struct {
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	AvgMs float64 `json:"avg_ms"`
}

type SnapshotConns struct {
	Active int64 `json:"active"`
}

type SnapshotThroughput struct {
	BytesIn  float64 `json:"bytes_in"`
	BytesOut float64 `json:"bytes_out"`
}

type SnapshotUptime struct {
	Seconds   int64  `json:"seconds"`
	Formatted string `json:"formatted"`
}

// Snapshot gathers a point-in-time JSON view. Errors, byte counts and
// active connections are read back from the Prometheus metrics; the
// request total comes from requestsCounter, which RecordRequest bumps
// alongside requestsTotal, and latency comes from the reservoir.
func (c *Collector) Snapshot() Snapshot {
	total := c.requestsCounter.Load()
	uptime := time.Since(c.startTime)

	p50, p95, p99, avg := c.latency.percentiles()

	errors := gatherCounterValue(c.errorsTotal)
	bytesIn := gatherCounterValue(c.bytesIn)
	bytesOut := gatherCounterValue(c.bytesOut)
	active := gatherGaugeValue(c.active)

	var errorRate, rps float64
	if total > 0 {
		errorRate = errors / float64(total)
	}
	if uptime.Seconds() > 0 {
		rps = float64(total) / uptime.Seconds()
	}

	return Snapshot{
		Requests: SnapshotRequests{
			Total:     total,
			PerSecond: rps,
			Errors:    int64(errors),
			ErrorRate: errorRate,
		},
		Latency: SnapshotLatency{
			P50Ms: float64(p50.Microseconds()) / 1000,
			P95Ms: float64(p95.Microseconds()) / 1000,
			P99Ms: float64(p99.Microseconds()) / 1000,
			AvgMs: float64(avg.Microseconds()) / 1000,
		},
		Connections: SnapshotConns{Active: int64(active)},
		Throughput:  SnapshotThroughput{BytesIn: bytesIn, BytesOut: bytesOut},
		Uptime:      SnapshotUptime{Seconds: int64(uptime.Seconds()), Formatted: formatUptime(uptime)},
	}
}

func formatUptime(d time.Duration) string {
	seconds := int64(d.Seconds())
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, secs)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// gatherCounterValue and gatherGaugeValue read a metric's current
// value back out through the same dto.Metric path client_golang itself
// uses for Write, so the JSON snapshot can share state with the
// Prometheus exposition without a second set of atomics to keep in
// sync.
func gatherCounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}

func gatherGaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}
