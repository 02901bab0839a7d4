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

// Package metrics is the edge server's metrics collector: lock-free
// counters plus a bounded latency reservoir, rendered as Prometheus
// text exposition and as a parallel JSON snapshot. Grounded on
// original_source/src/metrics.rs's MetricsCollector for the counter
// set and the drop-oldest-half reservoir, wired to
// github.com/prometheus/client_golang (already a teacher dependency via
// internal/ratelimiter/telemetry/churn) instead of hand-built text
// exposition.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector accumulates request counters and latency samples and
// renders them through a private Prometheus registry, so embedding it
// never touches the global default registerer the way
// internal/ratelimiter/telemetry/churn does.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	errorsTotal   prometheus.Counter
	active        prometheus.Gauge

	requestsCounter atomic.Int64
	startTime       time.Time

	latency *reservoir
}

// New builds a Collector with its own registry and starts its uptime
// clock immediately.
func New() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		latency:   newReservoir(defaultReservoirCap),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_http_requests_total",
			Help: "Total number of HTTP requests by method and status.",
		}, []string{"method", "status"}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_http_bytes_received_total",
			Help: "Total bytes received from clients.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_http_bytes_sent_total",
			Help: "Total bytes sent to clients.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_http_errors_total",
			Help: "Total number of HTTP responses with a 5xx status.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_http_connections_active",
			Help: "Current number of active connections.",
		}),
	}
	c.registry.MustRegister(c.requestsTotal, c.bytesIn, c.bytesOut, c.errorsTotal, c.active, c)
	return c
}

// RecordRequest folds one completed request into the counters and the
// latency reservoir.
func (c *Collector) RecordRequest(method string, status int, dur time.Duration, bytesIn, bytesOut int64) {
	c.requestsCounter.Add(1)
	c.requestsTotal.WithLabelValues(method, statusLabel(status)).Inc()
	c.bytesIn.Add(float64(bytesIn))
	c.bytesOut.Add(float64(bytesOut))
	if status >= 500 {
		c.errorsTotal.Inc()
	}
	c.latency.add(dur)
}

func (c *Collector) IncActiveConnections() { c.active.Inc() }
func (c *Collector) DecActiveConnections() { c.active.Dec() }

// Registry exposes the private Prometheus registry for wiring a
// promhttp handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Describe implements prometheus.Collector for the scrape-time-only
// gauges (percentiles and uptime are computed fresh on every Collect,
// never stored, per the "percentiles computed at read time" rule).
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- latencyDesc
	ch <- uptimeDesc
}

var latencyDesc = prometheus.NewDesc(
	"edge_http_request_duration_seconds",
	"Request latency quantiles computed at scrape time over the latency reservoir.",
	[]string{"quantile"}, nil,
)

var uptimeDesc = prometheus.NewDesc(
	"edge_process_uptime_seconds",
	"Time since the collector was created.",
	nil, nil,
)

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	p50, p95, p99, _ := c.latency.percentiles()
	ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, p50.Seconds(), "0.5")
	ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, p95.Seconds(), "0.95")
	ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, p99.Seconds(), "0.99")
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}
