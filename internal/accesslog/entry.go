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

// Package accesslog records per-request access-log entries and rollup
// counters through the same S-lane/V-lane split as
// github.com/edgehttp/edge/plugin/tfd: per-request entries are
// order-sensitive and go out through the V-lane synchronously, while
// byte/status counters are order-insensitive and are coalesced through
// the S-lane's time-capped batching before a periodic flush.
package accesslog

import "time"

// Entry is one completed request, the unit the V-lane persists verbatim
// and in order.
type Entry struct {
	Time       time.Time     `json:"time"`
	VHost      string        `json:"vhost"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	Status     int           `json:"status"`
	BytesOut   int64         `json:"bytes_out"`
	Duration   time.Duration `json:"duration"`
	RemoteAddr string        `json:"remote_addr"`
	Backend    string        `json:"backend,omitempty"`
}

// statusBucket classifies a status code the way dashboards usually
// roll HTTP statuses up: by leading digit.
func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
