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

package accesslog

import (
	"time"

	tfd "github.com/edgehttp/edge/plugin/tfd"
)

// Config controls the underlying tfd.Pipeline's S-lane batching.
type Config struct {
	Shards        int
	OrderPow2     int
	CountThresh   int
	TimeCap       time.Duration
	FlushInterval time.Duration
	Buffer        int
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.OrderPow2 <= 0 {
		c.OrderPow2 = 10
	}
	if c.CountThresh <= 0 {
		c.CountThresh = 256
	}
	if c.TimeCap <= 0 {
		c.TimeCap = 50 * time.Millisecond
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Millisecond
	}
	return c
}

// Recorder turns completed requests into tfd envelopes: one Vector
// envelope per request (persisted synchronously, in order, via
// entrySink) plus Scalar envelopes for byte and status-bucket counters
// (coalesced by the pipeline's S-lane before a periodic flush to
// counterSink).
type Recorder struct {
	pipeline    *tfd.Pipeline
	entrySink   EntrySink
	counterSink tfd.SBatchesSink
}

// NewRecorder builds a Recorder and starts its background S-lane
// flush worker.
func NewRecorder(cfg Config, entrySink EntrySink, counterSink tfd.SBatchesSink) *Recorder {
	cfg = cfg.withDefaults()
	p := tfd.NewPipeline(tfd.PipelineOptions{
		Shards:        cfg.Shards,
		OrderPow2:     cfg.OrderPow2,
		CountThresh:   cfg.CountThresh,
		TimeCap:       cfg.TimeCap,
		FlushInterval: cfg.FlushInterval,
		Buffer:        cfg.Buffer,
		SSink:         counterSink,
	})
	p.Start()
	return &Recorder{pipeline: p, entrySink: entrySink, counterSink: counterSink}
}

// Record ingests one completed request.
func (r *Recorder) Record(e Entry) {
	bucket := tfd.TimeFootprint{BucketID: uint64(e.Time.Unix() / 60)}
	vhostKey := tfd.HashKey(e.VHost)

	entryEnv := tfd.Envelope{
		Channel:   tfd.ChannelVector,
		Footprint: tfd.Footprint{KeyID: vhostKey, Time: bucket, Scope: tfd.ChannelVector},
		Delta:     1,
	}
	r.pipeline.Handle(entryEnv, func(tfd.Envelope) {
		r.entrySink.Append(e)
	})

	bytesEnv := tfd.Envelope{
		Channel:   tfd.ChannelScalar,
		Footprint: tfd.Footprint{KeyID: tfd.HashKey(e.VHost + "|bytes"), Time: bucket, Scope: tfd.ChannelScalar},
		Delta:     e.BytesOut,
	}
	r.pipeline.Handle(bytesEnv, nil)

	statusEnv := tfd.Envelope{
		Channel:   tfd.ChannelScalar,
		Footprint: tfd.Footprint{KeyID: tfd.HashKey(e.VHost + "|status:" + statusBucket(e.Status)), Time: bucket, Scope: tfd.ChannelScalar},
		Delta:     1,
	}
	r.pipeline.Handle(statusEnv, nil)
}

// Flush requests an immediate best-effort S-lane flush, useful before
// reading the admin status surface.
func (r *Recorder) Flush() {
	r.pipeline.FlushS()
}

// Close stops the background S-lane worker after a final flush.
func (r *Recorder) Close() {
	r.pipeline.Stop()
}
