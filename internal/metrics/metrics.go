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

// Package metrics holds the engine's Prometheus collectors. They are
// package-level vars, as in internal/ratelimiter/telemetry/churn in the
// teacher repo: always updated, exported to a caller's registry only when
// Register is called (e.g. from cmd/dflow-demo).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BatchesDropped counts batches rejected by TryPut under the DROP
	// policy, labeled by filter name and downstream input index.
	BatchesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dflow_batches_dropped_total",
		Help: "Batches rejected by a DROP-policy sink connection because the downstream buffer was full.",
	}, []string{"filter", "sink_index"})

	// AggregatorSamplesDropped counts samples an Aggregator discarded on
	// overflow under OverflowReject or OverflowRoll, labeled by filter name
	// and input.
	AggregatorSamplesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dflow_aggregator_samples_dropped_total",
		Help: "Samples discarded by an aggregator's REJECT or ROLL overflow policy.",
	}, []string{"filter", "input"})

	// UserTransformFailures counts hosted-transform panics/errors absorbed
	// per filter, per spec.md's UserTransformFailure error kind.
	UserTransformFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dflow_user_transform_failures_total",
		Help: "Hosted transform invocations that panicked or returned an error and were treated as no-output.",
	}, []string{"filter"})

	// BufferOccupancy reports the live queue depth of a filter's input
	// buffer, labeled by filter name and input index.
	BufferOccupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dflow_buffer_occupancy",
		Help: "Number of batches currently queued in an input buffer.",
	}, []string{"filter", "input"})

	// TransformDuration observes wall-clock time spent inside a single
	// transform invocation, labeled by filter name.
	TransformDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dflow_transform_duration_seconds",
		Help:    "Time spent executing a single transform invocation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"filter"})
)

// Register adds every collector to reg. Safe to call once per registry;
// callers that don't want metrics (most tests) simply never call it.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		BatchesDropped,
		AggregatorSamplesDropped,
		UserTransformFailures,
		BufferOccupancy,
		TransformDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
