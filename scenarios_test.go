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

package dflow

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

// waitForSize polls get until it reports at least n, or fails the test once
// the deadline elapses. Every scenario here does pure in-memory work per
// iteration, so reaching a few thousand samples is a matter of microseconds,
// not wall-clock tuning.
func waitForSize(t *testing.T, get func() int, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if get() >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for size >= %d (got %d)", n, get())
		case <-time.After(time.Millisecond):
		}
	}
}

// S1: a passthrough pipeline (source -> identity -> aggregator) with a
// custom sawtooth-like transform; 1000 samples must match (k mod 100)/100.0.
func TestScenarioS1Passthrough(t *testing.T) {
	var idx int64
	source := newSourceFilter(DtypeFloat32, "s1-source", func(_ []Batch, outputs []Batch) {
		k := atomic.AddInt64(&idx, 1) - 1
		outputs[0].Float32[0] = float32(float64(k%100) / 100.0)
		outputs[0].Len = 1
	})
	identity := newPassthroughFilter(DtypeFloat32, "s1-identity")
	agg := NewAggregator(DtypeFloat32, AggregatorOptions{NInputs: 1, MaxCapacityBytes: 4096 * bytesPerSample})

	if err := source.Connect(identity, ConnectOptions{}); err != nil {
		t.Fatalf("connect source->identity: %v", err)
	}
	if err := identity.Connect(agg.FilterNode, ConnectOptions{}); err != nil {
		t.Fatalf("connect identity->agg: %v", err)
	}
	for _, f := range []*FilterNode{agg.FilterNode, identity, source} {
		if err := f.Start(); err != nil {
			t.Fatalf("Start %s: %v", f.Name, err)
		}
	}

	waitForSize(t, func() int { return agg.Sizes()[0] }, 1000)

	_ = source.Stop()
	_ = identity.Stop()
	_ = agg.Stop()

	arrays := agg.Arrays()
	got := arrays[0].Float32[:1000]
	for k := 0; k < 1000; k++ {
		want := float32(float64(k%100) / 100.0)
		if math.Abs(float64(got[k]-want)) > epsilon {
			t.Fatalf("sample %d = %v, want %v", k, got[k], want)
		}
	}
}

// S2: fan-out from a single output slot to three independent aggregator
// sinks must deliver byte-identical sequences to each.
func TestScenarioS2FanOutEquality(t *testing.T) {
	var idx int64
	source := newSourceFilter(DtypeFloat32, "s2-source", func(_ []Batch, outputs []Batch) {
		k := atomic.AddInt64(&idx, 1) - 1
		outputs[0].Float32[0] = float32(k)
		outputs[0].Len = 1
	})
	agg1 := NewAggregator(DtypeFloat32, AggregatorOptions{NInputs: 1, MaxCapacityBytes: 4096 * bytesPerSample})
	agg2 := NewAggregator(DtypeFloat32, AggregatorOptions{NInputs: 1, MaxCapacityBytes: 4096 * bytesPerSample})
	agg3 := NewAggregator(DtypeFloat32, AggregatorOptions{NInputs: 1, MaxCapacityBytes: 4096 * bytesPerSample})

	for _, sink := range []*Aggregator{agg1, agg2, agg3} {
		if err := source.Connect(sink.FilterNode, ConnectOptions{}); err != nil {
			t.Fatalf("connect source->%s: %v", sink.Name, err)
		}
	}
	for _, f := range []*FilterNode{agg1.FilterNode, agg2.FilterNode, agg3.FilterNode, source} {
		if err := f.Start(); err != nil {
			t.Fatalf("Start %s: %v", f.Name, err)
		}
	}

	waitForSize(t, func() int {
		return min3(agg1.Sizes()[0], agg2.Sizes()[0], agg3.Sizes()[0])
	}, 500)

	_ = source.Stop()
	_ = agg1.Stop()
	_ = agg2.Stop()
	_ = agg3.Stop()

	a1, a2, a3 := agg1.Arrays()[0], agg2.Arrays()[0], agg3.Arrays()[0]
	n := a1.Len
	if a2.Len < n {
		n = a2.Len
	}
	if a3.Len < n {
		n = a3.Len
	}
	if n < 500 {
		t.Fatalf("too few common samples to compare: %d", n)
	}
	for k := 0; k < n; k++ {
		if a1.Float32[k] != a2.Float32[k] || a1.Float32[k] != a3.Float32[k] {
			t.Fatalf("fan-out divergence at sample %d: %v/%v/%v", k, a1.Float32[k], a2.Float32[k], a3.Float32[k])
		}
	}
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// S3: connecting filters of differing dtype is a control-plane error, never
// a data-plane one.
func TestScenarioS3DtypeMismatchIsControlPlaneError(t *testing.T) {
	f32 := newPassthroughFilter(DtypeFloat32, "s3-f32")
	u32 := newPassthroughFilter(DtypeUint32, "s3-u32")

	err := f32.Connect(u32, ConnectOptions{})
	if !errors.Is(err, ErrDtypeMismatch) {
		t.Fatalf("Connect(f32, u32) = %v, want ErrDtypeMismatch", err)
	}
}

// S4: a sine SignalGenerator run end to end for at least 200 samples must
// match the closed-form formula exactly (within float32 precision).
func TestScenarioS4SignalGenSineEndToEnd(t *testing.T) {
	source := NewSignalGenerator(SignalGeneratorOptions{
		Name:        "s4-source",
		Waveform:    WaveSine,
		Frequency:   0.02,
		Amplitude:   1.0,
		CapacityExp: 4,
		BatchSize:   1,
	})
	agg := NewAggregator(DtypeFloat32, AggregatorOptions{NInputs: 1, MaxCapacityBytes: 4096 * bytesPerSample})

	if err := source.Connect(agg.FilterNode, ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := agg.Start(); err != nil {
		t.Fatalf("Start agg: %v", err)
	}
	if err := source.Start(); err != nil {
		t.Fatalf("Start source: %v", err)
	}

	waitForSize(t, func() int { return agg.Sizes()[0] }, 200)

	_ = source.Stop()
	_ = agg.Stop()

	arrays := agg.Arrays()
	got := arrays[0].Float32[:200]
	for k := 0; k < 200; k++ {
		want := math.Sin(2 * math.Pi * 0.02 * float64(k))
		if math.Abs(float64(got[k])-want) > epsilon {
			t.Fatalf("sample %d = %v, want %v", k, got[k], want)
		}
	}
}

// S5: a hosted transform that fails on every invocation must not take down
// the pipeline. The fault is isolated: downstream keeps receiving (empty)
// batches, the filter graph stays RUNNING, and it stops cleanly afterward.
func TestScenarioS5FaultIsolation(t *testing.T) {
	source := newSourceFilter(DtypeFloat32, "s5-source", func(_ []Batch, outputs []Batch) {
		outputs[0].Float32[0] = 1
		outputs[0].Len = 1
	})

	var hostedCalls int64
	faulty := NewFilter(DtypeFloat32, 4, FilterOptions{
		Name:        "s5-faulty",
		InputArity:  1,
		OutputArity: 1,
		Transform: Transform{
			Kind: TransformHosted,
			Hosted: HostedTransformFunc(func(_ []Batch, _ []Batch) error {
				atomic.AddInt64(&hostedCalls, 1)
				return errTransformTest
			}),
		},
	})
	agg := NewAggregator(DtypeFloat32, AggregatorOptions{NInputs: 1, MaxCapacityBytes: 4096 * bytesPerSample})

	if err := source.Connect(faulty, ConnectOptions{}); err != nil {
		t.Fatalf("connect source->faulty: %v", err)
	}
	if err := faulty.Connect(agg.FilterNode, ConnectOptions{}); err != nil {
		t.Fatalf("connect faulty->agg: %v", err)
	}
	for _, f := range []*FilterNode{agg.FilterNode, faulty, source} {
		if err := f.Start(); err != nil {
			t.Fatalf("Start %s: %v", f.Name, err)
		}
	}

	deadline := time.After(5 * time.Second)
	for atomic.LoadInt64(&hostedCalls) < 500 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for 500 hosted invocations (got %d)", atomic.LoadInt64(&hostedCalls))
		case <-time.After(time.Millisecond):
		}
	}

	if !source.Running() || !faulty.Running() || !agg.Running() {
		t.Fatalf("pipeline not RUNNING after 500 failed hosted invocations: source=%v faulty=%v agg=%v",
			source.State(), faulty.State(), agg.State())
	}
	if sizes := agg.Sizes(); sizes[0] != 0 {
		t.Fatalf("aggregator sizes = %v, want [0] (every batch from faulty is empty)", sizes)
	}

	if err := source.Stop(); err != nil {
		t.Fatalf("Stop source: %v", err)
	}
	if err := faulty.Stop(); err != nil {
		t.Fatalf("Stop faulty: %v", err)
	}
	if err := agg.Stop(); err != nil {
		t.Fatalf("Stop agg: %v", err)
	}
}

// S6: backpressure. 100,000 samples pushed one at a time into a
// two-slot buffer with a concurrent consumer must all arrive, in order, with no
// drops — Put blocks rather than timing out or discarding.
func TestScenarioS6Backpressure(t *testing.T) {
	const total = 100000
	buf := NewRingBuffer(DtypeFloat32, 1, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			b := NewBatch(DtypeFloat32, 1)
			b.Float32[0] = float32(i)
			b.Len = 1
			if err := buf.Put(b); err != nil {
				t.Errorf("Put(%d): %v", i, err)
				return
			}
		}
		buf.Close()
	}()

	received := 0
	for {
		b, ok := buf.Get()
		if !ok {
			break
		}
		if int(b.Float32[0]) != received {
			t.Fatalf("sample %d arrived out of order: got %v", received, b.Float32[0])
		}
		received++
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("producer goroutine did not finish")
	}

	if received != total {
		t.Fatalf("received %d samples, want exactly %d", received, total)
	}
	if d := buf.Dropped(); d != 0 {
		t.Fatalf("Dropped() = %d, want 0 (Put never drops)", d)
	}
}
