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
	"strconv"
	"sync"
	"sync/atomic"

	"dflow/internal/metrics"
)

const bytesPerSample = 4 // float32, int32 and uint32 are all 4 bytes wide

// AggregatorOptions configures a new Aggregator.
type AggregatorOptions struct {
	Name string
	// NInputs is the number of input buffers to aggregate; default 1.
	NInputs int
	// MaxCapacityBytes bounds each input's growable array; required.
	MaxCapacityBytes int
	// Overflow selects REJECT (default) or ROLL behavior once an input's
	// array would exceed MaxCapacityBytes.
	Overflow OverflowPolicy
	// Slots is the owned input buffers' queue depth; default 2.
	Slots int
}

// Aggregator is a sink filter (output_arity 0) that concatenates every
// batch it receives, per input, into a growable contiguous array capped by
// a byte budget. It is the engine's inspection point: the plotting
// frontend, demos, or a test assertion all read it through Arrays()/Sizes().
type Aggregator struct {
	*FilterNode

	mu        sync.Mutex
	maxLen    int // samples, derived from MaxCapacityBytes
	overflow  OverflowPolicy
	float32At [][]float32
	int32At   [][]int32
	uint32At  [][]uint32

	dropped []atomic.Int64
}

// NewAggregator constructs an Aggregator filter in StateConstructed.
func NewAggregator(dtype Dtype, opts AggregatorOptions) *Aggregator {
	nInputs := opts.NInputs
	if nInputs <= 0 {
		nInputs = 1
	}
	a := &Aggregator{
		maxLen:   opts.MaxCapacityBytes / bytesPerSample,
		overflow: opts.Overflow,
		dropped:  make([]atomic.Int64, nInputs),
	}
	switch dtype {
	case DtypeFloat32:
		a.float32At = make([][]float32, nInputs)
	case DtypeInt32:
		a.int32At = make([][]int32, nInputs)
	case DtypeUint32:
		a.uint32At = make([][]uint32, nInputs)
	}

	a.FilterNode = NewFilter(dtype, 0, FilterOptions{
		Name:        opts.Name,
		InputArity:  nInputs,
		OutputArity: 0,
		Slots:       opts.Slots,
		Transform: Transform{
			Kind:   TransformNative,
			Native: a.transform,
		},
	})
	return a
}

func (a *Aggregator) transform(inputs []Batch, _ []Batch) {
	for i, in := range inputs {
		a.appendInput(i, in)
	}
}

func (a *Aggregator) appendInput(i int, batch Batch) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var dropped int
	switch batch.Dtype {
	case DtypeFloat32:
		a.float32At[i], dropped = appendBounded(a.float32At[i], batch.Float32[:batch.Len], a.maxLen, a.overflow)
	case DtypeInt32:
		a.int32At[i], dropped = appendBounded(a.int32At[i], batch.Int32[:batch.Len], a.maxLen, a.overflow)
	case DtypeUint32:
		a.uint32At[i], dropped = appendBounded(a.uint32At[i], batch.Uint32[:batch.Len], a.maxLen, a.overflow)
	}
	if dropped > 0 {
		a.dropped[i].Add(int64(dropped))
		metrics.AggregatorSamplesDropped.WithLabelValues(a.Name, strconv.Itoa(i)).Add(float64(dropped))
	}
}

type sampleKind interface{ ~float32 | ~int32 | ~uint32 }

// appendBounded grows dst by src, honoring maxLen under the given overflow
// policy, and reports how many incoming samples were discarded.
func appendBounded[T sampleKind](dst []T, src []T, maxLen int, policy OverflowPolicy) ([]T, int) {
	if len(src) == 0 {
		return dst, 0
	}
	if policy == OverflowRoll {
		dst = append(dst, src...)
		if len(dst) > maxLen {
			excess := len(dst) - maxLen
			out := make([]T, maxLen)
			copy(out, dst[excess:])
			return out, excess
		}
		return dst, 0
	}
	// OverflowReject: drop the tail of the incoming batch that would push
	// past the budget.
	room := maxLen - len(dst)
	if room <= 0 {
		return dst, len(src)
	}
	if len(src) > room {
		dropped := len(src) - room
		dst = append(dst, src[:room]...)
		return dst, dropped
	}
	return append(dst, src...), 0
}

// Arrays returns a snapshot copy of each input's accumulated samples as
// Batch values (Dtype set, Len == sample count). Safe to call from any
// thread while the aggregator is RUNNING or STOPPED.
func (a *Aggregator) Arrays() []Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.dropped)
	out := make([]Batch, n)
	for i := 0; i < n; i++ {
		switch a.Dtype() {
		case DtypeFloat32:
			out[i] = Batch{Dtype: DtypeFloat32, Float32: append([]float32(nil), a.float32At[i]...), Len: len(a.float32At[i])}
		case DtypeInt32:
			out[i] = Batch{Dtype: DtypeInt32, Int32: append([]int32(nil), a.int32At[i]...), Len: len(a.int32At[i])}
		case DtypeUint32:
			out[i] = Batch{Dtype: DtypeUint32, Uint32: append([]uint32(nil), a.uint32At[i]...), Len: len(a.uint32At[i])}
		}
	}
	return out
}

// Sizes returns the current accumulated length per input.
func (a *Aggregator) Sizes() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.dropped)
	out := make([]int, n)
	for i := 0; i < n; i++ {
		switch a.Dtype() {
		case DtypeFloat32:
			out[i] = len(a.float32At[i])
		case DtypeInt32:
			out[i] = len(a.int32At[i])
		case DtypeUint32:
			out[i] = len(a.uint32At[i])
		}
	}
	return out
}

// Dropped returns the number of samples discarded by the REJECT/ROLL
// overflow policy for input i.
func (a *Aggregator) Dropped(i int) int64 { return a.dropped[i].Load() }

// Clear resets every input's accumulated length to zero without releasing
// the underlying capacity. Permitted only while STOPPED.
func (a *Aggregator) Clear() error {
	if a.State() != StateStopped {
		return ErrInvalidState
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.dropped {
		switch a.Dtype() {
		case DtypeFloat32:
			a.float32At[i] = a.float32At[i][:0]
		case DtypeInt32:
			a.int32At[i] = a.int32At[i][:0]
		case DtypeUint32:
			a.uint32At[i] = a.uint32At[i][:0]
		}
	}
	return nil
}
