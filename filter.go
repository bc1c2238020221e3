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
	"time"

	"github.com/google/uuid"

	"dflow/internal/dlog"
	"dflow/internal/metrics"
)

// sinkEntry is one registered downstream connection: a non-owning handle to
// a buffer owned by the downstream filter, plus the delivery policy chosen
// for that connection.
type sinkEntry struct {
	node       *FilterNode
	buffer     *RingBuffer
	inputIndex int
	policy     Policy
}

// FilterOptions configures a FilterNode at construction.
type FilterOptions struct {
	// Name identifies the filter in logs and metric labels. Defaults to the
	// node's generated ID if empty.
	Name string
	// InputArity is the number of input buffers this filter owns. 0 for a
	// source.
	InputArity int
	// OutputArity is the number of output slots this filter produces. 0 for
	// a sink.
	OutputArity int
	// Slots is the per-input-buffer queue depth (batches). Defaults to 2.
	Slots int
	// Transform is the dispatch descriptor driving this filter's worker.
	// A zero-value Transform (TransformNative with a nil Native func) is
	// invalid for every filter, sinks included: the worker calls it on each
	// iteration.
	Transform Transform
}

// FilterNode is a processing node: owned input buffers, a transform, a
// registry of downstream sinks per output slot, and a dedicated worker
// goroutine. See spec.md §3-4 for the full state machine.
type FilterNode struct {
	ID   uuid.UUID
	Name string

	dtype       Dtype
	capacityExp uint
	capacity    int

	inputs      []*RingBuffer
	outputArity int

	mu    sync.Mutex // guards sinks slice mutation (Connect/Disconnect only)
	sinks [][]sinkEntry

	transform Transform

	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFilter constructs a filter node of the given dtype and capacity_exp
// (batch capacity = 2^capacityExp samples). It starts in StateConstructed.
func NewFilter(dtype Dtype, capacityExp uint, opts FilterOptions) *FilterNode {
	id := uuid.New()
	name := opts.Name
	if name == "" {
		name = id.String()
	}
	slots := opts.Slots
	if slots <= 0 {
		slots = minSlots
	}
	capacity := 1 << capacityExp

	f := &FilterNode{
		ID:          id,
		Name:        name,
		dtype:       dtype,
		capacityExp: capacityExp,
		capacity:    capacity,
		outputArity: opts.OutputArity,
		sinks:       make([][]sinkEntry, opts.OutputArity),
		transform:   opts.Transform,
		stopCh:      make(chan struct{}),
	}
	f.inputs = make([]*RingBuffer, opts.InputArity)
	for i := range f.inputs {
		f.inputs[i] = NewRingBuffer(dtype, capacity, slots)
	}
	return f
}

// Dtype reports the sample type this filter and its buffers carry.
func (f *FilterNode) Dtype() Dtype { return f.dtype }

// Capacity reports the per-batch sample capacity (2^capacity_exp).
func (f *FilterNode) Capacity() int { return f.capacity }

// InputArity reports the number of input buffers this filter owns.
func (f *FilterNode) InputArity() int { return len(f.inputs) }

// OutputArity reports the number of output slots this filter produces.
func (f *FilterNode) OutputArity() int { return f.outputArity }

// State reports the node's current lifecycle state.
func (f *FilterNode) State() State { return State(f.state.Load()) }

// Running reports whether the node is currently RUNNING.
func (f *FilterNode) Running() bool { return f.State() == StateRunning }

// InputBuffer exposes input buffer i, so a downstream FilterNode's buffer
// can be registered into an upstream's sink registry by Connect.
func (f *FilterNode) InputBuffer(i int) *RingBuffer { return f.inputs[i] }

// ConnectOptions configures a single Connect/Disconnect call.
type ConnectOptions struct {
	InputIndex  int
	OutputIndex int
	Policy      Policy
}

func mutable(s State) bool { return s == StateConstructed || s == StateStopped }

// Connect appends a handle to sink.inputs[InputIndex] into this filter's
// sink registry for output slot OutputIndex, so future deliveries of that
// slot's batches reach sink. Both this filter and sink must be in
// CONSTRUCTED or STOPPED state.
func (f *FilterNode) Connect(sink *FilterNode, opts ConnectOptions) error {
	if f.dtype != sink.dtype {
		return ErrDtypeMismatch
	}
	if opts.OutputIndex < 0 || opts.OutputIndex >= f.outputArity {
		return ErrInvalidState
	}
	if opts.InputIndex < 0 || opts.InputIndex >= len(sink.inputs) {
		return ErrInvalidState
	}
	if !mutable(f.State()) || !mutable(sink.State()) {
		return ErrInvalidState
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	buf := sink.inputs[opts.InputIndex]
	for _, e := range f.sinks[opts.OutputIndex] {
		if e.buffer == buf {
			return ErrDuplicate
		}
	}

	f.sinks[opts.OutputIndex] = append(f.sinks[opts.OutputIndex], sinkEntry{
		node:       sink,
		buffer:     buf,
		inputIndex: opts.InputIndex,
		policy:     opts.Policy,
	})
	buf.AddProducer()
	return nil
}

// Disconnect removes a previously registered connection. Both filters must
// be in CONSTRUCTED or STOPPED state.
func (f *FilterNode) Disconnect(sink *FilterNode, opts ConnectOptions) error {
	if opts.OutputIndex < 0 || opts.OutputIndex >= f.outputArity {
		return ErrNotFound
	}
	if !mutable(f.State()) || !mutable(sink.State()) {
		return ErrInvalidState
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if opts.InputIndex < 0 || opts.InputIndex >= len(sink.inputs) {
		return ErrNotFound
	}
	buf := sink.inputs[opts.InputIndex]
	entries := f.sinks[opts.OutputIndex]
	for i, e := range entries {
		if e.buffer == buf {
			f.sinks[opts.OutputIndex] = append(entries[:i], entries[i+1:]...)
			buf.ReleaseProducer()
			return nil
		}
	}
	return ErrNotFound
}

// Start transitions CONSTRUCTED -> RUNNING and spawns the worker goroutine.
// A filter may be started at most once; restarting a STOPPED filter is not
// supported (see DESIGN.md Open Question decisions).
func (f *FilterNode) Start() error {
	if !f.state.CompareAndSwap(int32(StateConstructed), int32(StateRunning)) {
		return ErrInvalidState
	}
	f.wg.Add(1)
	go f.run()
	return nil
}

// Stop requests the worker to exit at its next safe point and joins it. It
// is idempotent: calling Stop on a STOPPING or STOPPED node returns
// immediately without re-running teardown. Safe to call from any goroutine.
func (f *FilterNode) Stop() error {
	switch f.State() {
	case StateStopped, StateStopping:
		return nil
	case StateConstructed:
		return ErrInvalidState
	}
	f.initiateStop()
	f.wg.Wait()
	return nil
}

// initiateStop closes the stop signal and every owned input buffer exactly
// once, regardless of whether it is triggered by an explicit Stop() call or
// by the worker's own EOS-triggered exit.
func (f *FilterNode) initiateStop() {
	f.stopOnce.Do(func() {
		f.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(f.stopCh)
		for _, buf := range f.inputs {
			buf.Close()
		}
	})
}

// run is the worker loop described in spec.md §4.2.
func (f *FilterNode) run() {
	defer f.wg.Done()
	defer func() {
		f.initiateStop()
		f.releaseAllSinks()
		f.state.Store(int32(StateStopped))
		dlog.Logger().WithField("filter", f.Name).Debug("worker exited")
	}()

	dlog.Logger().WithField("filter", f.Name).Debug("worker started")

	for {
		var inBatches []Batch
		if n := len(f.inputs); n > 0 {
			inBatches = make([]Batch, n)
			eos := false
			for i, buf := range f.inputs {
				b, ok := buf.Get()
				metrics.BufferOccupancy.WithLabelValues(f.Name, strconv.Itoa(i)).Set(float64(buf.Occupancy()))
				if !ok {
					eos = true
					break
				}
				inBatches[i] = b
			}
			if eos {
				return
			}
		} else {
			// A source has no input to observe EOS on; check the stop
			// signal directly so Stop returns even without a BLOCK sink.
			select {
			case <-f.stopCh:
				return
			default:
			}
		}

		outBatches := make([]Batch, f.outputArity)
		for i := range outBatches {
			outBatches[i] = NewBatch(f.dtype, f.capacity)
		}

		start := time.Now()
		f.transform.invoke(f.Name, inBatches, outBatches)
		metrics.TransformDuration.WithLabelValues(f.Name).Observe(time.Since(start).Seconds())

		for slot, ob := range outBatches {
			for _, e := range f.sinks[slot] {
				if f.deliver(e, ob) {
					return
				}
			}
		}
	}
}

// deliver pushes batch to one registered sink per its connection policy.
// It reports true if the filter's own stop signal fired while blocked on a
// BLOCK-policy delivery, telling run to abort the loop immediately.
func (f *FilterNode) deliver(e sinkEntry, batch Batch) (aborted bool) {
	switch e.policy {
	case PolicyDrop:
		res, err := e.buffer.TryPut(batch)
		if err == nil && res == WouldBlock {
			metrics.BatchesDropped.WithLabelValues(f.Name, strconv.Itoa(e.inputIndex)).Inc()
		}
		return false
	default:
		_, stopped := e.buffer.putOrAbort(batch, f.stopCh)
		return stopped
	}
}

// releaseAllSinks decrements the producer count on every buffer this filter
// held a handle to, propagating EOS to descendants once each buffer's last
// producer has departed.
func (f *FilterNode) releaseAllSinks() {
	for _, slot := range f.sinks {
		for _, e := range slot {
			e.buffer.ReleaseProducer()
		}
	}
}
