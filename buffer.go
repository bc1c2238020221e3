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
	"sync"
	"sync/atomic"
)

// PutResult is the outcome of a non-blocking TryPut.
type PutResult int

const (
	Accepted PutResult = iota
	WouldBlock
)

// minSlots is the default slot count when a RingBuffer is constructed
// without an explicit one.
const minSlots = 2

// RingBuffer is a bounded, single-producer/single-consumer ring of Batches.
// It is realized on top of a Go channel rather than a hand-rolled
// mutex/condvar ring: the channel's own buffer is the ring storage, and a
// separate "done" channel stands in for the closed flag, woken via close()
// exactly as sync.Cond.Broadcast would wake condvar waiters.
//
// Fan-in (multiple upstream producers) is supported: each producer holds a
// non-owning handle and the buffer tracks how many producers are still
// registered, closing itself only when the last one departs (see
// AddProducer/ReleaseProducer on FilterNode's sink bookkeeping).
type RingBuffer struct {
	dtype    Dtype
	capacity int // samples per batch

	ch   chan Batch
	done chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	dropped   atomic.Int64
	producers atomic.Int64
}

// NewRingBuffer constructs a buffer carrying batches of the given dtype and
// per-batch sample capacity, with room for slots queued batches.
func NewRingBuffer(dtype Dtype, capacity int, slots int) *RingBuffer {
	if slots < minSlots {
		slots = minSlots
	}
	return &RingBuffer{
		dtype:    dtype,
		capacity: capacity,
		ch:       make(chan Batch, slots),
		done:     make(chan struct{}),
	}
}

// Dtype reports the sample type this buffer carries.
func (b *RingBuffer) Dtype() Dtype { return b.dtype }

// Capacity reports the per-batch sample capacity.
func (b *RingBuffer) Capacity() int { return b.capacity }

// Put blocks while the buffer is full and not closed. It returns ErrClosed
// if the buffer is already closed, or closes while waiting for space.
//
// A closed buffer must never accept a further Put, even if the channel has
// room and a select against both cases would otherwise pick either at
// random; done is therefore checked with priority before attempting the
// send, mirroring the non-blocking-first pattern in Get.
func (b *RingBuffer) Put(batch Batch) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.ch <- batch:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

// TryPut never blocks. It reports WouldBlock (and increments the drop
// counter) if the buffer is full, or ErrClosed if already closed. done is
// checked with priority first for the same reason as in Put.
func (b *RingBuffer) TryPut(batch Batch) (PutResult, error) {
	select {
	case <-b.done:
		return 0, ErrClosed
	default:
	}
	select {
	case b.ch <- batch:
		return Accepted, nil
	case <-b.done:
		return 0, ErrClosed
	default:
	}
	b.dropped.Add(1)
	return WouldBlock, nil
}

// Get blocks while the buffer is empty and not closed. ok is false once the
// buffer is closed and fully drained (end-of-stream).
//
// A closed buffer still yields any batches queued before the close, so Get
// always attempts a non-blocking receive first before racing against done.
func (b *RingBuffer) Get() (batch Batch, ok bool) {
	select {
	case batch, ok = <-b.ch:
		if ok {
			return batch, true
		}
	default:
	}
	select {
	case batch, ok = <-b.ch:
		if ok {
			return batch, true
		}
		return Batch{}, false
	case <-b.done:
		select {
		case batch, ok = <-b.ch:
			if ok {
				return batch, true
			}
		default:
		}
		return Batch{}, false
	}
}

// putOrAbort behaves like Put but also returns early if abort fires first,
// giving a filter's own stop signal priority over a full BLOCK-policy sink
// so a producer blocked mid-delivery unblocks promptly on Stop. done is
// checked with priority first for the same reason as in Put.
func (b *RingBuffer) putOrAbort(batch Batch, abort <-chan struct{}) (closed, aborted bool) {
	select {
	case <-b.done:
		return true, false
	default:
	}
	select {
	case b.ch <- batch:
		return false, false
	case <-b.done:
		return true, false
	case <-abort:
		return false, true
	}
}

// Close is idempotent. It marks the buffer closed and wakes every blocked
// Put/Get; queued batches remain available to Get until drained.
func (b *RingBuffer) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
	})
}

// IsClosed reports whether Close has been called.
func (b *RingBuffer) IsClosed() bool { return b.closed.Load() }

// Occupancy reports the number of batches currently queued, for gauge
// metrics. It is inherently racy against concurrent Put/Get and is intended
// only as an observability sample, never for control flow.
func (b *RingBuffer) Occupancy() int { return len(b.ch) }

// Dropped returns the monotonically increasing count of batches rejected by
// TryPut under the DROP policy.
func (b *RingBuffer) Dropped() int64 { return b.dropped.Load() }

// AddProducer registers one more upstream producer for this buffer (called
// on Connect). The buffer never auto-closes while any producer remains
// registered.
func (b *RingBuffer) AddProducer() { b.producers.Add(1) }

// ReleaseProducer deregisters a producer (called on Disconnect, and once per
// held sink handle when an upstream filter's worker exits). The buffer
// closes itself once the last producer departs.
func (b *RingBuffer) ReleaseProducer() {
	if b.producers.Add(-1) <= 0 {
		b.Close()
	}
}
