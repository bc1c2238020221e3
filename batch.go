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

// Batch is the fixed-capacity, contiguous unit of transport between
// filters. Only the slice matching Dtype is meaningful; Len is the used
// length and must never exceed that slice's capacity. A Batch with Len == 0
// is a valid, deliverable empty batch.
type Batch struct {
	Dtype   Dtype
	Float32 []float32
	Int32   []int32
	Uint32  []uint32
	Len     int
}

// NewBatch allocates a Batch of the given dtype with the given sample
// capacity (zero length, ready to be filled by a transform).
func NewBatch(dtype Dtype, capacity int) Batch {
	b := Batch{Dtype: dtype}
	switch dtype {
	case DtypeFloat32:
		b.Float32 = make([]float32, capacity)
	case DtypeInt32:
		b.Int32 = make([]int32, capacity)
	case DtypeUint32:
		b.Uint32 = make([]uint32, capacity)
	}
	return b
}

// Capacity returns the batch's maximum sample count.
func (b Batch) Capacity() int {
	switch b.Dtype {
	case DtypeFloat32:
		return len(b.Float32)
	case DtypeInt32:
		return len(b.Int32)
	case DtypeUint32:
		return len(b.Uint32)
	default:
		return 0
	}
}

// Clone returns a deep copy truncated to Len, suitable for handing to a
// caller that must not observe further mutation (aggregator snapshots).
func (b Batch) Clone() Batch {
	out := Batch{Dtype: b.Dtype, Len: b.Len}
	switch b.Dtype {
	case DtypeFloat32:
		out.Float32 = append([]float32(nil), b.Float32[:b.Len]...)
	case DtypeInt32:
		out.Int32 = append([]int32(nil), b.Int32[:b.Len]...)
	case DtypeUint32:
		out.Uint32 = append([]uint32(nil), b.Uint32[:b.Len]...)
	}
	return out
}
