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

import "math"

// SignalGeneratorOptions configures a new SignalGenerator. Formulas match
// original_source/bpipe/filters.py::create_signal_generator.
type SignalGeneratorOptions struct {
	Name string

	Waveform  Waveform
	Frequency float64 // cycles per sample
	Amplitude float64 // zero value means the default 1.0; a zero amplitude cannot be requested
	Phase     float64
	XOffset   float64

	CapacityExp uint
	// BatchSize is samples produced per iteration. Defaults to the full
	// batch capacity (2^CapacityExp) if zero, and is clamped down to it if
	// set larger: a batch can never hold more samples than its own capacity.
	BatchSize int
	Slots     int
}

// SignalGenerator is a source filter (input_arity 0, output_arity 1) whose
// transform synthesises one of four periodic waveforms. It runs as fast as
// its downstream buffers accept; there is no rate limiting in the core.
type SignalGenerator struct {
	*FilterNode

	waveform  Waveform
	frequency float64
	amplitude float64
	phase     float64
	xOffset   float64
	batchSize int

	sampleIdx int64
}

// NewSignalGenerator constructs a SignalGenerator in StateConstructed.
// Amplitude defaults to 1.0 when the caller leaves it at the zero value.
func NewSignalGenerator(opts SignalGeneratorOptions) *SignalGenerator {
	amplitude := opts.Amplitude
	if amplitude == 0 {
		amplitude = 1.0
	}
	capacity := 1 << opts.CapacityExp
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = capacity
	} else if batchSize > capacity {
		batchSize = capacity
	}

	g := &SignalGenerator{
		waveform:  opts.Waveform,
		frequency: opts.Frequency,
		amplitude: amplitude,
		phase:     opts.Phase,
		xOffset:   opts.XOffset,
		batchSize: batchSize,
	}
	g.FilterNode = NewFilter(DtypeFloat32, opts.CapacityExp, FilterOptions{
		Name:        opts.Name,
		InputArity:  0,
		OutputArity: 1,
		Slots:       opts.Slots,
		Transform: Transform{
			Kind:   TransformNative,
			Native: g.transform,
		},
	})
	return g
}

func (g *SignalGenerator) transform(_ []Batch, outputs []Batch) {
	out := outputs[0].Float32
	n := g.sampleIdx
	for k := 0; k < g.batchSize; k++ {
		t := float64(n + int64(k))
		out[k] = float32(g.sample(t))
	}
	outputs[0].Len = g.batchSize
	g.sampleIdx += int64(g.batchSize)
}

func (g *SignalGenerator) sample(t float64) float64 {
	theta := 2*math.Pi*g.frequency*t + g.phase
	switch g.waveform {
	case WaveSine:
		return g.amplitude*math.Sin(theta) + g.xOffset
	case WaveSquare:
		return g.amplitude*sign(math.Sin(theta)) + g.xOffset
	case WaveTriangle:
		return g.amplitude*(2/math.Pi)*math.Asin(math.Sin(theta)) + g.xOffset
	case WaveSawtooth:
		frac := g.frequency*t + g.phase
		frac -= math.Floor(frac)
		return g.amplitude*(2*frac-1) + g.xOffset
	default:
		return g.xOffset
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
