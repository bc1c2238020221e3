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

	"dflow/internal/dlog"
	"dflow/internal/metrics"
)

// TransformFunc is a native transform: it reads inputs and writes into
// outputs, setting each output's Len. Unset outputs are treated as
// zero-length; a zero-length output is still a valid batch and is delivered.
type TransformFunc func(inputs []Batch, outputs []Batch)

// HostedTransform is the Go-side stand-in for a callable authored in an
// embedding layer's host language (the embedding layer itself is out of
// scope for this module; this interface is what it would bind to). An error
// returned here — or a panic recovered from it — is captured as a
// UserTransformFailure: logged, counted, and treated as "no output produced"
// for that iteration. It never stops the worker.
type HostedTransform interface {
	Invoke(inputs []Batch, outputs []Batch) error
}

// HostedTransformFunc adapts a plain function to HostedTransform.
type HostedTransformFunc func(inputs []Batch, outputs []Batch) error

func (f HostedTransformFunc) Invoke(inputs []Batch, outputs []Batch) error {
	return f(inputs, outputs)
}

// TransformKind distinguishes a Native transform from a Hosted one.
type TransformKind int

const (
	TransformNative TransformKind = iota
	TransformHosted
)

// Transform is the dispatch descriptor invoked once per worker iteration.
type Transform struct {
	Kind   TransformKind
	Native TransformFunc
	Hosted HostedTransform
}

// hostToken is the process-wide "single-threaded interpreter lock"
// equivalent: only one worker may execute hosted (user) code at a time,
// exactly as only one OS thread may hold the GIL in the embedding layer this
// stands in for. Workers never hold it across buffer operations — it is
// acquired immediately before Invoke and released immediately after.
var hostToken sync.Mutex

// invoke dispatches the transform, routing Hosted calls through hostToken
// and absorbing any failure into filterName's user-failure counter instead
// of propagating it. A hosted failure never panics out to the caller; a
// panicking native transform is treated as a programmer error and is allowed
// to escape (and, by Go's default behavior, crash the process) rather than
// being silently swallowed like a hosted one.
func (t Transform) invoke(filterName string, inputs []Batch, outputs []Batch) {
	switch t.Kind {
	case TransformNative:
		t.Native(inputs, outputs)
	case TransformHosted:
		invokeHosted(filterName, t.Hosted, inputs, outputs)
	}
}

func invokeHosted(filterName string, h HostedTransform, inputs []Batch, outputs []Batch) {
	hostToken.Lock()
	defer hostToken.Unlock()

	defer func() {
		if r := recover(); r != nil {
			dlog.Logger().WithField("filter", filterName).WithField("panic", r).
				Warn("hosted transform panicked; treating iteration as no output")
			metrics.UserTransformFailures.WithLabelValues(filterName).Inc()
			for i := range outputs {
				outputs[i].Len = 0
			}
		}
	}()

	if err := h.Invoke(inputs, outputs); err != nil {
		dlog.Logger().WithField("filter", filterName).WithError(err).
			Warn("hosted transform returned an error; treating iteration as no output")
		metrics.UserTransformFailures.WithLabelValues(filterName).Inc()
		for i := range outputs {
			outputs[i].Len = 0
		}
	}
}
