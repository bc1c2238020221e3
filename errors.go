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

import "errors"

// Control-plane error kinds. Data-plane failures (drops, user-transform
// faults) never surface as errors; they are absorbed into counters, see
// internal/metrics.
var (
	// ErrDtypeMismatch is returned by Connect when the two filters carry
	// different sample dtypes.
	ErrDtypeMismatch = errors.New("dflow: dtype mismatch")
	// ErrInvalidState is returned by a lifecycle call made from a state that
	// does not permit it (e.g. Start on a non-CONSTRUCTED node, Connect on a
	// RUNNING node).
	ErrInvalidState = errors.New("dflow: invalid state")
	// ErrDuplicate is returned by Connect when the same (sink, input index)
	// pair is already registered.
	ErrDuplicate = errors.New("dflow: duplicate connection")
	// ErrNotFound is returned by Disconnect when no matching connection is
	// registered.
	ErrNotFound = errors.New("dflow: connection not found")
	// ErrClosed is returned by Put/TryPut once a buffer has been closed.
	ErrClosed = errors.New("dflow: buffer closed")
)
