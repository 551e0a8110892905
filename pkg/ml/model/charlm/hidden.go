// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charlm

import (
	"github.com/gomlx/charlm/pkg/ml/layers/lstm"
)

// HiddenState of the model: one lstm.State per layer, in order. A nil HiddenState means the zero initial state.
//
// It's owned by the sequence that created it: it must not be shared by unrelated sequences processed concurrently.
type HiddenState []lstm.State

// Detach returns a deep copy of the hidden state, which can be kept across sequence boundaries or handed to
// another owner.
func (h HiddenState) Detach() HiddenState {
	if h == nil {
		return nil
	}
	detached := make(HiddenState, len(h))
	for ii, state := range h {
		detached[ii] = state.Clone()
	}
	return detached
}

// BatchSize of the hidden state, or 0 if it is empty.
func (h HiddenState) BatchSize() int {
	if len(h) == 0 {
		return 0
	}
	return h[0].BatchSize()
}
