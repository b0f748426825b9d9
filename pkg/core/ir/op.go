// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/graphir/pkg/support/xslices"
)

// OpId is the unique id of an operation in an Ir. Ids are monotonically assigned and never reused.
type OpId int

// NoOpId marks the absence of an operation, e.g. the producer of a Stream tensor.
const NoOpId OpId = -1

// OpKind identifies the type of operation, e.g. "Add", "ReluGrad", "ReluInplace".
type OpKind string

// Settings are the per-operation user configurable options.
type Settings struct {
	// InplacePriority overrides, per in-place variant kind, the default priority returned by the operation.
	// A value <= 0 vetoes the variant.
	InplacePriority map[OpKind]float64
}

// Op is a node of computation in the Ir.
type Op struct {
	id       OpId
	kind     OpKind
	name     string
	attrs    Attributes
	behavior Behavior
	settings Settings

	inputs, outputs *TensorIndexMap
	nPathsToLoss    int
	phase           Phase
}

// Id of the operation.
func (op *Op) Id() OpId { return op.id }

// Kind of the operation.
func (op *Op) Kind() OpKind { return op.kind }

// Name is an optional user given name, used for debugging only.
func (op *Op) Name() string { return op.name }

// Attributes of the operation. They can be changed by the operation's owner (e.g.: the pattern that created it).
func (op *Op) Attributes() Attributes { return op.attrs }

// Behavior returns the registered behavior for the operation kind.
func (op *Op) Behavior() Behavior { return op.behavior }

// Settings returns a pointer to the operation settings, which can be changed in place.
func (op *Op) Settings() *Settings { return &op.settings }

// Inputs slots of the operation.
func (op *Op) Inputs() *TensorIndexMap { return op.inputs }

// Outputs slots of the operation.
func (op *Op) Outputs() *TensorIndexMap { return op.outputs }

// NPathsToLoss returns the number of distinct input tensors through which the op reaches the final loss.
func (op *Op) NPathsToLoss() int { return op.nPathsToLoss }

// IncrNPathsToLoss increments the number of paths to loss.
func (op *Op) IncrNPathsToLoss() { op.nPathsToLoss++ }

// ResetNPathsToLoss sets the number of paths to loss to 0.
func (op *Op) ResetNPathsToLoss() { op.nPathsToLoss = 0 }

// Phase assigned by Ir.UpdateVertices.
func (op *Op) Phase() Phase { return op.phase }

// DebugName returns a short identification of the op: its id, kind and name if one was given.
func (op *Op) DebugName() string {
	if op.name == "" {
		return fmt.Sprintf("#%d(%s)", op.id, op.kind)
	}
	return fmt.Sprintf("#%d(%s:%s)", op.id, op.kind, op.name)
}

// String implements fmt.Stringer.
func (op *Op) String() string {
	formatSlots := func(m *TensorIndexMap) string {
		return strings.Join(xslices.Map(m.Indices(), func(index int) string {
			return fmt.Sprintf("%d:%s", index, m.tensors[index])
		}), ", ")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(%s) -> (%s)", op.DebugName(), formatSlots(op.inputs), formatSlots(op.outputs))
	if len(op.attrs) > 0 {
		fmt.Fprintf(&sb, " %s", op.attrs)
	}
	return sb.String()
}

// InplacePriority returns the priority of the in-place variant kind, with the user override in the
// settings taking precedence over defaultPriority.
func (op *Op) InplacePriority(kind OpKind, defaultPriority float64) float64 {
	if p, found := op.settings.InplacePriority[kind]; found {
		return p
	}
	return defaultPriority
}
