// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/graphir/pkg/core/shapes"
)

// TensorId is the unique name of a tensor in an Ir.
type TensorId string

// TensorType classifies how a tensor comes into existence.
type TensorType int

//go:generate go tool enumer -type=TensorType -trimprefix=TensorType -output=gen_tensortype_enumer.go tensor.go

const (
	// TensorTypeStream is a graph input fed by the host at run time. It has no producer.
	TensorTypeStream TensorType = iota

	// TensorTypeConstant holds data embedded in the graph. It has no producer.
	TensorTypeConstant

	// TensorTypeVariable is trainable state. It has no producer, and it may have a variable-update operation.
	TensorTypeVariable

	// TensorTypeActGrad is an activation or a gradient: it is produced by exactly one operation.
	TensorTypeActGrad

	// TensorTypeMomentum is reserved: no operation in this package creates it.
	TensorTypeMomentum
)

// HasProducer returns whether tensors of this type are produced by an operation.
func (tt TensorType) HasProducer() bool {
	return tt == TensorTypeActGrad || tt == TensorTypeMomentum
}

// VariableUpdate describes how a Variable tensor is updated after the backwards pass.
type VariableUpdate int

const (
	// VariableUpdateGradient updates the variable from its gradient (SGD).
	VariableUpdateGradient VariableUpdate = iota

	// VariableUpdateCopy copies the value of another tensor into the variable.
	VariableUpdateCopy
)

func (vu VariableUpdate) String() string {
	switch vu {
	case VariableUpdateGradient:
		return "Gradient"
	case VariableUpdateCopy:
		return "Copy"
	}
	return fmt.Sprintf("VariableUpdate(%d)", int(vu))
}

// Tensor is a named value in the Ir.
//
// The connectivity fields (producer and consumers) are maintained exclusively by the Ir mutation primitives.
type Tensor struct {
	id           TensorId
	tensorType   TensorType
	shape        shapes.Shape
	producer     OpId
	consumers    *Consumers
	nPathsToLoss int
	data         []byte
	phase        Phase

	// Variables only.
	update   VariableUpdate
	copyFrom TensorId
}

func newTensor(id TensorId, tensorType TensorType) *Tensor {
	return &Tensor{
		id:         id,
		tensorType: tensorType,
		producer:   NoOpId,
		consumers:  newConsumers(),
	}
}

// Id returns the tensor unique name.
func (t *Tensor) Id() TensorId { return t.id }

// Type of the tensor.
func (t *Tensor) Type() TensorType { return t.tensorType }

// Shape of the tensor. It may be invalid until the producer's Setup has run.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// SetShape is used by the operations' Setup to set the shape of their outputs.
func (t *Tensor) SetShape(shape shapes.Shape) { t.shape = shape }

// HasProducer returns whether the tensor is currently produced by an operation.
func (t *Tensor) HasProducer() bool { return t.producer != NoOpId }

// ProducerId returns the id of the producer operation, or NoOpId.
func (t *Tensor) ProducerId() OpId { return t.producer }

// Consumers of the tensor, with multiplicity.
func (t *Tensor) Consumers() *Consumers { return t.consumers }

// NPathsToLoss returns the number of distinct consumer input slots through which the tensor reaches the final loss.
// Only valid after autodiff.SetNPathsToLoss has run.
func (t *Tensor) NPathsToLoss() int { return t.nPathsToLoss }

// IncrNPathsToLoss increments the number of paths to the loss by one.
func (t *Tensor) IncrNPathsToLoss() { t.nPathsToLoss++ }

// ResetNPathsToLoss sets the number of paths to the loss to 0.
func (t *Tensor) ResetNPathsToLoss() { t.nPathsToLoss = 0 }

// Data returns the raw bytes (little-endian) of a Constant or Variable tensor. Nil for other types.
func (t *Tensor) Data() []byte { return t.data }

// SetData replaces the raw data of the tensor. Used by constant folding.
func (t *Tensor) SetData(data []byte) { t.data = data }

// Phase assigned to the tensor by Ir.UpdateVertices.
func (t *Tensor) Phase() Phase { return t.phase }

// VariableUpdate returns how a Variable tensor is updated, and the source tensor if the update is a copy.
func (t *Tensor) VariableUpdate() (update VariableUpdate, copyFrom TensorId) {
	return t.update, t.copyFrom
}

// SetCopyFrom configures a Variable tensor to be updated by copying from source, instead of by its gradient.
func (t *Tensor) SetCopyFrom(source TensorId) {
	if t.tensorType != TensorTypeVariable {
		Fatalf("SetCopyFrom(%q) called on tensor %q of type %s", source, t.id, t.tensorType)
	}
	t.update = VariableUpdateCopy
	t.copyFrom = source
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if !t.shape.Ok() {
		return fmt.Sprintf("%s[%s]", t.id, t.tensorType)
	}
	return fmt.Sprintf("%s[%s] %s (%s)", t.id, t.tensorType, t.shape, humanize.Bytes(uint64(t.shape.Memory())))
}
