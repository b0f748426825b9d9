// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"github.com/gomlx/graphir/pkg/support/xslices"
)

// Tensor returns the tensor with the given id, or nil if it doesn't exist.
func (g *Ir) Tensor(id TensorId) *Tensor {
	return g.tensors[id]
}

// HasTensor returns whether the tensor exists.
func (g *Ir) HasTensor(id TensorId) bool {
	_, found := g.tensors[id]
	return found
}

// Op returns the operation with the given id, or nil if it doesn't exist.
func (g *Ir) Op(id OpId) *Op {
	return g.ops[id]
}

// NumOps returns the number of operations.
func (g *Ir) NumOps() int { return len(g.ops) }

// NumTensors returns the number of tensors.
func (g *Ir) NumTensors() int { return len(g.tensors) }

// AllOpIds returns the sorted ids of all operations.
func (g *Ir) AllOpIds() []OpId {
	return xslices.SortedKeys(g.ops)
}

// Ops returns all operations, sorted by id.
func (g *Ir) Ops() []*Op {
	return xslices.Map(g.AllOpIds(), func(id OpId) *Op { return g.ops[id] })
}

// AllTensorIds returns the sorted ids of all tensors.
func (g *Ir) AllTensorIds() []TensorId {
	return xslices.SortedKeys(g.tensors)
}

// TensorIdsOfType returns the sorted ids of the tensors of the given type.
func (g *Ir) TensorIdsOfType(tensorType TensorType) []TensorId {
	var ids []TensorId
	for _, id := range g.AllTensorIds() {
		if g.tensors[id].tensorType == tensorType {
			ids = append(ids, id)
		}
	}
	return ids
}

// OpsOfType returns the operations of the given kind, sorted by id.
func (g *Ir) OpsOfType(kind OpKind) []*Op {
	var ops []*Op
	for _, id := range g.AllOpIds() {
		if g.ops[id].kind == kind {
			ops = append(ops, g.ops[id])
		}
	}
	return ops
}

// Producer returns the operation producing the tensor, or nil if it has none (or doesn't exist).
func (g *Ir) Producer(id TensorId) *Op {
	t, found := g.tensors[id]
	if !found || !t.HasProducer() {
		return nil
	}
	return g.ops[t.producer]
}

// Consumers returns the distinct operations consuming the tensor, sorted by id.
func (g *Ir) Consumers(id TensorId) []*Op {
	t, found := g.tensors[id]
	if !found {
		return nil
	}
	return xslices.Map(t.consumers.Ops(), func(opId OpId) *Op { return g.ops[opId] })
}

// NoProducerIds returns the sorted ids of the tensors without a producer.
func (g *Ir) NoProducerIds() []TensorId {
	var ids []TensorId
	for _, id := range g.AllTensorIds() {
		if !g.tensors[id].HasProducer() {
			ids = append(ids, id)
		}
	}
	return ids
}

// InputTensor returns the tensor at the input slot index of op. It panics if the slot is empty.
func (g *Ir) InputTensor(op *Op, index int) *Tensor {
	return g.mustTensor(op.inputs.MustId(index))
}

// OutputTensor returns the tensor at the output slot index of op. It panics if the slot is empty.
func (g *Ir) OutputTensor(op *Op, index int) *Tensor {
	return g.mustTensor(op.outputs.MustId(index))
}
