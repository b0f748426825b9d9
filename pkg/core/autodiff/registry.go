// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autodiff

import (
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/support/sets"
)

// TensorGrads is a completed entry of the TensorGradRegistry: all the edge gradients of a tensor.
type TensorGrads struct {
	NonGrad   ir.TensorId
	EdgeGrads []ir.TensorId
}

// TensorGradRegistry collects the edge gradients of each tensor. An entry is pending until the number of
// edge gradients equals the tensor's NPathsToLoss, and then it becomes complete.
type TensorGradRegistry struct {
	pending  map[ir.TensorId][]ir.TensorId
	complete []TensorGrads
}

// NewTensorGradRegistry creates an empty registry.
func NewTensorGradRegistry() *TensorGradRegistry {
	return &TensorGradRegistry{
		pending: make(map[ir.TensorId][]ir.TensorId),
	}
}

// Insert the edge gradient of the tensor nonGrad.
//
// Inserting more edge gradients than the tensor's NPathsToLoss is an InternalConsistency failure.
func (r *TensorGradRegistry) Insert(nonGrad *ir.Tensor, edgeGrad ir.TensorId) {
	id := nonGrad.Id()
	r.pending[id] = append(r.pending[id], edgeGrad)
	n := len(r.pending[id])
	if n > nonGrad.NPathsToLoss() {
		ir.NewError(ir.InternalConsistency, "tensor %q received %d edge gradients, but it has only %d paths to the loss",
			id, n, nonGrad.NPathsToLoss()).WithTensors(id, edgeGrad).Throw()
	}
	if n == nonGrad.NPathsToLoss() {
		r.complete = append(r.complete, TensorGrads{NonGrad: id, EdgeGrads: r.pending[id]})
		delete(r.pending, id)
	}
}

// PopComplete returns the completed entries, in order of completion, and clears them from the registry.
func (r *TensorGradRegistry) PopComplete() []TensorGrads {
	complete := r.complete
	r.complete = nil
	return complete
}

// HasComplete returns whether there are completed entries to pop.
func (r *TensorGradRegistry) HasComplete() bool { return len(r.complete) > 0 }

// NumPending returns the number of tensors with some, but not all, edge gradients.
func (r *TensorGradRegistry) NumPending() int { return len(r.pending) }

// Pending returns the sorted ids of the tensors with some, but not all, edge gradients.
func (r *TensorGradRegistry) Pending() []ir.TensorId {
	s := sets.Make[ir.TensorId](len(r.pending))
	for id := range r.pending {
		s.Insert(id)
	}
	return sets.Sorted(s)
}

// OpGradRegistry collects, for each operation, the output indices whose gradient is known. An entry is
// pending until the operation is ready to create its gradients: by default, when the number of ready
// outputs equals the operation's NPathsToLoss, or as decided by the ir.GradReadiness capability.
type OpGradRegistry struct {
	ready     map[ir.OpId]sets.Set[int]
	done      sets.Set[ir.OpId]
	pendingOp map[ir.OpId]bool
	complete  []*ir.Op
}

// NewOpGradRegistry creates an empty registry.
func NewOpGradRegistry() *OpGradRegistry {
	return &OpGradRegistry{
		ready:     make(map[ir.OpId]sets.Set[int]),
		done:      sets.Make[ir.OpId](),
		pendingOp: make(map[ir.OpId]bool),
	}
}

// Insert registers that the gradient of output index of op is known.
//
// Registering the same index twice is an InternalConsistency failure.
func (r *OpGradRegistry) Insert(op *ir.Op, index int) {
	id := op.Id()
	indices, found := r.ready[id]
	if !found {
		indices = sets.Make[int]()
		r.ready[id] = indices
	}
	if indices.Has(index) {
		ir.NewError(ir.InternalConsistency, "output #%d of op %s registered twice in the op gradient registry",
			index, op.DebugName()).WithOps(id).Throw()
	}
	indices.Insert(index)
	if r.done.Has(id) {
		// Gradients were already created.
		return
	}
	if isReady(op, indices) {
		r.complete = append(r.complete, op)
		r.done.Insert(id)
		delete(r.pendingOp, id)
		return
	}
	r.pendingOp[id] = true
}

func isReady(op *ir.Op, indices sets.Set[int]) bool {
	if readiness, ok := op.Behavior().(ir.GradReadiness); ok {
		return readiness.ReadyToCreateGradients(op, indices)
	}
	return len(indices) == op.NPathsToLoss()
}

// PopComplete returns the operations ready to create their gradients, in order of completion, and clears them.
func (r *OpGradRegistry) PopComplete() []*ir.Op {
	complete := r.complete
	r.complete = nil
	return complete
}

// HasComplete returns whether there are completed entries to pop.
func (r *OpGradRegistry) HasComplete() bool { return len(r.complete) > 0 }

// NumPending returns the number of operations with some, but not enough, output gradients.
func (r *OpGradRegistry) NumPending() int { return len(r.pendingOp) }
