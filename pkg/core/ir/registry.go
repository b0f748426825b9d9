// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/gomlx/graphir/pkg/support/xslices"
)

// Behavior is the required capability of every operation kind.
//
// Optional capabilities are discovered with type assertions on the Behavior: GradOpsProvider, GradOp,
// GradReadiness, InplaceProvider, InplaceVariant, LossOp and VarUpdateOp.
type Behavior interface {
	// Setup infers the shapes of the outputs of op from the shapes of its inputs (and attributes).
	// It returns a MalformedInput error if the inputs are not valid for the operation.
	Setup(g *Ir, op *Op) error
}

// OpSpec describes an operation to be created: used by operations to describe their gradient operations.
type OpSpec struct {
	Kind       OpKind
	Name       string
	Attributes Attributes
}

// GradOpsProvider is implemented by operation kinds that are differentiable.
type GradOpsProvider interface {
	// GradOps returns the specification of the gradient operations of op, in order.
	GradOps(g *Ir, op *Op) []OpSpec
}

// GradInType tells where a gradient operation input comes from.
type GradInType int

const (
	// GradInIn means the input comes from an input of the non-gradient operation.
	GradInIn GradInType = iota

	// GradInOut means the input comes from an output of the non-gradient operation.
	GradInOut

	// GradInGradOut means the input is the gradient of an output of the non-gradient operation.
	GradInGradOut
)

func (t GradInType) String() string {
	switch t {
	case GradInIn:
		return "In"
	case GradInOut:
		return "Out"
	case GradInGradOut:
		return "GradOut"
	}
	return "GradInType(?)"
}

// GradInOutMapper maps input IGrad of a gradient operation to index INonGrad of the non-gradient operation,
// where Type tells whether INonGrad is an input, output or gradient-of-output index.
type GradInOutMapper struct {
	IGrad    int
	INonGrad int
	Type     GradInType
}

// GradOp is implemented by gradient operation kinds.
//
// Both methods receive the gradient op itself (attributes set at creation time are available), and their
// results must not change after creation.
type GradOp interface {
	// GradInputInfo describes where each input of the gradient op comes from.
	GradInputInfo(gradOp *Op) []GradInOutMapper

	// GradOutToNonGradIn maps each output index of the gradient op to the input index of the non-gradient op
	// whose gradient it computes.
	GradOutToNonGradIn(gradOp *Op) map[int]int
}

// GradReadiness is an optional capability of differentiable operations that can create their gradients
// before all of their outputs gradients are available.
type GradReadiness interface {
	// ReadyToCreateGradients returns whether the op can have its gradients created, given the set of
	// output indices whose gradient is known.
	ReadyToCreateGradients(op *Op, ready sets.Set[int]) bool
}

// InplaceCandidate is an in-place variant of an operation, and its default priority.
type InplaceCandidate struct {
	Kind     OpKind
	Priority float64
}

// InplaceProvider is implemented by operation kinds that have in-place variants.
type InplaceProvider interface {
	InplaceCandidates(g *Ir, op *Op) []InplaceCandidate
}

// InplaceVariant is implemented by in-place operation kinds.
type InplaceVariant interface {
	// ModifiedInputs returns the input indices whose storage is overwritten by the op.
	ModifiedInputs(op *Op) []int
}

// LossOp is implemented by operation kinds that are losses.
type LossOp interface {
	IsLoss() bool
}

// VarUpdateOp is implemented by variable update operation kinds: they have no outputs and must never be pruned.
type VarUpdateOp interface {
	IsVarUpdate() bool
}

// Registry of operation kinds to their behavior.
//
// There is no global registry: one is passed to each Ir.
type Registry struct {
	behaviors map[OpKind]Behavior
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{behaviors: make(map[OpKind]Behavior)}
}

// Register behavior for kind. It panics if kind is already registered.
func (r *Registry) Register(kind OpKind, behavior Behavior) {
	if _, found := r.behaviors[kind]; found {
		Fatalf("op kind %q registered twice", kind)
	}
	r.behaviors[kind] = behavior
}

// Get returns the behavior registered for kind.
func (r *Registry) Get(kind OpKind) (Behavior, bool) {
	b, found := r.behaviors[kind]
	return b, found
}

// Kinds returns the sorted list of registered operation kinds.
func (r *Registry) Kinds() []OpKind {
	return xslices.SortedKeys(r.behaviors)
}

// IsLoss returns whether the op is a loss.
func IsLoss(op *Op) bool {
	l, ok := op.behavior.(LossOp)
	return ok && l.IsLoss()
}

// IsVarUpdate returns whether the op is a variable update.
func IsVarUpdate(op *Op) bool {
	v, ok := op.behavior.(VarUpdateOp)
	return ok && v.IsVarUpdate()
}
