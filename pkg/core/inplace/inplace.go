// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package inplace implements the in-place rewrite engine: it replaces operations by variants that write
// their output over the storage of one of their inputs.
//
// A variant is committed only if it touches no anchored tensor, it doesn't overwrite a Constant or a
// Variable, and the graph stays schedulable once every other reader of the overwritten tensor is
// constrained to run before it.
package inplace

import (
	"cmp"
	"slices"

	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Candidate is one in-place variant of an operation, with its effective priority.
type Candidate struct {
	Op       ir.OpId
	Kind     ir.OpKind
	Priority float64

	// order of the candidate among the variants of its op.
	order int
}

// Rejection reasons of a candidate.
const (
	ReasonAnchored      = "touches anchored tensor"
	ReasonReadOnly      = "overwrites Constant or Variable"
	ReasonUnschedulable = "creates a cycle"
)

// Rejection of a candidate, and why.
type Rejection struct {
	Candidate
	Reason string
}

// Commit of a candidate: the original operation was replaced by NewOp.
type Commit struct {
	Candidate
	NewOp       ir.OpId
	Constraints []ir.Constraint
}

// Result of Apply.
type Result struct {
	Committed []Commit
	Rejected  []Rejection
}

// Candidates returns the in-place variants of all operations, sorted by decreasing priority. Ties are
// broken by op id and then by the order of the variants of the op. Variants with non-positive priority
// (after the op's settings overrides) are dropped.
func Candidates(g *ir.Ir) []Candidate {
	var candidates []Candidate
	for _, op := range g.Ops() {
		provider, ok := op.Behavior().(ir.InplaceProvider)
		if !ok {
			continue
		}
		for order, c := range provider.InplaceCandidates(g, op) {
			priority := op.InplacePriority(c.Kind, c.Priority)
			if priority <= 0 {
				continue
			}
			candidates = append(candidates, Candidate{Op: op.Id(), Kind: c.Kind, Priority: priority, order: order})
		}
	}
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Op, b.Op); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
	return candidates
}

// ModifiedInputs returns the ids of the inputs of op overwritten by the in-place variant kind.
func ModifiedInputs(g *ir.Ir, op *ir.Op, kind ir.OpKind) ([]ir.TensorId, error) {
	behavior, found := g.Registry().Get(kind)
	if !found {
		return nil, ir.NewError(ir.MalformedInput, "in-place variant %q of op %s is not registered",
			kind, op.DebugName()).WithOps(op.Id()).Err()
	}
	variant, ok := behavior.(ir.InplaceVariant)
	if !ok {
		return nil, errors.Errorf("op kind %q is not an in-place variant", kind)
	}
	ids := sets.Make[ir.TensorId]()
	for _, index := range variant.ModifiedInputs(op) {
		id, found := op.Inputs().Id(index)
		if !found {
			return nil, ir.NewError(ir.MalformedInput, "in-place variant %q modifies input #%d, but op %s has no such input",
				kind, index, op.DebugName()).WithOps(op.Id()).Err()
		}
		ids.Insert(id)
	}
	return sets.Sorted(ids), nil
}

// Touches returns the tensors whose state changes if op is replaced by the in-place variant kind: the
// overwritten inputs and the outputs.
func Touches(g *ir.Ir, op *ir.Op, kind ir.OpKind) ([]ir.TensorId, error) {
	modified, err := ModifiedInputs(g, op, kind)
	if err != nil {
		return nil, err
	}
	touched := sets.MakeWith(modified...)
	touched.Insert(op.Outputs().Ids()...)
	return sets.Sorted(touched), nil
}

// NewTopoCons returns the ordering constraints required to replace op by the in-place variant kind: every
// other consumer of an overwritten input must run before op.
func NewTopoCons(g *ir.Ir, op *ir.Op, kind ir.OpKind) ([]ir.Constraint, error) {
	modified, err := ModifiedInputs(g, op, kind)
	if err != nil {
		return nil, err
	}
	befores := sets.Make[ir.OpId]()
	for _, id := range modified {
		for _, consumer := range g.Tensor(id).Consumers().Ops() {
			if consumer != op.Id() {
				befores.Insert(consumer)
			}
		}
	}
	constraints := make([]ir.Constraint, 0, len(befores))
	for _, before := range sets.Sorted(befores) {
		constraints = append(constraints, ir.Constraint{Before: before, After: op.Id()})
	}
	return constraints, nil
}

// Apply greedily commits in-place variants, in order of priority. At most one variant is committed per
// operation.
func Apply(g *ir.Ir) (Result, error) {
	var result Result
	candidates := Candidates(g)
	klog.V(1).Infof("Ir %s: %d in-place candidates", g.Id(), len(candidates))
	inplacedAlready := sets.Make[ir.OpId]()
	for _, candidate := range candidates {
		if inplacedAlready.Has(candidate.Op) {
			continue
		}
		op := g.Op(candidate.Op)
		if op == nil {
			continue
		}
		reason, constraints, err := check(g, op, candidate.Kind)
		if err != nil {
			return result, err
		}
		if reason != "" {
			klog.V(2).Infof("in-place %s for %s rejected: %s", candidate.Kind, op.DebugName(), reason)
			result.Rejected = append(result.Rejected, Rejection{Candidate: candidate, Reason: reason})
			continue
		}

		newOp, err := g.ReplaceOp(op.Id(), ir.OpSpec{Kind: candidate.Kind, Attributes: op.Attributes()})
		if err != nil {
			return result, errors.WithMessagef(err, "replacing %s by in-place %s", op.DebugName(), candidate.Kind)
		}
		for ii, c := range constraints {
			g.TopoCons().Insert(c.Before, newOp.Id())
			constraints[ii].After = newOp.Id()
		}
		inplacedAlready.Insert(candidate.Op)
		klog.V(2).Infof("in-place %s committed for op #%d, as %s", candidate.Kind, candidate.Op, newOp.DebugName())
		result.Committed = append(result.Committed, Commit{Candidate: candidate, NewOp: newOp.Id(), Constraints: constraints})
	}
	klog.V(1).Infof("Ir %s: %d in-place variants committed, %d rejected", g.Id(), len(result.Committed), len(result.Rejected))
	return result, nil
}

// check returns why the in-place variant kind of op can't be committed (empty if it can), and otherwise
// the ordering constraints it requires.
func check(g *ir.Ir, op *ir.Op, kind ir.OpKind) (reason string, constraints []ir.Constraint, err error) {
	touches, err := Touches(g, op, kind)
	if err != nil {
		return "", nil, err
	}
	for _, id := range touches {
		if g.IsAnchored(id) {
			return ReasonAnchored, nil, nil
		}
	}
	modified, err := ModifiedInputs(g, op, kind)
	if err != nil {
		return "", nil, err
	}
	for _, id := range modified {
		if tt := g.Tensor(id).Type(); tt == ir.TensorTypeConstant || tt == ir.TensorTypeVariable {
			return ReasonReadOnly, nil, nil
		}
	}
	constraints, err = NewTopoCons(g, op, kind)
	if err != nil {
		return "", nil, err
	}
	extra := ir.OpsBeforeKey{}
	for _, c := range constraints {
		extra[c.After] = append(extra[c.After], c.Before)
	}
	if !g.IsSchedulable(extra) {
		return ReasonUnschedulable, nil, nil
	}
	return "", constraints, nil
}
