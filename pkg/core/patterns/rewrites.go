// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patterns

import (
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/ir/ops"
)

// Names of the patterns of this package.
const (
	OpToIdentityName       = "OpToIdentity"
	PostNReplName          = "PostNRepl"
	SubtractArg1GradOpName = "SubtractArg1GradOp"
	SumToAddName           = "SumToAdd"
)

// SumToAdd replaces a Sum of exactly two inputs by an Add.
type SumToAdd struct{}

func (SumToAdd) Name() string { return SumToAddName }

func (SumToAdd) Matches(_ *ir.Ir, op *ir.Op) bool {
	return op.Kind() == ops.Sum && op.Inputs().N() == 2
}

func (SumToAdd) Touches(_ *ir.Ir, op *ir.Op) []ir.TensorId { return inputsAndOutputs(op) }

func (SumToAdd) Apply(g *ir.Ir, op *ir.Op) (bool, error) {
	_, err := g.ReplaceOp(op.Id(), ir.OpSpec{Kind: ops.Add})
	return err == nil, err
}

// OpToIdentity replaces operations that leave their single input unchanged by an Identity: a Sum of one
// input, a Pad with all pads zero and a Scale by 1.
type OpToIdentity struct{}

func (OpToIdentity) Name() string { return OpToIdentityName }

func (OpToIdentity) Matches(_ *ir.Ir, op *ir.Op) bool {
	switch op.Kind() {
	case ops.Sum:
		return op.Inputs().N() == 1
	case ops.Pad:
		return ops.IsZeroPad(op)
	case ops.Scale:
		scale, err := op.Attributes().FloatOr(ops.AttrScale, 1)
		return err == nil && scale == 1
	}
	return false
}

func (OpToIdentity) Touches(_ *ir.Ir, op *ir.Op) []ir.TensorId { return inputsAndOutputs(op) }

func (OpToIdentity) Apply(g *ir.Ir, op *ir.Op) (bool, error) {
	_, err := g.ReplaceOp(op.Id(), ir.OpSpec{Kind: ops.Identity})
	return err == nil, err
}

// PostNRepl removes an Identity operation: its consumers read directly from its input, and its output
// tensor is removed.
//
// The ordering constraints of the Identity are transferred to each of its consumers. The operation producing
// the final loss is never removed.
type PostNRepl struct{}

func (PostNRepl) Name() string { return PostNReplName }

func (PostNRepl) Matches(g *ir.Ir, op *ir.Op) bool {
	return op.Kind() == ops.Identity && op.Id() != g.FinalLossOpId() &&
		op.Inputs().Has(0) && op.Outputs().Has(0)
}

func (PostNRepl) Touches(_ *ir.Ir, op *ir.Op) []ir.TensorId { return inputsAndOutputs(op) }

func (PostNRepl) Apply(g *ir.Ir, op *ir.Op) (bool, error) {
	in, out := op.Inputs().MustId(0), op.Outputs().MustId(0)
	tc := g.TopoCons()
	befores, afters := tc.Befores(op.Id()), tc.Afters(op.Id())
	for _, consumer := range g.Consumers(out) {
		for _, index := range consumer.Inputs().IndicesOf(out) {
			if err := g.ReconnectInput(consumer.Id(), index, in); err != nil {
				return false, err
			}
		}
		for _, before := range befores {
			if before != consumer.Id() {
				tc.Insert(before, consumer.Id())
			}
		}
		for _, after := range afters {
			if after != consumer.Id() {
				tc.Insert(consumer.Id(), after)
			}
		}
	}
	g.DisconnectAllInputs(op.Id())
	g.DisconnectAllOutputs(op.Id())
	g.EraseOp(op.Id())
	g.RemoveTensor(out)
	return true, nil
}

// SubtractArg1GradOp replaces the gradient of the second argument of a Sub by a Neg of the incoming gradient
// followed by a ReduceSum to the shape of the argument.
type SubtractArg1GradOp struct{}

func (SubtractArg1GradOp) Name() string { return SubtractArg1GradOpName }

func (SubtractArg1GradOp) Matches(_ *ir.Ir, op *ir.Op) bool {
	return op.Kind() == ops.SubArg1Grad && op.Inputs().Has(0) && op.Outputs().Has(0)
}

func (SubtractArg1GradOp) Touches(_ *ir.Ir, op *ir.Op) []ir.TensorId { return inputsAndOutputs(op) }

func (SubtractArg1GradOp) Apply(g *ir.Ir, op *ir.Op) (bool, error) {
	in, out := op.Inputs().MustId(0), op.Outputs().MustId(0)
	tc := g.TopoCons()
	befores, afters := tc.Befores(op.Id()), tc.Afters(op.Id())
	phase, settings := op.Phase(), *op.Settings()
	dims := ops.DimsAttr(g.Tensor(out).Shape().Dimensions)

	g.DisconnectAllInputs(op.Id())
	g.DisconnectAllOutputs(op.Id())
	g.EraseOp(op.Id())

	negated := g.UniqueId(out)
	neg, err := g.GrowOp(ir.OpSpec{Kind: ops.Neg, Name: op.Name()},
		map[int]ir.TensorId{0: in}, map[int]ir.TensorId{0: negated})
	if err != nil {
		return false, err
	}
	reduce, err := g.GrowOp(ir.OpSpec{Kind: ops.ReduceSum, Name: op.Name(), Attributes: ir.Attributes{ops.AttrShape: dims}},
		map[int]ir.TensorId{0: negated}, map[int]ir.TensorId{0: out})
	if err != nil {
		return false, err
	}
	for _, newOp := range []*ir.Op{neg, reduce} {
		newOp.SetPhase(phase)
		*newOp.Settings() = settings
	}
	for _, before := range befores {
		tc.Insert(before, neg.Id())
	}
	for _, after := range afters {
		tc.Insert(reduce.Id(), after)
	}
	return true, nil
}
