// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/shapes"
)

// setupBroadcast checks the 2 inputs and sets the output to their broadcast shape.
func setupBroadcast(g *ir.Ir, op *ir.Op) error {
	if err := checkInputs(op, 2); err != nil {
		return err
	}
	output, err := broadcastShape(g, op)
	if err != nil {
		return err
	}
	setOutput(g, op, output)
	return nil
}

func broadcastShape(g *ir.Ir, op *ir.Op) (shapes.Shape, error) {
	lhs, err := inputShape(g, op, 0)
	if err != nil {
		return shapes.Invalid(), err
	}
	rhs, err := inputShape(g, op, 1)
	if err != nil {
		return shapes.Invalid(), err
	}
	output, err := shapes.Broadcast(lhs, rhs)
	if err != nil {
		return shapes.Invalid(), ir.NewError(ir.MalformedInput, "op %s: %v", op.DebugName(), err).WithOps(op.Id()).Err()
	}
	return output, nil
}

// argGradSpecs returns one gradient op per input of a binary operation, with the attributes AttrArg and
// AttrShape (the shape of the input, to which the gradient must be reduced).
func argGradSpecs(g *ir.Ir, op *ir.Op, kinds [2]ir.OpKind) []ir.OpSpec {
	specs := make([]ir.OpSpec, 2)
	for arg := range 2 {
		specs[arg] = ir.OpSpec{
			Kind: kinds[arg],
			Attributes: ir.Attributes{
				AttrArg:   int64(arg),
				AttrShape: DimsAttr(g.InputTensor(op, arg).Shape().Dimensions),
			},
		}
	}
	return specs
}

type addOp struct{}

func (addOp) Setup(g *ir.Ir, op *ir.Op) error { return setupBroadcast(g, op) }

func (addOp) GradOps(g *ir.Ir, op *ir.Op) []ir.OpSpec {
	return argGradSpecs(g, op, [2]ir.OpKind{AddArgGrad, AddArgGrad})
}

// InplaceCandidates of Add: the output can be written over an input only if it has the same shape as
// the broadcast result.
func (addOp) InplaceCandidates(g *ir.Ir, op *ir.Op) []ir.InplaceCandidate {
	output, err := broadcastShape(g, op)
	if err != nil {
		return nil
	}
	var candidates []ir.InplaceCandidate
	if g.InputTensor(op, 0).Shape().Equal(output) {
		candidates = append(candidates, ir.InplaceCandidate{Kind: AddLhsInplace, Priority: DefaultInplacePriority})
	}
	if g.InputTensor(op, 1).Shape().Equal(output) {
		candidates = append(candidates, ir.InplaceCandidate{Kind: AddRhsInplace, Priority: DefaultInplacePriority})
	}
	return candidates
}

type subOp struct{}

func (subOp) Setup(g *ir.Ir, op *ir.Op) error { return setupBroadcast(g, op) }

func (subOp) GradOps(g *ir.Ir, op *ir.Op) []ir.OpSpec {
	return argGradSpecs(g, op, [2]ir.OpKind{SubArg0Grad, SubArg1Grad})
}

type mulOp struct{}

func (mulOp) Setup(g *ir.Ir, op *ir.Op) error { return setupBroadcast(g, op) }

func (mulOp) GradOps(g *ir.Ir, op *ir.Op) []ir.OpSpec {
	return argGradSpecs(g, op, [2]ir.OpKind{MulArgGrad, MulArgGrad})
}

// argGradOp is the gradient of one argument of Add, Sub or Sum: the gradient of the output reduced
// (summed over the broadcast axes) to the shape of the argument. SubArg1Grad also negates it.
//
// The argument is given by the attribute AttrArg, unless fixedArg >= 0.
type argGradOp struct {
	fixedArg int
}

func (o argGradOp) arg(op *ir.Op) int {
	if o.fixedArg >= 0 {
		return o.fixedArg
	}
	arg, err := op.Attributes().IntOr(AttrArg, 0)
	if err != nil {
		panic(err)
	}
	return int(arg)
}

func (o argGradOp) Setup(g *ir.Ir, op *ir.Op) error {
	if err := checkInputs(op, 1); err != nil {
		return err
	}
	if _, err := op.Attributes().IntOr(AttrArg, 0); err != nil {
		return err
	}
	return setupReduced(g, op)
}

func (o argGradOp) GradInputInfo(*ir.Op) []ir.GradInOutMapper {
	return []ir.GradInOutMapper{{IGrad: 0, INonGrad: 0, Type: ir.GradInGradOut}}
}

func (o argGradOp) GradOutToNonGradIn(op *ir.Op) map[int]int {
	return map[int]int{0: o.arg(op)}
}

// setupReduced sets the output to the shape in the attribute AttrShape, if set, or else the shape of input 0.
// The attribute shape must be broadcastable to the input.
func setupReduced(g *ir.Ir, op *ir.Op) error {
	input, err := inputShape(g, op, 0)
	if err != nil {
		return err
	}
	target, found, err := shapeAttr(op, input.DType)
	if err != nil {
		return err
	}
	if !found {
		setOutput(g, op, input)
		return nil
	}
	if !target.IsBroadcastableTo(input) {
		return ir.NewError(ir.MalformedInput, "op %s cannot reduce %s to %s", op.DebugName(), input, target).
			WithOps(op.Id()).Err()
	}
	setOutput(g, op, target)
	return nil
}

// mulArgGradOp is the gradient of one argument of Mul: the gradient of the output times the other argument,
// reduced to the shape of the argument.
type mulArgGradOp struct{}

func (mulArgGradOp) arg(op *ir.Op) int {
	return argGradOp{fixedArg: -1}.arg(op)
}

func (o mulArgGradOp) Setup(g *ir.Ir, op *ir.Op) error {
	if err := checkInputs(op, 2); err != nil {
		return err
	}
	if _, err := op.Attributes().IntOr(AttrArg, 0); err != nil {
		return err
	}
	return setupReduced(g, op)
}

func (o mulArgGradOp) GradInputInfo(op *ir.Op) []ir.GradInOutMapper {
	return []ir.GradInOutMapper{
		{IGrad: 0, INonGrad: 0, Type: ir.GradInGradOut},
		{IGrad: 1, INonGrad: 1 - o.arg(op), Type: ir.GradInIn},
	}
}

func (o mulArgGradOp) GradOutToNonGradIn(op *ir.Op) map[int]int {
	return map[int]int{0: o.arg(op)}
}
