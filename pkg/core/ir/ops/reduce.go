// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/shapes"
)

// initOp creates a tensor of the shape given by the attributes AttrDType and AttrShape.
type initOp struct{}

func (initOp) Setup(g *ir.Ir, op *ir.Op) error {
	if err := checkInputs(op, 0); err != nil {
		return err
	}
	name, err := op.Attributes().StringOr(AttrDType, "")
	if err != nil {
		return err
	}
	dtype, found := dtypes.MapOfNames[name]
	if !found || dtype == dtypes.InvalidDType {
		return ir.NewError(ir.MalformedInput, "op %s has invalid dtype %q", op.DebugName(), name).WithOps(op.Id()).Err()
	}
	shape, found, err := shapeAttr(op, dtype)
	if err != nil {
		return err
	}
	if !found {
		shape = shapes.Make(dtype)
	}
	setOutput(g, op, shape)
	return nil
}

// padOp pads the input with zeros: AttrPads holds the padding at the start of each axis, followed by
// the padding at the end of each axis.
type padOp struct{}

func pads(op *ir.Op, rank int) ([]int64, error) {
	p, err := op.Attributes().Ints(AttrPads)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = make([]int64, 2*rank)
	}
	if len(p) != 2*rank || slices.ContainsFunc(p, func(v int64) bool { return v < 0 }) {
		return nil, ir.NewError(ir.MalformedInput, "op %s: attribute %q must have 2*rank=%d non-negative values, got %v",
			op.DebugName(), AttrPads, 2*rank, p).WithOps(op.Id()).Err()
	}
	return p, nil
}

// IsZeroPad returns whether the Pad op has only zero padding, in which case it is an identity.
func IsZeroPad(op *ir.Op) bool {
	p, err := op.Attributes().Ints(AttrPads)
	return err == nil && !slices.ContainsFunc(p, func(v int64) bool { return v != 0 })
}

func (padOp) Setup(g *ir.Ir, op *ir.Op) error {
	if err := checkInputs(op, 1); err != nil {
		return err
	}
	input, err := inputShape(g, op, 0)
	if err != nil {
		return err
	}
	p, err := pads(op, input.Rank())
	if err != nil {
		return err
	}
	output := input.Clone()
	for axis := range output.Dimensions {
		output.Dimensions[axis] += int(p[axis] + p[axis+input.Rank()])
	}
	setOutput(g, op, output)
	return nil
}

func (padOp) GradOps(_ *ir.Ir, op *ir.Op) []ir.OpSpec {
	return []ir.OpSpec{{Kind: PadGrad, Attributes: op.Attributes().Clone()}}
}

// padGradOp slices the gradient of the padded output back to the shape of the input.
type padGradOp struct{}

func (padGradOp) Setup(g *ir.Ir, op *ir.Op) error {
	if err := checkInputs(op, 1); err != nil {
		return err
	}
	input, err := inputShape(g, op, 0)
	if err != nil {
		return err
	}
	p, err := pads(op, input.Rank())
	if err != nil {
		return err
	}
	output := input.Clone()
	for axis := range output.Dimensions {
		output.Dimensions[axis] -= int(p[axis] + p[axis+input.Rank()])
		if output.Dimensions[axis] <= 0 {
			return ir.NewError(ir.MalformedInput, "op %s: pads %v larger than gradient shape %s", op.DebugName(), p, input).
				WithOps(op.Id()).Err()
		}
	}
	setOutput(g, op, output)
	return nil
}

func (padGradOp) GradInputInfo(*ir.Op) []ir.GradInOutMapper {
	return []ir.GradInOutMapper{{IGrad: 0, INonGrad: 0, Type: ir.GradInGradOut}}
}

func (padGradOp) GradOutToNonGradIn(*ir.Op) map[int]int {
	return map[int]int{0: 0}
}

// sumOp adds any number (>= 1) of inputs of equal shapes.
type sumOp struct{}

func (sumOp) Setup(g *ir.Ir, op *ir.Op) error {
	n := op.Inputs().N()
	if n == 0 {
		return ir.NewError(ir.MalformedInput, "op %s requires at least one input", op.DebugName()).WithOps(op.Id()).Err()
	}
	if err := checkInputs(op, n); err != nil {
		return err
	}
	output, err := inputShape(g, op, 0)
	if err != nil {
		return err
	}
	for index := 1; index < n; index++ {
		shape, err := inputShape(g, op, index)
		if err != nil {
			return err
		}
		if !shape.Equal(output) {
			return ir.NewError(ir.MalformedInput, "op %s input #%d has shape %s, but input #0 has shape %s",
				op.DebugName(), index, shape, output).WithOps(op.Id()).Err()
		}
	}
	setOutput(g, op, output)
	return nil
}

func (sumOp) GradOps(_ *ir.Ir, op *ir.Op) []ir.OpSpec {
	var specs []ir.OpSpec
	for _, index := range op.Inputs().Indices() {
		specs = append(specs, ir.OpSpec{Kind: SumArgGrad, Attributes: ir.Attributes{AttrArg: int64(index)}})
	}
	return specs
}

// reduceSumOp sums over the axes broadcast from AttrShape to the input shape, resulting in AttrShape.
type reduceSumOp struct{}

func (reduceSumOp) Setup(g *ir.Ir, op *ir.Op) error {
	if err := checkInputs(op, 1); err != nil {
		return err
	}
	if !op.Attributes().Has(AttrShape) {
		return ir.NewError(ir.MalformedInput, "op %s requires attribute %q", op.DebugName(), AttrShape).
			WithOps(op.Id()).Err()
	}
	return setupReduced(g, op)
}
