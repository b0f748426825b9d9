// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops implements the library of operation kinds of the IR: forward operations, their gradient
// operations, losses, variable updates and in-place variants.
//
// Use NewRegistry to create an ir.Registry with all of them.
package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/shapes"
	"github.com/gomlx/graphir/pkg/support/xslices"
)

// Forward operation kinds.
const (
	Init      ir.OpKind = "Init"
	Identity  ir.OpKind = "Identity"
	Add       ir.OpKind = "Add"
	Sub       ir.OpKind = "Sub"
	Mul       ir.OpKind = "Mul"
	Neg       ir.OpKind = "Neg"
	Relu      ir.OpKind = "Relu"
	Scale     ir.OpKind = "Scale"
	Pad       ir.OpKind = "Pad"
	Sum       ir.OpKind = "Sum"
	ReduceSum ir.OpKind = "ReduceSum"
	L1        ir.OpKind = "L1"
)

// Gradient operation kinds.
const (
	IdentityGrad ir.OpKind = "IdentityGrad"
	AddArgGrad   ir.OpKind = "AddArgGrad"
	SubArg0Grad  ir.OpKind = "SubArg0Grad"
	SubArg1Grad  ir.OpKind = "SubArg1Grad"
	MulArgGrad   ir.OpKind = "MulArgGrad"
	NegGrad      ir.OpKind = "NegGrad"
	ReluGrad     ir.OpKind = "ReluGrad"
	ScaleGrad    ir.OpKind = "ScaleGrad"
	SumArgGrad   ir.OpKind = "SumArgGrad"
	PadGrad      ir.OpKind = "PadGrad"
	L1Grad       ir.OpKind = "L1Grad"
)

// Variable update operation kinds.
const (
	SGDVarUpdate  ir.OpKind = "SGDVarUpdate"
	CopyVarUpdate ir.OpKind = "CopyVarUpdate"
)

// In-place operation kinds.
const (
	IdentityInplace ir.OpKind = "IdentityInplace"
	ReluInplace     ir.OpKind = "ReluInplace"
	ScaleInplace    ir.OpKind = "ScaleInplace"
	NegInplace      ir.OpKind = "NegInplace"
	AddLhsInplace   ir.OpKind = "AddLhsInplace"
	AddRhsInplace   ir.OpKind = "AddRhsInplace"
)

// DefaultInplacePriority is the priority of the in-place variants, unless overridden in the op's settings.
const DefaultInplacePriority = 10.0

// Attribute names.
const (
	AttrArg          = "arg"
	AttrShape        = "shape"
	AttrDType        = "dtype"
	AttrScale        = "scale"
	AttrPads         = "pads"
	AttrLambda       = "lambda"
	AttrLearningRate = "learningRate"
	AttrWeightDecay  = "weightDecay"
)

// NewRegistry returns a registry with all the operation kinds of this package.
func NewRegistry() *ir.Registry {
	r := ir.NewRegistry()
	r.Register(Init, initOp{})
	r.Register(Identity, identityOp{})
	r.Register(Add, addOp{})
	r.Register(Sub, subOp{})
	r.Register(Mul, mulOp{})
	r.Register(Neg, negOp{})
	r.Register(Relu, reluOp{})
	r.Register(Scale, scaleOp{})
	r.Register(Pad, padOp{})
	r.Register(Sum, sumOp{})
	r.Register(ReduceSum, reduceSumOp{})
	r.Register(L1, l1Op{})

	r.Register(IdentityGrad, passGradOp{})
	r.Register(NegGrad, passGradOp{})
	r.Register(ScaleGrad, passGradOp{})
	r.Register(AddArgGrad, argGradOp{fixedArg: -1})
	r.Register(SubArg0Grad, argGradOp{fixedArg: 0})
	r.Register(SubArg1Grad, argGradOp{fixedArg: 1})
	r.Register(SumArgGrad, argGradOp{fixedArg: -1})
	r.Register(MulArgGrad, mulArgGradOp{})
	r.Register(ReluGrad, reluGradOp{})
	r.Register(PadGrad, padGradOp{})
	r.Register(L1Grad, l1GradOp{})

	r.Register(SGDVarUpdate, varUpdateOp{})
	r.Register(CopyVarUpdate, varUpdateOp{})

	r.Register(IdentityInplace, inplaceOp{Behavior: identityOp{}})
	r.Register(ReluInplace, inplaceOp{Behavior: reluOp{}})
	r.Register(ScaleInplace, inplaceOp{Behavior: scaleOp{}})
	r.Register(NegInplace, inplaceOp{Behavior: negOp{}})
	r.Register(AddLhsInplace, inplaceOp{Behavior: addOp{}, modified: 0})
	r.Register(AddRhsInplace, inplaceOp{Behavior: addOp{}, modified: 1})
	return r
}

// checkInputs returns a MalformedInput error if the op inputs are not exactly the slots 0 to n-1.
func checkInputs(op *ir.Op, n int) error {
	indices := op.Inputs().Indices()
	if len(indices) != n || (n > 0 && indices[n-1] != n-1) {
		return ir.NewError(ir.MalformedInput, "op %s requires %d inputs (slots 0 to %d), got slots %v",
			op.DebugName(), n, n-1, indices).WithOps(op.Id()).Err()
	}
	return nil
}

// inputShape returns the shape of input index, or an error if it was not set up yet.
func inputShape(g *ir.Ir, op *ir.Op, index int) (shapes.Shape, error) {
	t := g.InputTensor(op, index)
	if !t.Shape().Ok() {
		return shapes.Invalid(), ir.NewError(ir.MalformedInput, "op %s input #%d (%q) has no shape",
			op.DebugName(), index, t.Id()).WithOps(op.Id()).WithTensors(t.Id()).Err()
	}
	return t.Shape(), nil
}

// setOutput sets the shape of output 0, if connected.
func setOutput(g *ir.Ir, op *ir.Op, shape shapes.Shape) {
	if op.Outputs().Has(0) {
		g.OutputTensor(op, 0).SetShape(shape)
	}
}

// setupSameShape checks n inputs, and sets output 0 to the shape of input 0.
func setupSameShape(g *ir.Ir, op *ir.Op, n int) error {
	if err := checkInputs(op, n); err != nil {
		return err
	}
	shape, err := inputShape(g, op, 0)
	if err != nil {
		return err
	}
	setOutput(g, op, shape)
	return nil
}

// DimsAttr converts dimensions to an attribute value.
func DimsAttr(dims []int) []int64 {
	return xslices.Map(dims, func(d int) int64 { return int64(d) })
}

// shapeAttr returns the shape described by the attribute AttrShape with the given dtype, and whether it is set.
func shapeAttr(op *ir.Op, dtype dtypes.DType) (shapes.Shape, bool, error) {
	if !op.Attributes().Has(AttrShape) {
		return shapes.Invalid(), false, nil
	}
	dims, err := op.Attributes().Ints(AttrShape)
	if err != nil {
		return shapes.Invalid(), false, err
	}
	for _, d := range dims {
		if d <= 0 {
			return shapes.Invalid(), false, ir.NewError(ir.MalformedInput, "op %s attribute %q has invalid dimensions %v",
				op.DebugName(), AttrShape, dims).WithOps(op.Id()).Err()
		}
	}
	return shapes.Make(dtype, xslices.Map(dims, func(d int64) int { return int(d) })...), true, nil
}
