// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/shapes"
)

// l1Op is the loss lambda * sum(|x|), with a scalar output.
type l1Op struct{}

func (l1Op) IsLoss() bool { return true }

func (l1Op) Setup(g *ir.Ir, op *ir.Op) error {
	if err := checkInputs(op, 1); err != nil {
		return err
	}
	if _, err := op.Attributes().FloatOr(AttrLambda, 1); err != nil {
		return err
	}
	input, err := inputShape(g, op, 0)
	if err != nil {
		return err
	}
	setOutput(g, op, shapes.Make(input.DType))
	return nil
}

func (l1Op) GradOps(_ *ir.Ir, op *ir.Op) []ir.OpSpec {
	lambda, _ := op.Attributes().FloatOr(AttrLambda, 1)
	return []ir.OpSpec{{Kind: L1Grad, Attributes: ir.Attributes{AttrLambda: lambda}}}
}

// l1GradOp is lambda * sign(x) * gradient of the loss.
type l1GradOp struct{}

func (l1GradOp) Setup(g *ir.Ir, op *ir.Op) error { return setupSameShape(g, op, 2) }

func (l1GradOp) GradInputInfo(*ir.Op) []ir.GradInOutMapper {
	return []ir.GradInOutMapper{
		{IGrad: 0, INonGrad: 0, Type: ir.GradInIn},
		{IGrad: 1, INonGrad: 0, Type: ir.GradInGradOut},
	}
}

func (l1GradOp) GradOutToNonGradIn(*ir.Op) map[int]int {
	return map[int]int{0: 0}
}
