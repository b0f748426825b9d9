// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/graphir/pkg/core/ir"
)

type identityOp struct{}

func (identityOp) Setup(g *ir.Ir, op *ir.Op) error { return setupSameShape(g, op, 1) }

func (identityOp) GradOps(*ir.Ir, *ir.Op) []ir.OpSpec {
	return []ir.OpSpec{{Kind: IdentityGrad}}
}

func (identityOp) InplaceCandidates(*ir.Ir, *ir.Op) []ir.InplaceCandidate {
	return []ir.InplaceCandidate{{Kind: IdentityInplace, Priority: DefaultInplacePriority}}
}

type negOp struct{}

func (negOp) Setup(g *ir.Ir, op *ir.Op) error { return setupSameShape(g, op, 1) }

func (negOp) GradOps(*ir.Ir, *ir.Op) []ir.OpSpec {
	return []ir.OpSpec{{Kind: NegGrad}}
}

func (negOp) InplaceCandidates(*ir.Ir, *ir.Op) []ir.InplaceCandidate {
	return []ir.InplaceCandidate{{Kind: NegInplace, Priority: DefaultInplacePriority}}
}

type reluOp struct{}

func (reluOp) Setup(g *ir.Ir, op *ir.Op) error { return setupSameShape(g, op, 1) }

// GradOps of Relu uses its output (not its input) to mask the gradient.
func (reluOp) GradOps(*ir.Ir, *ir.Op) []ir.OpSpec {
	return []ir.OpSpec{{Kind: ReluGrad}}
}

func (reluOp) InplaceCandidates(*ir.Ir, *ir.Op) []ir.InplaceCandidate {
	return []ir.InplaceCandidate{{Kind: ReluInplace, Priority: DefaultInplacePriority}}
}

type scaleOp struct{}

func (scaleOp) Setup(g *ir.Ir, op *ir.Op) error {
	if _, err := op.Attributes().FloatOr(AttrScale, 1); err != nil {
		return err
	}
	return setupSameShape(g, op, 1)
}

func (scaleOp) GradOps(_ *ir.Ir, op *ir.Op) []ir.OpSpec {
	scale, _ := op.Attributes().FloatOr(AttrScale, 1)
	return []ir.OpSpec{{Kind: ScaleGrad, Attributes: ir.Attributes{AttrScale: scale}}}
}

func (scaleOp) InplaceCandidates(*ir.Ir, *ir.Op) []ir.InplaceCandidate {
	return []ir.InplaceCandidate{{Kind: ScaleInplace, Priority: DefaultInplacePriority}}
}

// passGradOp is the gradient of element-wise unary operations whose gradient only depends on the
// gradient of their output: IdentityGrad, NegGrad and ScaleGrad.
type passGradOp struct{}

func (passGradOp) Setup(g *ir.Ir, op *ir.Op) error { return setupSameShape(g, op, 1) }

func (passGradOp) GradInputInfo(*ir.Op) []ir.GradInOutMapper {
	return []ir.GradInOutMapper{{IGrad: 0, INonGrad: 0, Type: ir.GradInGradOut}}
}

func (passGradOp) GradOutToNonGradIn(*ir.Op) map[int]int {
	return map[int]int{0: 0}
}

type reluGradOp struct{}

func (reluGradOp) Setup(g *ir.Ir, op *ir.Op) error { return setupSameShape(g, op, 2) }

func (reluGradOp) GradInputInfo(*ir.Op) []ir.GradInOutMapper {
	return []ir.GradInOutMapper{
		{IGrad: 0, INonGrad: 0, Type: ir.GradInGradOut},
		{IGrad: 1, INonGrad: 0, Type: ir.GradInOut},
	}
}

func (reluGradOp) GradOutToNonGradIn(*ir.Op) map[int]int {
	return map[int]int{0: 0}
}

// inplaceOp is an in-place variant: it has the same semantics (and Setup) as the wrapped behavior,
// but writes its output over the storage of the input modified.
type inplaceOp struct {
	ir.Behavior
	modified int
}

func (v inplaceOp) ModifiedInputs(*ir.Op) []int {
	return []int{v.modified}
}
