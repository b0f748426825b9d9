// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/graphir/pkg/core/ir"
)

// varUpdateOp updates the Variable in input 0 from input 1: its gradient (SGDVarUpdate) or the source
// of a copy (CopyVarUpdate). It has no outputs.
type varUpdateOp struct{}

func (varUpdateOp) IsVarUpdate() bool { return true }

func (varUpdateOp) Setup(g *ir.Ir, op *ir.Op) error {
	if err := checkInputs(op, 2); err != nil {
		return err
	}
	if op.Outputs().N() > 0 {
		return ir.NewError(ir.MalformedInput, "variable update %s can't have outputs", op.DebugName()).WithOps(op.Id()).Err()
	}
	variable := g.InputTensor(op, 0)
	if variable.Type() != ir.TensorTypeVariable {
		return ir.NewError(ir.MalformedInput, "variable update %s input #0 %q is a %s, not a Variable",
			op.DebugName(), variable.Id(), variable.Type()).WithOps(op.Id()).WithTensors(variable.Id()).Err()
	}
	for _, name := range []string{AttrLearningRate, AttrWeightDecay} {
		if _, err := op.Attributes().FloatOr(name, 0); err != nil {
			return err
		}
	}
	source, err := inputShape(g, op, 1)
	if err != nil {
		return err
	}
	if !source.Equal(variable.Shape()) {
		return ir.NewError(ir.MalformedInput, "variable update %s: variable %q has shape %s, but the update has shape %s",
			op.DebugName(), variable.Id(), variable.Shape(), source).WithOps(op.Id()).WithTensors(variable.Id()).Err()
	}
	return nil
}
