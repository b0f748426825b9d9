// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package autodiff grows the backwards pass of an ir.Ir: it sums the losses into the final loss, counts the
// paths from each tensor to it, and then creates the gradient operations in dependency order, summing the
// edge gradients of each tensor. Finally, it grows the variable update operations and their ordering
// constraints.
package autodiff

import (
	"github.com/gomlx/graphir/pkg/core/constfold"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/ir/ops"
	"github.com/gomlx/graphir/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options of the backwards pass.
type Options struct {
	// LearningRate and WeightDecay of the constant SGD variable updates.
	LearningRate, WeightDecay float64
}

// Result reports what ConstructBackwards grew.
type Result struct {
	GradOps, SumOps, VarUpdateOps []ir.OpId

	// PendingTensors and PendingOps count the registry entries left incomplete.
	PendingTensors, PendingOps int
}

// GrowFinalLoss sums the loss tensors into the tensor ir.FinalLossId, with a Sum operation that becomes the
// Ir's final loss operation.
func GrowFinalLoss(g *ir.Ir, lossIds []ir.TensorId) (*ir.Op, error) {
	if len(lossIds) == 0 {
		return nil, ir.NewError(ir.MalformedInput, "training requires at least one loss").Err()
	}
	if g.HasTensor(ir.FinalLossId) {
		return nil, ir.NewError(ir.MalformedInput, "tensor name %q is reserved for the final loss", ir.FinalLossId).
			WithTensors(ir.FinalLossId).Err()
	}
	inputs := make(map[int]ir.TensorId, len(lossIds))
	for ii, id := range lossIds {
		if !g.HasTensor(id) {
			return nil, ir.NewError(ir.MalformedInput, "loss tensor %q not in graph", id).WithTensors(id).Err()
		}
		inputs[ii] = id
	}
	op, err := g.GrowOp(ir.OpSpec{Kind: ops.Sum, Name: string(ir.FinalLossId)}, inputs,
		map[int]ir.TensorId{0: ir.FinalLossId})
	if err != nil {
		return nil, errors.WithMessage(err, "growing final loss")
	}
	g.SetFinalLossOpId(op.Id())
	klog.V(1).Infof("final loss %s sums %d losses", op.DebugName(), len(lossIds))
	return op, nil
}

// SetNPathsToLoss walks backwards from the final loss operation, counting for each tensor the number of input
// slots on the way to the loss that consume it, and for each operation the number of its outputs on the
// way to the loss.
func SetNPathsToLoss(g *ir.Ir) {
	finalLoss := g.Op(g.FinalLossOpId())
	if finalLoss == nil {
		ir.Fatalf("SetNPathsToLoss requires a final loss op")
	}
	for _, op := range g.Ops() {
		op.ResetNPathsToLoss()
	}
	for _, id := range g.AllTensorIds() {
		g.Tensor(id).ResetNPathsToLoss()
	}

	front := []*ir.Op{finalLoss}
	opsSeen := map[ir.OpId]bool{finalLoss.Id(): true}
	tensorsSeen := make(map[ir.TensorId]bool)
	for len(front) > 0 {
		var op *ir.Op
		op, front = xslices.Pop(front)
		for _, index := range op.Inputs().Indices() {
			t := g.InputTensor(op, index)
			t.IncrNPathsToLoss()
			if tensorsSeen[t.Id()] {
				continue
			}
			tensorsSeen[t.Id()] = true
			producer := g.Producer(t.Id())
			if producer == nil {
				continue
			}
			producer.IncrNPathsToLoss()
			if !opsSeen[producer.Id()] {
				opsSeen[producer.Id()] = true
				front = append(front, producer)
			}
		}
	}
}

// gradNonGrad pairs a grown gradient operation with the operation it differentiates.
type gradNonGrad struct {
	grad, nonGrad *ir.Op
}

// ConstructBackwards grows the gradient of every tensor on a path to the final loss, starting from the
// seed ir.GradId(ir.FinalLossId), a constant one. Then it grows one update per Variable and their ordering
// constraints (see SetVarUpdateCons).
//
// It requires GrowFinalLoss and SetNPathsToLoss to have run.
func ConstructBackwards(g *ir.Ir, opts Options) (Result, error) {
	var result Result
	finalLoss := g.Op(g.FinalLossOpId())
	if finalLoss == nil {
		ir.Fatalf("ConstructBackwards requires a final loss op")
	}
	klog.V(1).Infof("constructing backwards pass of Ir %s", g.Id())

	lossShape := g.Tensor(ir.FinalLossId).Shape()
	seed, err := constfold.Fill(lossShape, 1)
	if err != nil {
		return result, ir.NewError(ir.MalformedInput, "final loss of shape %s can't be differentiated: %v", lossShape, err).Err()
	}
	if err = g.AddConstant(ir.GradId(ir.FinalLossId), lossShape, seed); err != nil {
		return result, err
	}

	tensorGrads := NewTensorGradRegistry()
	opGrads := NewOpGradRegistry()
	var toRegister []gradNonGrad
	grow := func(nonGrad *ir.Op) error {
		gradOps, err := GrowGradOps(g, nonGrad)
		if err != nil {
			return err
		}
		for _, gradOp := range gradOps {
			result.GradOps = append(result.GradOps, gradOp.Id())
			toRegister = append(toRegister, gradNonGrad{grad: gradOp, nonGrad: nonGrad})
		}
		return nil
	}
	if err = grow(finalLoss); err != nil {
		return result, err
	}

	for len(toRegister) > 0 || tensorGrads.HasComplete() || opGrads.HasComplete() {
		if len(toRegister) > 0 {
			var pair gradNonGrad
			pair, toRegister = xslices.Pop(toRegister)
			registerOpGrads(g, tensorGrads, pair.grad, pair.nonGrad)
		}
		for _, entry := range tensorGrads.PopComplete() {
			sumOp, err := GrowGradSumOp(g, entry.NonGrad, entry.EdgeGrads)
			if err != nil {
				return result, err
			}
			result.SumOps = append(result.SumOps, sumOp.Id())
			nonGrad := g.Tensor(entry.NonGrad)
			switch nonGrad.Type() {
			case ir.TensorTypeActGrad:
				producer := g.Producer(nonGrad.Id())
				opGrads.Insert(producer, producer.Outputs().IndicesOf(nonGrad.Id())[0])
			case ir.TensorTypeVariable, ir.TensorTypeStream, ir.TensorTypeConstant:
				// Nothing to propagate.
			default:
				ir.NewError(ir.InternalConsistency, "can't register gradient of %s tensor %q", nonGrad.Type(), nonGrad.Id()).
					WithTensors(nonGrad.Id()).Throw()
			}
		}
		for _, op := range opGrads.PopComplete() {
			if err := grow(op); err != nil {
				return result, err
			}
		}
	}
	result.PendingTensors = tensorGrads.NumPending()
	result.PendingOps = opGrads.NumPending()
	if result.PendingTensors > 0 || result.PendingOps > 0 {
		klog.Warningf("backwards pass of Ir %s left %d tensors (%v) and %d ops with incomplete gradients",
			g.Id(), result.PendingTensors, tensorGrads.Pending(), result.PendingOps)
	}

	result.VarUpdateOps, err = GrowVarUpdates(g, opts)
	if err != nil {
		return result, err
	}
	SetVarUpdateCons(g)
	klog.V(1).Infof("backwards pass of Ir %s: %d gradient ops, %d sum ops, %d variable updates",
		g.Id(), len(result.GradOps), len(result.SumOps), len(result.VarUpdateOps))
	return result, nil
}

// registerOpGrads inserts each output of gradOp as an edge gradient of the corresponding input of nonGradOp.
func registerOpGrads(g *ir.Ir, tensorGrads *TensorGradRegistry, gradOp, nonGradOp *ir.Op) {
	mapping := gradOp.Behavior().(ir.GradOp).GradOutToNonGradIn(gradOp)
	for _, outIndex := range gradOp.Outputs().Indices() {
		inIndex, found := mapping[outIndex]
		if !found {
			ir.NewError(ir.InternalConsistency, "gradient op %s output #%d has no corresponding input in %s",
				gradOp.DebugName(), outIndex, nonGradOp.DebugName()).WithOps(gradOp.Id(), nonGradOp.Id()).Throw()
		}
		nonGrad := g.InputTensor(nonGradOp, inIndex)
		tensorGrads.Insert(nonGrad, gradOp.Outputs().MustId(outIndex))
	}
}

// GrowGradOps creates the gradient operations of nonGradOp, connecting their inputs as described by their
// ir.GradOp mapping, and their outputs to new edge gradient tensors.
//
// Operations without inputs have no gradients. Operations with inputs that are not differentiable are
// malformed input, and a missing gradient of an output is a MissingGradient error.
func GrowGradOps(g *ir.Ir, nonGradOp *ir.Op) ([]*ir.Op, error) {
	if nonGradOp.Inputs().N() == 0 {
		return nil, nil
	}
	provider, ok := nonGradOp.Behavior().(ir.GradOpsProvider)
	if !ok {
		return nil, ir.NewError(ir.MalformedInput, "op %s is on a path to the loss, but %q is not differentiable",
			nonGradOp.DebugName(), nonGradOp.Kind()).WithOps(nonGradOp.Id()).Err()
	}
	var gradOps []*ir.Op
	for _, spec := range provider.GradOps(g, nonGradOp) {
		gradOp, err := g.AddOp(spec.Kind, spec.Name, spec.Attributes.Clone())
		if err != nil {
			return nil, err
		}
		mapper, ok := gradOp.Behavior().(ir.GradOp)
		if !ok {
			ir.Fatalf("gradient of %s is of kind %q, which is not a gradient op", nonGradOp.DebugName(), spec.Kind)
		}
		for _, m := range mapper.GradInputInfo(gradOp) {
			var id ir.TensorId
			switch m.Type {
			case ir.GradInIn:
				id = nonGradOp.Inputs().MustId(m.INonGrad)
			case ir.GradInOut:
				id = nonGradOp.Outputs().MustId(m.INonGrad)
			case ir.GradInGradOut:
				output := nonGradOp.Outputs().MustId(m.INonGrad)
				id = ir.GradId(output)
				if !g.HasTensor(id) {
					return nil, ir.NewError(ir.MissingGradient,
						"no gradient for op %s output #%d (%q): could it be that the path along that index did not lead to the final loss, in which case the gradient is zero?",
						nonGradOp.DebugName(), m.INonGrad, output).WithOps(nonGradOp.Id()).WithTensors(output).Err()
				}
			}
			if err = g.ConnectInput(gradOp.Id(), m.IGrad, id); err != nil {
				return nil, err
			}
		}
		mapping := mapper.GradOutToNonGradIn(gradOp)
		for _, outIndex := range xslices.SortedKeys(mapping) {
			inIndex := mapping[outIndex]
			edgeGrad := ir.EdgeGradId(nonGradOp.Inputs().MustId(inIndex), nonGradOp.Id(), inIndex)
			if err = g.CreateAndConnectOutput(gradOp.Id(), outIndex, edgeGrad); err != nil {
				return nil, err
			}
		}
		if err = g.Setup(gradOp.Id()); err != nil {
			return nil, errors.WithMessagef(err, "setting up gradient of %s", nonGradOp.DebugName())
		}
		klog.V(2).Infof("grew %s as gradient of %s", gradOp, nonGradOp.DebugName())
		gradOps = append(gradOps, gradOp)
	}
	return gradOps, nil
}

// GrowGradSumOp sums the edge gradients of nonGrad into its gradient, ir.GradId(nonGrad).
func GrowGradSumOp(g *ir.Ir, nonGrad ir.TensorId, edgeGrads []ir.TensorId) (*ir.Op, error) {
	inputs := make(map[int]ir.TensorId, len(edgeGrads))
	for ii, id := range edgeGrads {
		inputs[ii] = id
	}
	op, err := g.GrowOp(ir.OpSpec{Kind: ops.Sum}, inputs, map[int]ir.TensorId{0: ir.GradId(nonGrad)})
	if err != nil {
		return nil, errors.WithMessagef(err, "summing the gradients of %q", nonGrad)
	}
	return op, nil
}

// GrowVarUpdates grows one update operation per Variable: SGD from its gradient, or a copy from another tensor.
func GrowVarUpdates(g *ir.Ir, opts Options) ([]ir.OpId, error) {
	var updates []ir.OpId
	for _, id := range g.TensorIdsOfType(ir.TensorTypeVariable) {
		var spec ir.OpSpec
		var source ir.TensorId
		switch kind, copyFrom := g.Tensor(id).VariableUpdate(); kind {
		case ir.VariableUpdateCopy:
			spec = ir.OpSpec{Kind: ops.CopyVarUpdate}
			source = copyFrom
			if !g.HasTensor(source) {
				return nil, ir.NewError(ir.MalformedInput, "variable %q copies from undeclared tensor %q", id, source).
					WithTensors(id, source).Err()
			}
		default:
			spec = ir.OpSpec{Kind: ops.SGDVarUpdate, Attributes: ir.Attributes{
				ops.AttrLearningRate: opts.LearningRate,
				ops.AttrWeightDecay:  opts.WeightDecay,
			}}
			source = ir.GradId(id)
			if !g.HasTensor(source) {
				return nil, ir.NewError(ir.MissingGradient, "variable %q has no gradient: is there a path from it to the loss?", id).
					WithTensors(id).Err()
			}
		}
		op, err := g.GrowOp(spec, map[int]ir.TensorId{0: id, 1: source}, nil)
		if err != nil {
			return nil, errors.WithMessagef(err, "growing update of variable %q", id)
		}
		klog.V(2).Infof("grew variable update %s", op)
		updates = append(updates, op.Id())
	}
	return updates, nil
}

// SetVarUpdateCons constrains every other consumer of a Variable to run before the variable's update operation.
func SetVarUpdateCons(g *ir.Ir) {
	for _, id := range g.TensorIdsOfType(ir.TensorTypeVariable) {
		for _, consumer := range g.Consumers(id) {
			if ir.IsVarUpdate(consumer) && consumer.Inputs().MustId(0) == id {
				g.SetFinalConsumer(id, consumer.Id())
			}
		}
	}
}
