// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autodiff

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/ir/ops"
	"github.com/gomlx/graphir/pkg/core/shapes"
	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func growOp(g *ir.Ir, kind ir.OpKind, attrs ir.Attributes, outputs []ir.TensorId, inputs ...ir.TensorId) *ir.Op {
	in := make(map[int]ir.TensorId)
	for ii, id := range inputs {
		in[ii] = id
	}
	out := make(map[int]ir.TensorId)
	for ii, id := range outputs {
		out[ii] = id
	}
	return must.M1(g.GrowOp(ir.OpSpec{Kind: kind, Attributes: attrs}, in, out))
}

func kinds(g *ir.Ir, ids []ir.OpId) []ir.OpKind {
	var k []ir.OpKind
	for _, id := range ids {
		k = append(k, g.Op(id).Kind())
	}
	return k
}

// TestTwoConsumers: A produces x (no inputs), B and C consume x and the loss is the sum of their outputs.
func TestTwoConsumers(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	a := growOp(g, ops.Init, ir.Attributes{ops.AttrDType: "Float32"}, []ir.TensorId{"x"})
	b := growOp(g, ops.Identity, nil, []ir.TensorId{"y"}, "x")
	c := growOp(g, ops.Relu, nil, []ir.TensorId{"z"}, "x")

	finalLoss := must.M1(GrowFinalLoss(g, []ir.TensorId{"y", "z"}))
	assert.Equal(t, finalLoss.Id(), g.FinalLossOpId())
	SetNPathsToLoss(g)
	assert.Equal(t, 2, g.Tensor("x").NPathsToLoss())
	assert.Equal(t, 1, g.Tensor("y").NPathsToLoss())
	assert.Equal(t, 1, a.NPathsToLoss())

	result, err := ConstructBackwards(g, Options{})
	require.NoError(t, err)
	assert.Zero(t, result.PendingTensors)
	assert.Zero(t, result.PendingOps)
	assert.Empty(t, result.VarUpdateOps)

	// Gradient operators of B and C, each consuming the gradient of their own output.
	identityGrads := g.OpsOfType(ops.IdentityGrad)
	require.Len(t, identityGrads, 1)
	assert.Equal(t, ir.TensorId("d__y"), identityGrads[0].Inputs().MustId(0))
	reluGrads := g.OpsOfType(ops.ReluGrad)
	require.Len(t, reluGrads, 1)
	assert.Equal(t, ir.TensorId("d__z"), reluGrads[0].Inputs().MustId(0))
	assert.Equal(t, ir.TensorId("z"), reluGrads[0].Inputs().MustId(1))

	// One sum combining the two edge gradients of x.
	sumOfX := g.Producer("d__x")
	require.NotNil(t, sumOfX)
	assert.Equal(t, ops.Sum, sumOfX.Kind())
	assert.ElementsMatch(t,
		[]ir.TensorId{ir.EdgeGradId("x", b.Id(), 0), ir.EdgeGradId("x", c.Id(), 0)},
		sumOfX.Inputs().Ids())

	// Sums for y, z and x.
	assert.Len(t, result.SumOps, 3)
	assert.ElementsMatch(t, []ir.OpKind{ops.SumArgGrad, ops.SumArgGrad, ops.ReluGrad, ops.IdentityGrad},
		kinds(g, result.GradOps))
	require.NotPanics(t, g.VerifyConnectivity)
	_, err = g.OpSchedule(nil)
	require.NoError(t, err)
}

func TestNPathsToLossRepeatedInput(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	must.M(g.AddStream("x", shapes.Make(dtypes.Float32, 3)))
	growOp(g, ops.Add, nil, []ir.TensorId{"y"}, "x", "x")
	growOp(g, ops.L1, nil, []ir.TensorId{"loss"}, "y")
	must.M1(GrowFinalLoss(g, []ir.TensorId{"loss"}))
	SetNPathsToLoss(g)
	assert.Equal(t, 2, g.Tensor("x").NPathsToLoss())

	result, err := ConstructBackwards(g, Options{})
	require.NoError(t, err)
	assert.Zero(t, result.PendingTensors)
	assert.Len(t, g.Producer("d__x").Inputs().Ids(), 2)
}

func TestVariableUpdates(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	must.M(g.AddStream("x", shapes.Make(dtypes.Float32, 2, 3)))
	must.M(g.AddVariable("w", shapes.Make(dtypes.Float32, 3), nil))
	must.M(g.AddVariable("b", shapes.Make(dtypes.Float32, 3), nil))
	must.M(g.AddVariable("shadow", shapes.Make(dtypes.Float32, 3), nil))
	g.Tensor("shadow").SetCopyFrom("w")
	mul := growOp(g, ops.Mul, nil, []ir.TensorId{"xw"}, "x", "w")
	add := growOp(g, ops.Add, nil, []ir.TensorId{"y"}, "xw", "b")
	growOp(g, ops.L1, ir.Attributes{ops.AttrLambda: 0.1}, []ir.TensorId{"loss"}, "y")
	must.M1(GrowFinalLoss(g, []ir.TensorId{"loss"}))
	SetNPathsToLoss(g)

	result, err := ConstructBackwards(g, Options{LearningRate: 0.01})
	require.NoError(t, err)
	require.Len(t, result.VarUpdateOps, 3)

	updates := make(map[ir.TensorId]ir.OpId)
	for _, id := range result.VarUpdateOps {
		update := g.Op(id)
		variable := g.InputTensor(update, 0)
		updates[variable.Id()] = id
		source := g.InputTensor(update, 1)
		assert.Equal(t, ir.TensorTypeVariable, variable.Type())
		assert.True(t, variable.Shape().Equal(source.Shape()))
		switch variable.Id() {
		case "shadow":
			assert.Equal(t, ops.CopyVarUpdate, update.Kind())
			assert.Equal(t, ir.TensorId("w"), source.Id())
		default:
			assert.Equal(t, ops.SGDVarUpdate, update.Kind())
			assert.Equal(t, ir.GradId(variable.Id()), source.Id())
			assert.Equal(t, 0.01, update.Attributes()[ops.AttrLearningRate])
		}
	}

	// The gradient of w is reduced to its shape.
	assert.True(t, g.Tensor("d__w").Shape().Equal(shapes.Make(dtypes.Float32, 3)))

	// Readers of the variables run before their updates.
	assert.True(t, g.TopoCons().Contains(mul.Id(), updates["w"]))
	assert.True(t, g.TopoCons().Contains(add.Id(), updates["b"]))
	// "shadow" copies from "w", so it reads it before its update.
	assert.True(t, g.TopoCons().Contains(updates["shadow"], updates["w"]))

	schedule := g.MustOpSchedule(nil)
	position := make(map[ir.OpId]int)
	for ii, op := range schedule {
		position[op.Id()] = ii
	}
	for _, c := range g.TopoCons().All() {
		assert.Less(t, position[c.Before], position[c.After])
	}
	require.NotPanics(t, g.VerifyConnectivity)
}

func TestMissingGradient(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	must.M(g.AddStream("x", shapes.Make(dtypes.Float32, 3)))
	must.M(g.AddVariable("unused", shapes.Make(dtypes.Float32, 3), nil))
	growOp(g, ops.L1, nil, []ir.TensorId{"loss"}, "x")
	must.M1(GrowFinalLoss(g, []ir.TensorId{"loss"}))
	SetNPathsToLoss(g)
	_, err := ConstructBackwards(g, Options{})
	require.Error(t, err)
	assert.True(t, ir.IsCategory(err, ir.MissingGradient))
	assert.Contains(t, err.Error(), "unused")
}

func TestNotDifferentiable(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	must.M(g.AddStream("x", shapes.Make(dtypes.Float32, 2, 3)))
	growOp(g, ops.ReduceSum, ir.Attributes{ops.AttrShape: []int64{3}}, []ir.TensorId{"r"}, "x")
	growOp(g, ops.L1, nil, []ir.TensorId{"loss"}, "r")
	must.M1(GrowFinalLoss(g, []ir.TensorId{"loss"}))
	SetNPathsToLoss(g)
	_, err := ConstructBackwards(g, Options{})
	require.Error(t, err)
	assert.True(t, ir.IsCategory(err, ir.MalformedInput))
}

func TestGrowFinalLossErrors(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	_, err := GrowFinalLoss(g, nil)
	require.Error(t, err)
	_, err = GrowFinalLoss(g, []ir.TensorId{"nope"})
	require.Error(t, err)
	assert.True(t, ir.IsCategory(err, ir.MalformedInput))
}

func TestTensorGradRegistry(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	must.M(g.AddStream("x", shapes.Make(dtypes.Float32)))
	x := g.Tensor("x")
	x.IncrNPathsToLoss()
	x.IncrNPathsToLoss()

	r := NewTensorGradRegistry()
	r.Insert(x, "e0")
	assert.False(t, r.HasComplete())
	assert.Equal(t, 1, r.NumPending())
	assert.Equal(t, []ir.TensorId{"x"}, r.Pending())
	r.Insert(x, "e1")
	assert.Equal(t, 0, r.NumPending())
	assert.Equal(t, []TensorGrads{{NonGrad: "x", EdgeGrads: []ir.TensorId{"e0", "e1"}}}, r.PopComplete())
	assert.False(t, r.HasComplete())

	// More edges than paths to loss.
	r = NewTensorGradRegistry()
	x.ResetNPathsToLoss()
	x.IncrNPathsToLoss()
	r.Insert(x, "e0")
	err := exceptions.TryCatch[error](func() { r.Insert(x, "e1") })
	require.Error(t, err)
	assert.True(t, ir.IsCategory(err, ir.InternalConsistency))
}

// eagerOp creates its gradients as soon as output 0 has a gradient.
type eagerOp struct{}

func (eagerOp) Setup(*ir.Ir, *ir.Op) error { return nil }

func (eagerOp) ReadyToCreateGradients(_ *ir.Op, ready sets.Set[int]) bool { return ready.Has(0) }

func TestOpGradRegistry(t *testing.T) {
	registry := ops.NewRegistry()
	registry.Register("Eager", eagerOp{})
	g := ir.New(registry)
	op := must.M1(g.AddOp(ops.Identity, "", nil))
	op.IncrNPathsToLoss()
	op.IncrNPathsToLoss()
	eager := must.M1(g.AddOp("Eager", "", nil))
	eager.IncrNPathsToLoss()
	eager.IncrNPathsToLoss()

	r := NewOpGradRegistry()
	r.Insert(op, 1)
	r.Insert(eager, 1)
	assert.Equal(t, 2, r.NumPending())
	assert.False(t, r.HasComplete())
	r.Insert(eager, 0)
	assert.Equal(t, []*ir.Op{eager}, r.PopComplete())
	r.Insert(op, 0)
	assert.Equal(t, []*ir.Op{op}, r.PopComplete())
	assert.Equal(t, 0, r.NumPending())

	err := exceptions.TryCatch[error](func() { r.Insert(op, 0) })
	require.Error(t, err)
	assert.True(t, ir.IsCategory(err, ir.InternalConsistency))
}
