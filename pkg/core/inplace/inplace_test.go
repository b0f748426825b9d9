// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package inplace

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/ir/ops"
	"github.com/gomlx/graphir/pkg/core/shapes"
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

func newIr(t *testing.T) *ir.Ir {
	g := ir.New(ops.NewRegistry())
	require.NoError(t, g.AddStream("x", shapes.Make(dtypes.Float32, 2, 3)))
	require.NoError(t, g.AddStream("y", shapes.Make(dtypes.Float32, 2, 3)))
	return g
}

func TestCandidates(t *testing.T) {
	g := newIr(t)
	add := growOp(g, ops.Add, nil, []ir.TensorId{"z"}, "x", "y")
	relu := growOp(g, ops.Relu, nil, []ir.TensorId{"r"}, "z")
	scale := growOp(g, ops.Scale, ir.Attributes{ops.AttrScale: 3.0}, []ir.TensorId{"s"}, "r")
	relu.Settings().InplacePriority = map[ir.OpKind]float64{ops.ReluInplace: 20}
	scale.Settings().InplacePriority = map[ir.OpKind]float64{ops.ScaleInplace: 0}

	candidates := Candidates(g)
	require.Len(t, candidates, 3)
	assert.Equal(t, relu.Id(), candidates[0].Op)
	assert.Equal(t, 20.0, candidates[0].Priority)
	assert.Equal(t, ops.AddLhsInplace, candidates[1].Kind)
	assert.Equal(t, ops.AddRhsInplace, candidates[2].Kind)
	assert.Equal(t, add.Id(), candidates[2].Op)

	assert.Equal(t, []ir.TensorId{"y"}, must.M1(ModifiedInputs(g, add, ops.AddRhsInplace)))
	assert.Equal(t, []ir.TensorId{"y", "z"}, must.M1(Touches(g, add, ops.AddRhsInplace)))
	_, err := ModifiedInputs(g, add, ops.Add)
	assert.Error(t, err)
}

// TestOneVariantPerOp: Add has two in-place variants overwriting different inputs, only the one with
// highest priority is committed.
func TestOneVariantPerOp(t *testing.T) {
	g := newIr(t)
	add := growOp(g, ops.Add, nil, []ir.TensorId{"z"}, "x", "y")
	add.Settings().InplacePriority = map[ir.OpKind]float64{ops.AddRhsInplace: 5}

	result := must.M1(Apply(g))
	require.Len(t, result.Committed, 1)
	assert.Empty(t, result.Rejected)
	commit := result.Committed[0]
	assert.Equal(t, ops.AddLhsInplace, commit.Kind)
	assert.Equal(t, 10.0, commit.Priority)
	assert.Nil(t, g.Op(add.Id()))

	newOp := g.Producer("z")
	assert.Equal(t, commit.NewOp, newOp.Id())
	assert.Equal(t, ops.AddLhsInplace, newOp.Kind())
	assert.Equal(t, []ir.TensorId{"x", "y"}, newOp.Inputs().Ids())
	assert.Equal(t, 5.0, newOp.InplacePriority(ops.AddRhsInplace, 10))
	g.VerifyConnectivity()

	// Running it again finds nothing to do: in-place kinds have no variants.
	result = must.M1(Apply(g))
	assert.Empty(t, result.Committed)
}

func TestOtherReadersRunFirst(t *testing.T) {
	g := newIr(t)
	relu := growOp(g, ops.Relu, nil, []ir.TensorId{"a"}, "x")
	neg := growOp(g, ops.Neg, nil, []ir.TensorId{"b"}, "x")
	growOp(g, ops.Add, nil, []ir.TensorId{"c"}, "a", "b")
	g.AddAnchors("c")

	constraints := must.M1(NewTopoCons(g, relu, ops.ReluInplace))
	assert.Equal(t, []ir.Constraint{{Before: neg.Id(), After: relu.Id()}}, constraints)

	result := must.M1(Apply(g))
	require.Len(t, result.Committed, 1)
	commit := result.Committed[0]
	assert.Equal(t, ops.ReluInplace, commit.Kind)
	assert.Equal(t, []ir.Constraint{{Before: neg.Id(), After: commit.NewOp}}, commit.Constraints)
	assert.True(t, g.TopoCons().Contains(neg.Id(), commit.NewOp))

	// Neg can't also overwrite x: Relu would have to run before it.
	require.Len(t, result.Rejected, 3)
	assert.Equal(t, neg.Id(), result.Rejected[0].Op)
	assert.Equal(t, ReasonUnschedulable, result.Rejected[0].Reason)
	// Both variants of the Add produce the anchored c.
	assert.Equal(t, ops.AddLhsInplace, result.Rejected[1].Kind)
	assert.Equal(t, ReasonAnchored, result.Rejected[1].Reason)
	assert.Equal(t, ops.AddRhsInplace, result.Rejected[2].Kind)
	assert.Equal(t, ReasonAnchored, result.Rejected[2].Reason)

	schedule, err := g.OpSchedule(nil)
	require.NoError(t, err)
	assert.Len(t, schedule, 3)
	position := make(map[ir.OpId]int)
	for ii, op := range schedule {
		position[op.Id()] = ii
	}
	assert.Less(t, position[neg.Id()], position[commit.NewOp])
}

func TestReadOnlyAndAnchored(t *testing.T) {
	g := newIr(t)
	require.NoError(t, g.AddVariable("w", shapes.Make(dtypes.Float32, 2, 3), nil))
	onVariable := growOp(g, ops.Relu, nil, []ir.TensorId{"a"}, "w")
	onAnchor := growOp(g, ops.Neg, nil, []ir.TensorId{"b"}, "x")
	g.AddAnchors("x")

	result := must.M1(Apply(g))
	assert.Empty(t, result.Committed)
	require.Len(t, result.Rejected, 2)
	assert.Equal(t, onVariable.Id(), result.Rejected[0].Op)
	assert.Equal(t, ReasonReadOnly, result.Rejected[0].Reason)
	assert.Equal(t, onAnchor.Id(), result.Rejected[1].Op)
	assert.Equal(t, ReasonAnchored, result.Rejected[1].Reason)
	assert.Equal(t, ops.Relu, g.Producer("a").Kind())
}

// smoothOp is an element-wise unary op with two in-place variants, both overwriting its only input.
type smoothOp struct{}

func (smoothOp) Setup(g *ir.Ir, op *ir.Op) error {
	g.OutputTensor(op, 0).SetShape(g.InputTensor(op, 0).Shape())
	return nil
}

func (smoothOp) InplaceCandidates(*ir.Ir, *ir.Op) []ir.InplaceCandidate {
	return []ir.InplaceCandidate{{Kind: "SmoothInplaceLow", Priority: 5}, {Kind: "SmoothInplaceHigh", Priority: 10}}
}

type smoothVariant struct{}

func (smoothVariant) Setup(g *ir.Ir, op *ir.Op) error { return smoothOp{}.Setup(g, op) }

func (smoothVariant) ModifiedInputs(*ir.Op) []int { return []int{0} }

// TestOneVariantPerInput: two variants overwrite the same input, only the one with highest priority is
// committed and the other is not even checked.
func TestOneVariantPerInput(t *testing.T) {
	registry := ops.NewRegistry()
	registry.Register("Smooth", smoothOp{})
	registry.Register("SmoothInplaceLow", smoothVariant{})
	registry.Register("SmoothInplaceHigh", smoothVariant{})
	g := ir.New(registry)
	require.NoError(t, g.AddStream("x", shapes.Make(dtypes.Float32, 2, 3)))
	smooth := growOp(g, "Smooth", nil, []ir.TensorId{"s"}, "x")

	candidates := Candidates(g)
	require.Len(t, candidates, 2)
	assert.Equal(t, ir.OpKind("SmoothInplaceHigh"), candidates[0].Kind)
	assert.Equal(t, []ir.TensorId{"x"}, must.M1(ModifiedInputs(g, smooth, "SmoothInplaceLow")))
	assert.Equal(t, []ir.TensorId{"x"}, must.M1(ModifiedInputs(g, smooth, "SmoothInplaceHigh")))

	result := must.M1(Apply(g))
	require.Len(t, result.Committed, 1)
	assert.Empty(t, result.Rejected)
	assert.Equal(t, ir.OpKind("SmoothInplaceHigh"), result.Committed[0].Kind)
	assert.Equal(t, 10.0, result.Committed[0].Priority)
	producer := g.Producer("s")
	assert.Equal(t, ir.OpKind("SmoothInplaceHigh"), producer.Kind())
	assert.Equal(t, []ir.TensorId{"x"}, producer.Inputs().Ids())
	assert.Equal(t, 1, g.NumOps())
	g.VerifyConnectivity()
}
