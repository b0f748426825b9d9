// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transforms

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

func TestPrune(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	shape := shapes.Make(dtypes.Float32, 4)
	require.NoError(t, g.AddStream("x", shape))
	require.NoError(t, g.AddStream("y", shape))
	require.NoError(t, g.AddStream("unused", shape))
	require.NoError(t, g.AddVariable("w", shape, nil))

	relu := growOp(g, ops.Relu, nil, []ir.TensorId{"a"}, "x")
	neg := growOp(g, ops.Neg, nil, []ir.TensorId{"b"}, "x")
	deadChain := growOp(g, ops.Relu, nil, []ir.TensorId{"b2"}, "b")
	scale := growOp(g, ops.Scale, ir.Attributes{ops.AttrScale: 2.0}, []ir.TensorId{"c"}, "a")
	identity := growOp(g, ops.Identity, nil, []ir.TensorId{"d"}, "y")
	update := growOp(g, ops.CopyVarUpdate, nil, nil, "w", "d")
	g.AddAnchors("c")

	required := Required(g)
	for _, op := range []*ir.Op{relu, scale, identity, update} {
		assert.Truef(t, required.Has(op.Id()), "op %s should be required", op.DebugName())
	}
	assert.False(t, required.Has(neg.Id()))

	result, err := Prune(g)
	require.NoError(t, err)
	assert.Equal(t, []ir.OpId{neg.Id(), deadChain.Id()}, result.Ops)
	assert.Equal(t, []ir.TensorId{"b", "b2", "unused"}, result.Tensors)
	assert.Equal(t, 4, g.NumOps())
	assert.Equal(t, []ir.TensorId{"a", "c", "d", "w", "x", "y"}, g.AllTensorIds())
	g.VerifyConnectivity()
}

func TestPruneEverything(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	require.NoError(t, g.AddStream("x", shapes.Make(dtypes.Float32, 4)))
	growOp(g, ops.Relu, nil, []ir.TensorId{"a"}, "x")

	_, err := Prune(g)
	require.Error(t, err)
	assert.True(t, ir.IsCategory(err, ir.MalformedInput))
	assert.Equal(t, 1, g.NumOps())

	g.AddAnchors("a")
	result := must.M1(Prune(g))
	assert.Empty(t, result.Ops)
}
