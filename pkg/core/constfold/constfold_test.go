// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package constfold

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/ir/ops"
	"github.com/gomlx/graphir/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func mustEncode[T any](values ...T) []byte {
	data, ok := encode(values)
	if !ok {
		panic("failed to encode")
	}
	return data
}

func constantValues[T any](t *testing.T, g *ir.Ir, id ir.TensorId) []T {
	tensor := g.Tensor(id)
	require.NotNil(t, tensor)
	require.Equal(t, ir.TensorTypeConstant, tensor.Type())
	values, ok := decode[T](tensor.Data(), tensor.Shape().Size())
	require.True(t, ok)
	return values
}

func growOp(g *ir.Ir, kind ir.OpKind, attrs ir.Attributes, output ir.TensorId, inputs ...ir.TensorId) *ir.Op {
	in := make(map[int]ir.TensorId)
	for ii, id := range inputs {
		in[ii] = id
	}
	return must.M1(g.GrowOp(ir.OpSpec{Kind: kind, Attributes: attrs}, in, map[int]ir.TensorId{0: output}))
}

func TestFoldFloat32(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	must.M(g.AddConstant("a", shapes.Make(dtypes.Float32, 3), mustEncode[float32](1, 2, 3)))
	must.M(g.AddConstant("two", shapes.Make(dtypes.Float32), mustEncode[float32](2)))
	must.M(g.AddStream("x", shapes.Make(dtypes.Float32, 3)))
	growOp(g, ops.Mul, nil, "c", "a", "two")
	growOp(g, ops.Scale, ir.Attributes{ops.AttrScale: 0.5}, "d", "c")
	add := growOp(g, ops.Add, nil, "y", "d", "x")

	count, err := Fold(g)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []float32{1, 2, 3}, constantValues[float32](t, g, "d"))
	assert.Equal(t, 1, g.NumOps())
	assert.NotNil(t, g.Op(add.Id()))
	assert.False(t, g.HasTensor("c"))
	assert.False(t, g.HasTensor("a"))
	require.NotPanics(t, g.VerifyConnectivity)
}

func TestFoldSkipsAnchored(t *testing.T) {
	g := ir.New(ops.NewRegistry())
	must.M(g.AddConstant("a", shapes.Make(dtypes.Int64, 2), mustEncode[int64](1, -2)))
	growOp(g, ops.Relu, nil, "r", "a")
	growOp(g, ops.Neg, nil, "n", "r")
	g.AddAnchors("r")

	count, err := Fold(g)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 2, g.NumOps())
}

func TestFoldIntegersAndHalves(t *testing.T) {
	halves := []float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-4)}
	g := ir.New(ops.NewRegistry())
	must.M(g.AddConstant("i", shapes.Make(dtypes.Int64, 2), mustEncode[int64](1, -2)))
	must.M(g.AddConstant("j", shapes.Make(dtypes.Int64, 2), mustEncode[int64](10, 20)))
	must.M(g.AddConstant("h", shapes.Make(dtypes.Float16, 2), mustEncode(halves...)))
	growOp(g, ops.Sum, nil, "sum", "i", "j", "j")
	growOp(g, ops.Relu, nil, "relu", "i")
	growOp(g, ops.Neg, nil, "neg", "h")
	g.AddAnchors("i")

	count, err := Fold(g)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []int64{21, 38}, constantValues[int64](t, g, "sum"))
	assert.Equal(t, []int64{1, 0}, constantValues[int64](t, g, "relu"))
	negated := constantValues[float16.Float16](t, g, "neg")
	assert.Equal(t, float32(-1.5), negated[0].Float32())
	assert.Equal(t, float32(4), negated[1].Float32())
	// "i" is anchored, so it is kept even if isolated.
	assert.True(t, g.HasTensor("i"))
	assert.False(t, g.HasTensor("j"))
}

func TestFill(t *testing.T) {
	data, err := Fill(shapes.Make(dtypes.Float64, 2), 1)
	require.NoError(t, err)
	values, ok := decode[float64](data, 2)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1}, values)

	data, err = Fill(shapes.Make(dtypes.Float16), 1)
	require.NoError(t, err)
	assert.Len(t, data, 2)

	_, err = Fill(shapes.Make(dtypes.Bool), 1)
	require.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.Float32, dtypes.Float64, dtypes.Int32, dtypes.Int64} {
		shape := shapes.Make(dtype, 3)
		data, err := Encode(shape, []float64{1, -2, 4})
		require.NoErrorf(t, err, "dtype %s", dtype)
		assert.Equal(t, shape.Memory(), uintptr(len(data)))
		values, err := Decode(shape, data)
		require.NoError(t, err)
		assert.Equalf(t, []float64{1, -2, 4}, values, "dtype %s", dtype)
	}

	_, err := Encode(shapes.Make(dtypes.Float32, 2), []float64{1})
	require.Error(t, err)
	_, err = Decode(shapes.Make(dtypes.Float32, 2), []byte{0, 0})
	require.Error(t, err)
}
