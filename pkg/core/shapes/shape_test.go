// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())
	require.Equal(t, 0, int(invalidShape.Memory()))

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Len(t, shape1.Dimensions, 3)
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.True(t, shape1.Equal(shape1.Clone()))
	require.False(t, shape1.Equal(Make(dtypes.Float64, 4, 3, 2)))
	require.Panics(t, func() { _ = Make(dtypes.Float32, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 3, shape.Dim(-2))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestBroadcast(t *testing.T) {
	got, err := Broadcast(Make(dtypes.Float32, 4, 1), Make(dtypes.Float32, 3))
	require.NoError(t, err)
	require.Equal(t, []int{4, 3}, got.Dimensions)

	got, err = Broadcast(Make(dtypes.Float32), Make(dtypes.Float32, 2, 2))
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, got.Dimensions)

	_, err = Broadcast(Make(dtypes.Float32, 2), Make(dtypes.Float32, 3))
	require.Error(t, err)
	_, err = Broadcast(Make(dtypes.Float32, 2), Make(dtypes.Float64, 2))
	require.Error(t, err)

	require.True(t, Make(dtypes.Float32, 3).IsBroadcastableTo(Make(dtypes.Float32, 4, 3)))
	require.False(t, Make(dtypes.Float32, 4, 3).IsBroadcastableTo(Make(dtypes.Float32, 3)))
}
