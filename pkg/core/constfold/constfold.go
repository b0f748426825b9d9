// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package constfold evaluates at preparation time the operations whose inputs are all constants, replacing
// them by a Constant tensor holding the result.
package constfold

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/ir/ops"
	"github.com/gomlx/graphir/pkg/core/shapes"
	"github.com/gomlx/graphir/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Foldable operation kinds.
var Foldable = []ir.OpKind{ops.Identity, ops.Add, ops.Sub, ops.Mul, ops.Neg, ops.Relu, ops.Scale, ops.Sum}

type number interface {
	~int32 | ~int64 | ~float32 | ~float64
}

// Fold evaluates, in schedule order, every foldable operation whose inputs are all Constant tensors. The
// operation is erased and its output becomes a Constant. Anchored outputs and the final loss operation are
// left untouched, as are element types without a kernel and broadcasting other than of single element inputs.
//
// It returns the number of operations folded, or an error if the graph can't be scheduled.
func Fold(g *ir.Ir) (int, error) {
	schedule, err := g.OpSchedule(nil)
	if err != nil {
		return 0, errors.WithMessage(err, "constant folding")
	}
	var count int
	for _, op := range schedule {
		data, ok := evaluate(g, op)
		if !ok {
			continue
		}
		output := op.Outputs().MustId(0)
		klog.V(2).Infof("constant folding %s into %q", op.DebugName(), output)
		g.DisconnectAllInputs(op.Id())
		g.DisconnectAllOutputs(op.Id())
		g.EraseOp(op.Id())
		g.ConvertToConstant(output, data)
		count++
	}
	if count > 0 {
		klog.V(1).Infof("constant folding: %d ops folded", count)
		g.RemoveIsolatedTensors()
	}
	return count, nil
}

// evaluate returns the raw data of the output of op, if it can be folded.
func evaluate(g *ir.Ir, op *ir.Op) ([]byte, bool) {
	if !slices.Contains(Foldable, op.Kind()) || op.Outputs().N() != 1 || !op.Outputs().Has(0) || op.Inputs().N() == 0 {
		return nil, false
	}
	if op.Id() == g.FinalLossOpId() {
		return nil, false
	}
	output := g.OutputTensor(op, 0)
	if g.IsAnchored(output.Id()) || !output.Shape().Ok() {
		return nil, false
	}
	var inputs []*ir.Tensor
	for _, index := range op.Inputs().Indices() {
		t := g.InputTensor(op, index)
		if t.Type() != ir.TensorTypeConstant || t.Data() == nil || t.Shape().DType != output.Shape().DType {
			return nil, false
		}
		if t.Shape().Size() != 1 && !t.Shape().Equal(output.Shape()) {
			return nil, false
		}
		inputs = append(inputs, t)
	}
	scale, err := op.Attributes().FloatOr(ops.AttrScale, 1)
	if err != nil {
		return nil, false
	}

	switch output.Shape().DType {
	case dtypes.Float16:
		return foldFloat16(op.Kind(), scale, inputs, output.Shape())
	case dtypes.Float32:
		return fold[float32](op.Kind(), scale, inputs, output.Shape())
	case dtypes.Float64:
		return fold[float64](op.Kind(), scale, inputs, output.Shape())
	case dtypes.Int32:
		return fold[int32](op.Kind(), scale, inputs, output.Shape())
	case dtypes.Int64:
		return fold[int64](op.Kind(), scale, inputs, output.Shape())
	}
	return nil, false
}

func decode[T any](data []byte, size int) ([]T, bool) {
	values := make([]T, size)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, values); err != nil {
		return nil, false
	}
	return values, true
}

func encode[T any](values []T) ([]byte, bool) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, values); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func fold[T number](kind ir.OpKind, scale float64, inputs []*ir.Tensor, output shapes.Shape) ([]byte, bool) {
	values := make([][]T, len(inputs))
	for ii, t := range inputs {
		var ok bool
		values[ii], ok = decode[T](t.Data(), t.Shape().Size())
		if !ok {
			return nil, false
		}
	}
	result, ok := compute(kind, scale, values, output.Size())
	if !ok {
		return nil, false
	}
	return encode(result)
}

// foldFloat16 computes in float32, and converts the result back to float16.
func foldFloat16(kind ir.OpKind, scale float64, inputs []*ir.Tensor, output shapes.Shape) ([]byte, bool) {
	values := make([][]float32, len(inputs))
	for ii, t := range inputs {
		halves, ok := decode[float16.Float16](t.Data(), t.Shape().Size())
		if !ok {
			return nil, false
		}
		values[ii] = make([]float32, len(halves))
		for jj, h := range halves {
			values[ii][jj] = h.Float32()
		}
	}
	result, ok := compute(kind, scale, values, output.Size())
	if !ok {
		return nil, false
	}
	halves := make([]float16.Float16, len(result))
	for ii, v := range result {
		halves[ii] = float16.Fromfloat32(v)
	}
	return encode(halves)
}

// compute the operation kind element-wise. Single element inputs are broadcast.
func compute[T number](kind ir.OpKind, scale float64, inputs [][]T, size int) ([]T, bool) {
	at := func(input []T, ii int) T {
		if len(input) == 1 {
			return input[0]
		}
		return input[ii]
	}
	result := make([]T, size)
	for ii := range result {
		switch kind {
		case ops.Identity:
			result[ii] = at(inputs[0], ii)
		case ops.Neg:
			result[ii] = -at(inputs[0], ii)
		case ops.Relu:
			result[ii] = max(at(inputs[0], ii), 0)
		case ops.Scale:
			result[ii] = T(float64(at(inputs[0], ii)) * scale)
		case ops.Add:
			result[ii] = at(inputs[0], ii) + at(inputs[1], ii)
		case ops.Sub:
			result[ii] = at(inputs[0], ii) - at(inputs[1], ii)
		case ops.Mul:
			result[ii] = at(inputs[0], ii) * at(inputs[1], ii)
		case ops.Sum:
			var sum T
			for _, input := range inputs {
				sum += at(input, ii)
			}
			result[ii] = sum
		default:
			return nil, false
		}
	}
	return result, true
}

// Encode the values as the little-endian data of a tensor of the given shape, converting them to its dtype.
func Encode(shape shapes.Shape, values []float64) ([]byte, error) {
	if len(values) != shape.Size() {
		return nil, errors.Errorf("%d values given for tensor of shape %s", len(values), shape)
	}
	var (
		data []byte
		ok   bool
	)
	switch shape.DType {
	case dtypes.Float16:
		data, ok = encode(xslices.Map(values, func(v float64) float16.Float16 { return float16.Fromfloat32(float32(v)) }))
	case dtypes.Float32:
		data, ok = encode(xslices.Map(values, func(v float64) float32 { return float32(v) }))
	case dtypes.Float64:
		data, ok = encode(values)
	case dtypes.Int32:
		data, ok = encode(xslices.Map(values, func(v float64) int32 { return int32(v) }))
	case dtypes.Int64:
		data, ok = encode(xslices.Map(values, func(v float64) int64 { return int64(v) }))
	}
	if !ok {
		return nil, errors.Errorf("cannot encode tensor of shape %s", shape)
	}
	return data, nil
}

// Decode the little-endian data of a tensor of the given shape to float64 values.
func Decode(shape shapes.Shape, data []byte) ([]float64, error) {
	var (
		values []float64
		ok     bool
	)
	size := shape.Size()
	switch shape.DType {
	case dtypes.Float16:
		values, ok = decodeAs(data, size, func(v float16.Float16) float64 { return float64(v.Float32()) })
	case dtypes.Float32:
		values, ok = decodeAs(data, size, func(v float32) float64 { return float64(v) })
	case dtypes.Float64:
		values, ok = decode[float64](data, size)
	case dtypes.Int32:
		values, ok = decodeAs(data, size, func(v int32) float64 { return float64(v) })
	case dtypes.Int64:
		values, ok = decodeAs(data, size, func(v int64) float64 { return float64(v) })
	}
	if !ok {
		return nil, errors.Errorf("cannot decode %d bytes as tensor of shape %s", len(data), shape)
	}
	return values, nil
}

func decodeAs[T any](data []byte, size int, convert func(T) float64) ([]float64, bool) {
	values, ok := decode[T](data, size)
	if !ok {
		return nil, false
	}
	return xslices.Map(values, convert), true
}

// Fill returns the data of a tensor of the given shape with all elements set to value.
func Fill(shape shapes.Shape, value float64) ([]byte, error) {
	return Encode(shape, slices.Repeat([]float64{value}, shape.Size()))
}
