// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the descriptor of a tensor in the IR: its element type (DType) and dimensions.
//
// A Shape is attached to every tensor of the IR, but it is only meaningful after shape inference
// (the "setup" of the producing operation) ran. Until then a tensor holds an invalid shape, see Invalid.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: is the index of a dimension on a multidimensional tensor.
//   - Dimension: the size of a multi-dimensions tensor in one of its axes.
//   - DType: the data type of the unit element in a tensor. Enumeration defined in github.com/gomlx/gopjrt/dtypes
//   - Scalar: is a shape where there are no axes (or dimensions), only a single value
//     of the associated DType.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape represents the shape of a tensor: its element type and dimensions.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given type.
func Scalar[T dtypes.Number]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid)"
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
func (s Shape) Memory() uintptr {
	if !s.Ok() {
		return 0
	}
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	if s.Rank() != s2.Rank() {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// Broadcast returns the shape resulting from a numpy-style broadcast of s1 and s2: shapes are aligned on their
// last axis, and each pair of dimensions must be equal or one of them must be 1.
//
// Both shapes must have the same DType.
func Broadcast(s1, s2 Shape) (Shape, error) {
	if !s1.Ok() || !s2.Ok() {
		return Invalid(), errors.Errorf("cannot broadcast invalid shapes %s and %s", s1, s2)
	}
	if s1.DType != s2.DType {
		return Invalid(), errors.Errorf("cannot broadcast shapes with different dtypes %s and %s", s1, s2)
	}
	rank := max(s1.Rank(), s2.Rank())
	result := Shape{DType: s1.DType, Dimensions: make([]int, rank)}
	for axis := range rank {
		d1, d2 := dimFromEnd(s1, rank-1-axis), dimFromEnd(s2, rank-1-axis)
		switch {
		case d1 == d2:
			result.Dimensions[axis] = d1
		case d1 == 1:
			result.Dimensions[axis] = d2
		case d2 == 1:
			result.Dimensions[axis] = d1
		default:
			return Invalid(), errors.Errorf("shapes %s and %s are not broadcast compatible on axis %d", s1, s2, axis)
		}
	}
	return result, nil
}

// IsBroadcastableTo returns whether `s` can be broadcast to `target` without changing `target`.
// It's the condition for a gradient of shape target to be reduced back to s.
func (s Shape) IsBroadcastableTo(target Shape) bool {
	b, err := Broadcast(s, target)
	return err == nil && b.Equal(target)
}

// dimFromEnd returns the dimension of the axis counted from the end (0 is the last axis), or 1 if the shape
// doesn't have that many axes.
func dimFromEnd(s Shape, fromEnd int) int {
	if fromEnd >= s.Rank() {
		return 1
	}
	return s.Dimensions[s.Rank()-1-fromEnd]
}
