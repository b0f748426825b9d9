// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/graphir/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Attributes of an operation, indexed by name.
//
// Values must be one of: int64, float64, string, []int64, []float64 or []string.
type Attributes map[string]any

// Validate checks that all values are of one of the accepted types.
func (a Attributes) Validate() error {
	for _, name := range xslices.SortedKeys(a) {
		switch a[name].(type) {
		case int64, float64, string, []int64, []float64, []string:
		default:
			return malformedf("attribute %q has unsupported type %T", name, a[name]).Err()
		}
	}
	return nil
}

// Has returns whether the attribute is defined.
func (a Attributes) Has(name string) bool {
	_, found := a[name]
	return found
}

// IntOr returns the integer attribute name, or defaultValue if it is not set.
// It returns an error if the attribute is set with another type.
func (a Attributes) IntOr(name string, defaultValue int64) (int64, error) {
	value, found := a[name]
	if !found {
		return defaultValue, nil
	}
	v, ok := value.(int64)
	if !ok {
		return 0, attributeTypeError(name, "int64", value)
	}
	return v, nil
}

// FloatOr returns the float attribute name, or defaultValue if it is not set.
// Integer values are converted.
func (a Attributes) FloatOr(name string, defaultValue float64) (float64, error) {
	value, found := a[name]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	}
	return 0, attributeTypeError(name, "float64", value)
}

// StringOr returns the string attribute name, or defaultValue if it is not set.
func (a Attributes) StringOr(name string, defaultValue string) (string, error) {
	value, found := a[name]
	if !found {
		return defaultValue, nil
	}
	v, ok := value.(string)
	if !ok {
		return "", attributeTypeError(name, "string", value)
	}
	return v, nil
}

// Ints returns the integer list attribute name, or nil if it is not set.
func (a Attributes) Ints(name string) ([]int64, error) {
	value, found := a[name]
	if !found {
		return nil, nil
	}
	v, ok := value.([]int64)
	if !ok {
		return nil, attributeTypeError(name, "[]int64", value)
	}
	return v, nil
}

// Floats returns the float list attribute name, or nil if it is not set.
func (a Attributes) Floats(name string) ([]float64, error) {
	value, found := a[name]
	if !found {
		return nil, nil
	}
	v, ok := value.([]float64)
	if !ok {
		return nil, attributeTypeError(name, "[]float64", value)
	}
	return v, nil
}

// Strings returns the string list attribute name, or nil if it is not set.
func (a Attributes) Strings(name string) ([]string, error) {
	value, found := a[name]
	if !found {
		return nil, nil
	}
	v, ok := value.([]string)
	if !ok {
		return nil, attributeTypeError(name, "[]string", value)
	}
	return v, nil
}

// Clone returns a copy of the attributes. Slice values are copied as well.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	clone := maps.Clone(a)
	for name, value := range clone {
		switch v := value.(type) {
		case []int64:
			clone[name] = slices.Clone(v)
		case []float64:
			clone[name] = slices.Clone(v)
		case []string:
			clone[name] = slices.Clone(v)
		}
	}
	return clone
}

// String implements fmt.Stringer, with the attributes sorted by name.
func (a Attributes) String() string {
	parts := make([]string, 0, len(a))
	for _, name := range xslices.SortedKeys(a) {
		parts = append(parts, fmt.Sprintf("%s=%v", name, a[name]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func attributeTypeError(name, want string, value any) error {
	return errors.WithStack(malformedf("attribute %q should be %s, got %T", name, want, value))
}
