// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// AttrValue holds the value of an operation attribute: int64, float64, string, or a list of one of those.
//
// In JSON, numbers without a fraction or exponent are decoded as int64, and lists are decoded as []int64
// if all their elements are, otherwise as []float64 (or []string).
type AttrValue struct {
	Value any
}

// Attr wraps a value as an AttrValue.
func Attr(value any) AttrValue { return AttrValue{Value: value} }

// MarshalJSON implements json.Marshaler.
func (v AttrValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *AttrValue) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return errors.Wrap(err, "failed to decode attribute value")
	}
	value, err := convertJSON(raw)
	if err != nil {
		return err
	}
	v.Value = value
	return nil
}

func convertJSON(raw any) (any, error) {
	switch r := raw.(type) {
	case json.Number:
		if i, err := r.Int64(); err == nil {
			return i, nil
		}
		f, err := r.Float64()
		if err != nil {
			return nil, errors.Wrapf(err, "invalid number %q", r)
		}
		return f, nil
	case string:
		return r, nil
	case []any:
		return convertJSONList(r)
	}
	return nil, errors.Errorf("attribute values must be numbers, strings or lists of them, got %s", describe(raw))
}

func convertJSONList(list []any) (any, error) {
	values := make([]any, len(list))
	var numInts, numFloats, numStrings int
	for ii, raw := range list {
		if _, isList := raw.([]any); isList {
			return nil, errors.New("attribute lists can't be nested")
		}
		value, err := convertJSON(raw)
		if err != nil {
			return nil, err
		}
		switch value.(type) {
		case int64:
			numInts++
		case float64:
			numFloats++
		case string:
			numStrings++
		}
		values[ii] = value
	}
	switch {
	case numStrings == len(values) && numStrings > 0:
		strs := make([]string, len(values))
		for ii, value := range values {
			strs[ii] = value.(string)
		}
		return strs, nil
	case numStrings > 0:
		return nil, errors.New("attribute lists can't mix strings and numbers")
	case numFloats > 0:
		floats := make([]float64, len(values))
		for ii, value := range values {
			if i, ok := value.(int64); ok {
				floats[ii] = float64(i)
			} else {
				floats[ii] = value.(float64)
			}
		}
		return floats, nil
	}
	ints := make([]int64, len(values))
	for ii, value := range values {
		ints[ii] = value.(int64)
	}
	return ints, nil
}

func describe(raw any) string {
	if raw == nil {
		return "null"
	}
	return fmt.Sprintf("%T", raw)
}
