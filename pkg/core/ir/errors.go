// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/graphir/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Category of an Error, a human-readable string used in diagnostics.
type Category string

const (
	// MalformedInput indicates a problem with the caller-supplied graph description: bad attribute, reference to an
	// undeclared tensor, repeated tensor name, wrong rank/type for an operation.
	// The caller may retry with corrected input.
	MalformedInput Category = "malformed-input"

	// InternalConsistency indicates an engine bug: double producer, negative in-degree, gradient registry
	// bookkeeping mismatch. These are always raised with panic and must not be suppressed.
	InternalConsistency Category = "internal-consistency"

	// Unschedulable indicates the graph plus its ordering constraints has a cycle.
	Unschedulable Category = "unschedulable"

	// MissingGradient indicates a gradient was requested for a tensor with no path to the loss.
	MissingGradient Category = "missing-gradient"
)

// Error is the diagnostic reported by the IR: a category, the offending operations and tensors and a message.
type Error struct {
	Category Category
	Ops      []OpId
	Tensors  []TensorId
	Message  string
}

// NewError creates an Error with a formatted message.
func NewError(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// WithOps adds the offending operations to the error and returns it.
func (e *Error) WithOps(ops ...OpId) *Error {
	e.Ops = append(e.Ops, ops...)
	return e
}

// WithTensors adds the offending tensors to the error and returns it.
func (e *Error) WithTensors(tensors ...TensorId) *Error {
	e.Tensors = append(e.Tensors, tensors...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Category, e.Message)
	if len(e.Ops) > 0 {
		fmt.Fprintf(&sb, " (ops: %s)", strings.Join(xslices.Map(e.Ops, func(id OpId) string {
			return fmt.Sprintf("%d", id)
		}), ", "))
	}
	if len(e.Tensors) > 0 {
		fmt.Fprintf(&sb, " (tensors: %s)", strings.Join(xslices.Map(e.Tensors, func(id TensorId) string {
			return string(id)
		}), ", "))
	}
	return sb.String()
}

// Err returns the error wrapped with a stack trace, ready to be returned.
func (e *Error) Err() error {
	return errors.WithStack(e)
}

// Throw panics with the error wrapped with a stack trace.
func (e *Error) Throw() {
	panic(errors.WithStack(e))
}

// IsCategory returns whether err is (or wraps) an *Error of the given category.
func IsCategory(err error, category Category) bool {
	var irErr *Error
	if errors.As(err, &irErr) {
		return irErr.Category == category
	}
	return false
}

// CategoryOf returns the category of err, or "" if it doesn't wrap an *Error.
func CategoryOf(err error) Category {
	var irErr *Error
	if errors.As(err, &irErr) {
		return irErr.Category
	}
	return ""
}

// Fatalf panics with an InternalConsistency error.
func Fatalf(format string, args ...any) {
	NewError(InternalConsistency, format, args...).Throw()
}

// malformedf creates a MalformedInput error.
func malformedf(format string, args ...any) *Error {
	return NewError(MalformedInput, format, args...)
}
