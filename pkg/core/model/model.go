// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model defines the description of a forward graph used to construct an IR, and its JSON
// serialization.
//
// A Model declares the input Streams, the Constant and Variable initializers and the nodes (operations) of
// the graph, in topological order. An empty tensor id in the inputs or outputs of a node marks an absent
// optional slot.
//
// Example:
//
//	{
//	  "inputs": [{"id": "x", "dtype": "Float32", "dims": [2, 3]}],
//	  "initializers": [{"id": "w", "dtype": "Float32", "dims": [3], "values": [1, 2, 3], "variable": true}],
//	  "nodes": [
//	    {"kind": "Mul", "inputs": ["x", "w"], "outputs": ["y"]},
//	    {"kind": "L1", "inputs": ["y"], "outputs": ["loss"], "attributes": {"lambda": 0.1}}
//	  ]
//	}
package model

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphir/pkg/core/constfold"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/shapes"
	"github.com/gomlx/graphir/pkg/support/fsutil"
	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/gomlx/graphir/pkg/support/xslices"
	"github.com/pkg/errors"
)

// TensorDecl declares a tensor with its dtype and dimensions. No dimensions means a scalar.
type TensorDecl struct {
	Id    string `json:"id"`
	DType string `json:"dtype"`
	Dims  []int  `json:"dims,omitempty"`
}

// Shape of the declared tensor.
func (d TensorDecl) Shape() (shapes.Shape, error) {
	dtype, found := dtypes.MapOfNames[d.DType]
	if !found || dtype == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Errorf("tensor %q has unknown dtype %q", d.Id, d.DType)
	}
	for _, dim := range d.Dims {
		if dim <= 0 {
			return shapes.Invalid(), errors.Errorf("tensor %q has invalid dimensions %v", d.Id, d.Dims)
		}
	}
	return shapes.Make(dtype, d.Dims...), nil
}

// Initializer declares a Constant, or a Variable if Variable is set, with its initial value.
//
// The value is given either as raw little-endian Data (base64 in JSON) or as Values, converted to the dtype.
// Variables may omit the value.
type Initializer struct {
	TensorDecl
	Data     []byte    `json:"data,omitempty"`
	Values   []float64 `json:"values,omitempty"`
	Variable bool      `json:"variable,omitempty"`

	// CopyFrom makes the Variable be updated by copying the tensor with the given id, instead of by its gradient.
	CopyFrom string `json:"copy_from,omitempty"`
}

// Node is an operation of the graph.
type Node struct {
	Kind       string               `json:"kind"`
	Name       string               `json:"name,omitempty"`
	Inputs     []string             `json:"inputs,omitempty"`
	Outputs    []string             `json:"outputs,omitempty"`
	Attributes map[string]AttrValue `json:"attributes,omitempty"`
}

// Model describes a forward graph.
type Model struct {
	Inputs       []TensorDecl  `json:"inputs,omitempty"`
	Initializers []Initializer `json:"initializers,omitempty"`
	Nodes        []Node        `json:"nodes"`
}

// Load reads a Model from a JSON file. A leading "~" in path is expanded to the home directory.
func Load(path string) (*Model, error) {
	path, err := fsutil.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model from %q", path)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %q", path)
	}
	return m, nil
}

// Parse a Model from its JSON representation. Unknown fields are an error.
func Parse(data []byte) (*Model, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	m := &Model{}
	if err := dec.Decode(m); err != nil {
		return nil, ir.NewError(ir.MalformedInput, "failed to parse model: %v", err).Err()
	}
	return m, nil
}

// Validate checks that every tensor id is non-empty, not reserved and declared once, either as an input,
// an initializer or an output of a node.
func (m *Model) Validate() error {
	declared := sets.Make[string]()
	declare := func(id, what string) error {
		if id == "" {
			return ir.NewError(ir.MalformedInput, "%s with empty tensor id", what).Err()
		}
		if ir.IsReserved(ir.TensorId(id)) {
			return ir.NewError(ir.MalformedInput, "%s tensor id %q uses a reserved prefix (%q or %q)",
				what, id, ir.GradPrefix, ir.RecomputePrefix).WithTensors(ir.TensorId(id)).Err()
		}
		if declared.Has(id) {
			return ir.NewError(ir.MalformedInput, "%s tensor %q declared more than once", what, id).
				WithTensors(ir.TensorId(id)).Err()
		}
		declared.Insert(id)
		return nil
	}
	for _, input := range m.Inputs {
		if err := declare(input.Id, "input"); err != nil {
			return err
		}
	}
	for _, initializer := range m.Initializers {
		if err := declare(initializer.Id, "initializer"); err != nil {
			return err
		}
		if initializer.CopyFrom != "" && !initializer.Variable {
			return ir.NewError(ir.MalformedInput, "initializer %q is not a variable, but has copy_from=%q",
				initializer.Id, initializer.CopyFrom).WithTensors(ir.TensorId(initializer.Id)).Err()
		}
		if len(initializer.Data) > 0 && len(initializer.Values) > 0 {
			return ir.NewError(ir.MalformedInput, "initializer %q has both data and values", initializer.Id).
				WithTensors(ir.TensorId(initializer.Id)).Err()
		}
	}
	for ii, node := range m.Nodes {
		if node.Kind == "" {
			return ir.NewError(ir.MalformedInput, "node #%d (%q) has no kind", ii, node.Name).Err()
		}
		for _, output := range node.Outputs {
			if output == "" {
				continue
			}
			if err := declare(output, "node "+node.Kind+" output"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Build validates the model and grows it into g: the inputs as Streams, the initializers as Constants and
// Variables and then the nodes, in order. Any problem is reported as a MalformedInput error.
func Build(g *ir.Ir, m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	for _, input := range m.Inputs {
		shape, err := input.Shape()
		if err != nil {
			return ir.NewError(ir.MalformedInput, "input: %v", err).WithTensors(ir.TensorId(input.Id)).Err()
		}
		if err = g.AddStream(ir.TensorId(input.Id), shape); err != nil {
			return err
		}
	}
	for _, initializer := range m.Initializers {
		if err := addInitializer(g, initializer); err != nil {
			return err
		}
	}
	for ii, node := range m.Nodes {
		if err := addNode(g, node); err != nil {
			return errors.WithMessagef(err, "node #%d (%s %q)", ii, node.Kind, node.Name)
		}
	}
	for _, initializer := range m.Initializers {
		if initializer.CopyFrom == "" {
			continue
		}
		if !g.HasTensor(ir.TensorId(initializer.CopyFrom)) {
			return ir.NewError(ir.MalformedInput, "variable %q copies from undeclared tensor %q", initializer.Id, initializer.CopyFrom).
				WithTensors(ir.TensorId(initializer.Id)).Err()
		}
		g.Tensor(ir.TensorId(initializer.Id)).SetCopyFrom(ir.TensorId(initializer.CopyFrom))
	}
	return nil
}

func addInitializer(g *ir.Ir, initializer Initializer) error {
	id := ir.TensorId(initializer.Id)
	shape, err := initializer.Shape()
	if err != nil {
		return ir.NewError(ir.MalformedInput, "initializer: %v", err).WithTensors(id).Err()
	}
	data := initializer.Data
	if len(initializer.Values) > 0 {
		data, err = constfold.Encode(shape, initializer.Values)
		if err != nil {
			return ir.NewError(ir.MalformedInput, "initializer %q: %v", id, err).WithTensors(id).Err()
		}
	}
	if initializer.Variable {
		return g.AddVariable(id, shape, data)
	}
	if data == nil {
		return ir.NewError(ir.MalformedInput, "constant %q has no value", id).WithTensors(id).Err()
	}
	return g.AddConstant(id, shape, data)
}

func addNode(g *ir.Ir, node Node) error {
	attrs := make(ir.Attributes, len(node.Attributes))
	for name, value := range node.Attributes {
		attrs[name] = value.Value
	}
	inputs := make(map[int]ir.TensorId)
	for index, id := range node.Inputs {
		if id != "" {
			inputs[index] = ir.TensorId(id)
		}
	}
	outputs := make(map[int]ir.TensorId)
	for index, id := range node.Outputs {
		if id != "" {
			outputs[index] = ir.TensorId(id)
		}
	}
	_, err := g.GrowOp(ir.OpSpec{Kind: ir.OpKind(node.Kind), Name: node.Name, Attributes: attrs}, inputs, outputs)
	return err
}

// TensorIds converts a list of string ids.
func TensorIds(ids []string) []ir.TensorId {
	return xslices.Map(ids, func(id string) ir.TensorId { return ir.TensorId(id) })
}
