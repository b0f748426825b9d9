// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"encoding/json"
	"os"
	"path/filepath"
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

const testModel = `{
  "inputs": [{"id": "x", "dtype": "Float32", "dims": [2, 3]}],
  "initializers": [
    {"id": "w", "dtype": "Float32", "dims": [3], "values": [1, 2, 3], "variable": true},
    {"id": "c", "dtype": "Float32", "values": [0.5]},
    {"id": "shadow", "dtype": "Float32", "dims": [3], "variable": true, "copy_from": "w"}
  ],
  "nodes": [
    {"kind": "Mul", "inputs": ["x", "w"], "outputs": ["y"]},
    {"kind": "Scale", "name": "double", "inputs": ["y"], "outputs": ["z"], "attributes": {"scale": 2}},
    {"kind": "Pad", "inputs": ["z"], "outputs": ["p"], "attributes": {"pads": [0, 0, 0, 0]}},
    {"kind": "L1", "inputs": ["p"], "outputs": ["loss"], "attributes": {"lambda": 0.1}}
  ]
}`

func TestParseAndBuild(t *testing.T) {
	m := must.M1(Parse([]byte(testModel)))
	require.Len(t, m.Nodes, 4)
	assert.Equal(t, int64(2), m.Nodes[1].Attributes["scale"].Value)
	assert.Equal(t, []int64{0, 0, 0, 0}, m.Nodes[2].Attributes["pads"].Value)
	assert.Equal(t, 0.1, m.Nodes[3].Attributes["lambda"].Value)

	g := ir.New(ops.NewRegistry())
	require.NoError(t, Build(g, m))
	assert.Equal(t, 4, g.NumOps())
	assert.Equal(t, []ir.TensorId{"x"}, g.TensorIdsOfType(ir.TensorTypeStream))
	assert.Equal(t, []ir.TensorId{"c"}, g.TensorIdsOfType(ir.TensorTypeConstant))
	assert.Equal(t, []ir.TensorId{"shadow", "w"}, g.TensorIdsOfType(ir.TensorTypeVariable))
	assert.Len(t, g.Tensor("w").Data(), 12)
	assert.Nil(t, g.Tensor("shadow").Data())
	assert.True(t, g.Tensor("z").Shape().Equal(shapes.Make(dtypes.Float32, 2, 3)))
	assert.True(t, g.Tensor("loss").Shape().IsScalar())
	assert.Equal(t, "double", g.Producer("z").Name())

	kind, from := g.Tensor("shadow").VariableUpdate()
	assert.Equal(t, ir.VariableUpdateCopy, kind)
	assert.Equal(t, ir.TensorId("w"), from)
	g.VerifyConnectivity()
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(testModel), 0o644))
	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Initializers, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Parse([]byte(`{"nodes": [], "extra": 1}`))
	require.Error(t, err)
	assert.True(t, ir.IsCategory(err, ir.MalformedInput))
}

func TestAbsentInputs(t *testing.T) {
	m := &Model{
		Inputs: []TensorDecl{{Id: "x", DType: "Float32", Dims: []int{4}}},
		Nodes: []Node{
			{Kind: "Sum", Inputs: []string{"", "x"}, Outputs: []string{"s"}},
		},
	}
	g := ir.New(ops.NewRegistry())
	err := Build(g, m)
	// Sum requires its inputs to be contiguous from slot 0.
	require.Error(t, err)

	m.Nodes[0] = Node{Kind: "Relu", Inputs: []string{"x"}, Outputs: []string{"r", ""}}
	g = ir.New(ops.NewRegistry())
	require.NoError(t, Build(g, m))
	assert.Equal(t, []int{0}, g.Producer("r").Outputs().Indices())
	assert.True(t, g.Tensor("r").Shape().Equal(shapes.Make(dtypes.Float32, 4)))
}

func TestValidate(t *testing.T) {
	decl := TensorDecl{Id: "x", DType: "Float32"}
	for name, m := range map[string]*Model{
		"empty id":       {Inputs: []TensorDecl{{DType: "Float32"}}},
		"reserved":       {Inputs: []TensorDecl{{Id: "d__x", DType: "Float32"}}},
		"repeated":       {Inputs: []TensorDecl{decl}, Initializers: []Initializer{{TensorDecl: decl, Values: []float64{1}}}},
		"repeated out":   {Inputs: []TensorDecl{decl}, Nodes: []Node{{Kind: "Relu", Inputs: []string{"x"}, Outputs: []string{"x"}}}},
		"no kind":        {Inputs: []TensorDecl{decl}, Nodes: []Node{{Inputs: []string{"x"}, Outputs: []string{"y"}}}},
		"copy constant":  {Initializers: []Initializer{{TensorDecl: decl, Values: []float64{1}, CopyFrom: "y"}}},
		"data and value": {Initializers: []Initializer{{TensorDecl: decl, Values: []float64{1}, Data: []byte{0, 0, 0, 0}}}},
	} {
		err := m.Validate()
		require.Errorf(t, err, "model %q should be invalid", name)
		assert.Truef(t, ir.IsCategory(err, ir.MalformedInput), "model %q: %v", name, err)
	}
}

func TestBuildErrors(t *testing.T) {
	decl := TensorDecl{Id: "x", DType: "Float32", Dims: []int{2}}
	for name, m := range map[string]*Model{
		"dtype":       {Inputs: []TensorDecl{{Id: "x", DType: "NoSuchType"}}},
		"dims":        {Inputs: []TensorDecl{{Id: "x", DType: "Float32", Dims: []int{0}}}},
		"kind":        {Inputs: []TensorDecl{decl}, Nodes: []Node{{Kind: "NoSuchKind", Inputs: []string{"x"}, Outputs: []string{"y"}}}},
		"undeclared":  {Nodes: []Node{{Kind: "Relu", Inputs: []string{"x"}, Outputs: []string{"y"}}}},
		"values":      {Initializers: []Initializer{{TensorDecl: decl, Values: []float64{1, 2, 3}}}},
		"no value":    {Initializers: []Initializer{{TensorDecl: decl}}},
		"copy source": {Initializers: []Initializer{{TensorDecl: decl, Variable: true, CopyFrom: "nowhere"}}},
		"attribute":   {Inputs: []TensorDecl{decl}, Nodes: []Node{{Kind: "Scale", Inputs: []string{"x"}, Outputs: []string{"y"}, Attributes: map[string]AttrValue{"scale": Attr("two")}}}},
	} {
		g := ir.New(ops.NewRegistry())
		err := Build(g, m)
		require.Errorf(t, err, "model %q should fail to build", name)
		assert.Truef(t, ir.IsCategory(err, ir.MalformedInput), "model %q: %v", name, err)
	}
}

func TestAttrValue(t *testing.T) {
	var attrs map[string]AttrValue
	require.NoError(t, json.Unmarshal([]byte(
		`{"a": 1, "b": 1.5, "c": "s", "d": [1, 2], "e": [1, 2.5], "f": ["a", "b"], "g": [], "h": 1e3}`), &attrs))
	assert.Equal(t, int64(1), attrs["a"].Value)
	assert.Equal(t, 1.5, attrs["b"].Value)
	assert.Equal(t, "s", attrs["c"].Value)
	assert.Equal(t, []int64{1, 2}, attrs["d"].Value)
	assert.Equal(t, []float64{1, 2.5}, attrs["e"].Value)
	assert.Equal(t, []string{"a", "b"}, attrs["f"].Value)
	assert.Equal(t, []int64{}, attrs["g"].Value)
	assert.Equal(t, 1000.0, attrs["h"].Value)

	for _, bad := range []string{`{"a": true}`, `{"a": [[1]]}`, `{"a": ["x", 1]}`, `{"a": {"b": 1}}`} {
		require.Errorf(t, json.Unmarshal([]byte(bad), &attrs), "attributes %s", bad)
	}

	encoded := must.M1(json.Marshal(map[string]AttrValue{"pads": Attr([]int64{1, 0})}))
	assert.Equal(t, `{"pads":[1,0]}`, string(encoded))
}
