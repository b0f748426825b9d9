// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/model"
	"github.com/gomlx/graphir/pkg/core/pipeline"
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
    {"id": "half", "dtype": "Float32", "values": [0.5]}
  ],
  "nodes": [
    {"kind": "Mul", "inputs": ["x", "w"], "outputs": ["y"]},
    {"kind": "Mul", "inputs": ["y", "half"], "outputs": ["h"]},
    {"kind": "Relu", "inputs": ["h"], "outputs": ["r"]},
    {"kind": "L1", "inputs": ["r"], "outputs": ["loss"], "attributes": {"lambda": 0.1}}
  ]
}`

func TestSplitIds(t *testing.T) {
	assert.Equal(t, []ir.TensorId{"a", "b"}, splitIds(" a, ,b"))
	assert.Empty(t, splitIds(""))
}

func TestReports(t *testing.T) {
	m := must.M1(model.Parse([]byte(testModel)))
	bundle := must.M1(bundleFromFlags(m))
	bundle.Losses = []ir.TensorId{"loss"}
	bundle.Anchors = []ir.TensorId{"r"}
	bundle.Train = true
	g, result, err := pipeline.Prepare(bundle)
	require.NoError(t, err)

	summary := summaryTable("model.json", g, result).Render()
	assert.Contains(t, summary, "Training")
	assert.Contains(t, summary, "variable updates")

	schedule := scheduleTable(g, result.Schedule).Render()
	assert.Contains(t, schedule, "L1")
	assert.Contains(t, schedule, "SGDVarUpdate")

	tensors := tensorsTable(g)
	assert.Equal(t, g.NumTensors(), tensors.Count)
	rendered := tensors.Render()
	assert.Contains(t, rendered, "half")
	assert.Contains(t, rendered, "[0.5]")
	assert.Contains(t, rendered, "Variable")

	constraints := constraintsTable(g)
	assert.Equal(t, g.TopoCons().Len(), constraints.Count)
}

func TestRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(testModel), 0o644))
	*flagAnchors = "r"
	defer func() { *flagAnchors = "" }()
	require.NoError(t, run(path))

	require.Error(t, run(filepath.Join(t.TempDir(), "missing.json")))
}
