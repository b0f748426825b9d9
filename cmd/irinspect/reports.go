// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/graphir/pkg/core/constfold"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/pipeline"
	"github.com/gomlx/graphir/pkg/support/xslices"
)

// maxValuesShown is the largest constant whose values are listed in the tensors table.
const maxValuesShown = 8

func summaryTable(modelPath string, g *ir.Ir, result pipeline.Result) *highlightedTable {
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	var totalMemory uintptr
	for _, id := range g.AllTensorIds() {
		totalMemory += g.Tensor(id).Shape().Memory()
	}
	table.Row(false, "model", modelPath)
	table.Row(false, "ir", g.Id())
	table.Row(false, "mode", result.Mode.String())
	table.Row(false, "# ops", humanize.Comma(int64(g.NumOps())))
	table.Row(false, "# tensors", humanize.Comma(int64(g.NumTensors())))
	table.Row(false, "tensors memory", humanize.Bytes(uint64(totalMemory)))
	table.Row(false, "# ordering constraints", humanize.Comma(int64(g.TopoCons().Len())))
	table.Row(false, "folded ops", humanize.Comma(int64(result.Folded)))
	table.Row(false, "pattern rounds", humanize.Comma(int64(result.PatternRounds)))
	if result.Mode == pipeline.Training {
		table.Row(false, "gradient ops", humanize.Comma(int64(len(result.Backwards.GradOps)+len(result.Backwards.SumOps))))
		table.Row(false, "variable updates", humanize.Comma(int64(len(result.Backwards.VarUpdateOps))))
		pending := result.Backwards.PendingTensors + result.Backwards.PendingOps
		table.Row(pending > 0, "incomplete gradients", humanize.Comma(int64(pending)))
	}
	table.Row(false, "pruned ops", humanize.Comma(int64(len(result.Pruned.Ops))))
	table.Row(false, "in-place ops", fmt.Sprintf("%d committed, %d rejected",
		len(result.Inplace.Committed), len(result.Inplace.Rejected)))
	return table
}

// scheduleTable lists the operations in schedule order. In-place operations are highlighted.
func scheduleTable(g *ir.Ir, schedule []ir.OpId) *highlightedTable {
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Headers("#", "Op", "Phase", "Inputs", "Outputs", "Attributes")
	for ii, id := range schedule {
		op := g.Op(id)
		_, isInplace := op.Behavior().(ir.InplaceVariant)
		attrs := ""
		if len(op.Attributes()) > 0 {
			attrs = op.Attributes().String()
		}
		table.Row(isInplace, fmt.Sprintf("%d", ii), op.DebugName(), op.Phase().String(),
			joinIds(op.Inputs().Ids()), joinIds(op.Outputs().Ids()), attrs)
	}
	return table
}

// tensorsTable lists the tensors. Anchored tensors are highlighted.
func tensorsTable(g *ir.Ir) *highlightedTable {
	table := newPlainTable(lipgloss.Left)
	table.Headers("Tensor", "Type", "Shape", "Bytes", "Producer", "Consumers", "Value")
	for _, id := range g.AllTensorIds() {
		t := g.Tensor(id)
		producer := "-"
		if op := g.Producer(id); op != nil {
			producer = op.DebugName()
		}
		consumers := strings.Join(xslices.Map(g.Consumers(id), func(op *ir.Op) string { return op.DebugName() }), ", ")
		table.Row(g.IsAnchored(id), string(id), t.Type().String(), t.Shape().String(),
			humanize.Bytes(uint64(t.Shape().Memory())), producer, consumers, valueOf(t))
	}
	return table
}

// valueOf returns the values of small constants, or an empty string.
func valueOf(t *ir.Tensor) string {
	if t.Type() != ir.TensorTypeConstant || t.Shape().Size() > maxValuesShown {
		return ""
	}
	values, err := constfold.Decode(t.Shape(), t.Data())
	if err != nil {
		return "?"
	}
	return fmt.Sprintf("%v", values)
}

func constraintsTable(g *ir.Ir) *highlightedTable {
	table := newPlainTable(lipgloss.Left)
	table.Headers("Before", "After")
	for _, c := range g.TopoCons().All() {
		table.Row(false, g.Op(c.Before).DebugName(), g.Op(c.After).DebugName())
	}
	return table
}

func joinIds(ids []ir.TensorId) string {
	return strings.Join(xslices.Map(ids, func(id ir.TensorId) string { return string(id) }), ", ")
}
