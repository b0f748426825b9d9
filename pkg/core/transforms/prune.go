// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transforms holds whole-graph transformations of the IR.
package transforms

import (
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/gomlx/graphir/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// PruneResult lists what Prune removed.
type PruneResult struct {
	Ops     []ir.OpId
	Tensors []ir.TensorId
}

// Required returns the operations whose results are needed: the producers of anchored tensors and of the
// copy sources of Variables, the final loss operation and the variable updates, plus everything they
// transitively depend on.
func Required(g *ir.Ir) sets.Set[ir.OpId] {
	required := sets.Make[ir.OpId]()
	var toVisit []ir.OpId
	visit := func(id ir.OpId) {
		if id == ir.NoOpId || required.Has(id) {
			return
		}
		required.Insert(id)
		toVisit = append(toVisit, id)
	}
	for _, id := range append(g.Anchors(), g.CopySources()...) {
		if producer := g.Producer(id); producer != nil {
			visit(producer.Id())
		}
	}
	if g.Op(g.FinalLossOpId()) != nil {
		visit(g.FinalLossOpId())
	}
	for _, op := range g.Ops() {
		if ir.IsVarUpdate(op) {
			visit(op.Id())
		}
	}
	for len(toVisit) > 0 {
		var id ir.OpId
		id, toVisit = xslices.Pop(toVisit)
		for _, input := range g.Op(id).Inputs().Ids() {
			if producer := g.Producer(input); producer != nil {
				visit(producer.Id())
			}
		}
	}
	return required
}

// Prune removes the operations that are not Required, and then the tensors left isolated.
//
// It returns a MalformedInput error if the graph has operations but none of them is required: there would
// be nothing left to compute.
func Prune(g *ir.Ir) (PruneResult, error) {
	var result PruneResult
	required := Required(g)
	if len(required) == 0 && g.NumOps() > 0 {
		return result, ir.NewError(ir.MalformedInput,
			"all %d operations would be pruned, nothing to compute: anchor some tensor or provide a loss", g.NumOps()).Err()
	}
	for _, id := range g.AllOpIds() {
		if required.Has(id) {
			continue
		}
		g.DisconnectAllInputs(id)
		g.DisconnectAllOutputs(id)
		g.EraseOp(id)
		result.Ops = append(result.Ops, id)
	}
	result.Tensors = g.RemoveIsolatedTensors()
	if len(result.Ops) > 0 {
		klog.V(1).Infof("Ir %s: pruned %d ops and %d tensors", g.Id(), len(result.Ops), len(result.Tensors))
	}
	return result, nil
}
