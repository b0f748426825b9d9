// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir implements the intermediate representation of a tensor program: a directed bipartite graph of
// tensors and operations, with the connectivity invariants maintained by its mutation primitives.
//
// The Ir also holds the user-declared anchors (tensors that must survive every transformation), the
// explicit ordering constraints between operations (see TopoCons) and a deterministic scheduler.
//
// Fatal problems (engine bugs) are raised with panic of an *Error wrapped with a stack trace. Problems with
// the caller supplied description are returned as errors of category MalformedInput.
package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/gomlx/graphir/pkg/support/xslices"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

const (
	// GradPrefix is the reserved prefix of gradient tensors.
	GradPrefix = "d__"

	// RecomputePrefix is reserved for recomputed tensors.
	RecomputePrefix = "r__"

	// FinalLossId is the id of the tensor holding the sum of all losses.
	FinalLossId TensorId = "finalLoss"
)

// Ir is the graph store. It owns every Tensor and Op.
//
// It is not safe for concurrent use.
type Ir struct {
	id       string
	registry *Registry

	tensors   map[TensorId]*Tensor
	ops       map[OpId]*Op
	nextOpId  OpId
	topoCons  *TopoCons
	anchors   sets.Set[TensorId]
	retained  sets.Set[TensorId]
	finalLoss OpId
	prepared  bool
}

// New creates an empty Ir whose operation kinds are resolved with registry.
func New(registry *Registry) *Ir {
	g := &Ir{
		id:        uuid.NewString(),
		registry:  registry,
		tensors:   make(map[TensorId]*Tensor),
		ops:       make(map[OpId]*Op),
		topoCons:  NewTopoCons(),
		anchors:   sets.Make[TensorId](),
		retained:  sets.Make[TensorId](),
		finalLoss: NoOpId,
	}
	klog.V(1).Infof("created Ir %s", g.id)
	return g
}

// Id returns a unique identifier of the Ir, used in logs.
func (g *Ir) Id() string { return g.id }

// Registry used to resolve operation kinds.
func (g *Ir) Registry() *Registry { return g.registry }

// TopoCons returns the ordering constraints between operations.
func (g *Ir) TopoCons() *TopoCons { return g.topoCons }

// AddAnchors marks the tensors as anchors: they must survive every transformation, with their producer
// replaced only by a semantically equivalent one.
func (g *Ir) AddAnchors(ids ...TensorId) {
	g.anchors.Insert(ids...)
}

// IsAnchored returns whether the tensor is an anchor.
func (g *Ir) IsAnchored(id TensorId) bool {
	return g.anchors.Has(id)
}

// Anchors returns the sorted anchor tensor ids.
func (g *Ir) Anchors() []TensorId {
	return sets.Sorted(g.anchors)
}

// Retain marks tensors that RemoveIsolatedTensors must keep even without producer or consumers, e.g. the
// declared losses before the final loss consumes them. Unlike anchors, retained tensors can still be
// rewritten by patterns.
func (g *Ir) Retain(ids ...TensorId) {
	g.retained.Insert(ids...)
}

// IsRetained returns whether the tensor was retained with Retain.
func (g *Ir) IsRetained(id TensorId) bool {
	return g.retained.Has(id)
}

// IsCopySource returns whether the tensor is the source of the copy update of some Variable.
// Copy sources are referenced by id only, until the variable updates are grown.
func (g *Ir) IsCopySource(id TensorId) bool {
	for _, t := range g.tensors {
		if t.tensorType == TensorTypeVariable && t.update == VariableUpdateCopy && t.copyFrom == id {
			return true
		}
	}
	return false
}

// CopySources returns the sorted ids of the tensors Variables copy from.
func (g *Ir) CopySources() []TensorId {
	sources := sets.Make[TensorId]()
	for _, t := range g.tensors {
		if t.tensorType == TensorTypeVariable && t.update == VariableUpdateCopy {
			sources.Insert(t.copyFrom)
		}
	}
	return sets.Sorted(sources)
}

// IsProtected returns whether the tensor must survive every rewrite unchanged: anchors and copy sources.
func (g *Ir) IsProtected(id TensorId) bool {
	return g.anchors.Has(id) || g.IsCopySource(id)
}

// ValidateAnchors checks that every anchor names an existing tensor.
// If a missing anchor is a gradient tensor, the message hints that no gradient was computed for it.
func (g *Ir) ValidateAnchors() error {
	for _, id := range g.Anchors() {
		if _, found := g.tensors[id]; found {
			continue
		}
		if nonGrad, isGrad := NonGradId(id); isGrad {
			if _, found := g.tensors[nonGrad]; found {
				return NewError(MissingGradient,
					"anchor %q not in graph: the gradient of %q was not computed, is there a path from it to the loss ?",
					id, nonGrad).WithTensors(id).Err()
			}
		}
		return malformedf("anchor %q not in graph", id).WithTensors(id).Err()
	}
	return nil
}

// SetFinalLossOpId sets the operation that produces the final loss.
func (g *Ir) SetFinalLossOpId(id OpId) { g.finalLoss = id }

// FinalLossOpId returns the operation that produces the final loss, or NoOpId if none was grown.
func (g *Ir) FinalLossOpId() OpId { return g.finalLoss }

// SetPrepared marks the Ir as prepared: after this no further structural mutation is permitted.
func (g *Ir) SetPrepared() { g.prepared = true }

// IsPrepared returns whether SetPrepared was called.
func (g *Ir) IsPrepared() bool { return g.prepared }

func (g *Ir) assertMutable() {
	if g.prepared {
		Fatalf("Ir %s is prepared, structural mutations are not permitted", g.id)
	}
}

// GradId returns the id of the gradient of the tensor id.
func GradId(id TensorId) TensorId {
	return TensorId(GradPrefix + string(id))
}

// NonGradId returns the id of the tensor whose gradient is gradId, and whether gradId is a gradient id.
func NonGradId(gradId TensorId) (TensorId, bool) {
	s, found := strings.CutPrefix(string(gradId), GradPrefix)
	return TensorId(s), found
}

// EdgeGradId returns the id of the partial gradient of id flowing from input index of the consumer op.
func EdgeGradId(id TensorId, op OpId, index int) TensorId {
	return TensorId(fmt.Sprintf("%s%s_%d_%d", GradPrefix, id, op, index))
}

// IsReserved returns whether id uses one of the reserved prefixes.
func IsReserved(id TensorId) bool {
	return strings.HasPrefix(string(id), GradPrefix) || strings.HasPrefix(string(id), RecomputePrefix)
}

// String returns a multi-line dump of the Ir: the operations in id order followed by the tensors.
func (g *Ir) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ir %s: %d ops, %d tensors\n", g.id, len(g.ops), len(g.tensors))
	for _, id := range xslices.SortedKeys(g.ops) {
		fmt.Fprintf(&sb, "\t%s\n", g.ops[id])
	}
	for _, id := range xslices.SortedKeys(g.tensors) {
		fmt.Fprintf(&sb, "\t%s\n", g.tensors[id])
	}
	return sb.String()
}
