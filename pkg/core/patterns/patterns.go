// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package patterns implements the pattern rewrite engine: local graph rewrites that are applied, in sweeps
// over all operations, until a fixed point is reached.
//
// A pattern is never applied if it touches an anchored tensor, or the source of a Variable's copy update:
// the values observed by the caller must not change as a side effect of optimization.
package patterns

import (
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pattern is a local rewrite of the graph around one operation.
type Pattern interface {
	// Name of the pattern, as registered.
	Name() string

	// Matches returns whether the pattern can be applied to op.
	Matches(g *ir.Ir, op *ir.Op) bool

	// Touches returns the tensors whose runtime state would differ if the pattern were applied to op,
	// including the tensors that merely gain or lose a consumer.
	Touches(g *ir.Ir, op *ir.Op) []ir.TensorId

	// Apply the pattern to op, and return whether the graph was changed.
	Apply(g *ir.Ir, op *ir.Op) (bool, error)
}

// TouchesAnchored returns whether applying pattern to op would touch a protected tensor: an anchor or a
// copy source (see ir.Ir.IsProtected).
func TouchesAnchored(g *ir.Ir, pattern Pattern, op *ir.Op) bool {
	for _, id := range pattern.Touches(g, op) {
		if g.IsProtected(id) {
			return true
		}
	}
	return false
}

// ApplyPattern sweeps once over a snapshot of the operations, applying pattern to every operation it matches
// and that doesn't touch a protected tensor. Operations removed during the sweep are skipped.
//
// It returns whether the graph changed.
func ApplyPattern(g *ir.Ir, pattern Pattern) (bool, error) {
	var changed bool
	for _, id := range g.AllOpIds() {
		op := g.Op(id)
		if op == nil || !pattern.Matches(g, op) {
			continue
		}
		if TouchesAnchored(g, pattern, op) {
			klog.V(2).Infof("pattern %s not applied to %s: it touches a protected tensor", pattern.Name(), op.DebugName())
			continue
		}
		klog.V(1).Infof("applying pattern %s to %s", pattern.Name(), op.DebugName())
		applied, err := pattern.Apply(g, op)
		if err != nil {
			return changed, errors.WithMessagef(err, "applying pattern %s to %s", pattern.Name(), op.DebugName())
		}
		changed = changed || applied
	}
	return changed, nil
}

// FoldFunc folds constant expressions, returning how many operations were folded. See constfold.Fold.
type FoldFunc func(g *ir.Ir) (int, error)

// ApplyPreAliasPatterns sweeps with each pattern in order, folding constants (if fold is not nil) after each
// round, until a round makes no changes. It returns the number of rounds that changed the graph.
func ApplyPreAliasPatterns(g *ir.Ir, patterns []Pattern, fold FoldFunc) (int, error) {
	var rounds int
	for {
		var changed bool
		for _, pattern := range patterns {
			applied, err := ApplyPattern(g, pattern)
			if err != nil {
				return rounds, err
			}
			changed = changed || applied
		}
		if fold != nil {
			folded, err := fold(g)
			if err != nil {
				return rounds, err
			}
			changed = changed || folded > 0
		}
		if !changed {
			return rounds, nil
		}
		rounds++
	}
}

// inputsAndOutputs returns the distinct tensors connected to op, the usual touches of a pattern that
// replaces op.
func inputsAndOutputs(op *ir.Op) []ir.TensorId {
	s := sets.MakeWith(op.Inputs().Ids()...)
	s.Insert(op.Outputs().Ids()...)
	return sets.Sorted(s)
}
