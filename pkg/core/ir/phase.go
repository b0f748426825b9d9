// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"strings"

	"github.com/gomlx/graphir/pkg/support/sets"
	"k8s.io/klog/v2"
)

// Phase of the training step an operation or tensor belongs to.
type Phase int

//go:generate go tool enumer -type=Phase -trimprefix=Phase -output=gen_phase_enumer.go phase.go

const (
	PhaseUndefined Phase = iota
	PhaseFwd
	PhaseLoss
	PhaseBwd
)

// SetPhase sets the phase of op. Used to carry the phase of a replaced operation to its replacement.
func (op *Op) SetPhase(phase Phase) { op.phase = phase }

// UpdateVertices assigns a phase to every operation and tensor.
//
// Operations are visited in schedule order, and each one collects suggestions: its current phase, Bwd if an
// input is produced by a Bwd op, Fwd if an output is consumed by a Fwd op, Loss for loss operations or the
// producer of the final loss, and Bwd if any input or output is a gradient. Without suggestions it is Fwd.
// Conflicting suggestions are an InternalConsistency failure.
//
// A tensor takes the phase of its producer, or else the earliest phase of its consumers.
func (g *Ir) UpdateVertices() {
	for _, op := range g.MustOpSchedule(nil) {
		suggestions := sets.Make[Phase]()
		if op.phase != PhaseUndefined {
			suggestions.Insert(op.phase)
		}
		for _, id := range op.inputs.Ids() {
			if producer := g.Producer(id); producer != nil && producer.phase == PhaseBwd {
				suggestions.Insert(PhaseBwd)
			}
		}
		for _, id := range op.outputs.Ids() {
			for _, consumer := range g.Consumers(id) {
				if consumer.phase == PhaseFwd {
					suggestions.Insert(PhaseFwd)
				}
			}
			if id == FinalLossId {
				suggestions.Insert(PhaseLoss)
			}
		}
		if IsLoss(op) {
			suggestions.Insert(PhaseLoss)
		}
		for _, id := range append(op.inputs.Ids(), op.outputs.Ids()...) {
			if strings.HasPrefix(string(id), GradPrefix) {
				suggestions.Insert(PhaseBwd)
			}
		}

		switch len(suggestions) {
		case 0:
			op.phase = PhaseFwd
		case 1:
			op.phase = sets.Sorted(suggestions)[0]
		default:
			NewError(InternalConsistency, "op %s has conflicting phase suggestions %v", op.DebugName(), sets.Sorted(suggestions)).
				WithOps(op.id).Throw()
		}
	}

	for _, t := range g.tensors {
		if t.HasProducer() {
			t.phase = g.ops[t.producer].phase
			continue
		}
		t.phase = PhaseUndefined
		for _, opId := range t.consumers.Ops() {
			if p := g.ops[opId].phase; t.phase == PhaseUndefined || p < t.phase {
				t.phase = p
			}
		}
	}
	klog.V(1).Infof("Ir %s: phases updated", g.id)
}
