// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"

	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/gomlx/graphir/pkg/support/xslices"
)

// Constraint states that operation Before must be scheduled before operation After.
type Constraint struct {
	Before, After OpId
}

func (c Constraint) String() string {
	return fmt.Sprintf("%d -> %d", c.Before, c.After)
}

// TopoCons is the set of explicit ordering constraints between operations, in addition to the data dependencies.
//
// A self-pair (op before itself) is accepted and makes the graph unschedulable.
type TopoCons struct {
	afters  map[OpId]sets.Set[OpId]
	befores map[OpId]sets.Set[OpId]
}

// NewTopoCons creates an empty set of constraints.
func NewTopoCons() *TopoCons {
	return &TopoCons{
		afters:  make(map[OpId]sets.Set[OpId]),
		befores: make(map[OpId]sets.Set[OpId]),
	}
}

func insertInto(m map[OpId]sets.Set[OpId], key, value OpId) {
	s, found := m[key]
	if !found {
		s = sets.Make[OpId]()
		m[key] = s
	}
	s.Insert(value)
}

func removeFrom(m map[OpId]sets.Set[OpId], key, value OpId) {
	s, found := m[key]
	if !found {
		return
	}
	s.Remove(value)
	if len(s) == 0 {
		delete(m, key)
	}
}

// Insert the constraint "before runs before after". Inserting an existing constraint is a no-op.
func (tc *TopoCons) Insert(before, after OpId) {
	insertInto(tc.afters, before, after)
	insertInto(tc.befores, after, before)
}

// Contains returns whether the constraint "before runs before after" is present.
func (tc *TopoCons) Contains(before, after OpId) bool {
	return tc.afters[before].Has(after)
}

// Remove the constraint "before runs before after", if present.
func (tc *TopoCons) Remove(before, after OpId) {
	removeFrom(tc.afters, before, after)
	removeFrom(tc.befores, after, before)
}

// RemoveOp removes every constraint that mentions op.
func (tc *TopoCons) RemoveOp(op OpId) {
	for _, after := range tc.Afters(op) {
		tc.Remove(op, after)
	}
	for _, before := range tc.Befores(op) {
		tc.Remove(before, op)
	}
}

// Afters returns the sorted operations constrained to run after op.
func (tc *TopoCons) Afters(op OpId) []OpId {
	return sets.Sorted(tc.afters[op])
}

// Befores returns the sorted operations constrained to run before op.
func (tc *TopoCons) Befores(op OpId) []OpId {
	return sets.Sorted(tc.befores[op])
}

// Transfer moves every constraint of from to to: used when an operation is replaced by another.
// After the call from has no constraints.
func (tc *TopoCons) Transfer(from, to OpId) {
	for _, before := range tc.Befores(from) {
		tc.Insert(before, to)
	}
	for _, after := range tc.Afters(from) {
		tc.Insert(to, after)
	}
	tc.RemoveOp(from)
}

// All returns every constraint, sorted by Before and then After.
func (tc *TopoCons) All() []Constraint {
	var all []Constraint
	for _, before := range xslices.SortedKeys(tc.afters) {
		for _, after := range tc.Afters(before) {
			all = append(all, Constraint{Before: before, After: after})
		}
	}
	return all
}

// Len returns the number of constraints.
func (tc *TopoCons) Len() int {
	var n int
	for _, s := range tc.afters {
		n += len(s)
	}
	return n
}

// SetFinalConsumer constrains every other consumer of the tensor id to run before the operation last.
func (g *Ir) SetFinalConsumer(id TensorId, last OpId) {
	g.mustOp(last)
	for _, consumer := range g.mustTensor(id).consumers.Ops() {
		if consumer != last {
			g.topoCons.Insert(consumer, last)
		}
	}
}
