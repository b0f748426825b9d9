// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"maps"
	"slices"

	"github.com/gomlx/graphir/pkg/support/xslices"
)

// TensorIndexMap maps slot index to tensor id, for the inputs or the outputs of an operation.
//
// Indices may be sparse. The same tensor may occupy several slots.
type TensorIndexMap struct {
	tensors map[int]TensorId
}

func newTensorIndexMap() *TensorIndexMap {
	return &TensorIndexMap{tensors: make(map[int]TensorId)}
}

// N returns the number of occupied slots.
func (m *TensorIndexMap) N() int { return len(m.tensors) }

// Has returns whether the slot index is occupied.
func (m *TensorIndexMap) Has(index int) bool {
	_, found := m.tensors[index]
	return found
}

// Id returns the tensor at slot index, and whether it was found.
func (m *TensorIndexMap) Id(index int) (TensorId, bool) {
	id, found := m.tensors[index]
	return id, found
}

// MustId returns the tensor at slot index, and panics if the slot is empty.
func (m *TensorIndexMap) MustId(index int) TensorId {
	id, found := m.tensors[index]
	if !found {
		Fatalf("no tensor at slot index %d", index)
	}
	return id
}

// Indices returns the sorted occupied slot indices.
func (m *TensorIndexMap) Indices() []int {
	return xslices.SortedKeys(m.tensors)
}

// IndicesOf returns the sorted slot indices occupied by the tensor id.
func (m *TensorIndexMap) IndicesOf(id TensorId) []int {
	var indices []int
	for index, tensorId := range m.tensors {
		if tensorId == id {
			indices = append(indices, index)
		}
	}
	slices.Sort(indices)
	return indices
}

// Contains returns whether id occupies any slot.
func (m *TensorIndexMap) Contains(id TensorId) bool {
	for _, tensorId := range m.tensors {
		if tensorId == id {
			return true
		}
	}
	return false
}

// Ids returns the distinct tensor ids, ordered by the first slot index they occupy.
func (m *TensorIndexMap) Ids() []TensorId {
	var ids []TensorId
	seen := make(map[TensorId]bool, len(m.tensors))
	for _, index := range m.Indices() {
		id := m.tensors[index]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Map returns a copy of the slot to tensor id map.
func (m *TensorIndexMap) Map() map[int]TensorId {
	return maps.Clone(m.tensors)
}

func (m *TensorIndexMap) insert(index int, id TensorId) {
	m.tensors[index] = id
}

func (m *TensorIndexMap) erase(index int) {
	delete(m.tensors, index)
}

// Consumers is the multiset of operations consuming a tensor: an operation consuming the tensor
// in k input slots is counted k times.
type Consumers struct {
	counts map[OpId]int
}

func newConsumers() *Consumers {
	return &Consumers{counts: make(map[OpId]int)}
}

// N returns the number of input slots of op that consume the tensor.
func (c *Consumers) N(op OpId) int { return c.counts[op] }

// Ops returns the distinct consumer operations, sorted by id.
func (c *Consumers) Ops() []OpId { return xslices.SortedKeys(c.counts) }

// Len returns the number of distinct consumer operations.
func (c *Consumers) Len() int { return len(c.counts) }

// Total returns the total number of consuming input slots.
func (c *Consumers) Total() int {
	var total int
	for _, count := range c.counts {
		total += count
	}
	return total
}

func (c *Consumers) increment(op OpId) {
	c.counts[op]++
}

func (c *Consumers) decrement(op OpId) {
	count, found := c.counts[op]
	if !found || count <= 0 {
		Fatalf("decrementing consumer count of op %d below zero", op)
	}
	if count == 1 {
		delete(c.counts, op)
		return
	}
	c.counts[op] = count - 1
}
