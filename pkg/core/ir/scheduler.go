// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"container/heap"

	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/gomlx/graphir/pkg/support/xslices"
	"k8s.io/klog/v2"
)

// OpsBeforeKey holds hypothetical extra ordering constraints: for each key operation, the operations that
// must run before it.
type OpsBeforeKey map[OpId][]OpId

// opIdHeap is a min-heap of OpId, used to pick the ready operation with lowest id.
type opIdHeap []OpId

func (h opIdHeap) Len() int           { return len(h) }
func (h opIdHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h opIdHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *opIdHeap) Push(x any)        { *h = append(*h, x.(OpId)) }
func (h *opIdHeap) Pop() any {
	var id OpId
	id, *h = xslices.Pop(*h)
	return id
}

// PartialOpSchedule returns a topological order of the operations, honoring the data dependencies, the
// Ir ordering constraints and the extra ones. Ties are broken by choosing the lowest OpId, so the schedule
// is deterministic.
//
// If there is a cycle, the returned schedule is partial: it doesn't include the operations in (or after) the cycle.
func (g *Ir) PartialOpSchedule(extra OpsBeforeKey) []*Op {
	succs := make(map[OpId]sets.Set[OpId], len(g.ops))
	preds := make(map[OpId]sets.Set[OpId], len(g.ops))
	for id := range g.ops {
		succs[id] = sets.Make[OpId]()
		preds[id] = sets.Make[OpId]()
	}
	addEdge := func(before, after OpId) {
		if _, found := g.ops[before]; !found {
			Fatalf("ordering constraint references unknown op %d (before %d)", before, after)
		}
		if _, found := g.ops[after]; !found {
			Fatalf("ordering constraint references unknown op %d (after %d)", after, before)
		}
		succs[before].Insert(after)
		preds[after].Insert(before)
	}

	for id, op := range g.ops {
		for _, tensorId := range op.inputs.Ids() {
			if producer := g.mustTensor(tensorId).producer; producer != NoOpId {
				addEdge(producer, id)
			}
		}
	}
	for _, c := range g.topoCons.All() {
		addEdge(c.Before, c.After)
	}
	for after, befores := range extra {
		for _, before := range befores {
			addEdge(before, after)
		}
	}

	inDegree := make(map[OpId]int, len(g.ops))
	ready := &opIdHeap{}
	for id := range g.ops {
		inDegree[id] = len(preds[id])
		if inDegree[id] == 0 {
			*ready = append(*ready, id)
		}
	}
	heap.Init(ready)

	schedule := make([]*Op, 0, len(g.ops))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(OpId)
		schedule = append(schedule, g.ops[id])
		for _, succ := range sets.Sorted(succs[id]) {
			inDegree[succ]--
			if inDegree[succ] < 0 {
				NewError(InternalConsistency, "negative in-degree for op %d while scheduling", succ).WithOps(succ).Throw()
			}
			if inDegree[succ] == 0 {
				heap.Push(ready, succ)
			}
		}
	}
	return schedule
}

// OpSchedule returns the complete topological order of the operations (see PartialOpSchedule), or an
// Unschedulable error listing the operations that could not be scheduled.
func (g *Ir) OpSchedule(extra OpsBeforeKey) ([]*Op, error) {
	schedule := g.PartialOpSchedule(extra)
	if len(schedule) == len(g.ops) {
		return schedule, nil
	}
	scheduled := sets.Make[OpId](len(schedule))
	for _, op := range schedule {
		scheduled.Insert(op.id)
	}
	var missing []OpId
	for _, id := range g.AllOpIds() {
		if !scheduled.Has(id) {
			missing = append(missing, id)
		}
	}
	klog.V(1).Infof("Ir %s: %d of %d ops not schedulable", g.id, len(missing), len(g.ops))
	return nil, NewError(Unschedulable, "only %d of %d ops could be scheduled, there is a cycle",
		len(schedule), len(g.ops)).WithOps(missing...).Err()
}

// MustOpSchedule is like OpSchedule, but panics if the graph is not schedulable.
func (g *Ir) MustOpSchedule(extra OpsBeforeKey) []*Op {
	schedule, err := g.OpSchedule(extra)
	if err != nil {
		panic(err)
	}
	return schedule
}

// IsSchedulable returns whether the graph with the extra constraints has a complete schedule.
func (g *Ir) IsSchedulable(extra OpsBeforeKey) bool {
	return len(g.PartialOpSchedule(extra)) == len(g.ops)
}
