// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import "k8s.io/klog/v2"

// VerifyConnectivity checks that the producer/consumer relations of tensors and the input/output slots of the
// operations agree. Any disagreement is an InternalConsistency failure, and it panics.
func (g *Ir) VerifyConnectivity() {
	if err := g.checkConnectivity(); err != nil {
		err.Throw()
	}
	klog.V(2).Infof("Ir %s: connectivity verified (%d ops, %d tensors)", g.id, len(g.ops), len(g.tensors))
}

func (g *Ir) checkConnectivity() *Error {
	for _, opId := range g.AllOpIds() {
		op := g.ops[opId]
		for _, index := range op.outputs.Indices() {
			id := op.outputs.tensors[index]
			t, found := g.tensors[id]
			if !found {
				return NewError(InternalConsistency, "output #%d of op %s is missing tensor %q", index, op.DebugName(), id).
					WithOps(opId).WithTensors(id)
			}
			if t.producer != opId {
				return NewError(InternalConsistency, "op %s outputs %q, but the tensor's producer is %d",
					op.DebugName(), id, t.producer).WithOps(opId, t.producer).WithTensors(id)
			}
		}
		for _, id := range op.inputs.Ids() {
			t, found := g.tensors[id]
			if !found {
				return NewError(InternalConsistency, "op %s has missing input tensor %q", op.DebugName(), id).
					WithOps(opId).WithTensors(id)
			}
			if n, want := t.consumers.N(opId), len(op.inputs.IndicesOf(id)); n != want {
				return NewError(InternalConsistency, "op %s consumes %q in %d slots, but the tensor counts it %d times",
					op.DebugName(), id, want, n).WithOps(opId).WithTensors(id)
			}
		}
	}

	for _, id := range g.AllTensorIds() {
		t := g.tensors[id]
		if t.HasProducer() {
			op, found := g.ops[t.producer]
			if !found {
				return NewError(InternalConsistency, "tensor %q has missing producer %d", id, t.producer).
					WithOps(t.producer).WithTensors(id)
			}
			if !op.outputs.Contains(id) {
				return NewError(InternalConsistency, "tensor %q has producer %s, which doesn't output it", id, op.DebugName()).
					WithOps(t.producer).WithTensors(id)
			}
			if !t.tensorType.HasProducer() {
				return NewError(InternalConsistency, "tensor %q of type %s has producer %s", id, t.tensorType, op.DebugName()).
					WithOps(t.producer).WithTensors(id)
			}
		} else if t.tensorType == TensorTypeActGrad {
			return NewError(InternalConsistency, "tensor %q of type %s has no producer", id, t.tensorType).WithTensors(id)
		}
		for _, opId := range t.consumers.Ops() {
			op, found := g.ops[opId]
			if !found {
				return NewError(InternalConsistency, "tensor %q has missing consumer %d", id, opId).
					WithOps(opId).WithTensors(id)
			}
			if n, want := t.consumers.N(opId), len(op.inputs.IndicesOf(id)); n != want {
				return NewError(InternalConsistency, "tensor %q counts consumer %s %d times, but it is in %d of its input slots",
					id, op.DebugName(), n, want).WithOps(opId).WithTensors(id)
			}
		}
	}
	return nil
}
