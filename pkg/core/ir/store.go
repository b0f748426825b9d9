// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"

	"github.com/gomlx/graphir/pkg/core/shapes"
	"github.com/gomlx/graphir/pkg/support/sets"
	"github.com/gomlx/graphir/pkg/support/xslices"
	"k8s.io/klog/v2"
)

func (g *Ir) addTensor(id TensorId, tensorType TensorType) (*Tensor, error) {
	g.assertMutable()
	if id == "" {
		return nil, malformedf("empty tensor id").Err()
	}
	if _, found := g.tensors[id]; found {
		return nil, malformedf("repeated tensor name %q", id).WithTensors(id).Err()
	}
	if !tensorType.IsATensorType() {
		return nil, malformedf("invalid tensor type %s for tensor %q", tensorType, id).WithTensors(id).Err()
	}
	t := newTensor(id, tensorType)
	g.tensors[id] = t
	return t, nil
}

// AddTensor declares a tensor of the given type, with an invalid shape.
func (g *Ir) AddTensor(id TensorId, tensorType TensorType) error {
	_, err := g.addTensor(id, tensorType)
	return err
}

// AddStream declares a Stream tensor: a graph input fed at run time.
func (g *Ir) AddStream(id TensorId, shape shapes.Shape) error {
	t, err := g.addTensor(id, TensorTypeStream)
	if err != nil {
		return err
	}
	t.shape = shape
	return nil
}

// AddConstant declares a Constant tensor with its raw little-endian data, which must match the shape's memory size.
func (g *Ir) AddConstant(id TensorId, shape shapes.Shape, data []byte) error {
	return g.addWithData(id, TensorTypeConstant, shape, data)
}

// AddVariable declares a Variable tensor (trainable state) with its initial value. The data may be nil if
// the initial value is provided elsewhere.
func (g *Ir) AddVariable(id TensorId, shape shapes.Shape, data []byte) error {
	return g.addWithData(id, TensorTypeVariable, shape, data)
}

func (g *Ir) addWithData(id TensorId, tensorType TensorType, shape shapes.Shape, data []byte) error {
	if !shape.Ok() {
		return malformedf("%s tensor %q declared with an invalid shape", tensorType, id).WithTensors(id).Err()
	}
	if data != nil && uintptr(len(data)) != shape.Memory() {
		return malformedf("%s tensor %q of shape %s requires %d bytes of data, got %d",
			tensorType, id, shape, shape.Memory(), len(data)).WithTensors(id).Err()
	}
	t, err := g.addTensor(id, tensorType)
	if err != nil {
		return err
	}
	t.shape = shape
	t.data = data
	return nil
}

// AddOp creates an operation of the given kind, not yet connected to any tensor.
// The kind must have been registered in the Ir's Registry.
func (g *Ir) AddOp(kind OpKind, name string, attrs Attributes) (*Op, error) {
	g.assertMutable()
	behavior, found := g.registry.Get(kind)
	if !found {
		return nil, malformedf("unknown op kind %q (name %q)", kind, name).Err()
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = Attributes{}
	}
	op := &Op{
		id:       g.nextOpId,
		kind:     kind,
		name:     name,
		attrs:    attrs,
		behavior: behavior,
		inputs:   newTensorIndexMap(),
		outputs:  newTensorIndexMap(),
	}
	g.nextOpId++
	g.ops[op.id] = op
	klog.V(2).Infof("Ir %s: added op %s", g.id, op.DebugName())
	return op, nil
}

func (g *Ir) mustOp(id OpId) *Op {
	op, found := g.ops[id]
	if !found {
		Fatalf("op %d not in Ir %s", id, g.id)
	}
	return op
}

func (g *Ir) mustTensor(id TensorId) *Tensor {
	t, found := g.tensors[id]
	if !found {
		Fatalf("tensor %q not in Ir %s", id, g.id)
	}
	return t
}

// ConnectInput connects tensor id to the input slot index of the operation.
// It returns a MalformedInput error if the tensor was not declared.
func (g *Ir) ConnectInput(opId OpId, index int, id TensorId) error {
	g.assertMutable()
	op := g.mustOp(opId)
	t, found := g.tensors[id]
	if !found {
		return malformedf("op %s input #%d references undeclared tensor %q", op.DebugName(), index, id).
			WithOps(opId).WithTensors(id).Err()
	}
	if current, occupied := op.inputs.Id(index); occupied {
		NewError(InternalConsistency, "op %s input slot #%d already connected to %q", op.DebugName(), index, current).
			WithOps(opId).WithTensors(current, id).Throw()
	}
	op.inputs.insert(index, id)
	t.consumers.increment(opId)
	return nil
}

// ConnectOutput connects tensor id to the output slot index of the operation, creating it as an ActGrad
// tensor if it doesn't exist yet.
//
// Connecting a tensor that already has a producer is an InternalConsistency failure (panic).
func (g *Ir) ConnectOutput(opId OpId, index int, id TensorId) error {
	g.assertMutable()
	op := g.mustOp(opId)
	if current, occupied := op.outputs.Id(index); occupied {
		NewError(InternalConsistency, "op %s output slot #%d already connected to %q", op.DebugName(), index, current).
			WithOps(opId).WithTensors(current, id).Throw()
	}
	t, found := g.tensors[id]
	if !found {
		var err error
		t, err = g.addTensor(id, TensorTypeActGrad)
		if err != nil {
			return err
		}
	} else {
		if !t.tensorType.HasProducer() {
			return malformedf("tensor %q of type %s cannot be the output of op %s", id, t.tensorType, op.DebugName()).
				WithOps(opId).WithTensors(id).Err()
		}
		if t.HasProducer() {
			NewError(InternalConsistency, "tensor %q would have two producers: op %d and op %s", id, t.producer, op.DebugName()).
				WithOps(t.producer, opId).WithTensors(id).Throw()
		}
	}
	t.producer = opId
	op.outputs.insert(index, id)
	return nil
}

// CreateAndConnectOutput creates the ActGrad tensor id and connects it to the output slot index of the operation.
// It returns a MalformedInput error if the tensor already exists.
func (g *Ir) CreateAndConnectOutput(opId OpId, index int, id TensorId) error {
	if _, found := g.tensors[id]; found {
		return malformedf("output #%d of op %d: tensor %q already exists", index, opId, id).
			WithOps(opId).WithTensors(id).Err()
	}
	return g.ConnectOutput(opId, index, id)
}

// ReconnectInput replaces the tensor at input slot index of the operation by id.
func (g *Ir) ReconnectInput(opId OpId, index int, id TensorId) error {
	g.DisconnectInput(opId, index)
	return g.ConnectInput(opId, index, id)
}

// DisconnectInput disconnects the tensor at input slot index of the operation.
func (g *Ir) DisconnectInput(opId OpId, index int) {
	g.assertMutable()
	op := g.mustOp(opId)
	id, found := op.inputs.Id(index)
	if !found {
		Fatalf("op %s has no input at slot #%d", op.DebugName(), index)
	}
	g.mustTensor(id).consumers.decrement(opId)
	op.inputs.erase(index)
}

// DisconnectOutput disconnects the tensor at output slot index of the operation. The tensor is left without producer.
func (g *Ir) DisconnectOutput(opId OpId, index int) {
	g.assertMutable()
	op := g.mustOp(opId)
	id, found := op.outputs.Id(index)
	if !found {
		Fatalf("op %s has no output at slot #%d", op.DebugName(), index)
	}
	g.mustTensor(id).producer = NoOpId
	op.outputs.erase(index)
}

// DisconnectAllInputs disconnects every input of the operation.
func (g *Ir) DisconnectAllInputs(opId OpId) {
	for _, index := range g.mustOp(opId).inputs.Indices() {
		g.DisconnectInput(opId, index)
	}
}

// DisconnectAllOutputs disconnects every output of the operation.
func (g *Ir) DisconnectAllOutputs(opId OpId) {
	for _, index := range g.mustOp(opId).outputs.Indices() {
		g.DisconnectOutput(opId, index)
	}
}

// EraseOp removes a disconnected operation from the Ir, along with the ordering constraints that mention it.
func (g *Ir) EraseOp(opId OpId) {
	g.assertMutable()
	op := g.mustOp(opId)
	if op.inputs.N() > 0 || op.outputs.N() > 0 {
		NewError(InternalConsistency, "erasing op %s still connected to %d inputs and %d outputs",
			op.DebugName(), op.inputs.N(), op.outputs.N()).WithOps(opId).Throw()
	}
	delete(g.ops, opId)
	g.topoCons.RemoveOp(opId)
	if g.finalLoss == opId {
		g.finalLoss = NoOpId
	}
	klog.V(2).Infof("Ir %s: erased op %s", g.id, op.DebugName())
}

// RemoveTensor removes a tensor that has no producer and no consumers. It panics if the tensor is still referenced.
func (g *Ir) RemoveTensor(id TensorId) {
	g.assertMutable()
	t := g.mustTensor(id)
	if t.HasProducer() || t.consumers.Len() > 0 {
		NewError(InternalConsistency, "removing tensor %q still referenced by producer %d and %d consumers",
			id, t.producer, t.consumers.Len()).WithTensors(id).Throw()
	}
	delete(g.tensors, id)
}

// RemoveIsolatedTensors removes every tensor without producer nor consumers, except anchors, retained
// tensors, and the Variables with a copy update along with their sources. It returns the sorted ids of the
// removed tensors.
func (g *Ir) RemoveIsolatedTensors() []TensorId {
	var removed []TensorId
	copySources := sets.MakeWith(g.CopySources()...)
	for _, id := range xslices.SortedKeys(g.tensors) {
		t := g.tensors[id]
		if t.HasProducer() || t.consumers.Len() > 0 || g.anchors.Has(id) || g.retained.Has(id) || copySources.Has(id) {
			continue
		}
		if t.tensorType == TensorTypeVariable && t.update == VariableUpdateCopy {
			continue
		}
		g.RemoveTensor(id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		klog.V(1).Infof("Ir %s: removed %d isolated tensors", g.id, len(removed))
	}
	return removed
}

// ConvertToConstant turns a tensor without producer into a Constant holding data. Used by constant folding
// after the producer of the tensor is erased.
func (g *Ir) ConvertToConstant(id TensorId, data []byte) {
	g.assertMutable()
	t := g.mustTensor(id)
	if t.HasProducer() {
		NewError(InternalConsistency, "converting tensor %q to constant, but it is still produced by op %d",
			id, t.producer).WithOps(t.producer).WithTensors(id).Throw()
	}
	if uintptr(len(data)) != t.shape.Memory() {
		NewError(InternalConsistency, "converting tensor %q of shape %s to constant with %d bytes of data",
			id, t.shape, len(data)).WithTensors(id).Throw()
	}
	t.tensorType = TensorTypeConstant
	t.data = data
}

// Setup runs the operation's shape inference.
func (g *Ir) Setup(opId OpId) error {
	op := g.mustOp(opId)
	return op.behavior.Setup(g, op)
}

// GrowOp creates an operation from spec, connects its inputs and outputs (in index order), and runs Setup.
// Output tensors that don't exist are created as ActGrad.
//
// On error the operation and the output tensors it created are removed, leaving the Ir as it was.
func (g *Ir) GrowOp(spec OpSpec, inputs, outputs map[int]TensorId) (*Op, error) {
	op, err := g.AddOp(spec.Kind, spec.Name, spec.Attributes.Clone())
	if err != nil {
		return nil, err
	}
	var created []TensorId
	for _, id := range outputs {
		if _, found := g.tensors[id]; !found {
			created = append(created, id)
		}
	}
	if err = g.connectAndSetup(op, inputs, outputs); err != nil {
		g.discardOp(op, created)
		return nil, err
	}
	return op, nil
}

// connectAndSetup connects the inputs and outputs of op, in index order, and runs its Setup.
func (g *Ir) connectAndSetup(op *Op, inputs, outputs map[int]TensorId) error {
	for _, index := range xslices.SortedKeys(inputs) {
		if err := g.ConnectInput(op.id, index, inputs[index]); err != nil {
			return err
		}
	}
	for _, index := range xslices.SortedKeys(outputs) {
		if err := g.ConnectOutput(op.id, index, outputs[index]); err != nil {
			return err
		}
	}
	return g.Setup(op.id)
}

// discardOp disconnects and erases op, and then removes the tensors in created.
func (g *Ir) discardOp(op *Op, created []TensorId) {
	g.DisconnectAllInputs(op.id)
	g.DisconnectAllOutputs(op.id)
	g.EraseOp(op.id)
	for _, id := range created {
		if _, found := g.tensors[id]; found {
			g.RemoveTensor(id)
		}
	}
	klog.V(2).Infof("Ir %s: discarded op %s", g.id, op.DebugName())
}

// ReplaceOp replaces the operation old by a new one created from spec, connected to the same inputs and outputs.
// The new operation inherits the settings, phase and ordering constraints of the old one, and it becomes
// the final loss operation if the old one was. An empty spec.Name keeps the old name.
//
// If the new operation can't be set up, the old one is restored and the error is returned.
func (g *Ir) ReplaceOp(old OpId, spec OpSpec) (*Op, error) {
	oldOp := g.mustOp(old)
	name := spec.Name
	if name == "" {
		name = oldOp.name
	}
	op, err := g.AddOp(spec.Kind, name, spec.Attributes.Clone())
	if err != nil {
		return nil, err
	}
	inputs, outputs := oldOp.inputs.Map(), oldOp.outputs.Map()
	outputShapes := make(map[TensorId]shapes.Shape, len(outputs))
	for _, id := range outputs {
		outputShapes[id] = g.tensors[id].shape
	}
	g.DisconnectAllInputs(old)
	g.DisconnectAllOutputs(old)
	if err = g.connectAndSetup(op, inputs, outputs); err != nil {
		g.discardOp(op, nil)
		for id, shape := range outputShapes {
			g.tensors[id].shape = shape
		}
		if restoreErr := g.connectAndSetup(oldOp, inputs, outputs); restoreErr != nil {
			Fatalf("failed to restore op %s after failing to replace it: %v", oldOp.DebugName(), restoreErr)
		}
		return nil, err
	}
	op.settings = oldOp.settings
	op.phase = oldOp.phase
	g.topoCons.Transfer(old, op.id)
	wasFinalLoss := g.finalLoss == old
	g.EraseOp(old)
	if wasFinalLoss {
		g.finalLoss = op.id
	}
	klog.V(2).Infof("Ir %s: replaced %s by %s", g.id, oldOp.DebugName(), op.DebugName())
	return op, nil
}

// UniqueId returns a tensor id derived from base that is not used in the Ir.
func (g *Ir) UniqueId(base TensorId) TensorId {
	for ii := 0; ; ii++ {
		id := TensorId(fmt.Sprintf("%s__t%d", base, ii))
		if _, found := g.tensors[id]; !found {
			return id
		}
	}
}
