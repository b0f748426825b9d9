// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pipeline drives an IR from its model description to the prepared state: construction, constant
// folding, rewrite patterns, the backwards pass, pruning, in-place rewriting and the final schedule.
//
// Example:
//
//	m := must.M1(model.Load("mlp.json"))
//	g, result, err := pipeline.Prepare(pipeline.Bundle{
//		Model:   m,
//		Losses:  []ir.TensorId{"loss"},
//		Train:   true,
//		Options: pipeline.DefaultOptions(),
//	})
package pipeline

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphir/pkg/core/autodiff"
	"github.com/gomlx/graphir/pkg/core/constfold"
	"github.com/gomlx/graphir/pkg/core/inplace"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/ir/ops"
	"github.com/gomlx/graphir/pkg/core/model"
	"github.com/gomlx/graphir/pkg/core/patterns"
	"github.com/gomlx/graphir/pkg/core/transforms"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options configure the passes run by Prepare.
type Options struct {
	// Patterns enabled, see patterns.Parse.
	Patterns patterns.Set

	EnableConstantFolding bool
	EnablePrune           bool
	EnableInPlace         bool

	// LearningRate and WeightDecay of the constant SGD used to update the variables when training.
	LearningRate, WeightDecay float64

	// VerifyConnectivity checks the graph invariants at the end of each stage. It is expensive for large graphs.
	VerifyConnectivity bool
}

// DefaultOptions enables all patterns and passes.
func DefaultOptions() Options {
	return Options{
		Patterns:              patterns.Default(patterns.NewRegistry()),
		EnableConstantFolding: true,
		EnablePrune:           true,
		EnableInPlace:         true,
		LearningRate:          0.01,
		VerifyConnectivity:    true,
	}
}

// Bundle holds everything needed to prepare an IR.
type Bundle struct {
	Model *model.Model

	// Anchors are the tensors whose values the caller wants to observe. They are never optimized away.
	Anchors []ir.TensorId

	// Losses are summed into the final loss. Required when Train is set.
	Losses []ir.TensorId

	// Train requests the backwards pass and the variable updates.
	Train bool

	Options Options

	// Registry of operation kinds. If nil, ops.NewRegistry() is used.
	Registry *ir.Registry

	// PatternRegistry where Options.Patterns are looked up. If nil, patterns.NewRegistry() is used.
	PatternRegistry *patterns.Registry
}

// Mode of the preparation, selected from the Bundle.
type Mode int

const (
	Inference Mode = iota
	Evaluation
	Training
)

func (m Mode) String() string {
	switch m {
	case Inference:
		return "Inference"
	case Evaluation:
		return "Evaluation"
	case Training:
		return "Training"
	}
	return "InvalidMode"
}

// ModeOf returns the mode the bundle requests: Training if Train is set, Evaluation if there are losses,
// and Inference otherwise.
func (b *Bundle) ModeOf() (Mode, error) {
	switch {
	case b.Train && len(b.Losses) == 0:
		return Inference, ir.NewError(ir.MalformedInput, "training requires at least one loss tensor").Err()
	case b.Train:
		return Training, nil
	case len(b.Losses) > 0:
		return Evaluation, nil
	}
	return Inference, nil
}

// Result reports what each stage of Prepare did.
type Result struct {
	Mode          Mode
	Folded        int
	PatternRounds int
	Backwards     autodiff.Result
	Pruned        transforms.PruneResult
	Inplace       inplace.Result
	Schedule      []ir.OpId
}

// Prepare builds the IR described by the bundle and runs all the passes over it, returning the prepared
// IR: further structural changes to it panic.
//
// Malformed input, missing gradients and unschedulable graphs are returned as errors. Internal consistency
// errors are bugs, and they panic.
func Prepare(b Bundle) (g *ir.Ir, result Result, err error) {
	var prepareErr error
	caught := exceptions.TryCatch[error](func() {
		g, result, prepareErr = prepare(b)
	})
	if caught != nil {
		switch ir.CategoryOf(caught) {
		case ir.MalformedInput, ir.MissingGradient, ir.Unschedulable:
			return nil, result, caught
		}
		panic(caught)
	}
	if prepareErr != nil {
		return nil, result, prepareErr
	}
	return g, result, nil
}

func prepare(b Bundle) (*ir.Ir, Result, error) {
	var result Result
	if b.Model == nil {
		return nil, result, errors.New("pipeline.Prepare requires a model")
	}
	mode, err := b.ModeOf()
	if err != nil {
		return nil, result, err
	}
	result.Mode = mode
	opts := b.Options
	registry := b.Registry
	if registry == nil {
		registry = ops.NewRegistry()
	}
	patternRegistry := b.PatternRegistry
	if patternRegistry == nil {
		patternRegistry = patterns.NewRegistry()
	}
	var fold patterns.FoldFunc
	if opts.EnableConstantFolding {
		fold = constfold.Fold
	}

	g := ir.New(registry)
	verify := func(stage string) {
		if opts.VerifyConnectivity {
			klog.V(2).Infof("verifying connectivity after %s", stage)
			g.VerifyConnectivity()
		}
	}
	klog.V(1).Infof("preparing Ir %s for %s", g.Id(), mode)
	if err = model.Build(g, b.Model); err != nil {
		return nil, result, err
	}
	g.AddAnchors(b.Anchors...)
	// Losses folded into constants must survive until the final loss consumes them.
	g.Retain(b.Losses...)
	verify("construction")
	if fold != nil {
		if result.Folded, err = fold(g); err != nil {
			return nil, result, err
		}
	}

	// The final loss consumes the losses, so the patterns can't remove them.
	if mode != Inference {
		if _, err = autodiff.GrowFinalLoss(g, b.Losses); err != nil {
			return nil, result, err
		}
	}
	enabled := opts.Patterns.Patterns(patternRegistry)
	rounds, err := patterns.ApplyPreAliasPatterns(g, enabled, fold)
	result.PatternRounds += rounds
	if err != nil {
		return nil, result, err
	}
	verify("forward patterns")

	if mode == Training {
		autodiff.SetNPathsToLoss(g)
		g.RemoveIsolatedTensors()
		result.Backwards, err = autodiff.ConstructBackwards(g, autodiff.Options{
			LearningRate: opts.LearningRate,
			WeightDecay:  opts.WeightDecay,
		})
		if err != nil {
			return nil, result, err
		}
		verify("backwards")
	}
	if err = g.ValidateAnchors(); err != nil {
		return nil, result, err
	}

	if opts.EnablePrune {
		if result.Pruned, err = transforms.Prune(g); err != nil {
			return nil, result, err
		}
	}
	if mode == Training {
		rounds, err = patterns.ApplyPreAliasPatterns(g, enabled, fold)
		result.PatternRounds += rounds
		if err != nil {
			return nil, result, err
		}
		autodiff.SetVarUpdateCons(g)
		verify("backwards patterns")
	}
	g.RemoveIsolatedTensors()

	if opts.EnableInPlace {
		if result.Inplace, err = inplace.Apply(g); err != nil {
			return nil, result, err
		}
	}
	g.UpdateVertices()
	verify("in-place")

	schedule, err := g.OpSchedule(nil)
	if err != nil {
		return nil, result, err
	}
	result.Schedule = make([]ir.OpId, len(schedule))
	for ii, op := range schedule {
		result.Schedule[ii] = op.Id()
	}
	g.SetPrepared()
	klog.V(1).Infof("Ir %s prepared: %d ops, %d tensors, %d ordering constraints",
		g.Id(), g.NumOps(), g.NumTensors(), g.TopoCons().Len())
	return g, result, nil
}
