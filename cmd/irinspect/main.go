// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// irinspect loads a model description (JSON), prepares its IR and prints reports about the result: a summary,
// the schedule, the tensors and the ordering constraints.
//
// Usage:
//
//	irinspect [flags] model.json
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/graphir/pkg/core/ir"
	"github.com/gomlx/graphir/pkg/core/model"
	"github.com/gomlx/graphir/pkg/core/patterns"
	"github.com/gomlx/graphir/pkg/core/pipeline"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagAnchors  = flag.String("anchors", "", "Comma-separated list of tensors to anchor: their values are observed, and never optimized away.")
	flagLosses   = flag.String("losses", "", "Comma-separated list of loss tensors, summed into the final loss.")
	flagTrain    = flag.Bool("train", false, "Construct the backwards pass and the variable updates. Requires -losses.")
	flagPatterns = flag.String("patterns", "default",
		fmt.Sprintf("Comma-separated list of patterns to apply, or \"none\" or \"default\". Available: %s",
			strings.Join(patterns.NewRegistry().Names(), ", ")))
	flagFold    = flag.Bool("fold", true, "Fold constant expressions.")
	flagPrune   = flag.Bool("prune", true, "Prune operations not needed by anchors, losses or variable updates.")
	flagInplace = flag.Bool("inplace", true, "Rewrite operations to in-place variants where it is safe.")
	flagLR      = flag.Float64("lr", 0.01, "Learning rate of the SGD variable updates.")
	flagWD      = flag.Float64("wd", 0, "Weight decay of the SGD variable updates.")

	flagSummary     = flag.Bool("summary", true, "Display a summary of the prepared IR.")
	flagSchedule    = flag.Bool("schedule", true, "List the operations in schedule order.")
	flagTensors     = flag.Bool("tensors", false, "List the tensors.")
	flagConstraints = flag.Bool("constraints", false, "List the ordering constraints.")
	flagNoColor     = flag.Bool("nocolor", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing model file to inspect. See 'irinspect -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'irinspect -help'.")
		os.Exit(1)
	}
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if err := run(args[0]); err != nil {
		klog.Errorf("Failed to inspect %q: %+v", args[0], err)
		os.Exit(1)
	}
}

// splitIds parses a comma-separated list of tensor ids.
func splitIds(list string) []ir.TensorId {
	var ids []ir.TensorId
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, ir.TensorId(id))
		}
	}
	return ids
}

// bundleFromFlags builds the pipeline bundle for the model from the command-line flags.
func bundleFromFlags(m *model.Model) (pipeline.Bundle, error) {
	patternRegistry := patterns.NewRegistry()
	set, err := patterns.Parse(patternRegistry, *flagPatterns)
	if err != nil {
		return pipeline.Bundle{}, errors.WithMessage(err, "invalid -patterns")
	}
	return pipeline.Bundle{
		Model:   m,
		Anchors: splitIds(*flagAnchors),
		Losses:  splitIds(*flagLosses),
		Train:   *flagTrain,
		Options: pipeline.Options{
			Patterns:              set,
			EnableConstantFolding: *flagFold,
			EnablePrune:           *flagPrune,
			EnableInPlace:         *flagInplace,
			LearningRate:          *flagLR,
			WeightDecay:           *flagWD,
			VerifyConnectivity:    true,
		},
		PatternRegistry: patternRegistry,
	}, nil
}

func run(modelPath string) error {
	m, err := model.Load(modelPath)
	if err != nil {
		return err
	}
	bundle, err := bundleFromFlags(m)
	if err != nil {
		return err
	}
	g, result, err := pipeline.Prepare(bundle)
	if err != nil {
		return err
	}

	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		fmt.Println(summaryTable(modelPath, g, result).Render())
	}
	if *flagSchedule {
		fmt.Println(titleStyle.Render("Schedule"))
		fmt.Println(scheduleTable(g, result.Schedule).Render())
	}
	if *flagTensors {
		fmt.Println(titleStyle.Render("Tensors"))
		fmt.Println(tensorsTable(g).Render())
	}
	if *flagConstraints {
		fmt.Println(titleStyle.Render("Ordering Constraints"))
		fmt.Println(constraintsTable(g).Render())
	}
	return nil
}
