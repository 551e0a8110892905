// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/floats"

	"github.com/gomlx/charlm/pkg/ml/context"
	"github.com/gomlx/charlm/pkg/ml/context/checkpoints"
	"github.com/gomlx/charlm/pkg/ml/model/charlm"
)

var (
	flagVars        = flag.Bool("vars", false, "Lists the variables with their dimensions and statistics.")
	flagGlossary    = flag.Bool("glossary", true, "Whether to list glossary of the statistics of the variables.")
	flagDeleteVars  = flag.String("delete_vars", "", "Comma-separated list of prefixes of variables to delete. Useful for instance to remove the optimizer state with \"optimizer/\".")
	flagPerturbVars = flag.Float64("perturb", 0,
		"Perturbs the model weights by <x>: it multiplies the weights by 1.0+(RandomUniform(-1, 1)*x). "+
			"Consider also removing the optimizer state with -delete_vars.")
)

// VariableStats returns the MAV (mean absolute value), RMS (root-mean-square) and MaxAV (max absolute value)
// of values.
func VariableStats(values []float64) (mav, rms, maxAV float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	n := float64(len(values))
	mav = floats.Norm(values, 1) / n
	rms = floats.Norm(values, 2) / math.Sqrt(n)
	maxAV = floats.Norm(values, math.Inf(1))
	return
}

// ListVariables lists the variables of a checkpoint, with their dimensions and statistics.
func ListVariables(r *checkpoints.Record, name string) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Variables in %q", name)))
	table := newPlainTable(true, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Name", "Dimensions", "Size", "Bytes", "Scalar/MAV", "RMS", "MaxAV")
	for _, v := range r.Variables() {
		values := v.Value.Flat()
		var mav, rms, maxAV string
		if len(values) == 1 {
			mav = fmt.Sprintf("%8v", values[0])
		} else {
			m, r, x := VariableStats(values)
			mav, rms, maxAV = fmt.Sprintf("%.3g", m), fmt.Sprintf("%.3g", r), fmt.Sprintf("%.3g", x)
		}
		table.Row(v.Name, fmt.Sprintf("%v", v.Value.Dimensions()),
			humanize.Comma(int64(v.Value.Size())),
			humanize.Bytes(uint64(v.Value.Size()*v.DType.Size())),
			mav, rms, maxAV)
	}
	fmt.Println(table.Render())
	if *flagGlossary {
		fmt.Printf("  %s:\n", sectionStyle.Render("Glossary"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("Scalar/MAV"), italicStyle.Render("If variable is a scalar then the value itself, else the Mean Absolute Value"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("RMS"), italicStyle.Render("Root Mean Square"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("MaxAV"), italicStyle.Render("Max Absolute Value"))
	}
}

// DeleteVars removes the variables whose names start with any of the prefixes, and saves the checkpoint
// back in place. It returns the number of variables deleted.
func DeleteVars(checkpointPath string, prefixes ...string) int {
	r := must.M1(checkpoints.Load(checkpointPath))
	updated := checkpoints.NewRecord()
	for _, key := range r.ParamKeys() {
		value, _ := r.Param(key)
		updated.SetParam(key, value)
	}
	var numDeleted int
	for _, v := range r.Variables() {
		if hasAnyPrefix(v.Name, prefixes) {
			numDeleted++
			continue
		}
		updated.AddVariable(v.Name, v.Value)
	}
	if numDeleted == 0 {
		// No changes needed.
		return 0
	}
	must.M(checkpoints.Save(checkpointPath, updated, saveOptions(r)...))
	fmt.Printf("%d deleted vars with prefixes %q, new checkpoint saved.\n", numDeleted, prefixes)
	return numDeleted
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// PerturbVars multiplies every model weight by 1+u*x, with u drawn uniformly from [-1, 1) using ctx,
// and saves the checkpoint back in place. Other variables, like the optimizer state, are not changed.
func PerturbVars(ctx *context.Context, checkpointPath string, x float64) {
	r := must.M1(checkpoints.Load(checkpointPath))
	var numUpdates int
	for _, v := range r.Variables() {
		if !strings.HasPrefix(v.Name, charlm.StateDictPrefix) {
			continue
		}
		values := v.Value.Flat()
		perturbation := make([]float64, len(values))
		ctx.RandomUniform(perturbation, 1-x, 1+x)
		floats.Mul(values, perturbation)
		numUpdates++
	}
	must.M(checkpoints.Save(checkpointPath, r, saveOptions(r)...))
	fmt.Printf("%d variables updated, new checkpoint saved.\n", numUpdates)
}

// saveOptions preserve the storage format of the record read.
func saveOptions(r *checkpoints.Record) []checkpoints.Option {
	options := []checkpoints.Option{checkpoints.WithCompression(r.BinFormat())}
	if r.NumVariables() > 0 && r.Variables()[0].DType == checkpoints.Float16 {
		options = append(options, checkpoints.WithHalfPrecision())
	}
	return options
}
