// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// charlm_checkpoints inspects and edits language model files saved by charlm.
//
// Usage:
//
//	charlm_checkpoints [-summary] [-params] [-vars] <model.ckpt> [<other.ckpt> ...]
//
// With more than one file, the summary and the parameters are listed side by side, and the parameters that
// differ are highlighted.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/charlm/pkg/ml/context"
	"github.com/gomlx/charlm/pkg/ml/context/checkpoints"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the model sizes, format and training progress.")
	flagParams  = flag.Bool("params", false, "Lists the parameters: model configuration and training metadata.")
	flagHalf    = flag.String("half", "", "Saves a copy of the (single) checkpoint with the weights in half precision "+
		"(float16) to the given path. Useful to distribute models for inference.")
	flagSeed = flag.Uint64("seed", 0, "Seed used by -perturb. If 0 a random seed is used.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <checkpoint> [<checkpoint> ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		klog.Exitf("Missing checkpoint file to read from. See 'charlm_checkpoints -help'")
	}
	editing := *flagDeleteVars != "" || *flagPerturbVars != 0 || *flagHalf != ""
	if editing && len(paths) > 1 {
		klog.Exitf("-delete_vars, -perturb and -half work on a single checkpoint, got %d", len(paths))
	}
	if !editing && !*flagSummary && !*flagParams && !*flagVars {
		*flagSummary = true
	}

	if *flagDeleteVars != "" {
		DeleteVars(paths[0], strings.Split(*flagDeleteVars, ",")...)
	}
	if *flagPerturbVars != 0 {
		ctx := context.New()
		if *flagSeed != 0 {
			ctx.WithSeed(*flagSeed)
		}
		PerturbVars(ctx, paths[0], *flagPerturbVars)
	}
	if *flagHalf != "" {
		r := must.M1(checkpoints.Load(paths[0]))
		must.M(checkpoints.Save(*flagHalf, r, checkpoints.WithHalfPrecision()))
		fmt.Printf("Saved %q with weights in half precision.\n", *flagHalf)
	}

	records := make([]*checkpoints.Record, len(paths))
	for ii, path := range paths {
		records[ii] = must.M1(checkpoints.Load(path))
	}
	names := MinimalUniquePaths(paths...)
	if *flagSummary {
		Summary(paths, records, names)
	}
	if *flagParams {
		Params(records, names)
	}
	if *flagVars {
		for ii, r := range records {
			ListVariables(r, names[ii])
		}
	}
}
