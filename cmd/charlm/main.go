// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// charlm generates text with a character language model, or evaluates its perplexity on a text file.
//
// Examples:
//
//	# Generate 200 characters following "The ":
//	charlm -model=news-forward.ckpt -prefix="The " -length=200 -temperature=0.8
//
//	# Greedy decoding, stopping at the end of the sentence:
//	charlm -model=news-forward.ckpt -prefix="The " -sampling=greedy -stop="."
//
//	# Perplexity of each paragraph (separated by empty lines) of a file, evaluated in parallel:
//	charlm -model=news-forward.ckpt -perplexity=book.txt
//
// Without -model, a new randomly initialized model is created (see -set), which is useful for testing,
// and can be saved with -save.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"github.com/gomlx/charlm/pkg/ml/context"
	"github.com/gomlx/charlm/pkg/ml/context/checkpoints"
	"github.com/gomlx/charlm/pkg/ml/data/dictionary"
	"github.com/gomlx/charlm/pkg/ml/decode/sample"
	"github.com/gomlx/charlm/pkg/ml/model/charlm"
	"github.com/gomlx/charlm/pkg/support/fsutil"
	"github.com/gomlx/charlm/ui/commandline"
)

var (
	flagModel       = flag.String("model", "", "Path to the model file. If empty, a new random model is created.")
	flagPrefix      = flag.String("prefix", charlm.DefaultPrefix, "Text to start generation from.")
	flagLength      = flag.Int("length", 200, "Number of characters to generate.")
	flagTemperature = flag.Float64("temperature", 1.0, "Sampling temperature: lower is more conservative, higher more random.")
	flagSampling    = flag.String("sampling", "temperature", "Sampling strategy: \"greedy\", \"temperature\" or \"top_k\".")
	flagTopK        = flag.Int("top_k", 10, "Number of best candidates sampled from, with -sampling=top_k.")
	flagStop        = flag.String("stop", "", "If set, generation stops as soon as the generated text ends with it.")
	flagPerplexity  = flag.String("perplexity", "", "If set, evaluates the perplexity of each paragraph of the given file, instead of generating text.")
	flagParallelism = flag.Int("parallelism", 0, "Number of texts evaluated in parallel with -perplexity. 0 for the number of CPUs.")
	flagSeed        = flag.Uint64("seed", 0, "Seed for the random number generator. If 0 a random seed is used.")
	flagDevice      = flag.String("device", "", fmt.Sprintf("Device to run on. Defaults to $%s or %q.", context.DeviceEnvVar, context.DefaultDevice))
	flagSave        = flag.String("save", "", "If set, saves the model to the given path.")
	flagHalf        = flag.Bool("half", false, "Save with weights in half precision (float16), see -save.")
)

func main() {
	klog.InitFlags(nil)
	cfg := charlm.DefaultConfig()
	cfg.HiddenSize = 128
	settings := commandline.CreateConfigSettingsFlag(cfg, "set")
	flag.Parse()

	ctx := context.New()
	if *flagDevice != "" {
		ctx.WithDevice(*flagDevice)
	}
	if *flagSeed != 0 {
		ctx.WithSeed(*flagSeed)
	}

	var lm *charlm.LanguageModel
	if *flagModel != "" {
		modelPath := fsutil.MustReplaceTildeInDir(*flagModel)
		if !must.M1(fsutil.FileExists(modelPath)) {
			klog.Exitf("Model file %q not found", modelPath)
		}
		lm = must.M1(charlm.Load(ctx, modelPath))
	} else {
		paramsSet := must.M1(commandline.ParseConfigSettings(&cfg, *settings))
		if len(paramsSet) > 0 {
			fmt.Printf("Configuration:\n%s\n", commandline.SprintConfig(cfg))
		}
		lm = must.M1(charlm.New(ctx, dictionary.Default(), cfg)).Eval()
		klog.Infof("Created random %s model with %d parameters", lm.Direction(), lm.NumParameters())
	}
	if *flagSave != "" {
		var options []checkpoints.Option
		if *flagHalf {
			options = append(options, checkpoints.WithHalfPrecision())
		}
		savePath := fsutil.MustReplaceTildeInDir(*flagSave)
		must.M(lm.Save(savePath, options...))
		fmt.Printf("Model saved to %q\n", savePath)
	}

	if *flagPerplexity != "" {
		evaluate(lm, fsutil.MustReplaceTildeInDir(*flagPerplexity))
		return
	}
	generate(lm)
}

// generate text and print it, highlighting the generated part.
func generate(lm *charlm.LanguageModel) {
	strategy, err := sample.ParseStrategy(*flagSampling)
	if err != nil {
		klog.Exitf("Invalid -sampling: %v", err)
	}
	sampling := charlm.Sampling{Strategy: strategy, Temperature: *flagTemperature, TopK: *flagTopK}
	text, avgLogProb, err := lm.GenerateWith(*flagPrefix, *flagLength, sampling, *flagStop)
	if err != nil {
		klog.Exitf("Failed to generate text: %+v", err)
	}
	prefix := *flagPrefix
	if prefix == "" {
		prefix = charlm.DefaultPrefix
	}
	output := termenv.NewOutput(os.Stdout)
	prefixStyled := output.String(prefix).Faint()
	if lm.IsForward() {
		generated := output.String(strings.TrimPrefix(text, prefix)).Foreground(output.Color("#87D7AF"))
		fmt.Println(prefixStyled.String() + generated.String())
	} else {
		generated := output.String(strings.TrimSuffix(text, prefix)).Foreground(output.Color("#87D7AF"))
		fmt.Println(generated.String() + prefixStyled.String())
	}
	numGenerated := utf8.RuneCountInString(text) - utf8.RuneCountInString(prefix)
	fmt.Printf("%s %d characters, average logit %.4f\n",
		output.String("Generated").Bold(), numGenerated, avgLogProb)
}

// batchSizePerWorker is the number of texts per worker evaluated between progress bar updates.
const batchSizePerWorker = 4

// evaluate the perplexity of each paragraph of the file.
func evaluate(lm *charlm.LanguageModel, path string) {
	contents := must.M1(os.ReadFile(path))
	var texts, names []string
	for ii, paragraph := range strings.Split(string(contents), "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if utf8.RuneCountInString(paragraph) < 2 {
			continue
		}
		texts = append(texts, paragraph)
		names = append(names, fmt.Sprintf("#%d %q", ii, ellipsis(paragraph, 30)))
	}
	if len(texts) == 0 {
		klog.Exitf("No paragraphs with at least 2 characters found in %q", path)
	}

	parallelism := *flagParallelism
	batchSize := len(texts)
	switch {
	case parallelism == 0:
		batchSize = batchSizePerWorker * runtime.NumCPU()
	case parallelism > 0:
		batchSize = batchSizePerWorker * parallelism
	}

	var (
		muPerplexities sync.Mutex
		perplexities   = make([]float64, 0, len(texts))
	)
	pBar := commandline.NewProgressBar(os.Stdout, len(texts), "texts", func() (string, string) {
		muPerplexities.Lock()
		defer muPerplexities.Unlock()
		if len(perplexities) == 0 {
			return "Mean perplexity", "-"
		}
		return "Mean perplexity", fmt.Sprintf("%.4f", floats.Sum(perplexities)/float64(len(perplexities)))
	})
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := lm.Perplexities(texts[start:end], parallelism)
		if err != nil {
			pBar.Finish()
			klog.Exitf("Failed to evaluate perplexity: %+v", err)
		}
		muPerplexities.Lock()
		perplexities = append(perplexities, batch...)
		muPerplexities.Unlock()
		pBar.Add(len(batch))
	}
	pBar.Finish()
	fmt.Println(commandline.SprintPerplexities(names, perplexities))
}

func ellipsis(s string, maxLen int) string {
	runes := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(runes) <= maxLen {
		return string(runes)
	}
	return string(runes[:maxLen-1]) + "…"
}
