// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package charlm implements a character-level recurrent language model: an embedding of characters, a stack
// of LSTM layers, an optional bottleneck projection and a decoder to the vocabulary logits.
//
// The same LanguageModel can read text forward or backward (see Direction): a backward model reverses its inputs
// and outputs, so callers always work with text in natural reading order.
//
// Besides the Forward pass, it provides:
//
//   - Represent: per-character features for a batch of strings of arbitrary length, processed in chunks.
//   - Generate: autoregressive text generation with temperature sampling.
//   - Perplexity: how well the model predicts a text.
//   - Save, SaveCheckpoint, Load and LoadCheckpoint: persistence to a single file (see package checkpoints).
//
// Example:
//
//	ctx := context.New()
//	lm, err := charlm.Load(ctx, "news-forward.ckpt")
//	if err != nil { … }
//	text, _, err := lm.Generate("The ", 100, 0.8, "\n")
//
// Errors: operations return errors wrapping ErrConfiguration or ErrInvalidInput. Forward, which is called
// many times in the inner loops, panics with an error (see github.com/gomlx/exceptions) on invalid inputs instead.
package charlm

import (
	"iter"
	"math"
	"slices"
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/charlm/pkg/core/tensors"
	"github.com/gomlx/charlm/pkg/ml/context"
	"github.com/gomlx/charlm/pkg/ml/initializer"
	"github.com/gomlx/charlm/pkg/ml/layers"
	"github.com/gomlx/charlm/pkg/ml/layers/lstm"
)

// PaddingItem is the dictionary item used to pad sequences of a batch to the same length.
const PaddingItem = " "

// Dictionary maps characters to indices and back. See dictionary.Dictionary for an implementation.
type Dictionary interface {
	// Len returns the number of items: indices are 0 to Len()-1.
	Len() int

	// IndexOf returns the index of the item, or a fallback index if it's unknown.
	IndexOf(item string) int

	// IndicesOf returns the index of each of the items.
	IndicesOf(items []string) []int

	// ItemOf returns the item of the given index.
	ItemOf(index int) string

	// Items returns all items, ordered by index.
	Items() []string
}

// LanguageModel is a character-level LSTM language model. Create it with New or Load.
//
// Inference (Forward with training disabled, Represent, Generate in inference mode, Perplexity) only reads the
// weights, so it's safe to use concurrently, as long as each call uses its own hidden state.
// While training, dropout draws from the context random number generator.
type LanguageModel struct {
	ctx      *context.Context
	dict     Dictionary
	config   Config
	training bool

	embedding *layers.Embedding
	rnn       []*lstm.Layer
	proj      *layers.Dense // nil if there is no bottleneck.
	decoder   *layers.Dense
}

// New creates a LanguageModel for the dictionary with the given configuration, and initializes its weights with
// random values drawn from ctx.
//
// If cfg.VocabSize is 0, it is set to dict.Len(). Otherwise, it must match dict.Len().
//
// The new model is in training mode: call Eval to disable dropout.
func New(ctx *context.Context, dict Dictionary, cfg Config) (*LanguageModel, error) {
	if ctx == nil {
		return nil, errors.Wrap(ErrConfiguration, "nil context")
	}
	if dict == nil {
		return nil, errors.Wrap(ErrConfiguration, "nil dictionary")
	}
	if cfg.VocabSize == 0 {
		cfg.VocabSize = dict.Len()
	} else if cfg.VocabSize != dict.Len() {
		return nil, errors.Wrapf(ErrConfiguration, "vocabulary size %d doesn't match dictionary size %d",
			cfg.VocabSize, dict.Len())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lm := &LanguageModel{
		ctx:      ctx,
		dict:     dict,
		config:   cfg,
		training: true,
	}
	initRange := initializer.Symmetric(0.1)
	lm.embedding = layers.NewEmbedding(ctx, cfg.VocabSize, cfg.EmbeddingSize, initRange)
	lm.rnn = make([]*lstm.Layer, cfg.NumLayers)
	for l := range cfg.NumLayers {
		inputSize := cfg.HiddenSize
		if l == 0 {
			inputSize = cfg.EmbeddingSize
		}
		lm.rnn[l] = lstm.New(ctx, inputSize, cfg.HiddenSize)
	}
	if cfg.BottleneckSize > 0 {
		inputSize := cfg.ConcatenatedSize()
		lm.proj = layers.NewDense(ctx, inputSize, cfg.BottleneckSize,
			initializer.VarianceScaledUniform, initializer.Symmetric(1/math.Sqrt(float64(inputSize))))
	}
	lm.decoder = layers.NewDense(ctx, cfg.RepresentationSize(), cfg.VocabSize, initRange, initializer.Zero)
	klog.V(1).Infof("charlm: created %s language model with %d parameters on %s", cfg.Direction, lm.NumParameters(), ctx)
	return lm, nil
}

// Config returns the model configuration.
func (lm *LanguageModel) Config() Config { return lm.config }

// Dictionary used by the model.
func (lm *LanguageModel) Dictionary() Dictionary { return lm.dict }

// Context the model was created or loaded with. It's the source of randomness for dropout and sampling.
func (lm *LanguageModel) Context() *context.Context { return lm.ctx }

// Direction in which the model reads text.
func (lm *LanguageModel) Direction() Direction { return lm.config.Direction }

// IsForward returns whether the model reads text left to right.
func (lm *LanguageModel) IsForward() bool { return lm.config.Direction == Forward }

// Train enables training mode: dropout is applied. It returns the model, so calls can be cascaded.
func (lm *LanguageModel) Train() *LanguageModel {
	lm.training = true
	return lm
}

// Eval enables inference mode: dropout is disabled. It returns the model, so calls can be cascaded.
func (lm *LanguageModel) Eval() *LanguageModel {
	lm.training = false
	return lm
}

// IsTraining returns whether the model is in training mode.
func (lm *LanguageModel) IsTraining() bool { return lm.training }

// Forward runs the model over input, the character indices shaped [seqLen][batchSize], starting from the
// given hidden state (nil for the zero state).
//
// It returns:
//
//   - logits: shaped [seqLen, batchSize, vocabSize], the unnormalized log-probabilities of the next character.
//   - representation: shaped [seqLen, batchSize, Config.RepresentationSize()], the input to the decoder.
//   - newHidden: the hidden state after the last character, to continue the sequence in the next call.
//
// It panics if input is empty or ragged, if indices are out of range or if hidden doesn't match the
// model and batch size.
func (lm *LanguageModel) Forward(input [][]int, hidden HiddenState) (logits, representation *tensors.Tensor, newHidden HiddenState) {
	if len(input) == 0 || len(input[0]) == 0 {
		exceptions.Panicf("charlm.Forward: input must have at least one step and one example, got %d steps", len(input))
	}
	if hidden != nil && len(hidden) != len(lm.rnn) {
		exceptions.Panicf("charlm.Forward: hidden state has %d layers, model has %d", len(hidden), len(lm.rnn))
	}
	rate := lm.config.Dropout

	x := lm.embedding.Apply(input)
	x = layers.Dropout(lm.ctx, x, rate, lm.training)

	numLayers := len(lm.rnn)
	outputs := make([]*tensors.Tensor, numLayers)
	newHidden = make(HiddenState, numLayers)
	for l, layer := range lm.rnn {
		var initial *lstm.State
		if hidden != nil {
			initial = &hidden[l]
		}
		x, newHidden[l] = layer.Apply(x, initial)
		if numLayers > 1 {
			x = layers.Dropout(lm.ctx, x, rate, lm.training)
		}
		outputs[l] = x
	}

	representation = x
	if lm.config.UseAllLayers && numLayers > 1 {
		representation = tensors.Concatenate(-1, outputs...)
	}
	if lm.proj != nil {
		representation = lm.proj.Apply(representation)
	}
	representation = layers.Dropout(lm.ctx, representation, rate, lm.training)

	// Dense flattens [seqLen, batchSize] to apply the decoder and reshapes it back.
	logits = lm.decoder.Apply(representation)
	return logits, representation, newHidden
}

// Variable is a named weight of the model.
type Variable struct {
	Name  string
	Value *tensors.Tensor
}

// variableRef points to the storage of a weight, so it can be read or replaced.
type variableRef struct {
	name string
	ref  **tensors.Tensor
}

// variableRefs enumerates the weights in a stable order.
func (lm *LanguageModel) variableRefs() []variableRef {
	refs := []variableRef{{"encoder.weight", &lm.embedding.Weight}}
	for l, layer := range lm.rnn {
		prefix := "rnn." + strconv.Itoa(l) + "."
		refs = append(refs,
			variableRef{prefix + "weight_ih", &layer.WeightIH},
			variableRef{prefix + "weight_hh", &layer.WeightHH},
			variableRef{prefix + "bias_ih", &layer.BiasIH},
			variableRef{prefix + "bias_hh", &layer.BiasHH})
	}
	if lm.proj != nil {
		refs = append(refs,
			variableRef{"proj.weight", &lm.proj.Weight},
			variableRef{"proj.bias", &lm.proj.Bias})
	}
	refs = append(refs,
		variableRef{"decoder.weight", &lm.decoder.Weight},
		variableRef{"decoder.bias", &lm.decoder.Bias})
	return refs
}

// IterVariables iterates over the weights of the model in a stable order: embedding, each LSTM layer,
// bottleneck projection (if any) and decoder.
//
// The tensors are not copied: changing them changes the model.
func (lm *LanguageModel) IterVariables() iter.Seq2[string, *tensors.Tensor] {
	return func(yield func(string, *tensors.Tensor) bool) {
		for _, ref := range lm.variableRefs() {
			if !yield(ref.name, *ref.ref) {
				return
			}
		}
	}
}

// Variables returns the weights of the model in a stable order. See IterVariables.
func (lm *LanguageModel) Variables() []Variable {
	var vars []Variable
	for name, value := range lm.IterVariables() {
		vars = append(vars, Variable{Name: name, Value: value})
	}
	return vars
}

// NumParameters returns the total number of values in the weights.
func (lm *LanguageModel) NumParameters() int {
	var total int
	for _, value := range lm.IterVariables() {
		total += value.Size()
	}
	return total
}

// SetVariables replaces all the weights of the model. values must have exactly the names returned by Variables,
// with the same dimensions. The model takes ownership of the tensors.
//
// On error the model is not changed.
func (lm *LanguageModel) SetVariables(values map[string]*tensors.Tensor) error {
	refs := lm.variableRefs()
	for _, ref := range refs {
		value, found := values[ref.name]
		if !found || value == nil {
			return errors.Wrapf(ErrConfiguration, "missing weight %q", ref.name)
		}
		if !slices.Equal((*ref.ref).Dimensions(), value.Dimensions()) {
			return errors.Wrapf(ErrConfiguration, "weight %q has dimensions %v, model requires %v",
				ref.name, value.Dimensions(), (*ref.ref).Dimensions())
		}
	}
	if len(values) != len(refs) {
		known := make(map[string]bool, len(refs))
		for _, ref := range refs {
			known[ref.name] = true
		}
		for name := range values {
			if !known[name] {
				return errors.Wrapf(ErrConfiguration, "unexpected weight %q", name)
			}
		}
	}
	for _, ref := range refs {
		*ref.ref = values[ref.name]
	}
	return nil
}
