// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charlm

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/charlm/pkg/core/tensors"
	"github.com/gomlx/charlm/pkg/ml/context"
	"github.com/gomlx/charlm/pkg/ml/context/checkpoints"
	"github.com/gomlx/charlm/pkg/ml/data/dictionary"
)

// Names of the fields in a model file. They are stable: files written by older versions must remain readable.
const (
	ParamDictionary    = "dictionary"
	ParamIsForwardLM   = "is_forward_lm"
	ParamHiddenSize    = "hidden_size"
	ParamNumLayers     = "nlayers"
	ParamEmbeddingSize = "embedding_size"
	ParamNOut          = "nout"
	ParamDropout       = "dropout"
	ParamUseAllLayers  = "use_all_layers"

	// Training metadata, only present in checkpoint files.
	ParamOptimizerState = "optimizer_state_dict"
	ParamEpoch          = "epoch"
	ParamSplit          = "split"
	ParamLoss           = "loss"

	// StateDictPrefix is prepended to the names of the model weights in the file.
	StateDictPrefix = "state_dict/"

	// OptimizerPrefix is prepended to the names of the optimizer state tensors in the file.
	OptimizerPrefix = "optimizer/"
)

// OptimizerState is the state of the training optimizer, opaque to the model: it's simply saved and restored
// with a checkpoint so training can be resumed.
type OptimizerState struct {
	// Params must be JSON serializable. Numbers inside maps or slices of any are restored as float64.
	Params map[string]any

	// Tensors such as moving averages of the gradients.
	Tensors map[string]*tensors.Tensor
}

// Checkpoint is a model plus the training metadata that allows training to be resumed.
// Fields absent from the file are left nil.
type Checkpoint struct {
	Model *LanguageModel

	Epoch, Split   *int
	Loss           *float64
	OptimizerState *OptimizerState
}

// record builds the checkpoint record with the weights and the full configuration of the model.
func (lm *LanguageModel) record() *checkpoints.Record {
	cfg := lm.config
	r := checkpoints.NewRecord().
		SetParam(ParamDictionary, lm.dict.Items()).
		SetParam(ParamIsForwardLM, lm.IsForward()).
		SetParam(ParamHiddenSize, cfg.HiddenSize).
		SetParam(ParamNumLayers, cfg.NumLayers).
		SetParam(ParamEmbeddingSize, cfg.EmbeddingSize)
	if cfg.BottleneckSize > 0 {
		r.SetParam(ParamNOut, cfg.BottleneckSize)
	} else {
		r.SetParam(ParamNOut, nil)
	}
	r.SetParam(ParamDropout, cfg.Dropout).
		SetParam(ParamUseAllLayers, cfg.UseAllLayers)
	for name, value := range lm.IterVariables() {
		r.AddVariable(StateDictPrefix+name, value)
	}
	return r
}

// Save the model weights and configuration to path, for inference.
// Options can be used to choose the compression or half-precision storage of the weights.
func (lm *LanguageModel) Save(path string, options ...checkpoints.Option) error {
	return checkpoints.Save(path, lm.record(), options...)
}

// SaveCheckpoint saves the model with the training metadata, so training can be resumed with LoadCheckpoint.
//
// A loss that is not finite (NaN or infinity) can't be stored, and it is saved as absent.
func (lm *LanguageModel) SaveCheckpoint(path string, optimizer OptimizerState, epoch, split int, loss float64, options ...checkpoints.Option) error {
	r := lm.record()
	params := optimizer.Params
	if params == nil {
		params = map[string]any{}
	}
	r.SetParam(ParamOptimizerState, params).
		SetParam(ParamEpoch, epoch).
		SetParam(ParamSplit, split)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		klog.Warningf("charlm.SaveCheckpoint: loss %g is not finite, saving it as absent", loss)
		r.SetParam(ParamLoss, nil)
	} else {
		r.SetParam(ParamLoss, loss)
	}
	names := make([]string, 0, len(optimizer.Tensors))
	for name := range optimizer.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		r.AddVariable(OptimizerPrefix+name, optimizer.Tensors[name])
	}
	return checkpoints.Save(path, r, options...)
}

// Load a model saved with Save or SaveCheckpoint, placing it on the device of ctx, in inference mode.
//
// A file missing any configuration field can't be used to reconstruct the model: it returns an error wrapping
// ErrConfiguration. I/O errors are returned as is.
func Load(ctx *context.Context, path string) (*LanguageModel, error) {
	r, err := checkpoints.Load(path)
	if err != nil {
		return nil, err
	}
	var lm *LanguageModel
	err = exceptions.TryCatch[error](func() { lm = fromRecord(ctx, r) })
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return nil, errors.WithMessagef(err, "loading model %q", path)
		}
		return nil, errors.Wrapf(ErrConfiguration, "loading model %q: %v", path, err)
	}
	klog.V(1).Infof("charlm: loaded %s language model from %q on %s", lm.Direction(), path, ctx)
	return lm, nil
}

// MustLoad is like Load, but panics on error.
func MustLoad(ctx *context.Context, path string) *LanguageModel {
	lm, err := Load(ctx, path)
	if err != nil {
		panic(err)
	}
	return lm
}

// LoadCheckpoint is like Load, but it also returns the training metadata saved by SaveCheckpoint.
// Missing training metadata is not an error: the corresponding fields are left nil.
func LoadCheckpoint(ctx *context.Context, path string) (*Checkpoint, error) {
	r, err := checkpoints.Load(path)
	if err != nil {
		return nil, err
	}
	ckpt := &Checkpoint{}
	err = exceptions.TryCatch[error](func() { ckpt.Model = fromRecord(ctx, r) })
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return nil, errors.WithMessagef(err, "loading checkpoint %q", path)
		}
		return nil, errors.Wrapf(ErrConfiguration, "loading checkpoint %q: %v", path, err)
	}
	if epoch, err := checkpoints.ParamAs[int](r, ParamEpoch); err == nil {
		ckpt.Epoch = &epoch
	}
	if split, err := checkpoints.ParamAs[int](r, ParamSplit); err == nil {
		ckpt.Split = &split
	}
	if loss, err := checkpoints.ParamAs[float64](r, ParamLoss); err == nil {
		ckpt.Loss = &loss
	}
	if value, found := r.Param(ParamOptimizerState); found {
		if params, ok := value.(map[string]any); ok {
			ckpt.OptimizerState = optimizerStateFromRecord(r, params)
		} else {
			klog.V(1).Infof("charlm: checkpoint %q has %q of type %T instead of a map, ignoring the optimizer state",
				path, ParamOptimizerState, value)
		}
	}
	klog.V(1).Infof("charlm: loaded checkpoint %q (epoch=%s, split=%s)", path, optionalString(ckpt.Epoch), optionalString(ckpt.Split))
	return ckpt, nil
}

// optimizerStateFromRecord collects the optimizer tensors stored along with params.
func optimizerStateFromRecord(r *checkpoints.Record, params map[string]any) *OptimizerState {
	state := &OptimizerState{Params: params, Tensors: make(map[string]*tensors.Tensor)}
	for _, v := range r.Variables() {
		if name, ok := strings.CutPrefix(v.Name, OptimizerPrefix); ok {
			state.Tensors[name] = v.Value
		}
	}
	return state
}

func optionalString(v *int) string {
	if v == nil {
		return "absent"
	}
	return strconv.Itoa(*v)
}

// mustParam returns the parameter key converted to T, or panics if it is missing or has the wrong type.
func mustParam[T any](r *checkpoints.Record, key string) T {
	value, err := checkpoints.ParamAs[T](r, key)
	if err != nil {
		panic(errors.Wrapf(ErrConfiguration, "field %q: %v", key, err))
	}
	return value
}

// fromRecord reconstructs the model from a record. It panics if any configuration field is missing or invalid.
func fromRecord(ctx *context.Context, r *checkpoints.Record) *LanguageModel {
	dict, err := dictionary.FromItems(mustParam[[]string](r, ParamDictionary))
	if err != nil {
		panic(errors.Wrapf(ErrConfiguration, "field %q: %v", ParamDictionary, err))
	}
	cfg := Config{
		VocabSize:     dict.Len(),
		Direction:     Forward,
		HiddenSize:    mustParam[int](r, ParamHiddenSize),
		NumLayers:     mustParam[int](r, ParamNumLayers),
		EmbeddingSize: mustParam[int](r, ParamEmbeddingSize),
		Dropout:       mustParam[float64](r, ParamDropout),
		UseAllLayers:  true,
	}
	if !mustParam[bool](r, ParamIsForwardLM) {
		cfg.Direction = Backward
	}
	nout, found := r.Param(ParamNOut)
	switch value := nout.(type) {
	case nil:
		if !found {
			panic(errors.Wrapf(ErrConfiguration, "field %q missing", ParamNOut))
		}
	case int:
		cfg.BottleneckSize = value
	default:
		panic(errors.Wrapf(ErrConfiguration, "field %q has invalid type %T", ParamNOut, nout))
	}
	// Files written before this field existed always used all layers.
	if _, found := r.Param(ParamUseAllLayers); found {
		cfg.UseAllLayers = mustParam[bool](r, ParamUseAllLayers)
	}

	lm, err := New(ctx, dict, cfg)
	if err != nil {
		panic(err)
	}
	weights := make(map[string]*tensors.Tensor)
	for _, v := range r.Variables() {
		if name, ok := strings.CutPrefix(v.Name, StateDictPrefix); ok {
			weights[name] = v.Value
		}
	}
	if err = lm.SetVariables(weights); err != nil {
		panic(err)
	}
	if r.NumVariables() > 0 && r.Variables()[0].DType != checkpoints.Float64 {
		klog.V(1).Infof("charlm: weights stored as %s, converted to float64", r.Variables()[0].DType)
	}
	return lm.Eval()
}
