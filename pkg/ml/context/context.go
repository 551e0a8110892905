// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context defines the Context, the compute environment a model is built and executed in.
//
// A Context names the device the computation runs on and owns the random number generator (RNG) used for
// weights initialization, dropout and sampling. It replaces process-wide implicit state: the device is
// chosen once, at the top level, and passed explicitly to the model construction and loading.
//
// Example:
//
//	ctx := context.New().WithSeed(42)
//	lm, err := charlm.New(ctx, dict, cfg)
//
// A Context is safe for concurrent use: the RNG is protected by a mutex. But results of concurrent
// users drawing random numbers are only reproducible if the order of the draws is.
package context

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

const (
	// DeviceEnvVar is the environment variable used to select the default device, if set.
	DeviceEnvVar = "CHARLM_DEVICE"

	// DefaultDevice is the device used if none is configured.
	DefaultDevice = "cpu"
)

// SupportedDevices lists the devices a Context can be placed on.
var SupportedDevices = []string{DefaultDevice}

// Context holds the compute device and the random number generator.
type Context struct {
	device string

	muRNG sync.Mutex
	seed  uint64
	rng   *rand.Rand
}

// New returns a new Context on the default device (see DeviceEnvVar) with a random number generator
// seeded from the nanosecond clock.
//
// Use WithSeed for a deterministic context.
func New() *Context {
	ctx := &Context{device: DefaultDevice}
	if device := os.Getenv(DeviceEnvVar); device != "" {
		ctx.WithDevice(device)
	}
	ctx.WithSeed(uint64(time.Now().UnixNano()))
	return ctx
}

// WithSeed resets the random number generator with the given seed. It returns the context itself,
// so calls can be cascaded.
func (ctx *Context) WithSeed(seed uint64) *Context {
	ctx.muRNG.Lock()
	defer ctx.muRNG.Unlock()
	ctx.seed = seed
	ctx.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return ctx
}

// WithDevice sets the device. It panics if the device is not one of SupportedDevices.
// It returns the context itself, so calls can be cascaded.
func (ctx *Context) WithDevice(device string) *Context {
	for _, supported := range SupportedDevices {
		if device == supported {
			ctx.device = device
			klog.V(1).Infof("context: using device %q", device)
			return ctx
		}
	}
	exceptions.Panicf("context: device %q not supported, supported devices are %q", device, SupportedDevices)
	return nil
}

// Device returns the name of the device computations run on.
func (ctx *Context) Device() string {
	return ctx.device
}

// Seed returns the last seed used to initialize the random number generator.
func (ctx *Context) Seed() uint64 {
	ctx.muRNG.Lock()
	defer ctx.muRNG.Unlock()
	return ctx.seed
}

// String implements fmt.Stringer.
func (ctx *Context) String() string {
	return fmt.Sprintf("context.Context(device=%s)", ctx.device)
}
