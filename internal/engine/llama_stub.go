//go:build !llama

package engine

import "context"

// LlamaBuilt reports whether this binary was compiled with real llama support.
const LlamaBuilt = false

// llamaEngine is a stub that satisfies Engine but refuses to load models
// without the 'llama' build tag. Default builds stay CGO-free.
type llamaEngine struct {
	ctxSize int
	threads int
}

// NewLlama returns the in-process llama.cpp engine. In this build it always
// fails with a dependency-unavailable error.
func NewLlama(ctxSize, threads int) Engine {
	return &llamaEngine{ctxSize: ctxSize, threads: threads}
}

func (e *llamaEngine) Load(path string, opts Options) (Handle, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

// Probe always fails in builds without the 'llama' tag.
func (e *llamaEngine) Probe(ctx context.Context) error {
	return ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
