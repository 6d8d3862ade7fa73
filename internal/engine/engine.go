// Package engine defines the contract between the acquisition controller and
// the native inference runtime, plus the concrete backends:
//
//   - llama.go: in-process llama.cpp via go-llama.cpp, built with -tags=llama.
//   - llama_stub.go: no-CGO stub that fails fast when the tag is not set.
//   - server.go: a running llama.cpp server reached over HTTP.
//
// Model loading, tokenization and sampling all happen behind these
// interfaces; callers treat them as opaque.
package engine

import "context"

// Engine turns a model file on disk into a loaded Handle.
type Engine interface {
	Load(path string, opts Options) (Handle, error)
}

// Prober is implemented by engines that can report backend availability
// without loading a model.
type Prober interface {
	Probe(ctx context.Context) error
}

// Probe reports whether e can load models. Engines that do not implement
// Prober are assumed available.
func Probe(ctx context.Context, e Engine) error {
	if p, ok := e.(Prober); ok {
		return p.Probe(ctx)
	}
	return nil
}

// Options configures a model load.
type Options struct {
	MaxTokens   int
	ContextSize int
	Threads     int
}

// Handle is a loaded model. Sessions created from it are single-use.
type Handle interface {
	NewSession(opts SessionOptions) (Session, error)
	// Close releases the loaded model. Sessions must not be used afterwards.
	Close() error
}

// SessionOptions carries the sampling parameters for one generation.
type SessionOptions struct {
	Temperature float32
	TopK        int
}

// Session accepts query chunks and produces one completion. It must be
// closed after use regardless of the Generate outcome.
type Session interface {
	AddQueryChunk(text string) error
	Generate(ctx context.Context) (string, error)
	Close() error
}
