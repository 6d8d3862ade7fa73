//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaBuilt reports whether this binary was compiled with real llama support.
const LlamaBuilt = true

// llamaEngine holds the load-time settings shared by every handle.
type llamaEngine struct {
	ctxSize int
	threads int
}

// NewLlama returns the in-process llama.cpp engine.
func NewLlama(ctxSize, threads int) Engine {
	return &llamaEngine{ctxSize: ctxSize, threads: threads}
}

// llamaHandle owns the loaded model. go-llama.cpp does not support concurrent
// Predict calls on one model, so generation is serialized by mu.
type llamaHandle struct {
	mu        sync.Mutex
	model     *llama.LLama
	threads   int
	maxTokens int
}

// Probe succeeds: the runtime is linked into this binary.
func (e *llamaEngine) Probe(ctx context.Context) error { return nil }

func (e *llamaEngine) Load(path string, opts Options) (Handle, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	ctxSize := opts.ContextSize
	if ctxSize <= 0 {
		ctxSize = e.ctxSize
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = e.threads
	}
	mo := []llama.ModelOption{}
	if ctxSize > 0 {
		mo = append(mo, llama.SetContext(ctxSize))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaHandle{model: m, threads: threads, maxTokens: opts.MaxTokens}, nil
}

func (h *llamaHandle) NewSession(opts SessionOptions) (Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	return &llamaSession{h: h, opts: opts}, nil
}

func (h *llamaHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}

type llamaSession struct {
	h      *llamaHandle
	opts   SessionOptions
	prompt strings.Builder
	closed bool
}

func (s *llamaSession) AddQueryChunk(text string) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.prompt.WriteString(text)
	return nil
}

func (s *llamaSession) Generate(ctx context.Context) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.prompt.Len() == 0 {
		return "", ErrEmptyPrompt
	}
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if s.h.model == nil {
		return "", errors.New("llama model not initialized")
	}
	// Stop predicting once the caller gives up.
	s.h.model.SetTokenCallback(func(string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	})
	defer s.h.model.SetTokenCallback(nil)

	text, err := s.h.model.Predict(s.prompt.String(), predictOptions(s.opts, s.h.maxTokens, s.h.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return text, nil
}

func (s *llamaSession) Close() error {
	s.closed = true
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts session params into go-llama.cpp options.
func predictOptions(opts SessionOptions, maxTokens, threads int) []llama.PredictOption {
	return []llama.PredictOption{
		llama.SetTokens(max(1, maxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopK(zn(opts.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(opts.Temperature),
	}
}
