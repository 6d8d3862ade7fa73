package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// serverEngine implements Engine by talking to a running llama.cpp server
// over its OpenAI-compatible HTTP API. The model file itself is served by
// that process; Load only checks reachability and remembers the model name.
type serverEngine struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

// ServerConfig configures NewServer.
type ServerConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	Logger         *zerolog.Logger
}

// NewServer constructs a server-backed engine.
func NewServer(cfg ServerConfig) Engine {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	cli := &http.Client{Transport: tr, Timeout: 0}
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &serverEngine{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		reqTimeout: cfg.RequestTimeout,
		httpClient: cli,
		log:        l.With().Str("engine", "llama_server").Logger(),
	}
}

func (e *serverEngine) Load(path string, opts Options) (Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Probe(ctx); err != nil {
		return nil, err
	}
	return &serverHandle{e: e, model: filepath.Base(path), maxTokens: opts.MaxTokens}, nil
}

// Probe checks the server's /health endpoint.
func (e *serverEngine) Probe(ctx context.Context) error {
	if e.baseURL == "" {
		return ErrDependencyUnavailable("llama server url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	e.authorize(req)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return ErrDependencyUnavailable("llama server unreachable: " + err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("llama server not healthy: %s", resp.Status)
	}
	return nil
}

func (e *serverEngine) authorize(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}

type serverHandle struct {
	e         *serverEngine
	model     string
	maxTokens int
	closed    atomic.Bool
}

func (h *serverHandle) NewSession(opts SessionOptions) (Session, error) {
	if h.closed.Load() {
		return nil, errors.New("llama server handle closed")
	}
	return &serverSession{h: h, opts: opts}, nil
}

func (h *serverHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type serverSession struct {
	h      *serverHandle
	opts   SessionOptions
	prompt strings.Builder
	closed bool
}

func (s *serverSession) AddQueryChunk(text string) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.prompt.WriteString(text)
	return nil
}

func (s *serverSession) Close() error {
	s.closed = true
	return nil
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature"`
	TopK        int     `json:"top_k,omitempty"`
	Stream      bool    `json:"stream"`
}

// streamChoice is the subset of an OpenAI streaming chunk we read.
type streamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
}

func (s *serverSession) Generate(ctx context.Context) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.prompt.Len() == 0 {
		return "", ErrEmptyPrompt
	}
	e := s.h.e
	if e.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.reqTimeout)
		defer cancel()
	}
	body, _ := json.Marshal(completionRequest{
		Model:       s.h.model,
		Prompt:      s.prompt.String(),
		MaxTokens:   s.h.maxTokens,
		Temperature: s.opts.Temperature,
		TopK:        s.opts.TopK,
		Stream:      true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	e.authorize(req)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errors.New("llama server http error: " + resp.Status + ": " + string(b))
	}

	// Servers emit SSE lines prefixed with "data: ".
	r := bufio.NewReader(resp.Body)
	var out strings.Builder
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimSpace(line); strings.HasPrefix(strings.ToLower(line), "data:") {
			data := strings.TrimSpace(line[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg streamResponse
			if jerr := json.Unmarshal([]byte(data), &msg); jerr == nil && len(msg.Choices) > 0 {
				out.WriteString(msg.Choices[0].Text)
				out.WriteString(msg.Choices[0].Delta.Content)
			} else {
				e.log.Debug().Str("line", line).Msg("unknown_stream_line")
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			e.log.Warn().Err(err).Msg("stream_read_error")
			return "", err
		}
	}
	return out.String(), nil
}
