package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gemmad/internal/acquisition"
	"gemmad/internal/assets"
	"gemmad/internal/delivery"
	"gemmad/internal/engine"
	"gemmad/internal/httpapi"
)

// newPackOrigin serves files keyed by "<pack>/<file>" with HEAD and Range
// support.
func newPackOrigin(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, filepath.Base(r.URL.Path), time.Unix(0, 0), bytes.NewReader(b))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeLlamaServer speaks the llama.cpp server's /health and streaming
// /v1/completions endpoints.
type fakeLlamaServer struct {
	*httptest.Server
	mu    sync.Mutex
	temps []float32
}

func newFakeLlamaServer(t *testing.T, answer string) *fakeLlamaServer {
	t.Helper()
	f := &fakeLlamaServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt      string  `json:"prompt"`
			Temperature float32 `json:"temperature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.temps = append(f.temps, req.Temperature)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		chunk, _ := json.Marshal(map[string]any{"choices": []map[string]string{{"text": answer}}})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeLlamaServer) lastTemperature() float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.temps) == 0 {
		return -1
	}
	return f.temps[len(f.temps)-1]
}

func (f *fakeLlamaServer) prompts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.temps)
}

type stackOptions struct {
	assetsDir   string
	packBaseURL string
	llamaURL    string
}

// stack is the daemon assembled from real components behind httptest.
type stack struct {
	srv        *httptest.Server
	controller *acquisition.Controller
	events     *acquisition.Broadcaster
	cacheDir   string
}

func newStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()
	log := zerolog.Nop()
	dir := t.TempDir()
	if opts.assetsDir == "" {
		opts.assetsDir = filepath.Join(dir, "no-assets")
	}
	bundle, err := assets.NewBundle(opts.assetsDir)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	st := &stack{events: acquisition.NewBroadcaster(64), cacheDir: filepath.Join(dir, "cache")}
	cfg := acquisition.Config{
		Assets:    bundle,
		Engine:    engine.NewServer(engine.ServerConfig{BaseURL: opts.llamaURL, Logger: &log}),
		CacheDir:  st.cacheDir,
		MaxWait:   time.Second,
		Logger:    &log,
		Publisher: st.events,
	}
	if opts.packBaseURL != "" {
		svc, err := delivery.NewHTTPService(delivery.HTTPConfig{
			BaseURL:          opts.packBaseURL,
			Dir:              filepath.Join(dir, "packs"),
			Packs:            map[string][]string{acquisition.DefaultPackName: {acquisition.DefaultModelFile}},
			ProgressInterval: time.Millisecond,
			Logger:           &log,
		})
		if err != nil {
			t.Fatalf("delivery: %v", err)
		}
		t.Cleanup(func() { svc.Close() })
		cfg.Delivery = svc
	}
	st.controller = acquisition.New(cfg)
	t.Cleanup(func() { st.controller.Close() })
	httpapi.SetLogger(log)
	st.srv = httptest.NewServer(httpapi.NewMux(st.controller, st.events))
	t.Cleanup(st.srv.Close)
	return st
}
