package acquisition

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"gemmad/internal/assets"
	"gemmad/internal/delivery"
	"gemmad/internal/engine"
)

const testModel = "gemma3-1b-it-int4.task"

// fakeEngine records loads and hands out fakeHandles.
type fakeEngine struct {
	mu      sync.Mutex
	paths   []string
	opts    []engine.Options
	err     error
	gate    chan struct{} // when non-nil, Load blocks until closed
	handle  *fakeHandle
	loading chan struct{} // closed on first Load
	once    sync.Once
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{handle: &fakeHandle{}, loading: make(chan struct{})}
}

func (e *fakeEngine) Load(path string, opts engine.Options) (engine.Handle, error) {
	e.mu.Lock()
	e.paths = append(e.paths, path)
	e.opts = append(e.opts, opts)
	gate, err := e.gate, e.err
	e.mu.Unlock()
	e.once.Do(func() { close(e.loading) })
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return e.handle, nil
}

func (e *fakeEngine) loads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}

// fakeHandle creates fakeSessions; gen decides each session's outcome.
type fakeHandle struct {
	mu       sync.Mutex
	sessions []*fakeSession
	gen      func(ctx context.Context, prompt string) (string, error)
	closed   atomic.Int32
}

func (h *fakeHandle) NewSession(opts engine.SessionOptions) (engine.Session, error) {
	if h.closed.Load() > 0 {
		return nil, errors.New("handle closed")
	}
	s := &fakeSession{opts: opts, gen: h.gen}
	h.mu.Lock()
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()
	return s, nil
}

func (h *fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

func (h *fakeHandle) all() []*fakeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeSession(nil), h.sessions...)
}

type fakeSession struct {
	opts   engine.SessionOptions
	gen    func(ctx context.Context, prompt string) (string, error)
	chunks []string
	closes atomic.Int32
}

func (s *fakeSession) AddQueryChunk(text string) error {
	s.chunks = append(s.chunks, text)
	return nil
}

func (s *fakeSession) Generate(ctx context.Context) (string, error) {
	prompt := ""
	for _, c := range s.chunks {
		prompt += c
	}
	if s.gen != nil {
		return s.gen(ctx, prompt)
	}
	return "echo: " + prompt, nil
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

// stubDelivery is a scriptable delivery.Service.
type stubDelivery struct {
	mu        sync.Mutex
	installed map[string]string
	active    map[int]delivery.Listener
	all       []delivery.Listener
	next      int
	fetches   [][]string
	locations int
	fetchErr  error
	onFetch   func(s *stubDelivery, names []string)
}

func newStubDelivery() *stubDelivery {
	return &stubDelivery{installed: map[string]string{}, active: map[int]delivery.Listener{}}
}

func (s *stubDelivery) PackLocation(name string) (delivery.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations++
	p, ok := s.installed[name]
	return delivery.Location{AssetsPath: p}, ok
}

func (s *stubDelivery) RegisterListener(l delivery.Listener) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.active[id] = l
	s.all = append(s.all, l)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
	}
}

func (s *stubDelivery) Fetch(names []string) error {
	s.mu.Lock()
	s.fetches = append(s.fetches, names)
	fn, err := s.onFetch, s.fetchErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if fn != nil {
		fn(s, names)
	}
	return nil
}

func (s *stubDelivery) install(name, dir string) {
	s.mu.Lock()
	s.installed[name] = dir
	s.mu.Unlock()
}

func (s *stubDelivery) emit(st delivery.PackState) {
	s.mu.Lock()
	ls := make([]delivery.Listener, 0, len(s.active))
	for _, l := range s.active {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l(st)
	}
}

func (s *stubDelivery) calls() (locations, fetches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locations, len(s.fetches)
}

func (s *stubDelivery) activeListeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// countingFS counts successful opens of each name.
type countingFS struct {
	fs.FS
	mu    sync.Mutex
	opens map[string]int
}

func (c *countingFS) Open(name string) (fs.File, error) {
	f, err := c.FS.Open(name)
	if err == nil {
		c.mu.Lock()
		c.opens[name]++
		c.mu.Unlock()
	}
	return f, err
}

func (c *countingFS) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens[name]
}

func bundledFS(content string) *countingFS {
	return &countingFS{
		FS:    fstest.MapFS{testModel: &fstest.MapFile{Data: []byte(content)}},
		opens: map[string]int{},
	}
}

func bundleOf(fsys fs.FS) *assets.Bundle { return assets.FromFS(fsys) }

// progressRecorder collects OnProgress values.
type progressRecorder struct {
	mu   sync.Mutex
	vals []int
}

func (p *progressRecorder) record(v int) {
	p.mu.Lock()
	p.vals = append(p.vals, v)
	p.mu.Unlock()
}

func (p *progressRecorder) values() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.vals...)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// waitState polls until the controller reaches want.
func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state=%s, want %s", c.State(), want)
}

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.CacheDir == "" {
		cfg.CacheDir = t.TempDir()
	}
	if cfg.Engine == nil {
		cfg.Engine = newFakeEngine()
	}
	c := New(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
