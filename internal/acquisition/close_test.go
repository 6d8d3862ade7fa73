package acquisition

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClose_DrainsThenReleasesHandle(t *testing.T) {
	c, h := readyController(t, Config{DrainTimeout: 2 * time.Second})
	started := make(chan struct{})
	release := make(chan struct{})
	h.gen = func(ctx context.Context, prompt string) (string, error) {
		close(started)
		<-release
		return "late", nil
	}
	result := make(chan string, 1)
	c.Ask(context.Background(), "x", func(s string) { result <- s }, func(err error) { t.Errorf("ask: %v", err) })
	<-started

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	time.Sleep(20 * time.Millisecond)
	if h.closed.Load() != 0 {
		t.Fatalf("handle released while an ask was in flight")
	}
	// New asks are rejected while draining.
	var got error
	c.Ask(context.Background(), "y", func(string) {}, func(err error) { got = err })
	if !errors.Is(got, ErrClosed) {
		t.Fatalf("expected ErrClosed while draining, got %v", got)
	}
	close(release)
	if s := <-result; s != "late" {
		t.Fatalf("in-flight result = %q", s)
	}
	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}
	if h.closed.Load() != 1 {
		t.Fatalf("handle closed %d times", h.closed.Load())
	}
	if c.Ready() {
		t.Fatalf("closed controller reports ready")
	}
	// Idempotent.
	if err := c.Close(); err != nil || h.closed.Load() != 1 {
		t.Fatalf("second close: err=%v closes=%d", err, h.closed.Load())
	}
}

func TestClose_DrainTimeout(t *testing.T) {
	pub := NewMemoryPublisher()
	c, h := readyController(t, Config{DrainTimeout: 20 * time.Millisecond, Publisher: pub})
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	h.gen = func(ctx context.Context, prompt string) (string, error) {
		close(started)
		<-release
		return "", nil
	}
	c.Ask(context.Background(), "stuck", func(string) {}, func(error) {})
	<-started
	start := time.Now()
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("close ignored drain timeout")
	}
	if h.closed.Load() != 1 {
		t.Fatalf("handle not released after drain timeout")
	}
	var timedOut bool
	for _, e := range pub.Named(EventClosed) {
		if e.Fields["phase"] == "drain_timeout" {
			timedOut = true
		}
	}
	if !timedOut {
		t.Fatalf("expected drain_timeout event")
	}
}

func TestClose_DuringLoadDiscardsHandle(t *testing.T) {
	svc := newStubDelivery()
	svc.install(DefaultPackName, t.TempDir())
	eng := newFakeEngine()
	eng.gate = make(chan struct{})
	c := newTestController(t, Config{Delivery: svc, Engine: eng})
	done := make(chan error, 1)
	c.Init(testCtx(t), Callbacks{OnReady: func() { done <- nil }, OnError: func(err error) { done <- err }})
	waitState(t, c, StateLoading)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	close(eng.gate)
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if eng.handle.closed.Load() != 1 {
		t.Fatalf("handle loaded after close must be released")
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %s", c.State())
	}
}
