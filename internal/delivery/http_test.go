package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder collects listener updates and signals terminal ones.
type recorder struct {
	mu       sync.Mutex
	states   []PackState
	terminal chan PackState
}

func newRecorder() *recorder { return &recorder{terminal: make(chan PackState, 8)} }

func (r *recorder) listen(s PackState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	if s.Status == StatusCompleted || s.Status == StatusFailed {
		r.terminal <- s
	}
}

func (r *recorder) wait(t *testing.T) PackState {
	t.Helper()
	select {
	case s := <-r.terminal:
		return s
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for terminal status")
		return PackState{}
	}
}

func (r *recorder) snapshot() []PackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PackState(nil), r.states...)
}

// packOrigin serves <root>/<pack>/<file> with Range support and records
// Range headers it saw.
func packOrigin(t *testing.T, files map[string]string) (*httptest.Server, *[]string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	var mu sync.Mutex
	ranges := []string{}
	fs := http.FileServer(http.Dir(root))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rg := r.Header.Get("Range"); rg != "" {
			mu.Lock()
			ranges = append(ranges, rg)
			mu.Unlock()
		}
		fs.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts, &ranges
}

func newService(t *testing.T, baseURL string, packs map[string][]string) *HTTPService {
	t.Helper()
	s, err := NewHTTPService(HTTPConfig{
		BaseURL:          baseURL,
		Dir:              filepath.Join(t.TempDir(), "packs"),
		Packs:            packs,
		ProgressInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPService: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHTTPService_FetchInstallsPack(t *testing.T) {
	model := strings.Repeat("w", 100*1024)
	ts, _ := packOrigin(t, map[string]string{"model_assets/gemma.task": model, "model_assets/tokenizer.json": "{}"})
	s := newService(t, ts.URL, map[string][]string{"model_assets": {"gemma.task", "tokenizer.json"}})

	if _, ok := s.PackLocation("model_assets"); ok {
		t.Fatalf("pack must not be installed before fetch")
	}
	rec := newRecorder()
	s.RegisterListener(rec.listen)
	if err := s.Fetch([]string{"model_assets"}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	final := rec.wait(t)
	if final.Status != StatusCompleted || final.ErrorCode != ErrCodeNone {
		t.Fatalf("unexpected terminal state: %+v", final)
	}
	want := int64(len(model) + 2)
	if final.TotalBytesToDownload != want || final.BytesDownloaded != want {
		t.Fatalf("bytes=%d/%d want %d", final.BytesDownloaded, final.TotalBytesToDownload, want)
	}

	var downloading []PackState
	for _, st := range rec.snapshot() {
		if st.Status == StatusDownloading {
			downloading = append(downloading, st)
		}
	}
	if len(downloading) < 2 {
		t.Fatalf("expected progress updates, got %+v", downloading)
	}
	if last := downloading[len(downloading)-1]; last.Percent() != 100 {
		t.Fatalf("last progress percent=%d", last.Percent())
	}

	loc, ok := s.PackLocation("model_assets")
	if !ok {
		t.Fatalf("expected pack installed")
	}
	b, err := os.ReadFile(filepath.Join(loc.AssetsPath, "gemma.task"))
	if err != nil || string(b) != model {
		t.Fatalf("installed content mismatch err=%v len=%d", err, len(b))
	}
	if _, err := os.Stat(filepath.Join(loc.AssetsPath, "gemma.task.partial")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

func TestHTTPService_FetchInstalledReportsCompletedSynchronously(t *testing.T) {
	ts, _ := packOrigin(t, map[string]string{"p/f.bin": "x"})
	s := newService(t, ts.URL, map[string][]string{"p": {"f.bin"}})
	dir := filepath.Join(s.dir, "p")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, markerName), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	var got []PackState
	s.RegisterListener(func(st PackState) { got = append(got, st) })
	if err := s.Fetch([]string{"p"}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 || got[0].Status != StatusCompleted {
		t.Fatalf("expected immediate completed, got %+v", got)
	}
}

func TestHTTPService_UnknownPackFails(t *testing.T) {
	ts, _ := packOrigin(t, nil)
	s := newService(t, ts.URL, nil)
	rec := newRecorder()
	s.RegisterListener(rec.listen)
	_ = s.Fetch([]string{"nope"})
	st := rec.wait(t)
	if st.Status != StatusFailed || st.ErrorCode != ErrCodePackUnavailable || st.Name != "nope" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestHTTPService_MissingRemoteFileFails(t *testing.T) {
	ts, _ := packOrigin(t, map[string]string{"p/present.bin": "x"})
	s := newService(t, ts.URL, map[string][]string{"p": {"present.bin", "absent.bin"}})
	rec := newRecorder()
	s.RegisterListener(rec.listen)
	_ = s.Fetch([]string{"p"})
	st := rec.wait(t)
	if st.Status != StatusFailed || st.ErrorCode != ErrCodePackUnavailable {
		t.Fatalf("unexpected state: %+v", st)
	}
	if _, ok := s.PackLocation("p"); ok {
		t.Fatalf("failed pack must not be installed")
	}
}

func TestHTTPService_ResumesPartialDownload(t *testing.T) {
	content := "0123456789abcdefghij"
	ts, ranges := packOrigin(t, map[string]string{"p/m.task": content})
	s := newService(t, ts.URL, map[string][]string{"p": {"m.task"}})
	dir := filepath.Join(s.dir, "p")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "m.task.partial"), []byte(content[:8]), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	s.RegisterListener(rec.listen)
	_ = s.Fetch([]string{"p"})
	if st := rec.wait(t); st.Status != StatusCompleted {
		t.Fatalf("unexpected state: %+v", st)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "m.task"))
	if string(b) != content {
		t.Fatalf("content=%q", b)
	}
	if len(*ranges) != 1 || (*ranges)[0] != "bytes=8-" {
		t.Fatalf("expected one resumed range request, got %v", *ranges)
	}
}

func TestHTTPService_CloseCancelsFetch(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "10")
			return
		}
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("abc"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	s, err := NewHTTPService(HTTPConfig{BaseURL: ts.URL, Dir: t.TempDir(), Packs: map[string][]string{"p": {"f"}}})
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	s.RegisterListener(rec.listen)
	_ = s.Fetch([]string{"p"})
	time.Sleep(50 * time.Millisecond)
	_ = s.Close()
	st := rec.wait(t)
	if st.Status != StatusFailed || st.ErrorCode != ErrCodeCanceled {
		t.Fatalf("unexpected state: %+v", st)
	}
	if err := s.Fetch([]string{"p"}); err == nil {
		t.Fatalf("expected error fetching on closed service")
	}
}

func TestNewHTTPService_Validation(t *testing.T) {
	if _, err := NewHTTPService(HTTPConfig{Dir: t.TempDir()}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewHTTPService(HTTPConfig{BaseURL: "ftp://x", Dir: t.TempDir()}); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestHTTPService_WatchReportsSideloadedPack(t *testing.T) {
	ts, _ := packOrigin(t, nil)
	s := newService(t, ts.URL, nil)
	rec := newRecorder()
	s.RegisterListener(rec.listen)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	dir := filepath.Join(s.dir, "model_assets")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to add the new directory before the marker lands.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, markerName), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	st := rec.wait(t)
	if st.Name != "model_assets" || st.Status != StatusCompleted {
		t.Fatalf("unexpected state: %+v", st)
	}
	if _, ok := s.PackLocation("model_assets"); !ok {
		t.Fatalf("expected side-loaded pack to resolve")
	}
}
