package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// markerName is the install marker written once every file of a pack is in place.
const markerName = "pack.json"

// ErrNotConfigured is returned by NewHTTPService without a base URL or directory.
var ErrNotConfigured = errors.New("delivery service not configured")

// installRecord is the content of a pack's install marker.
type installRecord struct {
	InstalledUnix int64    `json:"installed_unix"`
	Files         []string `json:"files"`
	Bytes         int64    `json:"bytes"`
}

// HTTPConfig configures an HTTPService.
type HTTPConfig struct {
	// BaseURL hosts packs as <BaseURL>/<pack>/<file>.
	BaseURL string
	// Dir is where packs are installed, one sub-directory per pack.
	Dir string
	// Packs maps pack names to the files they contain.
	Packs map[string][]string
	// ProgressInterval throttles downloading updates (default 250ms).
	ProgressInterval time.Duration
	HTTPClient       *http.Client
	Logger           *zerolog.Logger
}

// HTTPService downloads packs from a static HTTP origin into a local
// directory. Partial downloads are resumed with Range requests.
type HTTPService struct {
	base     *url.URL
	dir      string
	packs    map[string][]string
	interval time.Duration
	client   *http.Client
	log      zerolog.Logger

	listeners listeners

	mu      sync.Mutex
	active  map[string]bool
	self    map[string]bool // packs installed by this process
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *packWatcher
}

// NewHTTPService validates cfg and returns a ready service.
func NewHTTPService(cfg HTTPConfig) (*HTTPService, error) {
	if cfg.BaseURL == "" || cfg.Dir == "" {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create packs dir: %w", err)
	}
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	l := zerolog.Nop()
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	packs := make(map[string][]string, len(cfg.Packs))
	for k, v := range cfg.Packs {
		packs[k] = append([]string(nil), v...)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPService{
		base:     u,
		dir:      cfg.Dir,
		packs:    packs,
		interval: interval,
		client:   client,
		log:      l.With().Str("component", "delivery").Logger(),
		active:   make(map[string]bool),
		self:     make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// PackLocation reports the install directory of a pack once its marker exists.
func (s *HTTPService) PackLocation(name string) (Location, bool) {
	dir := filepath.Join(s.dir, name)
	if _, err := os.Stat(filepath.Join(dir, markerName)); err != nil {
		return Location{}, false
	}
	return Location{AssetsPath: dir}, true
}

// RegisterListener subscribes fn to status updates.
func (s *HTTPService) RegisterListener(fn Listener) func() { return s.listeners.add(fn) }

// Fetch starts a background download for every named pack that is not
// already downloading. Installed packs immediately report completed.
func (s *HTTPService) Fetch(names []string) error {
	if s.ctx.Err() != nil {
		return errors.New("delivery service closed")
	}
	for _, name := range names {
		if _, ok := s.PackLocation(name); ok {
			s.listeners.notify(PackState{Name: name, Status: StatusCompleted})
			continue
		}
		s.mu.Lock()
		if s.active[name] {
			s.mu.Unlock()
			continue
		}
		s.active[name] = true
		s.wg.Add(1)
		s.mu.Unlock()

		go func(name string) {
			defer s.wg.Done()
			st := s.download(s.ctx, name)
			s.mu.Lock()
			delete(s.active, name)
			if st.Status == StatusCompleted {
				s.self[name] = true
			}
			s.mu.Unlock()
			fetchTotal.WithLabelValues(string(st.Status), st.ErrorCode.String()).Inc()
			s.listeners.notify(st)
		}(name)
	}
	return nil
}

// Close cancels in-flight downloads, stops the watcher, and waits for
// background goroutines to exit.
func (s *HTTPService) Close() error {
	s.cancel()
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	var err error
	if w != nil {
		err = w.close()
	}
	s.wg.Wait()
	return err
}

type remoteFile struct {
	name string
	size int64 // -1 when unknown
}

// download fetches every file of a pack and returns the terminal state.
// Downloading updates are sent to listeners along the way.
func (s *HTTPService) download(ctx context.Context, name string) PackState {
	files, ok := s.packs[name]
	if !ok || len(files) == 0 {
		s.log.Warn().Str("pack", name).Msg("pack_unknown")
		return PackState{Name: name, Status: StatusFailed, ErrorCode: ErrCodePackUnavailable}
	}
	dir := filepath.Join(s.dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return PackState{Name: name, Status: StatusFailed, ErrorCode: ErrCodeStorage}
	}

	// Sizes first so progress can be reported against the whole pack.
	remote := make([]remoteFile, 0, len(files))
	var total int64
	for _, f := range files {
		size, code := s.head(ctx, name, f)
		if code != ErrCodeNone {
			return PackState{Name: name, Status: StatusFailed, ErrorCode: code}
		}
		remote = append(remote, remoteFile{name: f, size: size})
		if size > 0 && total >= 0 {
			total += size
		} else {
			total = -1
		}
	}
	if total < 0 {
		total = 0
	}

	s.log.Info().Str("pack", name).Int64("total_bytes", total).Msg("download_start")
	limiter := rate.NewLimiter(rate.Every(s.interval), 1)
	var done int64
	progress := func(n int64) {
		done += n
		downloadedBytes.Add(float64(n))
		if limiter.Allow() {
			s.listeners.notify(PackState{Name: name, Status: StatusDownloading, BytesDownloaded: done, TotalBytesToDownload: total})
		}
	}
	s.listeners.notify(PackState{Name: name, Status: StatusDownloading, TotalBytesToDownload: total})
	limiter.Allow()

	for _, f := range remote {
		if code := s.getFile(ctx, name, f, dir, progress); code != ErrCodeNone {
			s.log.Warn().Str("pack", name).Str("file", f.name).Str("code", code.String()).Msg("download_failed")
			return PackState{Name: name, Status: StatusFailed, BytesDownloaded: done, TotalBytesToDownload: total, ErrorCode: code}
		}
	}
	// Final downloading update so listeners always see 100%.
	s.listeners.notify(PackState{Name: name, Status: StatusDownloading, BytesDownloaded: done, TotalBytesToDownload: total})

	rec := installRecord{InstalledUnix: time.Now().Unix(), Files: files, Bytes: done}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, markerName), b, 0o644)
	}
	if err != nil {
		return PackState{Name: name, Status: StatusFailed, BytesDownloaded: done, TotalBytesToDownload: total, ErrorCode: ErrCodeStorage}
	}
	s.log.Info().Str("pack", name).Int64("bytes", done).Msg("download_done")
	return PackState{Name: name, Status: StatusCompleted, BytesDownloaded: done, TotalBytesToDownload: total}
}

func (s *HTTPService) fileURL(pack, file string) string {
	return s.base.JoinPath(pack, file).String()
}

func (s *HTTPService) head(ctx context.Context, pack, file string) (int64, ErrorCode) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.fileURL(pack, file), nil)
	if err != nil {
		return 0, ErrCodeNetwork
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, transportCode(ctx)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, ErrCodePackUnavailable
	case resp.StatusCode != http.StatusOK:
		return 0, ErrCodeHTTPStatus
	}
	return resp.ContentLength, ErrCodeNone
}

// getFile downloads one file, resuming from <file>.partial when present.
func (s *HTTPService) getFile(ctx context.Context, pack string, f remoteFile, dir string, progress func(int64)) ErrorCode {
	destPath := filepath.Join(dir, f.name)
	partialPath := destPath + ".partial"

	var startByte int64
	if info, err := os.Stat(partialPath); err == nil {
		startByte = info.Size()
	}
	if f.size > 0 && startByte == f.size {
		progress(startByte)
		if err := os.Rename(partialPath, destPath); err != nil {
			return ErrCodeStorage
		}
		return ErrCodeNone
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.fileURL(pack, f.name), nil)
	if err != nil {
		return ErrCodeNetwork
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return transportCode(ctx)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
		progress(startByte)
	case http.StatusOK:
		// Origin ignored the Range header; start over.
		flags |= os.O_TRUNC
	case http.StatusNotFound:
		return ErrCodePackUnavailable
	case http.StatusRequestedRangeNotSatisfiable:
		// Stale partial larger than the remote file; the next fetch starts clean.
		_ = os.Remove(partialPath)
		return ErrCodeHTTPStatus
	default:
		return ErrCodeHTTPStatus
	}

	out, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return ErrCodeStorage
	}
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				return ErrCodeStorage
			}
			progress(int64(n))
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			out.Close()
			return transportCode(ctx)
		}
	}
	if err := out.Close(); err != nil {
		return ErrCodeStorage
	}
	if err := os.Rename(partialPath, destPath); err != nil {
		return ErrCodeStorage
	}
	return ErrCodeNone
}

func transportCode(ctx context.Context) ErrorCode {
	if ctx.Err() != nil {
		return ErrCodeCanceled
	}
	return ErrCodeNetwork
}
