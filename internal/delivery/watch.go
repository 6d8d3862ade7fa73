package delivery

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// packWatcher reports packs whose install marker appears in the packs
// directory without this process having downloaded them.
type packWatcher struct {
	w *fsnotify.Watcher
}

func (p *packWatcher) close() error { return p.w.Close() }

// Watch starts watching the packs directory for side-loaded packs. Each pack
// whose marker is created by another process is reported to listeners as
// completed. Watch returns once the watcher is running; it stops when ctx is
// done or the service is closed.
func (s *HTTPService) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return err
	}
	// fsnotify is not recursive: watch existing pack directories too.
	if entries, err := os.ReadDir(s.dir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				if err := w.Add(filepath.Join(s.dir, e.Name())); err != nil {
					s.log.Debug().Str("dir", e.Name()).Err(err).Msg("watch_add_failed")
				}
			}
		}
	}
	s.mu.Lock()
	s.watcher = &packWatcher{w: w}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.log.Debug().Str("dir", s.dir).Msg("watch_start")
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				s.handleWatchEvent(w, ev)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(err).Msg("watch_error")
			case <-ctx.Done():
				w.Close()
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *HTTPService) handleWatchEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	parent := filepath.Dir(ev.Name)
	if parent == filepath.Clean(s.dir) {
		// New pack directory: watch it, and catch a marker that raced the Add.
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = w.Add(ev.Name)
			if _, err := os.Stat(filepath.Join(ev.Name, markerName)); err == nil {
				s.sideloaded(filepath.Base(ev.Name))
			}
		}
		return
	}
	if filepath.Base(ev.Name) == markerName && filepath.Dir(parent) == filepath.Clean(s.dir) {
		s.sideloaded(filepath.Base(parent))
	}
}

func (s *HTTPService) sideloaded(pack string) {
	s.mu.Lock()
	skip := s.active[pack] || s.self[pack]
	if !skip {
		// Report once per pack.
		s.self[pack] = true
	}
	s.mu.Unlock()
	if skip {
		return
	}
	sideloadTotal.Inc()
	s.log.Info().Str("pack", pack).Msg("pack_sideloaded")
	s.listeners.notify(PackState{Name: pack, Status: StatusCompleted})
}
