// Package assets exposes the read-only asset namespace shipped alongside the
// daemon (the equivalent of an application's bundled assets).
package assets

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gemmad/internal/common/fsutil"
	"gemmad/pkg/types"
)

// modelExts lists the file extensions List treats as model weights.
var modelExts = []string{".task", ".gguf", ".bin"}

// Bundle is a read-only view over a directory of bundled assets.
// A missing directory is not an error: every lookup simply reports absence.
type Bundle struct {
	root string
	fsys fs.FS
}

// NewBundle opens the bundled asset namespace rooted at dir. A leading '~'
// is expanded.
func NewBundle(dir string) (*Bundle, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	return &Bundle{root: abs, fsys: os.DirFS(abs)}, nil
}

// FromFS wraps an arbitrary fs.FS (e.g. an embed.FS) as a Bundle.
func FromFS(fsys fs.FS) *Bundle { return &Bundle{fsys: fsys} }

// Root returns the directory backing the bundle, or "" for FS-backed bundles.
func (b *Bundle) Root() string { return b.root }

// Open opens a bundled asset by name. Absence is reported with an error
// satisfying errors.Is(err, fs.ErrNotExist).
func (b *Bundle) Open(name string) (io.ReadCloser, error) {
	if b == nil || b.fsys == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	f, err := b.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: errors.New("is a directory")}
	}
	return f, nil
}

// Exists reports whether a regular file with the given name is bundled.
func (b *Bundle) Exists(name string) bool {
	rc, err := b.Open(name)
	if err != nil {
		return false
	}
	rc.Close()
	return true
}

// List scans the bundle for model weight files (top level only).
// A missing bundle directory yields an empty list.
func (b *Bundle) List() ([]types.Asset, error) {
	if b == nil || b.fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(b.fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []types.Asset
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !isModelFile(name) {
			continue
		}
		a := types.Asset{Name: name}
		if info, err := e.Info(); err == nil {
			a.Size = info.Size()
		}
		if b.root != "" {
			a.Path = filepath.Join(b.root, name)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func isModelFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range modelExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
