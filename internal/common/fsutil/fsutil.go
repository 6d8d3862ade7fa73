package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CopyBufferSize is the chunk size used by CopyIfMissing.
const CopyBufferSize = 8 * 1024

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	// handle cases like ~/models/llm
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// CopyIfMissing streams src into dst unless dst already exists. It reports
// whether a copy happened. Data is written to dst+".partial" first and renamed
// into place, so an interrupted copy never leaves a truncated dst behind.
// No checksum or staleness check is made against an existing dst.
func CopyIfMissing(dst string, open func() (io.ReadCloser, error)) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, fmt.Errorf("mkdir: %w", err)
	}
	in, err := open()
	if err != nil {
		return false, err
	}
	defer in.Close()

	partial := dst + ".partial"
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return false, fmt.Errorf("open file: %w", err)
	}
	buf := make([]byte, CopyBufferSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				_ = os.Remove(partial)
				return false, fmt.Errorf("write file: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			_ = os.Remove(partial)
			return false, fmt.Errorf("read: %w", readErr)
		}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(partial)
		return false, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(partial, dst); err != nil {
		return false, fmt.Errorf("rename file: %w", err)
	}
	return true, nil
}

// DirWritable reports whether dir exists (or can be created) and accepts new files.
func DirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
