// Package fsutil holds small filesystem helpers shared by config loading,
// chat templates and model discovery.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// IsFile reports whether path (after home expansion) names a regular file.
func IsFile(path string) bool {
	p, err := ExpandHome(path)
	if err != nil || p == "" {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// ReadFileLimit reads at most limit bytes from path after home expansion.
// Larger files are an error rather than silently truncated.
func ReadFileLimit(path string, limit int64) ([]byte, error) {
	p, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("read %s: file larger than %d bytes", p, limit)
	}
	return b, nil
}

// ListGGUF returns the absolute paths of the *.gguf files directly under dir,
// sorted by file name. The extension match is case-insensitive.
func ListGGUF(dir string) ([]string, error) {
	base, err := ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".gguf") {
			continue
		}
		out = append(out, filepath.Join(abs, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ResolveModel maps a model name onto a weights file. An existing file path
// wins; otherwise name is looked up in dir as "name" or "name.gguf". With no
// dir the name is returned unchanged.
func ResolveModel(dir, name string) (string, error) {
	if IsFile(name) {
		return ExpandHome(name)
	}
	if strings.TrimSpace(dir) == "" {
		return name, nil
	}
	files, err := ListGGUF(dir)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		b := filepath.Base(f)
		if b == name || strings.TrimSuffix(b, filepath.Ext(b)) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("model %q not found in %s (%d gguf files)", name, dir, len(files))
}
