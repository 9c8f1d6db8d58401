package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FileKV stores every record in its own file below a directory.
type FileKV struct {
	dir string
}

func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

func (kv *FileKV) path(key string) string {
	return filepath.Join(kv.dir, url.PathEscape(key)+".json")
}

func (kv *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(kv.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set writes to a temporary file first so readers never see a partial record.
func (kv *FileKV) Set(_ context.Context, key string, value []byte) error {
	f, err := os.CreateTemp(kv.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := f.Write(value); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), kv.path(key))
}

func (kv *FileKV) Delete(_ context.Context, key string) error {
	err := os.Remove(kv.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (kv *FileKV) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(kv.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() {
			continue
		}
		key, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (kv *FileKV) Close() error { return nil }
