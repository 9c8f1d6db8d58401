package state

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Config selects and configures the key value backend.
type Config struct {
	Type KVType `yaml:"type" env:"GOGUIDE_STATE_TYPE" env-default:"sqlite"`
	// Path is the database file for sqlite and the directory for file.
	Path string `yaml:"path" env:"GOGUIDE_STATE_PATH" env-default:"goguide.db"`
}

// KVType encapsulates the type of a key value backend.
type KVType string

const (
	SQLITE_KV_TYPE KVType = "sqlite"
	FILE_KV_TYPE   KVType = "file"
	MEMORY_KV_TYPE KVType = "memory"
)

// NewKV returns a new backend depending on the configured type.
func NewKV(ctx context.Context, c *Config) (KV, error) {
	switch c.Type {
	case SQLITE_KV_TYPE:
		return OpenSQLite(ctx, c.Path)
	case FILE_KV_TYPE:
		return NewFileKV(c.Path)
	case MEMORY_KV_TYPE:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("state backend of type '%s' not implemented", c.Type)
	}
}

// MemoryKV keeps records for the lifetime of the process.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: map[string][]byte{}}
}

func (kv *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	b, ok := kv.m[key]
	return slices.Clone(b), ok, nil
}

func (kv *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.m[key] = slices.Clone(value)
	return nil
}

func (kv *MemoryKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.m, key)
	return nil
}

func (kv *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	var out []string
	for k := range kv.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (kv *MemoryKV) Close() error { return nil }

// MemoryFlag is a session flag that lives as long as the process.
type MemoryFlag struct {
	mu  sync.Mutex
	set bool
}

func (f *MemoryFlag) Set() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = true
	return nil
}

func (f *MemoryFlag) Present() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set, nil
}

func (f *MemoryFlag) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = false
	return nil
}
