package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jakopako/goguide/internal/sequencer"
	"github.com/jakopako/goguide/internal/state"
)

type recorder struct {
	kinds []sequencer.NoticeKind
}

func (r *recorder) Notify(n sequencer.Notice) {
	r.kinds = append(r.kinds, n.Kind)
}

func TestPlayNotifier(t *testing.T) {
	tests := []struct {
		kind sequencer.NoticeKind
		done bool
	}{
		{kind: sequencer.NoticeCompleted, done: true},
		{kind: sequencer.NoticeStopped, done: true},
		{kind: sequencer.NoticeSkipBlocked, done: false},
		{kind: sequencer.NoticeValidationMismatch, done: false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			rec := &recorder{}
			done := false
			n := &playNotifier{Notifier: rec, done: func() { done = true }}
			n.Notify(sequencer.Notice{Kind: tt.kind})
			if len(rec.kinds) != 1 || rec.kinds[0] != tt.kind {
				t.Errorf("forwarded %v, want [%s]", rec.kinds, tt.kind)
			}
			if done != tt.done {
				t.Errorf("done = %t, want %t", done, tt.done)
			}
		})
	}
}

func TestReadConfig(t *testing.T) {
	if _, err := readConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected an error for an explicitly given missing file")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "goguide.yaml")
	content := "state:\n  type: memory\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := readConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.State.Type != state.MEMORY_KV_TYPE {
		t.Errorf("state type = %q, want %q", cfg.State.Type, state.MEMORY_KV_TYPE)
	}
}
