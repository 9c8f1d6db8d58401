package state

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func backends(t *testing.T) map[string]KV {
	t.Helper()
	ctx := context.Background()
	sqlite, err := NewKV(ctx, &Config{Type: SQLITE_KV_TYPE, Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	file, err := NewKV(ctx, &Config{Type: FILE_KV_TYPE, Path: filepath.Join(t.TempDir(), "state")})
	if err != nil {
		t.Fatalf("open file kv: %v", err)
	}
	t.Cleanup(func() {
		sqlite.Close()
		file.Close()
	})
	return map[string]KV{
		"memory": NewMemoryKV(),
		"sqlite": sqlite,
		"file":   file,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			s := NewStore(kv, c.now)
			in := GuideState{RecordingID: "onboarding", CurrentPosition: 2000, CompletedSteps: []int{2000, 1000}, IsPlaying: true}
			if err := s.Save(ctx, in); err != nil {
				t.Fatalf("Save() error: %v", err)
			}
			c.t = c.t.Add(23 * time.Hour)
			got, ok, err := s.Load(ctx, "onboarding")
			if err != nil || !ok {
				t.Fatalf("Load() = %v, %v", ok, err)
			}
			if got.CurrentPosition != 2000 || !slices.Equal(got.CompletedSteps, []int{1000, 2000}) || !got.IsPlaying {
				t.Errorf("Load() = %+v", got)
			}
			if got.Version != Version {
				t.Errorf("Version = %d; want %d", got.Version, Version)
			}
			active, ok, err := s.Active(ctx)
			if err != nil || !ok || active.RecordingID != "onboarding" {
				t.Errorf("Active() = %+v, %v, %v", active, ok, err)
			}
			list, err := s.List(ctx)
			if err != nil || len(list) != 1 {
				t.Errorf("List() = %v, %v", list, err)
			}
			if err := s.Clear(ctx, "onboarding"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := s.Load(ctx, "onboarding"); ok {
				t.Error("state still present after Clear")
			}
			if _, ok, _ := s.Active(ctx); ok {
				t.Error("active pointer still present after Clear")
			}
		})
	}
}

func TestLoadDiscardsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		setup func(s *Store, kv KV, c *clock)
	}{
		{"expired", func(s *Store, kv KV, c *clock) {
			s.Save(ctx, GuideState{RecordingID: "f", IsPlaying: true})
			c.t = c.t.Add(TTL + time.Minute)
		}},
		{"version mismatch", func(s *Store, kv KV, c *clock) {
			kv.Set(ctx, recordKey("f"), []byte(`{"recordingId":"f","version":0,"timestamp":`+strconv.FormatInt(start.UnixMilli(), 10)+`}`))
		}},
		{"corrupt", func(s *Store, kv KV, c *clock) {
			kv.Set(ctx, recordKey("f"), []byte(`{not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := NewMemoryKV()
			c := &clock{t: start}
			s := NewStore(kv, c.now)
			tt.setup(s, kv, c)
			if _, ok, err := s.Load(ctx, "f"); ok || err != nil {
				t.Fatalf("Load() = %v, %v; want absent", ok, err)
			}
			if _, ok, _ := kv.Get(ctx, recordKey("f")); ok {
				t.Error("invalid record not deleted")
			}
		})
	}
}

func TestSaveRequiresRecordingID(t *testing.T) {
	s := NewStore(NewMemoryKV(), nil)
	if err := s.Save(context.Background(), GuideState{}); err == nil {
		t.Error("expected an error for an empty recording id")
	}
}

func TestNewKVUnknownType(t *testing.T) {
	if _, err := NewKV(context.Background(), &Config{Type: "redis"}); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}

func TestMemoryFlag(t *testing.T) {
	var f MemoryFlag
	if ok, _ := f.Present(); ok {
		t.Fatal("new flag should be absent")
	}
	f.Set()
	if ok, _ := f.Present(); !ok {
		t.Error("flag should be present after Set")
	}
	f.Clear()
	if ok, _ := f.Present(); ok {
		t.Error("flag should be absent after Clear")
	}
}

func TestRecordingIDDoesNotCollideWithActivePointer(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewStore(kv, nil)
			in := GuideState{RecordingID: "active", CurrentPosition: 2000, CompletedSteps: []int{1000, 2000}, IsPlaying: true}
			if err := s.Save(ctx, in); err != nil {
				t.Fatalf("Save() error: %v", err)
			}
			got, ok, err := s.Load(ctx, "active")
			if err != nil || !ok {
				t.Fatalf("Load() = %v, %v", ok, err)
			}
			if got.CurrentPosition != 2000 || !slices.Equal(got.CompletedSteps, []int{1000, 2000}) {
				t.Errorf("Load() = %+v", got)
			}
			active, ok, err := s.Active(ctx)
			if err != nil || !ok || active.RecordingID != "active" {
				t.Errorf("Active() = %+v, %v, %v", active, ok, err)
			}
			list, err := s.List(ctx)
			if err != nil || len(list) != 1 {
				t.Errorf("List() = %v, %v", list, err)
			}
		})
	}
}
