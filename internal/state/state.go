// Package state persists guide progress. A GuideState is stored as a JSON
// record in a key value backend, together with a pointer to the flow that
// was active last. Records of another format version or older than the TTL
// are deleted on read and reported as absent.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jakopako/goguide/internal/log"
)

const (
	// Version is the format version written with every record.
	Version = 1
	// TTL is the maximum age of a record.
	TTL = 24 * time.Hour

	keyPrefix = "goguide.state."
	// activeKey lies outside keyPrefix so no recording id can collide with it.
	activeKey = "goguide.active"
)

var (
	ErrCorrupt = errors.New("state record corrupt")
	ErrExpired = errors.New("state record expired")
	ErrVersion = errors.New("state record version mismatch")
)

// GuideState is the persisted progress of one flow.
type GuideState struct {
	RecordingID     string `json:"recordingId"`
	CurrentPosition int    `json:"currentPosition"`
	CompletedSteps  []int  `json:"completedSteps"`
	IsPlaying       bool   `json:"isPlaying"`
	// Timestamp is the save time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	Version   int   `json:"version"`
}

// SavedAt returns the timestamp as time.
func (g GuideState) SavedAt() time.Time {
	return time.UnixMilli(g.Timestamp)
}

// KV is a byte oriented key value backend.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys returns all keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Store reads and writes guide states.
type Store struct {
	kv  KV
	now func() time.Time
	ttl time.Duration
}

// NewStore returns a store on kv. now defaults to time.Now.
func NewStore(kv KV, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{kv: kv, now: now, ttl: TTL}
}

func recordKey(recordingID string) string {
	return keyPrefix + recordingID
}

// Save stamps st with the current time and format version and writes it.
// The record also becomes the active one.
func (s *Store) Save(ctx context.Context, st GuideState) error {
	if st.RecordingID == "" {
		return errors.New("state: empty recording id")
	}
	st.Version = Version
	st.Timestamp = s.now().UnixMilli()
	st.CompletedSteps = slices.Clone(st.CompletedSteps)
	slices.Sort(st.CompletedSteps)
	if st.CompletedSteps == nil {
		st.CompletedSteps = []int{}
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, recordKey(st.RecordingID), b); err != nil {
		return fmt.Errorf("error while saving state of %s: %w", st.RecordingID, err)
	}
	if err := s.kv.Set(ctx, activeKey, []byte(st.RecordingID)); err != nil {
		return fmt.Errorf("error while saving active state pointer: %w", err)
	}
	return nil
}

// Load returns the state of recordingID. Invalid records are deleted and
// reported as absent, so the error is only set for backend failures.
func (s *Store) Load(ctx context.Context, recordingID string) (GuideState, bool, error) {
	key := recordKey(recordingID)
	b, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return GuideState{}, false, err
	}
	st, err := s.decode(b)
	if err != nil {
		log.LoggerFromContext(ctx).Info(fmt.Sprintf("discarding saved state of %s: %v", recordingID, err), slog.String("component", "state"))
		if err := s.kv.Delete(ctx, key); err != nil {
			return GuideState{}, false, err
		}
		return GuideState{}, false, nil
	}
	return st, true, nil
}

// Active returns the state that was saved last.
func (s *Store) Active(ctx context.Context) (GuideState, bool, error) {
	b, ok, err := s.kv.Get(ctx, activeKey)
	if err != nil || !ok {
		return GuideState{}, false, err
	}
	return s.Load(ctx, string(b))
}

// Clear deletes the state of recordingID and the active pointer if it points
// to it.
func (s *Store) Clear(ctx context.Context, recordingID string) error {
	if err := s.kv.Delete(ctx, recordKey(recordingID)); err != nil {
		return err
	}
	b, ok, err := s.kv.Get(ctx, activeKey)
	if err != nil {
		return err
	}
	if ok && string(b) == recordingID {
		return s.kv.Delete(ctx, activeKey)
	}
	return nil
}

// List returns every valid state, ordered by recording id.
func (s *Store) List(ctx context.Context) ([]GuideState, error) {
	keys, err := s.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	var out []GuideState
	for _, k := range keys {
		st, ok, err := s.Load(ctx, strings.TrimPrefix(k, keyPrefix))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) decode(b []byte) (GuideState, error) {
	var st GuideState
	if err := json.Unmarshal(b, &st); err != nil {
		return GuideState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if st.RecordingID == "" {
		return GuideState{}, fmt.Errorf("%w: no recording id", ErrCorrupt)
	}
	if st.Version != Version {
		return GuideState{}, fmt.Errorf("%w: got %d, want %d", ErrVersion, st.Version, Version)
	}
	if age := s.now().Sub(st.SavedAt()); age > s.ttl {
		return GuideState{}, fmt.Errorf("%w: saved %s ago", ErrExpired, age.Round(time.Second))
	}
	return st, nil
}
