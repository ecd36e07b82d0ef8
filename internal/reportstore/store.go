// Package reportstore persists end-of-session reports.
//
// [Memory] keeps records in process and is the default. The postgres
// sub-package stores them in a JSONB column for deployments that need
// history across restarts.
package reportstore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/poise/internal/feedback"
	"github.com/MrWong99/poise/internal/report"
)

// ErrNotFound is returned by Get when no report exists for a session.
var ErrNotFound = errors.New("reportstore: not found")

// Record is one persisted session report.
type Record struct {
	SessionID  string         `json:"session_id"`
	StartedAt  time.Time      `json:"started_at"`
	StoppedAt  time.Time      `json:"stopped_at"`
	Goals      feedback.Goals `json:"goals"`
	Report     report.Report  `json:"report"`
	Transcript string         `json:"transcript,omitempty"`
}

// Store persists reports. Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts or replaces the record for rec.SessionID.
	Save(ctx context.Context, rec Record) error

	// Get returns the record for sessionID or [ErrNotFound].
	Get(ctx context.Context, sessionID string) (Record, error)

	// List returns up to limit records, most recently stopped first.
	// A limit <= 0 returns all records.
	List(ctx context.Context, limit int) ([]Record, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Memory is an in-process [Store].
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Save implements [Store].
func (m *Memory) Save(_ context.Context, rec Record) error {
	if rec.SessionID == "" {
		return errors.New("reportstore: save: empty session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.SessionID] = rec
	return nil
}

// Get implements [Store].
func (m *Memory) Get(_ context.Context, sessionID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List implements [Store].
func (m *Memory) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Record) int {
		if c := b.StoppedAt.Compare(a.StoppedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }
