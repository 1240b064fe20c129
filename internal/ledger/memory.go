package ledger

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ashita-ai/workbench/internal/model"
)

// Memory is an in-process Store. Entries do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[int64]Entry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[int64]Entry)}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if old, ok := m.entries[e.RunID]; ok {
		if old.Settled {
			return nil
		}
		e.StartedAt = old.StartedAt
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}
	e.UpdatedAt = now
	e.Settled = false
	m.entries[e.RunID] = e
	return nil
}

func (m *Memory) Settle(_ context.Context, runID int64, state model.RunState, outcome, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[runID]
	if !ok {
		return ErrNotFound
	}
	e.State = state
	e.Settled = true
	e.Outcome = outcome
	e.Summary = summary
	e.UpdatedAt = time.Now().UTC()
	m.entries[runID] = e
	return nil
}

func (m *Memory) Get(_ context.Context, runID int64) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[runID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) Pending(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if !e.Settled {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RunID, b.RunID)
	})
	return out, nil
}

func (m *Memory) Close() error { return nil }
