package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rcbudget.org/internal/ids"
)

// Memory implements Store in process.
type Memory struct {
	mu     sync.Mutex
	events map[string]Event
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{events: make(map[string]Event)}
}

func (m *Memory) Append(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomePending
	}
	if _, ok := m.events[e.ID]; ok {
		return ErrConflict
	}
	m.events[e.ID] = *e
	return nil
}

func (m *Memory) Finalize(ctx context.Context, id string, outcome Outcome, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	e.Outcome = outcome
	e.Error = errMsg
	m.events[id] = e
	return nil
}

func (m *Memory) ListByCentre(ctx context.Context, centreID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.CentreID == centreID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListByFiscalYear(ctx context.Context, fiscalYearID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.FiscalYearID == fiscalYearID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
