package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotFound indicates the identifier does not exist in the directory.
var ErrNotFound = errors.New("directory: not found")

// Entry describes a directory principal as the external directory reports it.
type Entry struct {
	Identifier  string
	DisplayName string
}

// Directory resolves external identifiers to display names. The budget
// service treats the directory as an opaque collaborator: it validates
// user identifiers before storing identifier-based grants and supplies
// display names when a directory user is materialized locally. Group
// membership is never queried here; groups arrive asserted per request.
type Directory interface {
	Lookup(ctx context.Context, identifier string) (Entry, error)
}

// Static is a fixed in-memory directory used in tests and development.
type Static struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStatic builds a Static directory from the given entries.
func NewStatic(entries ...Entry) *Static {
	s := &Static{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		s.entries[normalize(e.Identifier)] = e
	}
	return s
}

// Add registers or replaces an entry.
func (s *Static) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[normalize(e.Identifier)] = e
}

// Lookup implements Directory.
func (s *Static) Lookup(_ context.Context, identifier string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[normalize(identifier)]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func normalize(identifier string) string {
	return strings.TrimSpace(strings.ToLower(identifier))
}
