package access

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rcbudget.org/internal/ids"
)

// Memory implements Store in process, with copy-on-write transactions.
// It backs the service tests and development mode.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	centres map[string]ResponsibilityCentre
	users   map[string]User
	grants  map[string]Grant
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: &memState{
		centres: make(map[string]ResponsibilityCentre),
		users:   make(map[string]User),
		grants:  make(map[string]Grant),
	}}
}

func (s *memState) clone() *memState {
	out := &memState{
		centres: make(map[string]ResponsibilityCentre, len(s.centres)),
		users:   make(map[string]User, len(s.users)),
		grants:  make(map[string]Grant, len(s.grants)),
	}
	for k, v := range s.centres {
		out.centres[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.grants {
		out.grants[k] = v
	}
	return out
}

// WithinTx serializes the callback under one lock and rolls the state
// back when it fails, mirroring the transactional store contract.
func (m *Memory) WithinTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(&memTx{state: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// The exported methods lock and delegate to the unsynchronized view.

func (m *Memory) CreateCentre(ctx context.Context, centre *ResponsibilityCentre) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).CreateCentre(ctx, centre)
}

func (m *Memory) Centre(ctx context.Context, id string) (ResponsibilityCentre, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).Centre(ctx, id)
}

func (m *Memory) ListCentres(ctx context.Context) ([]ResponsibilityCentre, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).ListCentres(ctx)
}

func (m *Memory) SetCentreOwner(ctx context.Context, centreID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).SetCentreOwner(ctx, centreID, userID)
}

func (m *Memory) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).CreateUser(ctx, u)
}

func (m *Memory) UserByID(ctx context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).UserByID(ctx, id)
}

func (m *Memory) UserByUsername(ctx context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).UserByUsername(ctx, username)
}

func (m *Memory) Grants(ctx context.Context, centreID string) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).Grants(ctx, centreID)
}

func (m *Memory) Grant(ctx context.Context, id string) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).Grant(ctx, id)
}

func (m *Memory) CreateGrant(ctx context.Context, g *Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).CreateGrant(ctx, g)
}

func (m *Memory) UpdateGrantLevel(ctx context.Context, id string, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).UpdateGrantLevel(ctx, id, level)
}

func (m *Memory) DeleteGrant(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{state: m.state}).DeleteGrant(ctx, id)
}

// memTx operates on shared state; the caller holds the store lock.
type memTx struct {
	state *memState
}

func (t *memTx) WithinTx(ctx context.Context, fn func(Store) error) error {
	// Already inside a transaction; nest flatly.
	return fn(t)
}

func (t *memTx) CreateCentre(ctx context.Context, centre *ResponsibilityCentre) error {
	if centre.ID == "" {
		centre.ID = ids.New()
	}
	if centre.CreatedAt.IsZero() {
		centre.CreatedAt = time.Now().UTC()
	}
	if _, ok := t.state.centres[centre.ID]; ok {
		return ErrConflict
	}
	t.state.centres[centre.ID] = *centre
	return nil
}

func (t *memTx) Centre(ctx context.Context, id string) (ResponsibilityCentre, error) {
	centre, ok := t.state.centres[id]
	if !ok {
		return ResponsibilityCentre{}, fmt.Errorf("%w: centre %s", ErrNotFound, id)
	}
	return centre, nil
}

func (t *memTx) ListCentres(ctx context.Context) ([]ResponsibilityCentre, error) {
	out := make([]ResponsibilityCentre, 0, len(t.state.centres))
	for _, c := range t.state.centres {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) SetCentreOwner(ctx context.Context, centreID, userID string) error {
	centre, ok := t.state.centres[centreID]
	if !ok {
		return fmt.Errorf("%w: centre %s", ErrNotFound, centreID)
	}
	if _, ok := t.state.users[userID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	centre.OwnerID = userID
	t.state.centres[centreID] = centre
	return nil
}

func (t *memTx) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	key := NormalizeIdentifier(u.Username)
	for _, existing := range t.state.users {
		if NormalizeIdentifier(existing.Username) == key {
			return ErrConflict
		}
	}
	t.state.users[u.ID] = *u
	return nil
}

func (t *memTx) UserByID(ctx context.Context, id string) (User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

func (t *memTx) UserByUsername(ctx context.Context, username string) (User, error) {
	key := NormalizeIdentifier(username)
	for _, u := range t.state.users {
		if NormalizeIdentifier(u.Username) == key {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: user %s", ErrNotFound, username)
}

func (t *memTx) Grants(ctx context.Context, centreID string) ([]Grant, error) {
	var out []Grant
	for _, g := range t.state.grants {
		if g.CentreID == centreID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) Grant(ctx context.Context, id string) (Grant, error) {
	g, ok := t.state.grants[id]
	if !ok {
		return Grant{}, fmt.Errorf("%w: grant %s", ErrNotFound, id)
	}
	return g, nil
}

func (t *memTx) CreateGrant(ctx context.Context, g *Grant) error {
	if g.ID == "" {
		g.ID = ids.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if _, ok := t.state.grants[g.ID]; ok {
		return ErrConflict
	}
	t.state.grants[g.ID] = *g
	return nil
}

func (t *memTx) UpdateGrantLevel(ctx context.Context, id string, level Level) error {
	g, ok := t.state.grants[id]
	if !ok {
		return fmt.Errorf("%w: grant %s", ErrNotFound, id)
	}
	g.Level = level
	t.state.grants[id] = g
	return nil
}

func (t *memTx) DeleteGrant(ctx context.Context, id string) error {
	if _, ok := t.state.grants[id]; !ok {
		return fmt.Errorf("%w: grant %s", ErrNotFound, id)
	}
	delete(t.state.grants, id)
	return nil
}
