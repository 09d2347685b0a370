package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"modkit/services/registry"
)

// MemoryStore keeps registry state in process. It backs tests and registry-api runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	nextUser int64
	nextMod  int64
	users    map[int64]User
	tokens   map[string]int64
	mods     map[int64]Mod
	modfiles map[uuid.UUID]Modfile
	audit    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		users:    map[int64]User{},
		tokens:   map[string]int64{},
		mods:     map[int64]Mod{},
		modfiles: map[uuid.UUID]Modfile{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateUser(_ context.Context, username, tokenHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return nil, ErrConflict
		}
	}
	if _, ok := s.tokens[tokenHash]; ok {
		return nil, ErrConflict
	}
	s.nextUser++
	u := User{ID: s.nextUser, Username: username}
	s.users[u.ID] = u
	s.tokens[tokenHash] = u.ID
	return &u, nil
}

func (s *MemoryStore) UserByTokenHash(_ context.Context, tokenHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *MemoryStore) CreateMod(_ context.Context, m *Mod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mods {
		if existing.NameID == m.NameID {
			return ErrConflict
		}
	}
	s.nextMod++
	m.ID = s.nextMod
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	s.mods[m.ID] = cloneMod(*m)
	return nil
}

func (s *MemoryStore) GetMod(_ context.Context, id int64) (*Mod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mods[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneMod(m)
	return &out, nil
}

func (s *MemoryStore) UpdateMod(_ context.Context, m *Mod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mods[m.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range s.mods {
		if id != m.ID && existing.NameID == m.NameID {
			return ErrConflict
		}
	}
	m.UpdatedAt = s.now()
	s.mods[m.ID] = cloneMod(*m)
	return nil
}

func (s *MemoryStore) CreateModfile(_ context.Context, f *Modfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mods[f.ModID]; !ok {
		return ErrNotFound
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	s.modfiles[f.ID] = *f
	return nil
}

func (s *MemoryStore) GetModfile(_ context.Context, id uuid.UUID) (*Modfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.modfiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (s *MemoryStore) UpdateModfile(_ context.Context, f *Modfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modfiles[f.ID]; !ok {
		return ErrNotFound
	}
	s.modfiles[f.ID] = *f
	return nil
}

func (s *MemoryStore) LatestModfile(_ context.Context, modID int64) (*Modfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ready []Modfile
	for _, f := range s.modfiles {
		if f.ModID == modID && f.Status == registry.ModfileReady {
			ready = append(ready, f)
		}
	}
	if len(ready) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].CreatedAt.After(ready[j].CreatedAt) })
	return &ready[0], nil
}

func (s *MemoryStore) Audit(_ context.Context, actor, action, obj string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, actor+" "+action+" "+obj)
	return nil
}

// AuditLog returns the recorded audit lines.
func (s *MemoryStore) AuditLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.audit...)
}

func cloneMod(m Mod) Mod {
	m.Tags = append([]string(nil), m.Tags...)
	return m
}
