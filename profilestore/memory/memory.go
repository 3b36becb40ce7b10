// Package memory is an in-process [arkana.ProfileStore] for tests, demos
// and load generation. It is not durable.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/avilainc/arkana"
)

// Store keeps profiles in maps guarded by one mutex.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]arkana.ProfileRecord
	byEmail map[string]string
	now     func() time.Time
}

var _ arkana.ProfileStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:    make(map[string]arkana.ProfileRecord),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *Store) FindByEmail(_ context.Context, email string) (arkana.ProfileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return arkana.ProfileRecord{}, arkana.ErrProfileNotFound
	}
	return s.byID[id], nil
}

func (s *Store) FindByID(_ context.Context, id string) (arkana.ProfileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return arkana.ProfileRecord{}, arkana.ErrProfileNotFound
	}
	return p, nil
}

func (s *Store) Create(_ context.Context, in arkana.NewProfile) (arkana.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(in.Email)
	if _, exists := s.byEmail[email]; exists {
		return arkana.ProfileRecord{}, arkana.ErrDuplicateEmail
	}
	p := arkana.ProfileRecord{
		ID:           ulid.Make().String(),
		Email:        email,
		FullName:     in.FullName,
		PasswordHash: in.PasswordHash,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	s.byID[p.ID] = p
	s.byEmail[email] = p.ID
	return p, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(p *arkana.ProfileRecord) { p.PasswordHash = hash })
}

func (s *Store) SetEmailVerified(_ context.Context, id string) error {
	return s.update(id, func(p *arkana.ProfileRecord) { p.EmailVerified = true })
}

// SetActive enables or disables a profile.
func (s *Store) SetActive(id string, active bool) error {
	return s.update(id, func(p *arkana.ProfileRecord) { p.Active = active })
}

// Delete removes a profile.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.byID[id]; ok {
		delete(s.byEmail, p.Email)
		delete(s.byID, id)
	}
}

// Len returns the number of stored profiles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) update(id string, fn func(*arkana.ProfileRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return arkana.ErrProfileNotFound
	}
	fn(&p)
	s.byID[id] = p
	return nil
}
