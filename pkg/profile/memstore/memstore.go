// Package memstore is an in-memory [profile.Store].
//
// Data lives for the lifetime of the process. It backs tests and the
// --profile-store=memory demo mode.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/celestial/pkg/profile"
)

// Compile-time assertion that Store satisfies profile.Store.
var _ profile.Store = (*Store)(nil)

type entry struct {
	profile profile.Profile
	history []string
	records []profile.Record
}

// Store is a thread-safe, in-memory implementation of [profile.Store].
// The zero value is ready to use.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{profiles: make(map[string]*entry)}
}

func (s *Store) clock() time.Time { return time.Now().UTC() }

// CreateProfile implements [profile.Store].
func (s *Store) CreateProfile(_ context.Context, p profile.Profile) (*profile.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profiles == nil {
		s.profiles = make(map[string]*entry)
	}
	if _, ok := s.profiles[p.ID]; ok {
		return nil, fmt.Errorf("memstore: create profile %q: already exists", p.ID)
	}
	now := s.clock()
	p.CreatedAt, p.UpdatedAt = now, now
	s.profiles[p.ID] = &entry{profile: p}
	out := p
	return &out, nil
}

// GetProfile implements [profile.Store].
func (s *Store) GetProfile(_ context.Context, id string) (*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	out := e.profile
	return &out, nil
}

// UpdateProfile implements [profile.Store].
func (s *Store) UpdateProfile(_ context.Context, id string, u profile.Update) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	if u.Name != nil {
		e.profile.Name = *u.Name
	}
	if u.UsageCount != nil {
		e.profile.UsageCount = *u.UsageCount
	}
	if u.IsPremium != nil {
		e.profile.IsPremium = *u.IsPremium
	}
	e.profile.UpdatedAt = s.clock()
	out := e.profile
	return &out, nil
}

// AppendConversationRecord implements [profile.Store].
func (s *Store) AppendConversationRecord(_ context.Context, id string, rec profile.Record) (*profile.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock()
	}
	rec.ProfileID = id
	e.records = append(e.records, rec)
	out := rec
	return &out, nil
}

// ListConversationRecords implements [profile.Store].
func (s *Store) ListConversationRecords(_ context.Context, id string, limit int) ([]profile.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	out := slices.Clone(e.records)
	slices.SortStableFunc(out, func(a, b profile.Record) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendHistory implements [profile.Store].
func (s *Store) AppendHistory(_ context.Context, id string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.profiles[id]
	if !ok {
		return profile.ErrNotFound
	}
	e.history = append(e.history, text)
	return nil
}

// History implements [profile.Store].
func (s *Store) History(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.profiles[id]
	if !ok {
		return "", profile.ErrNotFound
	}
	return strings.Join(e.history, "\n"), nil
}

// Ping implements [profile.Store]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [profile.Store]. It is a no-op.
func (s *Store) Close() error { return nil }
