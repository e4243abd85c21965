// Package mock provides a test double for [profile.Store].
//
// Store wraps an in-memory store so reads reflect writes, records every
// mutating call, and lets tests inject per-operation errors:
//
//	s := mock.New()
//	s.Seed(profile.Profile{ID: "u1", UsageCount: 3})
//	s.UpdateErr = errors.New("db down")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/celestial/pkg/profile"
	"github.com/MrWong99/celestial/pkg/profile/memstore"
)

var _ profile.Store = (*Store)(nil)

// Store is a mock implementation of [profile.Store]. Safe for concurrent use.
type Store struct {
	inner *memstore.Store

	mu sync.Mutex

	// GetErr, if non-nil, is returned by GetProfile.
	GetErr error
	// UpdateErr, if non-nil, is returned by UpdateProfile.
	UpdateErr error
	// AppendRecordErr, if non-nil, is returned by AppendConversationRecord.
	AppendRecordErr error
	// AppendHistoryErr, if non-nil, is returned by AppendHistory.
	AppendHistoryErr error
	// HistoryErr, if non-nil, is returned by History.
	HistoryErr error
	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	updates        []profile.Update
	historyAppends []string
	records        []profile.Record
	closeCalls     int
}

// New returns an empty mock store.
func New() *Store {
	return &Store{inner: memstore.New()}
}

// Seed inserts p, panicking on error. Intended for test setup only.
func (s *Store) Seed(p profile.Profile) *profile.Profile {
	out, err := s.inner.CreateProfile(context.Background(), p)
	if err != nil {
		panic(err)
	}
	return out
}

// CreateProfile implements [profile.Store].
func (s *Store) CreateProfile(ctx context.Context, p profile.Profile) (*profile.Profile, error) {
	return s.inner.CreateProfile(ctx, p)
}

// GetProfile implements [profile.Store].
func (s *Store) GetProfile(ctx context.Context, id string) (*profile.Profile, error) {
	s.mu.Lock()
	err := s.GetErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.GetProfile(ctx, id)
}

// UpdateProfile implements [profile.Store].
func (s *Store) UpdateProfile(ctx context.Context, id string, u profile.Update) (*profile.Profile, error) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	err := s.UpdateErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.UpdateProfile(ctx, id, u)
}

// AppendConversationRecord implements [profile.Store].
func (s *Store) AppendConversationRecord(ctx context.Context, id string, rec profile.Record) (*profile.Record, error) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	err := s.AppendRecordErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.AppendConversationRecord(ctx, id, rec)
}

// ListConversationRecords implements [profile.Store].
func (s *Store) ListConversationRecords(ctx context.Context, id string, limit int) ([]profile.Record, error) {
	return s.inner.ListConversationRecords(ctx, id, limit)
}

// AppendHistory implements [profile.Store].
func (s *Store) AppendHistory(ctx context.Context, id string, text string) error {
	s.mu.Lock()
	s.historyAppends = append(s.historyAppends, text)
	err := s.AppendHistoryErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.AppendHistory(ctx, id, text)
}

// History implements [profile.Store].
func (s *Store) History(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	err := s.HistoryErr
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.inner.History(ctx, id)
}

// Ping implements [profile.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements [profile.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// Updates returns every Update passed to UpdateProfile, in order.
func (s *Store) Updates() []profile.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]profile.Update(nil), s.updates...)
}

// HistoryAppends returns every text passed to AppendHistory, in order.
func (s *Store) HistoryAppends() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.historyAppends...)
}

// Records returns every record passed to AppendConversationRecord.
func (s *Store) Records() []profile.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]profile.Record(nil), s.records...)
}

// Closes returns the number of Close calls.
func (s *Store) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
