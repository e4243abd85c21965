// Package profiletest is a behavioural test suite shared by every
// [profile.Store] backend.
package profiletest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/celestial/pkg/profile"
)

// Run exercises the full [profile.Store] contract. newStore must return an
// empty store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) profile.Store) {
	t.Helper()

	t.Run("GetProfileNotFound", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetProfile(context.Background(), "missing"); !errors.Is(err, profile.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("CreateGetUpdate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreateProfile(ctx, profile.Profile{Name: "Meera", Email: "meera@example.com"})
		if err != nil {
			t.Fatalf("CreateProfile: %v", err)
		}
		if created.ID == "" {
			t.Fatal("CreateProfile did not assign an ID")
		}

		got, err := s.GetProfile(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetProfile: %v", err)
		}
		if got.Name != "Meera" || got.Email != "meera@example.com" || got.UsageCount != 0 || got.IsPremium {
			t.Errorf("GetProfile = %+v", got)
		}

		n := 2
		upd, err := s.UpdateProfile(ctx, created.ID, profile.Update{UsageCount: &n})
		if err != nil {
			t.Fatalf("UpdateProfile: %v", err)
		}
		if upd.UsageCount != 2 || upd.Name != "Meera" {
			t.Errorf("UpdateProfile = %+v", upd)
		}

		sub, err := profile.Subscribe(ctx, s, created.ID)
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		if !sub.IsPremium || sub.UsageCount != 2 {
			t.Errorf("Subscribe = %+v", sub)
		}
	})

	t.Run("UpdateProfileNotFound", func(t *testing.T) {
		s := newStore(t)
		name := "x"
		if _, err := s.UpdateProfile(context.Background(), "missing", profile.Update{Name: &name}); !errors.Is(err, profile.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("History", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := mustCreate(t, s)

		h, err := s.History(ctx, p.ID)
		if err != nil || h != "" {
			t.Fatalf("History on empty log = %q, %v", h, err)
		}
		for _, line := range []string{"User: hello\nAstrologer: namaste", "User: thanks"} {
			if err := s.AppendHistory(ctx, p.ID, line); err != nil {
				t.Fatalf("AppendHistory: %v", err)
			}
		}
		h, err = s.History(ctx, p.ID)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if want := "User: hello\nAstrologer: namaste\nUser: thanks"; h != want {
			t.Errorf("History = %q, want %q", h, want)
		}

		if err := s.AppendHistory(ctx, "missing", "x"); !errors.Is(err, profile.ErrNotFound) {
			t.Errorf("AppendHistory unknown profile err = %v, want ErrNotFound", err)
		}
		if _, err := s.History(ctx, "missing"); !errors.Is(err, profile.ErrNotFound) {
			t.Errorf("History unknown profile err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ConversationRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := mustCreate(t, s)

		base := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
		for i, summary := range []string{"first", "second", "third"} {
			rec, err := s.AppendConversationRecord(ctx, p.ID, profile.Record{
				Transcript: "User: q\nAstrologer: a",
				Summary:    summary,
				Language:   "Hindi",
				Timestamp:  base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("AppendConversationRecord: %v", err)
			}
			if rec.ID == "" || rec.ProfileID != p.ID {
				t.Errorf("record = %+v", rec)
			}
		}

		all, err := s.ListConversationRecords(ctx, p.ID, 0)
		if err != nil {
			t.Fatalf("ListConversationRecords: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("len = %d, want 3", len(all))
		}
		if all[0].Summary != "third" || all[2].Summary != "first" {
			t.Errorf("order = %s, %s, %s; want newest first", all[0].Summary, all[1].Summary, all[2].Summary)
		}
		if !all[2].Timestamp.Equal(base) {
			t.Errorf("timestamp = %v, want %v", all[2].Timestamp, base)
		}
		if all[0].Language != "Hindi" {
			t.Errorf("language = %q", all[0].Language)
		}

		limited, err := s.ListConversationRecords(ctx, p.ID, 1)
		if err != nil {
			t.Fatalf("ListConversationRecords limit: %v", err)
		}
		if len(limited) != 1 || limited[0].Summary != "third" {
			t.Errorf("limited = %+v", limited)
		}

		if _, err := s.AppendConversationRecord(ctx, "missing", profile.Record{}); !errors.Is(err, profile.ErrNotFound) {
			t.Errorf("append unknown profile err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ZeroTimestampDefaultsToNow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := mustCreate(t, s)

		before := time.Now().Add(-time.Minute)
		rec, err := s.AppendConversationRecord(ctx, p.ID, profile.Record{Summary: "s"})
		if err != nil {
			t.Fatalf("AppendConversationRecord: %v", err)
		}
		if rec.Timestamp.Before(before) {
			t.Errorf("timestamp = %v, want roughly now", rec.Timestamp)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func mustCreate(t *testing.T, s profile.Store) *profile.Profile {
	t.Helper()
	p, err := s.CreateProfile(context.Background(), profile.Profile{Name: "Seeker"})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	return p
}
