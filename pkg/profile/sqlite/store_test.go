package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrWong99/celestial/pkg/profile"
	"github.com/MrWong99/celestial/pkg/profile/profiletest"
	"github.com/MrWong99/celestial/pkg/profile/sqlite"
)

func openTemp(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "data", "profiles.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	t.Parallel()
	profiletest.Run(t, func(t *testing.T) profile.Store { return openTemp(t) })
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "profiles.db")
	ctx := context.Background()

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p, err := s.CreateProfile(ctx, profile.Profile{ID: "u1", Name: "Kavya", UsageCount: 1})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if err := s.AppendHistory(ctx, p.ID, "User: hi"); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	_ = s.Close()

	s2, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile after reopen: %v", err)
	}
	if got.Name != "Kavya" || got.UsageCount != 1 {
		t.Errorf("got %+v", got)
	}
	h, _ := s2.History(ctx, "u1")
	if h != "User: hi" {
		t.Errorf("History = %q", h)
	}
}
