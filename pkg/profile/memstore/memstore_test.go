package memstore_test

import (
	"context"
	"testing"

	"github.com/MrWong99/celestial/pkg/profile"
	"github.com/MrWong99/celestial/pkg/profile/memstore"
	"github.com/MrWong99/celestial/pkg/profile/profiletest"
)

func TestUpdateProfile_Partial(t *testing.T) {
	t.Parallel()
	s := memstore.New()
	ctx := context.Background()
	p, _ := s.CreateProfile(ctx, profile.Profile{ID: "u1", Name: "Ravi", UsageCount: 1})

	updated, err := profile.IncrementUsage(ctx, s, p)
	if err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	if updated.UsageCount != 2 || updated.Name != "Ravi" {
		t.Errorf("after increment: %+v", updated)
	}

	sub, err := profile.Subscribe(ctx, s, "u1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !sub.IsPremium || sub.UsageCount != 2 {
		t.Errorf("after subscribe: %+v", sub)
	}

	// Premium profiles are not counted.
	again, err := profile.IncrementUsage(ctx, s, sub)
	if err != nil {
		t.Fatalf("IncrementUsage premium: %v", err)
	}
	if again.UsageCount != 2 {
		t.Errorf("premium usage = %d, want 2", again.UsageCount)
	}
}

func TestEntitled(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    profile.Profile
		want bool
	}{
		{"fresh", profile.Profile{}, true},
		{"last free call", profile.Profile{UsageCount: 2}, true},
		{"exhausted", profile.Profile{UsageCount: 3}, false},
		{"premium exhausted", profile.Profile{UsageCount: 30, IsPremium: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.p.Entitled(profile.FreeCallLimit); got != tt.want {
				t.Errorf("Entitled = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()
	profiletest.Run(t, func(*testing.T) profile.Store { return memstore.New() })
}
