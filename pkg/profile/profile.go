// Package profile defines the user profile store consumed by a call.
//
// A profile carries the entitlement fields checked before every connect
// (premium flag and usage counter), the rolling conversation history that is
// embedded into the next session's system instruction, and the finished
// conversation records (transcript plus summary) written at hang-up.
//
// Backends live in sub-packages: memstore (tests, demos), postgres (shared
// deployments) and sqlite (single-user desktop installs). Every
// implementation must be safe for concurrent use.
package profile

import (
	"context"
	"errors"
	"time"
)

// FreeCallLimit is the number of calls a non-premium profile may start.
const FreeCallLimit = 3

// ErrNotFound is returned when a profile ID is unknown.
var ErrNotFound = errors.New("profile: not found")

// Profile is a user account as seen by the call controller.
type Profile struct {
	ID         string
	Name       string
	Email      string
	UsageCount int
	IsPremium  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Entitled reports whether p may start another call given freeLimit free
// calls. Premium profiles are always entitled.
func (p *Profile) Entitled(freeLimit int) bool {
	return p.IsPremium || p.UsageCount < freeLimit
}

// Update is a partial profile update. Nil fields are left unchanged.
type Update struct {
	Name       *string
	UsageCount *int
	IsPremium  *bool
}

// Record is one finished conversation.
type Record struct {
	ID         string
	ProfileID  string
	Transcript string
	Summary    string
	Language   string
	Timestamp  time.Time
}

// Store is the persistence boundary for profiles, history and records.
type Store interface {
	// CreateProfile inserts p. An empty p.ID is replaced by a generated one.
	// The stored profile is returned.
	CreateProfile(ctx context.Context, p Profile) (*Profile, error)

	// GetProfile returns the profile with the given ID or [ErrNotFound].
	GetProfile(ctx context.Context, id string) (*Profile, error)

	// UpdateProfile applies u and returns the updated profile.
	UpdateProfile(ctx context.Context, id string, u Update) (*Profile, error)

	// AppendConversationRecord stores a finished conversation. An empty
	// rec.ID is replaced by a generated one and a zero Timestamp by now.
	AppendConversationRecord(ctx context.Context, id string, rec Record) (*Record, error)

	// ListConversationRecords returns up to limit records, newest first.
	// A non-positive limit returns all records.
	ListConversationRecords(ctx context.Context, id string, limit int) ([]Record, error)

	// AppendHistory appends one completed turn to the profile's history log.
	AppendHistory(ctx context.Context, id string, text string) error

	// History returns the full history log, oldest turn first, each turn
	// separated by a newline.
	History(ctx context.Context, id string) (string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// IncrementUsage bumps the usage counter of a non-premium profile by one and
// returns the updated profile. Premium profiles are returned unchanged.
func IncrementUsage(ctx context.Context, s Store, p *Profile) (*Profile, error) {
	if p.IsPremium {
		return p, nil
	}
	n := p.UsageCount + 1
	return s.UpdateProfile(ctx, p.ID, Update{UsageCount: &n})
}

// Subscribe marks the profile as premium.
func Subscribe(ctx context.Context, s Store, id string) (*Profile, error) {
	premium := true
	return s.UpdateProfile(ctx, id, Update{IsPremium: &premium})
}
