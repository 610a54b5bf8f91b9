// Package userstore is the enrolled-user directory: the mapping between
// user identifiers and the voice samples enrolled for them.
package userstore

import (
	"context"
	"time"

	"voicepassport/pkg/domain"
)

// User is one enrolled identity.
type User struct {
	ID        domain.UserID
	SampleID  domain.SampleID
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the directory port. Lookups return sentinel.ErrNotFound when
// no user matches.
type Store interface {
	FindByUser(ctx context.Context, id domain.UserID) (User, error)
	FindBySample(ctx context.Context, id domain.SampleID) (User, error)
	Put(ctx context.Context, user User) error
	SetEnabled(ctx context.Context, id domain.UserID, enabled bool) error
}
