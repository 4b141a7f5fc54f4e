// Package tokenstore keeps issued viewer tokens so they can be validated and
// revoked after issuance. Entries expire together with the token they track.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("viewer token not found")

// Record is the stored metadata of an issued viewer token, keyed by its jti.
type Record struct {
	ID        string    `json:"jti"`
	StudyID   string    `json:"study_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record's token is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

type Store interface {
	Save(ctx context.Context, rec Record) error
	// Get returns ErrNotFound for unknown, revoked and expired tokens.
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	// RevokeStudy deletes every live token issued for studyID and returns
	// how many were removed.
	RevokeStudy(ctx context.Context, studyID string) (int, error)
	Close() error
}
