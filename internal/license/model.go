package license

import (
	"errors"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusTrial    Status = "trial"
	StatusCanceled Status = "canceled"
)

var (
	ErrNotFound     = errors.New("license not found")
	ErrCanceled     = errors.New("license canceled")
	ErrDuplicateKey = errors.New("license key already exists")
	ErrConflict     = errors.New("license changed concurrently, retries exhausted")
	ErrInvalidKey   = errors.New("license key is required")
	ErrInvalidTerm  = errors.New("license duration must be positive")
)

type License struct {
	LicenseID  int64     `db:"license_id" json:"licenseId"`
	LicenseKey string    `db:"license_key" json:"licenseKey"`
	Email      string    `db:"email" json:"email"`
	Status     Status    `db:"status" json:"status"`
	ExpiresAt  time.Time `db:"expires_at" json:"expiresAtUtc"`
	CreatedAt  time.Time `db:"created_at" json:"createdAtUtc"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAtUtc"`
	Revision   int64     `db:"revision" json:"-"`
}

// EffectiveStatus folds expiry into the stored status: a paid license whose
// expiry has passed reads as canceled.
func (l *License) EffectiveStatus(now time.Time) Status {
	if l.Status == StatusCanceled {
		return StatusCanceled
	}
	if l.Status == StatusActive && !l.ExpiresAt.After(now) {
		return StatusCanceled
	}
	return l.Status
}

// IsActive reports whether the license grants use at now.
func (l *License) IsActive(now time.Time) bool {
	return l.EffectiveStatus(now) != StatusCanceled && l.ExpiresAt.After(now)
}

func (l *License) utc() {
	l.ExpiresAt = l.ExpiresAt.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
}
