package binding

import (
	"errors"
	"time"

	"winsbygroup.com/licserver/internal/license"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

var ErrFingerprintConflict = errors.New("license in use on another device")

type Activation struct {
	ActivationID int64     `db:"activation_id" json:"activationId"`
	LicenseID    int64     `db:"license_id" json:"-"`
	Fingerprint  string    `db:"fingerprint" json:"fingerprint"`
	FirstSeenAt  time.Time `db:"first_seen_at" json:"firstSeenAtUtc"`
	LastSeenAt   time.Time `db:"last_seen_at" json:"lastSeenAtUtc"`
	Status       Status    `db:"status" json:"status"`
}

func (a *Activation) utc() {
	a.FirstSeenAt = a.FirstSeenAt.UTC()
	a.LastSeenAt = a.LastSeenAt.UTC()
}

// Bound is the outcome of a successful CheckAndBind.
// Activation is nil when no fingerprint was presented.
type Bound struct {
	License    *license.License
	Activation *Activation
	Created    bool
}
