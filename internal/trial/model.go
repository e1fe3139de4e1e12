package trial

import (
	"errors"
	"math"
	"time"
)

var (
	ErrFingerprintRequired = errors.New("fingerprint is required for a trial")
	ErrNotFound            = errors.New("trial not found")
)

// Device is the trial clock of one fingerprint. The window never changes
// after the first insert.
type Device struct {
	Fingerprint    string    `db:"fingerprint" json:"fingerprint"`
	Email          string    `db:"email" json:"email,omitempty"`
	TrialStartedAt time.Time `db:"trial_started_at" json:"trialStartedAtUtc"`
	TrialExpiresAt time.Time `db:"trial_expires_at" json:"trialExpiresAtUtc"`
	ClientVersion  string    `db:"client_version" json:"clientVersion,omitempty"`
	LastIP         string    `db:"last_ip" json:"lastIp,omitempty"`
	LastSeenAt     time.Time `db:"last_seen_at" json:"lastSeenAtUtc"`
}

func (d *Device) IsActive(now time.Time) bool {
	return d.TrialExpiresAt.After(now)
}

// DaysLeft rounds the remaining window up to whole days, zero once expired.
func (d *Device) DaysLeft(now time.Time) int {
	left := d.TrialExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

func (d *Device) utc() {
	d.TrialStartedAt = d.TrialStartedAt.UTC()
	d.TrialExpiresAt = d.TrialExpiresAt.UTC()
	d.LastSeenAt = d.LastSeenAt.UTC()
}
