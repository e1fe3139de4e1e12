package activation

import (
	"errors"
	"time"

	"winsbygroup.com/licserver/internal/signing"
	"winsbygroup.com/licserver/internal/trial"
)

type Plan string

const (
	PlanSubscription Plan = "subscription"
	PlanTrial        Plan = "trial"
)

// Codes reported in-band to clients.
const (
	CodeLicenseInUse   = "license_in_use_in_other_computer"
	CodeBoundElsewhere = "license_bound_to_other_machine"
	CodeCanceled       = "license_canceled"
)

var (
	ErrKeyRequired         = errors.New("license key is required")
	ErrFingerprintRequired = trial.ErrFingerprintRequired
)

// Config holds the licensing knobs the orchestrator needs.
type Config struct {
	TrialDays        int
	NextCheckSeconds int
	PaidFeatures     []string
	TrialFeatures    []string
}

// Validation is the answer to a validate call. Signed is present whenever a
// license or trial was found, active or not.
type Validation struct {
	OK       bool
	Plan     Plan
	DaysLeft int
	Signed   *signing.SignedLicense
}

// CheckResult is the periodic ping answer.
type CheckResult struct {
	Active           bool       `json:"active"`
	Plan             Plan       `json:"plan"`
	NextCheckSeconds int        `json:"nextCheckSeconds"`
	ExpiresAt        *time.Time `json:"expiresAtUtc,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// StatusReport describes what the client may do right now.
type StatusReport struct {
	Plan               Plan       `json:"plan"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	TrialStartedAt     *time.Time `json:"trialStartedUtc"`
	ExpiresAt          time.Time  `json:"expiresAtUtc"`
	IsActive           bool       `json:"isActive"`
	DaysLeft           int        `json:"daysLeft"`
	CustomerName       *string    `json:"customerName"`
	CustomerEmail      *string    `json:"customerEmail"`
	Features           []string   `json:"features"`
}
