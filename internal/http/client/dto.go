package client

import (
	"winsbygroup.com/licserver/internal/activation"
	"winsbygroup.com/licserver/internal/signing"
)

type ActivateRequest struct {
	LicenseKey  string `json:"licenseKey"`
	Email       string `json:"email"`
	Fingerprint string `json:"fingerprint"`
}

type ActivateResponse struct {
	OK bool `json:"ok"`
	*signing.SignedLicense
}

type ValidateRequest struct {
	LicenseKey  string `json:"licenseKey"`
	Email       string `json:"email"`
	Fingerprint string `json:"fingerprint"`
	AppVersion  string `json:"appVersion"`
}

// ValidateResponse flattens the most used payload fields next to the signed
// copy so older clients keep working without verifying.
type ValidateResponse struct {
	OK                 bool            `json:"ok"`
	Plan               activation.Plan `json:"plan"`
	SubscriptionStatus string          `json:"subscriptionStatus"`
	ExpiresAtUTC       string          `json:"expiresAtUtc"`
	Email              *string         `json:"email"`
	Fingerprint        *string         `json:"fingerprint"`
	Features           []string        `json:"features"`
	DaysLeft           int             `json:"daysLeft"`
	*signing.SignedLicense
}

type CheckRequest struct {
	LicenseKey  string `json:"licenseKey"`
	Fingerprint string `json:"fingerprint"`
	Client      string `json:"client"`
}

type StatusRequest struct {
	LicenseKey  string `json:"licenseKey"`
	Fingerprint string `json:"fingerprint"`
	AppVersion  string `json:"appVersion"`
}

type DeactivateRequest struct {
	LicenseKey  string `json:"licenseKey"`
	Fingerprint string `json:"fingerprint"`
	Reason      string `json:"reason"`
}

type DeactivateResponse struct {
	OK       bool `json:"ok"`
	Released bool `json:"released"`
}
