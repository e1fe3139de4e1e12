package admin

import (
	"time"

	"winsbygroup.com/licserver/internal/license"
)

// -------------------------
// License DTOs
// -------------------------

type CreateLicenseRequest struct {
	LicenseKey string `json:"licenseKey" validate:"omitempty,max=64"`
	Email      string `json:"email" validate:"omitempty,email"`
	Status     string `json:"status" validate:"omitempty,oneof=active trial"`
	Days       int    `json:"days" validate:"required,min=1,max=36500"`
}

type RenewRequest struct {
	Email       string `json:"email" validate:"omitempty,email"`
	Fingerprint string `json:"fingerprint" validate:"omitempty,max=255"`
}

type ReissueRequest struct {
	Days int `json:"days" validate:"required,min=1,max=36500"`
}

type ProlongRequest struct {
	Email string `json:"email" validate:"required,email"`
	Days  int    `json:"days" validate:"required,ne=0,min=-36500,max=36500"`
}

// LicenseView is a license plus the values derived from the clock.
type LicenseView struct {
	license.License
	EffectiveStatus license.Status `json:"effectiveStatus"`
	IsActive        bool           `json:"isActive"`
}

func newLicenseView(l *license.License, now time.Time) LicenseView {
	return LicenseView{License: *l, EffectiveStatus: l.EffectiveStatus(now), IsActive: l.IsActive(now)}
}

type ProlongResponse struct {
	Email    string `json:"email"`
	Days     int    `json:"days"`
	Licenses int    `json:"licenses"`
}

type RevokeResponse struct {
	Revoked int `json:"revoked"`
}
