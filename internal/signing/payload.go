package signing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimeFormat is the timestamp layout of the signed payload, always UTC.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Payload is the license snapshot a client verifies offline.
type Payload struct {
	LicenseID          string
	SubscriptionStatus string
	ExpiresAtUTC       time.Time
	Email              *string
	Fingerprint        *string
	IssuedAtUTC        time.Time
	Features           []string
}

// SignedLicense is the payload plus the signature over its canonical bytes.
type SignedLicense struct {
	Payload         Payload `json:"payload"`
	SignatureBase64 string  `json:"signatureBase64"`
}

// wire fixes the field order of the canonical encoding.
type wire struct {
	LicenseID          string   `json:"licenseId"`
	SubscriptionStatus string   `json:"subscriptionStatus"`
	ExpiresAtUTC       string   `json:"expiresAtUtc"`
	Email              *string  `json:"email"`
	Fingerprint        *string  `json:"fingerprint"`
	IssuedAtUTC        string   `json:"issuedAtUtc"`
	Features           []string `json:"features"`
}

// Canonical returns the exact bytes that are signed: compact JSON in a fixed
// field order, millisecond UTC timestamps, nulls for absent email and
// fingerprint, and [] for no features.
func (p Payload) Canonical() ([]byte, error) {
	w := wire{
		LicenseID:          p.LicenseID,
		SubscriptionStatus: p.SubscriptionStatus,
		ExpiresAtUTC:       p.ExpiresAtUTC.UTC().Format(TimeFormat),
		Email:              p.Email,
		Fingerprint:        p.Fingerprint,
		IssuedAtUTC:        p.IssuedAtUTC.UTC().Format(TimeFormat),
		Features:           p.Features,
	}
	if w.Features == nil {
		w.Features = []string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return p.Canonical()
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	exp, err := time.Parse(TimeFormat, w.ExpiresAtUTC)
	if err != nil {
		return fmt.Errorf("expiresAtUtc: %w", err)
	}
	iss, err := time.Parse(TimeFormat, w.IssuedAtUTC)
	if err != nil {
		return fmt.Errorf("issuedAtUtc: %w", err)
	}
	*p = Payload{
		LicenseID:          w.LicenseID,
		SubscriptionStatus: w.SubscriptionStatus,
		ExpiresAtUTC:       exp,
		Email:              w.Email,
		Fingerprint:        w.Fingerprint,
		IssuedAtUTC:        iss,
		Features:           w.Features,
	}
	return nil
}

// Optional turns an empty string into a JSON null.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
