package licclient

import (
	"crypto/rsa"
	"errors"
	"slices"
	"time"

	"winsbygroup.com/licserver/internal/normalize"
	"winsbygroup.com/licserver/internal/signing"
)

var (
	ErrBadSignature = signing.ErrInvalidSignature
	ErrExpired      = errors.New("license expired")
	ErrRevoked      = errors.New("license canceled")
	ErrWrongMachine = errors.New("license bound to another machine")
)

// Verify checks the signature of lic against pub.
func Verify(lic *SignedLicense, pub *rsa.PublicKey) error {
	if lic == nil {
		return ErrBadSignature
	}
	return signing.Verify(lic.Payload, lic.SignatureBase64, pub)
}

// Usable verifies lic and then checks that it grants use on this machine at
// now. It is what an application runs at startup without network access.
// A payload that names no machine is never usable.
func Usable(lic *SignedLicense, pub *rsa.PublicKey, fingerprint string, now time.Time) error {
	if err := Verify(lic, pub); err != nil {
		return err
	}
	p := lic.Payload
	if p.SubscriptionStatus == "canceled" {
		return ErrRevoked
	}
	if !p.ExpiresAtUTC.After(now) {
		return ErrExpired
	}
	if p.Fingerprint == nil || *p.Fingerprint != normalize.Fingerprint(fingerprint) {
		return ErrWrongMachine
	}
	return nil
}

// HasFeature reports whether the signed payload grants feature.
func HasFeature(p Payload, feature string) bool {
	return slices.Contains(p.Features, feature)
}
