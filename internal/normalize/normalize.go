// Package normalize canonicalizes the client supplied identifiers that are
// compared case-insensitively: fingerprints, emails and billing event names.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold trims s and applies Unicode case folding.
// A Caser keeps state, so a fresh one is built per call.
func Fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}

// Fingerprint returns the stored form of a device fingerprint.
func Fingerprint(s string) string { return Fold(s) }

// Email returns the stored form of an owner email.
func Email(s string) string { return Fold(s) }

// Key returns the stored form of a license key.
func Key(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
