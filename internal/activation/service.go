// Package activation answers the client application's license calls by
// composing the license, binding, trial, signing and event log services.
package activation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"winsbygroup.com/licserver/internal/binding"
	"winsbygroup.com/licserver/internal/eventlog"
	"winsbygroup.com/licserver/internal/license"
	"winsbygroup.com/licserver/internal/metrics"
	"winsbygroup.com/licserver/internal/normalize"
	"winsbygroup.com/licserver/internal/signing"
	"winsbygroup.com/licserver/internal/trial"
)

// TrialLicenseID is the license id carried by every signed trial payload.
const TrialLicenseID = "TRIAL"

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = mt }
}

type Service struct {
	cfg      Config
	licenses *license.Service
	bindings *binding.Manager
	trials   *trial.Service
	signer   *signing.Signer
	events   *eventlog.Log
	now      func() time.Time
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewService(
	cfg Config,
	licenses *license.Service,
	bindings *binding.Manager,
	trials *trial.Service,
	signer *signing.Signer,
	events *eventlog.Log,
	opts ...Option,
) *Service {
	if cfg.NextCheckSeconds <= 0 {
		cfg.NextCheckSeconds = 43200
	}
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 7
	}
	s := &Service{
		cfg:      cfg,
		licenses: licenses,
		bindings: bindings,
		trials:   trials,
		signer:   signer,
		events:   events,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "activation"))
	return s
}

func (s *Service) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Activate binds fingerprint to the license and returns a signed snapshot.
// It does not extend the license; renewal belongs to the billing side.
// A signed paid license always names the machine it was bound to.
func (s *Service) Activate(ctx context.Context, key, email, fingerprint string) (*signing.SignedLicense, error) {
	if normalize.Key(key) == "" {
		return nil, ErrKeyRequired
	}
	if normalize.Fingerprint(fingerprint) == "" {
		return nil, ErrFingerprintRequired
	}
	bound, err := s.bindings.CheckAndBind(ctx, key, fingerprint)
	if err != nil {
		return nil, err
	}
	lic := bound.License
	if lic.Email == "" && normalize.Email(email) != "" {
		if lic, err = s.licenses.AttachEmail(ctx, lic.LicenseKey, email); err != nil {
			return nil, err
		}
	}

	signed, err := s.signLicense(lic, fingerprint)
	if err != nil {
		return nil, err
	}
	if err := s.ping(ctx, lic, fingerprint); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "license activated",
		slog.String("license_key", lic.LicenseKey),
		slog.Bool("new_device", bound.Created))
	return signed, nil
}

// Validate checks a license when key is given and the device trial otherwise.
func (s *Service) Validate(ctx context.Context, key, email, fingerprint string) (*Validation, error) {
	if normalize.Key(key) != "" {
		if normalize.Fingerprint(fingerprint) == "" {
			return nil, ErrFingerprintRequired
		}
		bound, err := s.bindings.CheckAndBind(ctx, key, fingerprint)
		if err != nil {
			return nil, err
		}
		signed, err := s.signLicense(bound.License, fingerprint)
		if err != nil {
			return nil, err
		}
		if err := s.ping(ctx, bound.License, fingerprint); err != nil {
			return nil, err
		}
		now := s.licenses.Now()
		return &Validation{
			OK:       bound.License.IsActive(now),
			Plan:     PlanSubscription,
			DaysLeft: daysUntil(bound.License.ExpiresAt, now),
			Signed:   signed,
		}, nil
	}

	dev, err := s.trials.GetOrStart(ctx, fingerprint, email, s.cfg.TrialDays)
	if err != nil {
		return nil, err
	}
	signed, err := s.signTrial(dev, email)
	if err != nil {
		return nil, err
	}
	now := s.licenses.Now()
	return &Validation{
		OK:       dev.IsActive(now),
		Plan:     PlanTrial,
		DaysLeft: dev.DaysLeft(now),
		Signed:   signed,
	}, nil
}

// Check is the periodic ping. Binding problems are answered in-band so the
// client can downgrade without treating the call as failed. Unknown keys and
// store failures are still returned as errors.
func (s *Service) Check(ctx context.Context, key, fingerprint, client, ip string) (*CheckResult, error) {
	res := &CheckResult{Plan: PlanSubscription, NextCheckSeconds: s.cfg.NextCheckSeconds}

	if normalize.Key(key) != "" {
		if normalize.Fingerprint(fingerprint) == "" {
			return nil, ErrFingerprintRequired
		}
		bound, err := s.bindings.CheckAndBind(ctx, key, fingerprint)
		switch {
		case errors.Is(err, binding.ErrFingerprintConflict):
			res.Error = CodeBoundElsewhere
			return res, nil
		case errors.Is(err, license.ErrCanceled):
			res.Error = CodeCanceled
			return res, nil
		case err != nil:
			return nil, err
		}
		lic := bound.License
		res.Active = lic.IsActive(s.licenses.Now())
		res.ExpiresAt = &lic.ExpiresAt
		if res.Active && bound.Activation != nil {
			if err := s.ping(ctx, lic, fingerprint); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	if normalize.Fingerprint(fingerprint) == "" {
		return res, nil
	}
	dev, err := s.trials.GetOrStart(ctx, fingerprint, "", s.cfg.TrialDays)
	if err != nil {
		return nil, err
	}
	s.seen(ctx, fingerprint, client, ip)
	res.Plan = PlanTrial
	res.Active = dev.IsActive(s.licenses.Now())
	res.ExpiresAt = &dev.TrialExpiresAt
	return res, nil
}

// Status reports the license when key is given and the device trial
// otherwise. The trial window always comes from the store.
func (s *Service) Status(ctx context.Context, key, fingerprint, appVersion, ip string) (*StatusReport, error) {
	now := s.licenses.Now()
	if normalize.Key(key) != "" {
		lic, err := s.licenses.GetByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		owner := signing.Optional(lic.Email)
		return &StatusReport{
			Plan:               PlanSubscription,
			SubscriptionStatus: string(lic.EffectiveStatus(now)),
			ExpiresAt:          lic.ExpiresAt,
			IsActive:           lic.IsActive(now),
			DaysLeft:           daysUntil(lic.ExpiresAt, now),
			CustomerName:       owner,
			CustomerEmail:      owner,
			Features:           s.features(s.cfg.PaidFeatures),
		}, nil
	}

	dev, err := s.trials.GetOrStart(ctx, fingerprint, "", s.cfg.TrialDays)
	if err != nil {
		return nil, err
	}
	s.seen(ctx, fingerprint, appVersion, ip)
	started := dev.TrialStartedAt
	status := string(license.StatusTrial)
	if !dev.IsActive(now) {
		status = string(license.StatusCanceled)
	}
	return &StatusReport{
		Plan:               PlanTrial,
		SubscriptionStatus: status,
		TrialStartedAt:     &started,
		ExpiresAt:          dev.TrialExpiresAt,
		IsActive:           dev.IsActive(now),
		DaysLeft:           dev.DaysLeft(now),
		Features:           s.features(s.cfg.TrialFeatures),
	}, nil
}

// Release frees the license from the calling device so another can activate.
func (s *Service) Release(ctx context.Context, key, fingerprint string) (bool, error) {
	if normalize.Key(key) == "" {
		return false, ErrKeyRequired
	}
	if normalize.Fingerprint(fingerprint) == "" {
		return false, ErrFingerprintRequired
	}
	return s.bindings.Release(ctx, key, fingerprint)
}

// Renew extends the license by the renewal window and, when a fingerprint is
// given, binds it in the same call.
func (s *Service) Renew(ctx context.Context, key, email, fingerprint string) (*license.License, error) {
	lic, err := s.licenses.IssueOrRenew(ctx, key, email)
	if err != nil {
		return nil, err
	}
	if normalize.Fingerprint(fingerprint) == "" {
		return lic, nil
	}
	bound, err := s.bindings.CheckAndBind(ctx, key, fingerprint)
	if err != nil {
		return nil, err
	}
	return bound.License, nil
}

func (s *Service) signLicense(lic *license.License, fingerprint string) (*signing.SignedLicense, error) {
	now := s.licenses.Now()
	signed, err := s.signer.Sign(signing.Payload{
		LicenseID:          lic.LicenseKey,
		SubscriptionStatus: string(lic.EffectiveStatus(now)),
		ExpiresAtUTC:       lic.ExpiresAt,
		Email:              signing.Optional(lic.Email),
		Fingerprint:        signing.Optional(normalize.Fingerprint(fingerprint)),
		IssuedAtUTC:        s.stamp(),
		Features:           s.features(s.cfg.PaidFeatures),
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Signed(string(PlanSubscription))
	return signed, nil
}

func (s *Service) signTrial(dev *trial.Device, email string) (*signing.SignedLicense, error) {
	status := string(license.StatusTrial)
	if !dev.IsActive(s.licenses.Now()) {
		status = string(license.StatusCanceled)
	}
	signed, err := s.signer.Sign(signing.Payload{
		LicenseID:          TrialLicenseID,
		SubscriptionStatus: status,
		ExpiresAtUTC:       dev.TrialExpiresAt,
		Email:              signing.Optional(normalize.Email(email)),
		Fingerprint:        signing.Optional(dev.Fingerprint),
		IssuedAtUTC:        s.stamp(),
		Features:           s.features(s.cfg.TrialFeatures),
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Signed(string(PlanTrial))
	return signed, nil
}

// ping records a best-effort activation ping. Only a non-log error escapes.
func (s *Service) ping(ctx context.Context, lic *license.License, fingerprint string) error {
	fp := normalize.Fingerprint(fingerprint)
	if fp == "" || s.events == nil {
		return nil
	}
	return s.events.RecordPing(ctx, lic.LicenseKey, fp, string(lic.EffectiveStatus(s.licenses.Now())))
}

// seen refreshes trial telemetry. Failures are logged and dropped.
func (s *Service) seen(ctx context.Context, fingerprint, clientVersion, ip string) {
	if err := s.trials.RecordSeen(ctx, fingerprint, clientVersion, ip); err != nil {
		s.metrics.BestEffortFailed("trial seen")
		s.log.WarnContext(ctx, "trial telemetry dropped", slog.String("error", err.Error()))
	}
}

func (s *Service) features(src []string) []string {
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func daysUntil(t, now time.Time) int {
	left := t.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + 24*time.Hour - 1) / (24 * time.Hour))
}
