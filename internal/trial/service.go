package trial

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/licserver/internal/metrics"
	"winsbygroup.com/licserver/internal/normalize"
)

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
	repo    Repository
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "trial"))
	return s
}

func NewSQLService(db *sqlx.DB, opts ...Option) *Service {
	return NewService(New(db), opts...)
}

// GetOrStart returns the trial of fingerprint, starting one of trialDays when
// none exists. Concurrent callers all observe the first writer's window.
// The email is kept for reference only; trials are tied to the device.
func (s *Service) GetOrStart(ctx context.Context, fingerprint, email string, trialDays int) (*Device, error) {
	fp := normalize.Fingerprint(fingerprint)
	if fp == "" {
		return nil, ErrFingerprintRequired
	}

	d, err := s.repo.Get(ctx, fp)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	inserted, err := s.repo.Insert(ctx, &Device{
		Fingerprint:    fp,
		Email:          normalize.Email(email),
		TrialStartedAt: now,
		TrialExpiresAt: now.AddDate(0, 0, trialDays),
		LastSeenAt:     now,
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		s.metrics.TrialStarted()
		s.log.InfoContext(ctx, "trial started",
			slog.Int("days", trialDays),
			slog.Time("expires_at", now.AddDate(0, 0, trialDays)))
	}

	// winner or loser, the stored row is authoritative
	return s.repo.Get(ctx, fp)
}

// RecordSeen updates the telemetry columns of an existing trial.
// It never starts a trial and never moves its window.
func (s *Service) RecordSeen(ctx context.Context, fingerprint, clientVersion, ip string) error {
	fp := normalize.Fingerprint(fingerprint)
	if fp == "" {
		return nil
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	_, err := s.repo.Touch(ctx, fp, clientVersion, ip, now)
	return err
}
