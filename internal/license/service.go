package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"winsbygroup.com/licserver/internal/normalize"
)

// maxAttempts bounds the read-modify-write loop of a revision compare-and-swap.
const maxAttempts = 8

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRenewalWindow sets the duration a renewal guarantees from now.
func WithRenewalWindow(d time.Duration) Option {
	return func(s *Service) { s.window = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

type Service struct {
	repo   Repository
	now    func() time.Time
	window time.Duration
	log    *slog.Logger
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		now:    time.Now,
		window: 30 * 24 * time.Hour,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "license"))
	return s
}

// NewSQLService is NewService over the sqlx repository.
func NewSQLService(db *sqlx.DB, opts ...Option) *Service {
	return NewService(New(db), opts...)
}

// Now is the service clock in UTC at the precision every backend can store.
func (s *Service) Now() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) GetByKey(ctx context.Context, key string) (*License, error) {
	key = normalize.Key(key)
	if key == "" {
		return nil, ErrNotFound
	}
	return s.repo.GetByKey(ctx, key)
}

func (s *Service) List(ctx context.Context) ([]License, error) {
	return s.repo.List(ctx)
}

// mutate reloads the license and reapplies fn until the revision check passes.
// fn reports whether it changed anything; unchanged licenses are not written.
func (s *Service) mutate(ctx context.Context, key string, fn func(lic *License, now time.Time) (bool, error)) (*License, error) {
	key = normalize.Key(key)
	if key == "" {
		return nil, ErrNotFound
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lic, err := s.repo.GetByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		now := s.Now()
		changed, err := fn(lic, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			return lic, nil
		}
		lic.UpdatedAt = now
		err = s.repo.Update(ctx, lic)
		if errors.Is(err, errStale) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return lic, nil
	}
	return nil, ErrConflict
}

// IssueOrRenew renews an existing, non-canceled license so that it runs for at
// least the renewal window from now. Unknown keys are rejected with ErrNotFound.
// Expiry never moves backwards.
func (s *Service) IssueOrRenew(ctx context.Context, key, email string) (*License, error) {
	email = normalize.Email(email)
	lic, err := s.mutate(ctx, key, func(lic *License, now time.Time) (bool, error) {
		if lic.Status == StatusCanceled {
			return false, ErrCanceled
		}
		if target := now.Add(s.window); target.After(lic.ExpiresAt) {
			lic.ExpiresAt = target
		}
		lic.Status = StatusActive
		if email != "" {
			lic.Email = email
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "license renewed",
		slog.String("license_key", lic.LicenseKey),
		slog.Time("expires_at", lic.ExpiresAt))
	return lic, nil
}

// Deactivate cancels the license and pulls its expiry back to now at the latest.
// Canceling a canceled license is a no-op.
func (s *Service) Deactivate(ctx context.Context, key string) (*License, error) {
	lic, err := s.mutate(ctx, key, func(lic *License, now time.Time) (bool, error) {
		if lic.Status == StatusCanceled {
			return false, nil
		}
		lic.Status = StatusCanceled
		if lic.ExpiresAt.After(now) {
			lic.ExpiresAt = now
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "license deactivated", slog.String("license_key", lic.LicenseKey))
	return lic, nil
}

// Reissue is the only operation that brings a canceled license back.
func (s *Service) Reissue(ctx context.Context, key string, d time.Duration) (*License, error) {
	if d <= 0 {
		return nil, ErrInvalidTerm
	}
	lic, err := s.mutate(ctx, key, func(lic *License, now time.Time) (bool, error) {
		lic.Status = StatusActive
		lic.ExpiresAt = now.Add(d)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "license reissued",
		slog.String("license_key", lic.LicenseKey),
		slog.Time("expires_at", lic.ExpiresAt))
	return lic, nil
}

// AttachEmail records an owner on a license that has none.
// An existing owner is never replaced.
func (s *Service) AttachEmail(ctx context.Context, key, email string) (*License, error) {
	email = normalize.Email(email)
	return s.mutate(ctx, key, func(lic *License, _ time.Time) (bool, error) {
		if email == "" || lic.Email != "" {
			return false, nil
		}
		lic.Email = email
		return true, nil
	})
}

type IssueParams struct {
	Key      string // generated when empty
	Email    string
	Status   Status // active unless trial is asked for
	Duration time.Duration
}

// Issue creates a new license.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*License, error) {
	if p.Duration <= 0 {
		return nil, ErrInvalidTerm
	}
	key := normalize.Key(p.Key)
	if key == "" {
		key = GenerateKey()
	}
	status := p.Status
	if status != StatusTrial {
		status = StatusActive
	}
	now := s.Now()
	lic := &License{
		LicenseKey: key,
		Email:      normalize.Email(p.Email),
		Status:     status,
		ExpiresAt:  now.Add(p.Duration),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, lic); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "license issued",
		slog.String("license_key", lic.LicenseKey),
		slog.String("status", string(lic.Status)))
	return lic, nil
}

// OwnedKeys lists the keys of every license owned by email.
func (s *Service) OwnedKeys(ctx context.Context, email string) ([]string, error) {
	email = normalize.Email(email)
	if email == "" {
		return nil, nil
	}
	owned, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(owned))
	for _, o := range owned {
		keys = append(keys, o.LicenseKey)
	}
	return keys, nil
}

// Prolong shifts the expiry of one license owned by email.
// A positive delta extends from max(expiry, now), so a lapsed license restarts
// from now. A negative delta moves expiry back but never more than |delta|
// before now. Status is left alone. It reports false when the license is gone
// or belongs to someone else.
func (s *Service) Prolong(ctx context.Context, key, email string, delta time.Duration) (bool, error) {
	if delta == 0 {
		return false, nil
	}
	return s.changeOwned(ctx, key, email, func(lic *License, now time.Time) bool {
		lic.ExpiresAt = shift(lic.ExpiresAt, now, delta)
		return true
	})
}

// Expire ends one license owned by email: its expiry becomes now minus
// backdate unless it already lies earlier, so the license reads as inactive
// whatever its remaining term was. Status is left alone and a later renewal
// restarts it from now.
func (s *Service) Expire(ctx context.Context, key, email string, backdate time.Duration) (bool, error) {
	if backdate < 0 {
		backdate = -backdate
	}
	return s.changeOwned(ctx, key, email, func(lic *License, now time.Time) bool {
		target := now.Add(-backdate)
		if !lic.ExpiresAt.After(target) {
			return false
		}
		lic.ExpiresAt = target
		return true
	})
}

func (s *Service) changeOwned(ctx context.Context, key, email string, fn func(lic *License, now time.Time) bool) (bool, error) {
	email = normalize.Email(email)
	if email == "" {
		return false, nil
	}
	owned := false
	_, err := s.mutate(ctx, key, func(lic *License, now time.Time) (bool, error) {
		owned = lic.Email == email
		if !owned {
			return false, nil
		}
		return fn(lic, now), nil
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owned, nil
}

// ProlongByEmail applies Prolong to every license owned by email and returns
// how many it touched.
func (s *Service) ProlongByEmail(ctx context.Context, email string, delta time.Duration) (int, error) {
	if delta == 0 {
		return 0, nil
	}
	n, err := s.byEmail(ctx, "prolong", email, func(key, email string) (bool, error) {
		return s.Prolong(ctx, key, email, delta)
	})
	if err != nil {
		return n, err
	}
	s.log.InfoContext(ctx, "licenses prolonged",
		slog.String("email", normalize.Email(email)),
		slog.Duration("delta", delta),
		slog.Int("count", n))
	return n, nil
}

// ExpireByEmail applies Expire to every license owned by email and returns
// how many it touched.
func (s *Service) ExpireByEmail(ctx context.Context, email string, backdate time.Duration) (int, error) {
	n, err := s.byEmail(ctx, "expire", email, func(key, email string) (bool, error) {
		return s.Expire(ctx, key, email, backdate)
	})
	if err != nil {
		return n, err
	}
	s.log.InfoContext(ctx, "licenses expired",
		slog.String("email", normalize.Email(email)),
		slog.Int("count", n))
	return n, nil
}

func (s *Service) byEmail(ctx context.Context, op, email string, apply func(key, email string) (bool, error)) (int, error) {
	keys, err := s.OwnedKeys(ctx, email)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, key := range keys {
		ok, err := apply(key, email)
		if err != nil {
			return n, fmt.Errorf("%s %s: %w", op, key, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func shift(expires, now time.Time, delta time.Duration) time.Time {
	if delta > 0 {
		if expires.Before(now) {
			expires = now
		}
		return expires.Add(delta)
	}
	moved := expires.Add(delta)
	if floor := now.Add(delta); moved.Before(floor) {
		return floor
	}
	return moved
}

// GenerateKey returns a random key in the XXXXX-XXXXX-XXXXX-XXXXX form.
func GenerateKey() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return raw[0:5] + "-" + raw[5:10] + "-" + raw[10:15] + "-" + raw[15:20]
}
