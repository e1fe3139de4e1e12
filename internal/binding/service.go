package binding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/licserver/internal/license"
	"winsbygroup.com/licserver/internal/metrics"
	"winsbygroup.com/licserver/internal/normalize"
)

// LicenseReader is the slice of the license store the manager needs.
type LicenseReader interface {
	GetByKey(ctx context.Context, key string) (*license.License, error)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager enforces one active device per license.
type Manager struct {
	licenses LicenseReader
	repo     Repository
	now      func() time.Time
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewManager(licenses LicenseReader, repo Repository, opts ...Option) *Manager {
	m := &Manager{
		licenses: licenses,
		repo:     repo,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With(slog.String("component", "binding"))
	return m
}

func NewSQLManager(db *sqlx.DB, licenses LicenseReader, opts ...Option) *Manager {
	return NewManager(licenses, New(db), opts...)
}

// CheckAndBind decides whether the device may use the license now and records
// the binding. An empty fingerprint only checks that the license exists and is
// not canceled.
func (m *Manager) CheckAndBind(ctx context.Context, key, fingerprint string) (*Bound, error) {
	lic, err := m.licenses.GetByKey(ctx, key)
	switch {
	case errors.Is(err, license.ErrNotFound):
		m.metrics.Binding(metrics.BindNotFound)
		return nil, err
	case err != nil:
		m.metrics.Binding(metrics.BindError)
		return nil, err
	}
	if lic.Status == license.StatusCanceled {
		m.metrics.Binding(metrics.BindCanceled)
		return nil, license.ErrCanceled
	}

	fp := normalize.Fingerprint(fingerprint)
	if fp == "" {
		m.metrics.Binding(metrics.BindSkipped)
		return &Bound{License: lic}, nil
	}

	now := m.now().UTC().Truncate(time.Microsecond)
	act, created, err := m.repo.Bind(ctx, lic.LicenseID, fp, now)
	if errors.Is(err, ErrFingerprintConflict) {
		m.metrics.Binding(metrics.BindConflict)
		m.log.WarnContext(ctx, "fingerprint conflict",
			slog.String("license_key", lic.LicenseKey),
			slog.Int64("holder_activation_id", act.ActivationID))
		return nil, err
	}
	if err != nil {
		m.metrics.Binding(metrics.BindError)
		return nil, err
	}

	if created {
		m.metrics.Binding(metrics.BindCreated)
		m.log.InfoContext(ctx, "device bound",
			slog.String("license_key", lic.LicenseKey),
			slog.Int64("activation_id", act.ActivationID))
	} else {
		m.metrics.Binding(metrics.BindRefreshed)
	}
	return &Bound{License: lic, Activation: act, Created: created}, nil
}

// Release frees the license from the calling device. It reports false when
// that device was not the active one.
func (m *Manager) Release(ctx context.Context, key, fingerprint string) (bool, error) {
	lic, err := m.licenses.GetByKey(ctx, key)
	if err != nil {
		return false, err
	}
	fp := normalize.Fingerprint(fingerprint)
	if fp == "" {
		return false, nil
	}
	ok, err := m.repo.Release(ctx, lic.LicenseID, fp)
	if err != nil {
		return false, err
	}
	if ok {
		m.log.InfoContext(ctx, "device released", slog.String("license_key", lic.LicenseKey))
	}
	return ok, nil
}

// Revoke frees the license from whichever device holds it.
func (m *Manager) Revoke(ctx context.Context, key string) (int, error) {
	lic, err := m.licenses.GetByKey(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := m.repo.RevokeAll(ctx, lic.LicenseID)
	if err != nil {
		return 0, err
	}
	m.log.InfoContext(ctx, "activations revoked",
		slog.String("license_key", lic.LicenseKey),
		slog.Int("count", n))
	return n, nil
}

// List returns the license's activation history, oldest first.
func (m *Manager) List(ctx context.Context, key string) ([]Activation, error) {
	lic, err := m.licenses.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return m.repo.List(ctx, lic.LicenseID)
}
