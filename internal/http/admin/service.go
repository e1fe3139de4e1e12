package admin

import (
	"context"
	"time"

	"winsbygroup.com/licserver/internal/activation"
	"winsbygroup.com/licserver/internal/backup"
	"winsbygroup.com/licserver/internal/binding"
	"winsbygroup.com/licserver/internal/eventlog"
	"winsbygroup.com/licserver/internal/license"
)

const day = 24 * time.Hour

type Service struct {
	licenses   *license.Service
	activation *activation.Service
	bindings   *binding.Manager
	events     *eventlog.Log
	backups    *backup.Service
}

// NewService wires the admin operations. backups may be nil when the store
// is not sqlite.
func NewService(
	lic *license.Service,
	act *activation.Service,
	b *binding.Manager,
	ev *eventlog.Log,
	bk *backup.Service,
) *Service {
	return &Service{
		licenses:   lic,
		activation: act,
		bindings:   b,
		events:     ev,
		backups:    bk,
	}
}

// -------------------------
// Licenses
// -------------------------

func (s *Service) ListLicenses(ctx context.Context) ([]LicenseView, error) {
	lics, err := s.licenses.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.licenses.Now()
	out := make([]LicenseView, 0, len(lics))
	for i := range lics {
		out = append(out, newLicenseView(&lics[i], now))
	}
	return out, nil
}

func (s *Service) GetLicense(ctx context.Context, key string) (*LicenseView, error) {
	return s.view(s.licenses.GetByKey(ctx, key))
}

func (s *Service) CreateLicense(ctx context.Context, req *CreateLicenseRequest) (*LicenseView, error) {
	return s.view(s.licenses.Issue(ctx, license.IssueParams{
		Key:      req.LicenseKey,
		Email:    req.Email,
		Status:   license.Status(req.Status),
		Duration: time.Duration(req.Days) * day,
	}))
}

func (s *Service) RenewLicense(ctx context.Context, key string, req *RenewRequest) (*LicenseView, error) {
	return s.view(s.activation.Renew(ctx, key, req.Email, req.Fingerprint))
}

func (s *Service) ReissueLicense(ctx context.Context, key string, req *ReissueRequest) (*LicenseView, error) {
	return s.view(s.licenses.Reissue(ctx, key, time.Duration(req.Days)*day))
}

func (s *Service) DeactivateLicense(ctx context.Context, key string) (*LicenseView, error) {
	return s.view(s.licenses.Deactivate(ctx, key))
}

func (s *Service) Prolong(ctx context.Context, req *ProlongRequest) (*ProlongResponse, error) {
	n, err := s.licenses.ProlongByEmail(ctx, req.Email, time.Duration(req.Days)*day)
	if err != nil {
		return nil, err
	}
	return &ProlongResponse{Email: req.Email, Days: req.Days, Licenses: n}, nil
}

func (s *Service) view(l *license.License, err error) (*LicenseView, error) {
	if err != nil {
		return nil, err
	}
	v := newLicenseView(l, s.licenses.Now())
	return &v, nil
}

// -------------------------
// Activations
// -------------------------

func (s *Service) GetActivations(ctx context.Context, key string) ([]binding.Activation, error) {
	return s.bindings.List(ctx, key)
}

func (s *Service) RevokeActivation(ctx context.Context, key string) (*RevokeResponse, error) {
	n, err := s.bindings.Revoke(ctx, key)
	if err != nil {
		return nil, err
	}
	return &RevokeResponse{Revoked: n}, nil
}

// -------------------------
// Events and backup
// -------------------------

func (s *Service) RecentWebhooks(ctx context.Context, limit int) ([]eventlog.WebhookEvent, error) {
	return s.events.RecentWebhooks(ctx, limit)
}

func (s *Service) Backup(ctx context.Context) (*backup.BackupResult, error) {
	return s.backups.CreateBackup(ctx)
}
