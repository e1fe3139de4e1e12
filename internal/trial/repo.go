package trial

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Get(ctx context.Context, fingerprint string) (*Device, error)
	// Insert stores d unless the fingerprint already has a trial.
	Insert(ctx context.Context, d *Device) (bool, error)
	Touch(ctx context.Context, fingerprint, clientVersion, ip string, now time.Time) (bool, error)
}

type repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repository {
	return &repo{db: db}
}

func (r *repo) Get(ctx context.Context, fingerprint string) (*Device, error) {
	var d Device
	err := r.db.GetContext(ctx, &d, r.db.Rebind(getTrialDeviceSQL), fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trial device: %w", err)
	}
	d.utc()
	return &d, nil
}

func (r *repo) Insert(ctx context.Context, d *Device) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(insertTrialDeviceSQL),
		d.Fingerprint,
		d.Email,
		d.TrialStartedAt,
		d.TrialExpiresAt,
		d.ClientVersion,
		d.LastIP,
		d.LastSeenAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert trial device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert trial device: %w", err)
	}
	return n == 1, nil
}

func (r *repo) Touch(ctx context.Context, fingerprint, clientVersion, ip string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(touchTrialDeviceSQL),
		clientVersion, clientVersion,
		ip, ip,
		now,
		fingerprint,
	)
	if err != nil {
		return false, fmt.Errorf("touch trial device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch trial device: %w", err)
	}
	return n > 0, nil
}
