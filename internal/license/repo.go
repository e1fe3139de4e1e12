package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/licserver/internal/postgres"
	"winsbygroup.com/licserver/internal/sqlite"
)

// errStale is returned by Update when the row's revision moved underneath the caller.
var errStale = errors.New("stale license revision")

// Writes that hit a busy database or a serialization failure are retried a
// few times before the error reaches the caller.
const (
	writeAttempts = 4
	writeBackoff  = 25 * time.Millisecond
)

func transient(err error) bool {
	return sqlite.IsBusy(err) || postgres.IsRetryable(err)
}

type Repository interface {
	GetByKey(ctx context.Context, key string) (*License, error)
	GetByEmail(ctx context.Context, email string) ([]License, error)
	List(ctx context.Context) ([]License, error)

	// Create inserts lic and fills in LicenseID.
	Create(ctx context.Context, lic *License) error
	// Update writes lic if its Revision still matches the stored one, then bumps lic.Revision.
	Update(ctx context.Context, lic *License) error
}

type repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repository {
	return &repo{db: db}
}

func (r *repo) GetByKey(ctx context.Context, key string) (*License, error) {
	var lic License
	err := r.db.GetContext(ctx, &lic, r.db.Rebind(getLicenseByKeySQL), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license by key: %w", err)
	}
	lic.utc()
	return &lic, nil
}

func (r *repo) GetByEmail(ctx context.Context, email string) ([]License, error) {
	var out []License
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(getLicensesByEmailSQL), email); err != nil {
		return nil, fmt.Errorf("get licenses by email: %w", err)
	}
	for i := range out {
		out[i].utc()
	}
	return out, nil
}

func (r *repo) List(ctx context.Context) ([]License, error) {
	var out []License
	if err := r.db.SelectContext(ctx, &out, getLicensesSQL); err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	for i := range out {
		out[i].utc()
	}
	return out, nil
}

func (r *repo) Create(ctx context.Context, lic *License) error {
	err := sqlite.Retry(ctx, writeAttempts, writeBackoff, transient, func() error {
		return r.db.GetContext(ctx, &lic.LicenseID, r.db.Rebind(createLicenseSQL),
			lic.LicenseKey,
			lic.Email,
			lic.Status,
			lic.ExpiresAt,
			lic.CreatedAt,
			lic.UpdatedAt,
		)
	})
	if sqlite.IsUniqueConstraintError(err) || postgres.IsUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	lic.Revision = 0
	return nil
}

func (r *repo) Update(ctx context.Context, lic *License) error {
	var res sql.Result
	err := sqlite.Retry(ctx, writeAttempts, writeBackoff, transient, func() (err error) {
		res, err = r.db.ExecContext(ctx, r.db.Rebind(updateLicenseSQL),
			lic.Email,
			lic.Status,
			lic.ExpiresAt,
			lic.UpdatedAt,
			lic.LicenseID,
			lic.Revision,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	if n == 0 {
		return errStale
	}
	lic.Revision++
	return nil
}
