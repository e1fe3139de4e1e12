package binding

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

// A bind transaction that loses to a lock or a serialization failure is
// rerun from the top a few times before the error reaches the caller.
const (
	bindAttempts = 4
	bindBackoff  = 25 * time.Millisecond
)

func transient(err error) bool {
	return sqlite.IsBusy(err) || postgres.IsRetryable(err)
}

type Repository interface {
	// Bind makes fingerprint the active device of the license, or refreshes
	// last_seen_at when it already is. Any other active device yields
	// ErrFingerprintConflict and the returned activation is the holder's.
	// The lookup and the write happen as one atomic unit.
	Bind(ctx context.Context, licenseID int64, fingerprint string, now time.Time) (act *Activation, created bool, err error)

	Release(ctx context.Context, licenseID int64, fingerprint string) (bool, error)
	RevokeAll(ctx context.Context, licenseID int64) (int, error)
	List(ctx context.Context, licenseID int64) ([]Activation, error)
}

type repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repository {
	return &repo{db: db}
}

func (r *repo) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *repo) Bind(ctx context.Context, licenseID int64, fingerprint string, now time.Time) (*Activation, bool, error) {
	var (
		cur     Activation
		created bool
	)
	err := sqlite.Retry(ctx, bindAttempts, bindBackoff, transient, func() error {
		return r.withTx(ctx, func(tx *sqlx.Tx) (err error) {
			cur, created, err = bind(ctx, tx, licenseID, fingerprint, now)
			return err
		})
	})
	cur.utc()
	if errors.Is(err, ErrFingerprintConflict) {
		return &cur, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return &cur, created, nil
}

// bind is one attempt of Bind inside tx.
func bind(ctx context.Context, tx *sqlx.Tx, licenseID int64, fingerprint string, now time.Time) (Activation, bool, error) {
	var (
		cur     Activation
		created bool
	)
	err := tx.GetContext(ctx, &cur, tx.Rebind(getActiveActivationSQL), licenseID)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx, tx.Rebind(insertActivationSQL), licenseID, fingerprint, now, now)
		if err != nil {
			return cur, false, fmt.Errorf("insert activation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return cur, false, fmt.Errorf("insert activation: %w", err)
		}
		created = n == 1

		// re-read: either our row or the one that beat us to the index
		err = tx.GetContext(ctx, &cur, tx.Rebind(getActiveActivationSQL), licenseID)
		if err != nil {
			return cur, false, fmt.Errorf("get active activation: %w", err)
		}
	} else if err != nil {
		return cur, false, fmt.Errorf("get active activation: %w", err)
	}

	if cur.Fingerprint != fingerprint {
		return cur, false, ErrFingerprintConflict
	}
	if created {
		return cur, true, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(touchActivationSQL), now, cur.ActivationID); err != nil {
		return cur, false, fmt.Errorf("touch activation: %w", err)
	}
	cur.LastSeenAt = now
	return cur, false, nil
}

func (r *repo) Release(ctx context.Context, licenseID int64, fingerprint string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(releaseActivationSQL), licenseID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("release activation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release activation: %w", err)
	}
	return n > 0, nil
}

func (r *repo) RevokeAll(ctx context.Context, licenseID int64) (int, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(revokeActivationsSQL), licenseID)
	if err != nil {
		return 0, fmt.Errorf("revoke activations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke activations: %w", err)
	}
	return int(n), nil
}

func (r *repo) List(ctx context.Context, licenseID int64) ([]Activation, error) {
	var out []Activation
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(getActivationsSQL), licenseID); err != nil {
		return nil, fmt.Errorf("get activations: %w", err)
	}
	for i := range out {
		out[i].utc()
	}
	return out, nil
}
