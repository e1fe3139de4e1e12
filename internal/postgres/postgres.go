// Package postgres opens the Postgres-backed store used when DATABASE_URL is set.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/GuiaBolso/darwin"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"winsbygroup.com/licserver/internal/sqlite"
)

// Connect opens a pooled connection, pings it and applies migrations.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns / 2)
	}
	db.SetConnMaxIdleTime(15 * time.Minute)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func defineMigrations() []darwin.Migration {
	return []darwin.Migration{
		{Version: 1.01, Description: "Create Table 'license'", Script: `
		CREATE TABLE IF NOT EXISTS license (
			license_id BIGSERIAL PRIMARY KEY,
			license_key VARCHAR(64) NOT NULL UNIQUE,
			email VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL CHECK (status IN ('active','trial','canceled')),
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			revision BIGINT NOT NULL DEFAULT 0
		);`},

		{Version: 1.02, Description: "Create Index 'idx_license_email'", Script: `
		CREATE INDEX IF NOT EXISTS idx_license_email ON license (email);`},

		{Version: 1.03, Description: "Create Table 'activation'", Script: `
		CREATE TABLE IF NOT EXISTS activation (
			activation_id BIGSERIAL PRIMARY KEY,
			license_id BIGINT NOT NULL REFERENCES license (license_id) ON DELETE CASCADE,
			fingerprint VARCHAR(255) NOT NULL,
			first_seen_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(16) NOT NULL CHECK (status IN ('active','revoked'))
		);`},

		{Version: 1.04, Description: "Create Index 'idx_activation_license_id'", Script: `
		CREATE INDEX IF NOT EXISTS idx_activation_license_id ON activation (license_id);`},

		{Version: 1.05, Description: "Create Unique Index 'idx_activation_one_active'", Script: `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_activation_one_active ON activation (license_id) WHERE status = 'active';`},

		{Version: 1.06, Description: "Create Table 'trial_device'", Script: `
		CREATE TABLE IF NOT EXISTS trial_device (
			fingerprint VARCHAR(255) PRIMARY KEY,
			email VARCHAR(255) NOT NULL DEFAULT '',
			trial_started_at TIMESTAMPTZ NOT NULL,
			trial_expires_at TIMESTAMPTZ NOT NULL,
			client_version VARCHAR(64) NOT NULL DEFAULT '',
			last_ip VARCHAR(64) NOT NULL DEFAULT '',
			last_seen_at TIMESTAMPTZ NOT NULL
		);`},

		{Version: 1.07, Description: "Create Table 'activation_ping'", Script: `
		CREATE TABLE IF NOT EXISTS activation_ping (
			ping_id BIGSERIAL PRIMARY KEY,
			license_key VARCHAR(64) NOT NULL,
			fingerprint VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			seen_at TIMESTAMPTZ NOT NULL
		);`},

		{Version: 1.08, Description: "Create Table 'webhook_event'", Script: `
		CREATE TABLE IF NOT EXISTS webhook_event (
			event_id VARCHAR(36) PRIMARY KEY,
			event_type VARCHAR(255) NOT NULL DEFAULT '',
			classification VARCHAR(16) NOT NULL,
			email VARCHAR(255) NOT NULL DEFAULT '',
			applied_days INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		);`},

		{Version: 1.09, Description: "Create Table 'download'", Script: `
		CREATE TABLE IF NOT EXISTS download (
			download_id BIGSERIAL PRIMARY KEY,
			ip VARCHAR(64) NOT NULL DEFAULT '',
			user_agent VARCHAR(512) NOT NULL DEFAULT '',
			referer VARCHAR(512) NOT NULL DEFAULT '',
			downloaded_at TIMESTAMPTZ NOT NULL
		);`},

		{Version: 1.10, Description: "Create Table 'webhook_delivery'", Script: `
		CREATE TABLE IF NOT EXISTS webhook_delivery (
			delivery_key VARCHAR(255) NOT NULL,
			license_key VARCHAR(64) NOT NULL,
			claimed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (delivery_key, license_key)
		);`},
	}
}

// RunMigrations applies the Postgres schema with darwin's Postgres dialect.
func RunMigrations(db *sqlx.DB) error {
	migrations := defineMigrations()
	for i := range migrations {
		migrations[i].Script = sqlite.Minify(migrations[i].Script)
	}

	driver := darwin.NewGenericDriver(db.DB, darwin.PostgresDialect{})
	infoChan := make(chan darwin.MigrationInfo, len(migrations))
	d := darwin.New(driver, migrations, infoChan)

	if err := d.Migrate(); err != nil {
		close(infoChan)
		prog := sqlite.Progress(infoChan)
		log.Printf("postgres migration: %v (%s)", err, prog)
		return fmt.Errorf("migration error: %w\n%s", err, prog)
	}
	close(infoChan)

	log.Printf("Postgres schema at version %.2f", migrations[len(migrations)-1].Version)
	return nil
}

// IsUniqueViolation reports a unique_violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsRetryable reports serialization failures and deadlocks.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}
