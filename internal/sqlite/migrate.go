package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/GuiaBolso/darwin"
	_ "github.com/mattn/go-sqlite3"
)

// ApplicationID is the SQLite application_id for licserver databases.
// "LICS" in ASCII: L=0x4C, I=0x49, C=0x43, S=0x53
const ApplicationID = 0x4C494353

// ErrInvalidDatabase is returned when the database is not a valid licserver database.
var ErrInvalidDatabase = errors.New("not a valid 'licserver' database")

// defineMigrations returns a slice of database migrations
// Each migration is defined in a separate row (versioned by major db release)
// comments must only appear after sql on a line and cannot span lines (comments are stripped before checksum calc)
// *NEVER* change/remove a step once released! (because a checksum of the script is saved with the migration)
func defineMigrations() []darwin.Migration {
	m := []darwin.Migration{

		// Each database change release is given a major version number (1.xx, 2.xx) with minor numbers (x.01, x.02)
		// representing the actual migration steps within that release. Version numbers must be ascending.

		{Version: 1.00, Description: "Set application_id", Script: `
		PRAGMA application_id = 0x4C494353;`},

		{Version: 1.01, Description: "Create Table 'license'", Script: `
		CREATE TABLE IF NOT EXISTS license (
			license_id INTEGER PRIMARY KEY AUTOINCREMENT,
			license_key VARCHAR(64) NOT NULL UNIQUE,
			email VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL CHECK (status IN ('active','trial','canceled')),
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0
		);`},

		{Version: 1.02, Description: "Create Index 'idx_license_email'", Script: `
		CREATE INDEX IF NOT EXISTS idx_license_email ON license (email ASC);`},

		{Version: 1.03, Description: "Create Table 'activation'", Script: `
		CREATE TABLE IF NOT EXISTS activation (
			activation_id INTEGER PRIMARY KEY AUTOINCREMENT,
			license_id INTEGER NOT NULL,
			fingerprint VARCHAR(255) NOT NULL,
			first_seen_at TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP NOT NULL,
			status VARCHAR(16) NOT NULL CHECK (status IN ('active','revoked')),
			FOREIGN KEY (license_id) REFERENCES license (license_id) ON DELETE CASCADE
		);`},

		{Version: 1.04, Description: "Create Index 'idx_activation_license_id'", Script: `
		CREATE INDEX IF NOT EXISTS idx_activation_license_id ON activation (license_id ASC);`},

		// at most one active device per license, enforced by the engine itself
		{Version: 1.05, Description: "Create Unique Index 'idx_activation_one_active'", Script: `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_activation_one_active ON activation (license_id) WHERE status = 'active';`},

		{Version: 1.06, Description: "Create Table 'trial_device'", Script: `
		CREATE TABLE IF NOT EXISTS trial_device (
			fingerprint VARCHAR(255) PRIMARY KEY,
			email VARCHAR(255) NOT NULL DEFAULT '',
			trial_started_at TIMESTAMP NOT NULL,
			trial_expires_at TIMESTAMP NOT NULL,
			client_version VARCHAR(64) NOT NULL DEFAULT '',
			last_ip VARCHAR(64) NOT NULL DEFAULT '',
			last_seen_at TIMESTAMP NOT NULL
		);`},

		{Version: 1.07, Description: "Create Table 'activation_ping'", Script: `
		CREATE TABLE IF NOT EXISTS activation_ping (
			ping_id INTEGER PRIMARY KEY AUTOINCREMENT,
			license_key VARCHAR(64) NOT NULL,
			fingerprint VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			seen_at TIMESTAMP NOT NULL
		);`},

		{Version: 1.08, Description: "Create Table 'webhook_event'", Script: `
		CREATE TABLE IF NOT EXISTS webhook_event (
			event_id VARCHAR(36) PRIMARY KEY,
			event_type VARCHAR(255) NOT NULL DEFAULT '',
			classification VARCHAR(16) NOT NULL,
			email VARCHAR(255) NOT NULL DEFAULT '',
			applied_days INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL
		);`},

		{Version: 1.09, Description: "Create Table 'download'", Script: `
		CREATE TABLE IF NOT EXISTS download (
			download_id INTEGER PRIMARY KEY AUTOINCREMENT,
			ip VARCHAR(64) NOT NULL DEFAULT '',
			user_agent VARCHAR(512) NOT NULL DEFAULT '',
			referer VARCHAR(512) NOT NULL DEFAULT '',
			downloaded_at TIMESTAMP NOT NULL
		);`},

		{Version: 1.10, Description: "Create Table 'webhook_delivery'", Script: `
		CREATE TABLE IF NOT EXISTS webhook_delivery (
			delivery_key VARCHAR(255) NOT NULL,
			license_key VARCHAR(64) NOT NULL,
			claimed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (delivery_key, license_key)
		);`},
	}
	return m
}

// changes returns a user-friendly display of database version changes
func changes(v1, v2 float64) string {
	if v1 != v2 {
		return fmt.Sprintf("DB Version: %.2f (migrated from %.2f to %.2f)", v2, v1, v2)
	}
	return fmt.Sprintf("DB Version: %.2f", v1)
}

// currentVersion reads from migration table to get the latest version and number of steps applied
func currentVersion(db *sql.DB) (count int, ver float64, err error) {
	// might not have any migrations yet...
	s := `select count(*) as n from sqlite_master where tbl_name = 'darwin_migrations';`
	err = db.QueryRow(s).Scan(&count)
	if err != nil || count == 0 {
		return 0, 0, err
	}

	s = `select count(*) as n, max(version) as ver from darwin_migrations;`
	err = db.QueryRow(s).Scan(&count, &ver)
	return count, ver, err
}

// minifiedMigrations returns our migrations with minified scripts so comments or formatting changes
// will not generate a new checksum
func minifiedMigrations() []darwin.Migration {
	migrations := defineMigrations()
	for i := range migrations {
		migrations[i].Script = Minify(migrations[i].Script)
	}
	return migrations
}

// Minify simplifies the script to keep certain changes (spaces, tabs, case and comments) from
// creating a new checksum
func Minify(script string) string {
	b := strings.Builder{}
	s := strings.ToLower(strings.ReplaceAll(script, "/*", "--"))
	lines := strings.Split(s, "\n")
	for _, line := range lines {
		if i := strings.Index(line, "--"); i != -1 {
			line = line[0:i]
		}
		b.WriteString(strings.TrimSpace(line) + "\n")
	}
	result := strings.TrimSpace(strings.ReplaceAll(b.String(), "\t", " "))
	before := 0
	for len(result) != before {
		before = len(result)
		result = strings.ReplaceAll(result, "  ", " ")
	}
	return strings.TrimSpace(result)
}

// Progress returns the steps attempted during this migration
func Progress(ch <-chan darwin.MigrationInfo) string {
	var b strings.Builder

	for info := range ch {
		_, _ = fmt.Fprintf(&b, "v%.2f: \"%s\" (%s) Error: %v\n",
			info.Migration.Version, info.Migration.Description, info.Status.String(), info.Error)
	}
	return b.String()
}

// Schema returns the current sqlite definitions as a string for display (without comments)
func Schema() string {
	var b strings.Builder

	schema := defineMigrations()
	for _, m := range schema {
		_, _ = fmt.Fprintf(&b, "-- %s (%.2f)\n%s\n\n", m.Description, m.Version, m.Script)
	}
	return b.String()
}

// VerifyApplicationID checks that the database has the correct application_id.
// Returns ErrInvalidDatabase if the database belongs to a different application.
// Returns nil for empty databases (application_id = 0, no tables) or licserver databases.
func VerifyApplicationID(db *sql.DB) error {
	var appID int
	if err := db.QueryRow("PRAGMA application_id;").Scan(&appID); err != nil {
		return fmt.Errorf("read application_id: %w", err)
	}

	if appID == ApplicationID {
		return nil
	}

	if appID != 0 {
		return fmt.Errorf("%w (application_id 0x%X)", ErrInvalidDatabase, appID)
	}

	// appID is 0 - only accept if database is empty (no user tables)
	var tableCount int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check tables: %w", err)
	}
	if tableCount > 0 {
		return fmt.Errorf("%w (has tables but no application_id)", ErrInvalidDatabase)
	}

	return nil
}

// RunMigrations applies all migrations to an already-open *sql.DB.
// Works the same for :memory: databases used in tests.
func RunMigrations(db *sql.DB) error {
	if err := VerifyApplicationID(db); err != nil {
		return err
	}

	count, v1, err := currentVersion(db)
	if err != nil {
		return err
	}

	migrations := minifiedMigrations()
	if count == len(migrations) && v1 == migrations[count-1].Version {
		log.Printf("Database version %.2f is current, no migrations needed", v1)
		return nil
	}

	driver := darwin.NewGenericDriver(db, darwin.SqliteDialect{})
	infoChan := make(chan darwin.MigrationInfo, len(migrations))
	d := darwin.New(driver, migrations, infoChan)

	var v2 float64
	if err := d.Migrate(); err != nil {
		close(infoChan)
		_, v2, _ = currentVersion(db)
		prog := Progress(infoChan)
		log.Printf("migration (was v%.2f now v%.2f): %v (%s)", v1, v2, err, prog)
		return fmt.Errorf("migration error: %w\n%s", err, prog)
	}
	close(infoChan)

	_, v2, err = currentVersion(db)
	if err != nil {
		return err
	}

	log.Print(changes(v1, v2))
	return nil
}
