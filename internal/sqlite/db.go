package sqlite

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
)

// DSN builds the go-sqlite3 connection string for path.
// Pragmas are passed as DSN parameters so every pooled connection gets them,
// and _txlock=immediate makes BEGIN take the write lock up front so two
// writers never both read before either writes.
func DSN(path string, journalMode string) string {
	q := url.Values{}
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	if journalMode != "" {
		q.Set("_journal_mode", journalMode)
	}
	return "file:" + path + "?" + q.Encode()
}

// Open connects to the database at path, checks foreign key support and applies migrations.
func Open(path string, journalMode string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite3", DSN(path, journalMode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Foreign key support is required by the program for cascade deletes
	var fkEnabled int
	if err := db.QueryRow(`PRAGMA foreign_keys;`).Scan(&fkEnabled); err != nil {
		db.Close()
		return nil, errors.New("SQLite foreign key support check failed: " + err.Error())
	}
	if fkEnabled != 1 {
		db.Close()
		return nil, errors.New("SQLite foreign keys not supported (requires SQLite 3.6.19+ compiled without SQLITE_OMIT_FOREIGN_KEY)")
	}

	if err := RunMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
