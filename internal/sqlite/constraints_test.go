package sqlite_test

import (
	"testing"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/licserver/internal/sqlite"
	"winsbygroup.com/licserver/internal/testutil"
)

// countWhere returns the count from a query with args
func countWhere(t *testing.T, db *sqlx.DB, query string, args ...interface{}) int {
	t.Helper()
	var count int
	if err := db.Get(&count, query, args...); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return count
}

// insertTestData executes SQL statements to set up test data
func insertTestData(t *testing.T, db *sqlx.DB, sql string) {
	t.Helper()
	if _, err := db.Exec(sql); err != nil {
		t.Fatalf("insert test data: %v", err)
	}
}

const seed = `
	INSERT INTO license (license_id, license_key, email, status, expires_at, created_at, updated_at) VALUES
		(1, 'LIC-001', 'one@example.com', 'active', '2030-01-01 00:00:00', '2024-01-01 00:00:00', '2024-01-01 00:00:00'),
		(2, 'LIC-002', 'two@example.com', 'active', '2030-01-01 00:00:00', '2024-01-01 00:00:00', '2024-01-01 00:00:00');

	INSERT INTO activation (license_id, fingerprint, first_seen_at, last_seen_at, status) VALUES
		(1, 'pc-1a', '2024-01-01 00:00:00', '2024-01-01 00:00:00', 'revoked'),
		(1, 'pc-1b', '2024-01-02 00:00:00', '2024-01-02 00:00:00', 'active'),
		(2, 'pc-2a', '2024-01-01 00:00:00', '2024-01-01 00:00:00', 'active');
`

// TestCascadeDeleteLicense verifies that deleting a license removes its
// activations and leaves other licenses' activations alone.
func TestCascadeDeleteLicense(t *testing.T) {
	db := testutil.NewTestDB(t)
	insertTestData(t, db, seed)

	if got := countWhere(t, db, "SELECT COUNT(*) FROM activation WHERE license_id = 1"); got != 2 {
		t.Fatalf("expected 2 activations for license 1, got %d", got)
	}

	if _, err := db.Exec(`DELETE FROM license WHERE license_id = 1`); err != nil {
		t.Fatalf("delete license: %v", err)
	}

	if got := countWhere(t, db, "SELECT COUNT(*) FROM activation WHERE license_id = 1"); got != 0 {
		t.Errorf("expected 0 activations after delete, got %d", got)
	}
	if got := countWhere(t, db, "SELECT COUNT(*) FROM activation WHERE license_id = 2"); got != 1 {
		t.Errorf("expected license 2's activation to remain, got %d", got)
	}
}

func TestActivationRequiresExistingLicense(t *testing.T) {
	db := testutil.NewTestDB(t)

	_, err := db.Exec(`INSERT INTO activation (license_id, fingerprint, first_seen_at, last_seen_at, status)
		VALUES (99, 'pc', '2024-01-01 00:00:00', '2024-01-01 00:00:00', 'active')`)
	if err == nil {
		t.Error("orphan activation was accepted")
	}
}

func TestStatusChecks(t *testing.T) {
	db := testutil.NewTestDB(t)
	insertTestData(t, db, seed)

	tests := []struct {
		name string
		sql  string
	}{
		{"license status", `UPDATE license SET status = 'paused' WHERE license_id = 2`},
		{"activation status", `UPDATE activation SET status = 'pending' WHERE license_id = 2`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.Exec(tt.sql); err == nil {
				t.Error("invalid status was accepted")
			}
		})
	}
}

func TestDuplicateLicenseKeyIsUniqueViolation(t *testing.T) {
	db := testutil.NewTestDB(t)
	insertTestData(t, db, seed)

	_, err := db.Exec(`INSERT INTO license (license_key, status, expires_at, created_at, updated_at)
		VALUES ('LIC-001', 'trial', '2030-01-01 00:00:00', '2024-01-01 00:00:00', '2024-01-01 00:00:00')`)
	if !sqlite.IsUniqueConstraintError(err) {
		t.Errorf("expected unique violation, got %v", err)
	}
}
