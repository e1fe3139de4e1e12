// Package backup writes compressed snapshots of the sqlite store.
package backup

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrUnsupported is returned when the store is not a sqlite file.
var ErrUnsupported = errors.New("backup is only available for the sqlite store")

const suffix = "_licenses.db.gz"

type Service struct {
	db     *sqlx.DB
	dbPath string
	keep   int
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService snapshots db into a backups directory next to dbPath and keeps
// the newest keep files. keep <= 0 keeps everything.
func NewService(db *sqlx.DB, dbPath string, keep int, opts ...Option) *Service {
	s := &Service{db: db, dbPath: dbPath, keep: keep, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BackupResult contains information about a completed backup
type BackupResult struct {
	Filename string   `json:"filename"`
	Path     string   `json:"path"`
	Size     int64    `json:"size"`
	Pruned   []string `json:"pruned,omitempty"`
}

func (s *Service) dir() string {
	return filepath.Join(filepath.Dir(s.dbPath), "backups")
}

// CreateBackup copies the database with VACUUM INTO and gzips the copy.
func (s *Service) CreateBackup(ctx context.Context) (*BackupResult, error) {
	if s == nil || s.db == nil || s.db.DriverName() != "sqlite3" {
		return nil, ErrUnsupported
	}
	backupDir := s.dir()
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	filename := s.now().UTC().Format("2006-01-02_15.04.05") + suffix
	backupPath := filepath.Join(backupDir, filename)

	// VACUUM INTO refuses to overwrite, so the temp name must be fresh
	tempPath := filepath.Join(backupDir, fmt.Sprintf("snapshot-%d.db", s.now().UnixNano()))
	defer os.Remove(tempPath)

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tempPath); err != nil {
		return nil, fmt.Errorf("vacuum into temp: %w", err)
	}
	if err := compress(tempPath, backupPath); err != nil {
		return nil, err
	}

	info, err := os.Stat(backupPath)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}
	pruned, err := s.prune()
	if err != nil {
		return nil, err
	}
	return &BackupResult{
		Filename: filename,
		Path:     backupPath,
		Size:     info.Size(),
		Pruned:   pruned,
	}, nil
}

// List returns the backup file names, newest first.
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	// timestamped names sort chronologically
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (s *Service) prune() ([]string, error) {
	if s.keep <= 0 {
		return nil, nil
	}
	names, err := s.List()
	if err != nil || len(names) <= s.keep {
		return nil, err
	}
	old := names[s.keep:]
	for _, n := range old {
		if err := os.Remove(filepath.Join(s.dir(), n)); err != nil {
			return nil, fmt.Errorf("remove old backup: %w", err)
		}
	}
	return old, nil
}

func compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return fmt.Errorf("write gzip data: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}
	return out.Sync()
}
