// Package eventlog records telemetry rows whose loss never changes the
// outcome of a request: activation pings, received webhooks and downloads.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Error wraps every failure this package returns. BestEffort discards only this type.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("eventlog %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// BestEffort logs and swallows an *Error. Any other error, including a nil
// one, is returned unchanged so domain failures are never absorbed.
func BestEffort(ctx context.Context, logger *slog.Logger, err error) error {
	var logErr *Error
	if !errors.As(err, &logErr) {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "telemetry write dropped",
		slog.String("op", logErr.Op),
		slog.String("error", logErr.Err.Error()))
	return nil
}

type Ping struct {
	LicenseKey  string    `db:"license_key"`
	Fingerprint string    `db:"fingerprint"`
	Status      string    `db:"status"`
	SeenAt      time.Time `db:"seen_at"`
}

type WebhookEvent struct {
	EventID        string    `db:"event_id"`
	EventType      string    `db:"event_type"`
	Classification string    `db:"classification"`
	Email          string    `db:"email"`
	AppliedDays    int       `db:"applied_days"`
	Payload        string    `db:"payload"`
	ReceivedAt     time.Time `db:"received_at"`
}

type Download struct {
	IP           string    `db:"ip"`
	UserAgent    string    `db:"user_agent"`
	Referer      string    `db:"referer"`
	DownloadedAt time.Time `db:"downloaded_at"`
}
