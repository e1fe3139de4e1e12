package eventlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"winsbygroup.com/licserver/internal/metrics"
)

type Option func(*Log)

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Log) { l.log = lg }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(l *Log) { l.metrics = mt }
}

// Log stamps and stores telemetry rows. The Record methods pass failures
// through BestEffort; the Try variants return them as is.
type Log struct {
	repo    Repository
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewLog(repo Repository, opts ...Option) *Log {
	l := &Log{repo: repo, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With(slog.String("component", "eventlog"))
	return l
}

func NewSQLLog(db *sqlx.DB, opts ...Option) *Log {
	return NewLog(New(db), opts...)
}

func (l *Log) stamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

func (l *Log) bestEffort(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	err = BestEffort(ctx, l.log, err)
	if err == nil {
		l.metrics.BestEffortFailed(op)
	}
	return err
}

func (l *Log) TryPing(ctx context.Context, key, fingerprint, status string) error {
	return l.repo.RecordPing(ctx, Ping{
		LicenseKey:  key,
		Fingerprint: fingerprint,
		Status:      status,
		SeenAt:      l.stamp(),
	})
}

// RecordPing stores one activation/check call.
func (l *Log) RecordPing(ctx context.Context, key, fingerprint, status string) error {
	return l.bestEffort(ctx, "ping", l.TryPing(ctx, key, fingerprint, status))
}

// TryWebhook fills in the id and receive time when missing.
func (l *Log) TryWebhook(ctx context.Context, ev WebhookEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = l.stamp()
	}
	return l.repo.RecordWebhook(ctx, ev)
}

func (l *Log) RecordWebhook(ctx context.Context, ev WebhookEvent) error {
	return l.bestEffort(ctx, "webhook", l.TryWebhook(ctx, ev))
}

func (l *Log) RecordDownload(ctx context.Context, ip, userAgent, referer string) error {
	err := l.repo.RecordDownload(ctx, Download{
		IP:           ip,
		UserAgent:    userAgent,
		Referer:      referer,
		DownloadedAt: l.stamp(),
	})
	return l.bestEffort(ctx, "download", err)
}

func (l *Log) RecentWebhooks(ctx context.Context, limit int) ([]WebhookEvent, error) {
	return l.repo.RecentWebhooks(ctx, limit)
}
