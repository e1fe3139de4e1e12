package eventlog

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	RecordPing(ctx context.Context, p Ping) error
	RecordWebhook(ctx context.Context, ev WebhookEvent) error
	RecordDownload(ctx context.Context, d Download) error
	RecentWebhooks(ctx context.Context, limit int) ([]WebhookEvent, error)
}

type repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repository {
	return &repo{db: db}
}

func (r *repo) RecordPing(ctx context.Context, p Ping) error {
	_, err := r.db.NamedExecContext(ctx, insertPingSQL, p)
	return wrap("record ping", err)
}

func (r *repo) RecordWebhook(ctx context.Context, ev WebhookEvent) error {
	_, err := r.db.NamedExecContext(ctx, insertWebhookEventSQL, ev)
	return wrap("record webhook", err)
}

func (r *repo) RecordDownload(ctx context.Context, d Download) error {
	_, err := r.db.NamedExecContext(ctx, insertDownloadSQL, d)
	return wrap("record download", err)
}

func (r *repo) RecentWebhooks(ctx context.Context, limit int) ([]WebhookEvent, error) {
	var out []WebhookEvent
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(getRecentWebhookEventsSQL), limit)
	if err != nil {
		return nil, wrap("recent webhooks", err)
	}
	for i := range out {
		out[i].ReceivedAt = out[i].ReceivedAt.UTC()
	}
	return out, nil
}
