// Package webhook turns billing provider callbacks into license expiry changes.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"winsbygroup.com/licserver/internal/eventlog"
	"winsbygroup.com/licserver/internal/metrics"
	"winsbygroup.com/licserver/internal/middleware"
	"winsbygroup.com/licserver/internal/normalize"
)

type Outcome string

const (
	Applied      Outcome = "applied"
	Ignored      Outcome = "ignored"
	Duplicate    Outcome = "duplicate"
	Unauthorized Outcome = "unauthorized"
)

// maxStoredPayload caps the raw body kept in the event log.
const maxStoredPayload = 64 << 10

// maxDeliveryKey fits webhook_delivery.delivery_key.
const maxDeliveryKey = 255

// Licenses is the part of the license service a provider event changes.
type Licenses interface {
	OwnedKeys(ctx context.Context, email string) ([]string, error)
	Prolong(ctx context.Context, key, email string, delta time.Duration) (bool, error)
	Expire(ctx context.Context, key, email string, backdate time.Duration) (bool, error)
}

// Recorder persists received events.
type Recorder interface {
	RecordWebhook(ctx context.Context, ev eventlog.WebhookEvent) error
}

type Config struct {
	Secret         string
	RenewalWindow  time.Duration
	CancelSentinel time.Duration
	Rules          []Rule // defaults to Rules
}

type Result struct {
	Outcome        Outcome        `json:"outcome"`
	Classification Classification `json:"classification,omitempty"`
	Event          string         `json:"event,omitempty"`
	Email          string         `json:"email,omitempty"`
	AppliedDays    int            `json:"appliedDays"`
	Licenses       int            `json:"licenses"`
}

type Option func(*Normalizer)

// WithClock replaces time.Now for claim timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) { n.log = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(n *Normalizer) { n.metrics = mt }
}

type Normalizer struct {
	cfg        Config
	licenses   Licenses
	deliveries Deliveries
	events     Recorder
	now        func() time.Time
	log        *slog.Logger
	metrics    *metrics.Metrics
}

func NewNormalizer(cfg Config, licenses Licenses, deliveries Deliveries, events Recorder, opts ...Option) *Normalizer {
	if cfg.Rules == nil {
		cfg.Rules = Rules
	}
	n := &Normalizer{
		cfg:        cfg,
		licenses:   licenses,
		deliveries: deliveries,
		events:     events,
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	n.log = n.log.With(slog.String("component", "webhook"))
	return n
}

// Authenticate compares token with the configured secret in constant time.
// With no secret configured every call is rejected.
func (n *Normalizer) Authenticate(token string) bool {
	match := middleware.ConstantEqual(n.cfg.Secret, token)
	return match && n.cfg.Secret != "" && token != ""
}

// Handle authenticates, classifies and applies one provider event. Each
// owned license is changed at most once per delivery, so a retried or
// redelivered event is answered as a duplicate. Only a failure of the license
// mutation is returned as an error; a failure to log the event is dropped.
func (n *Normalizer) Handle(ctx context.Context, token string, raw []byte) (*Result, error) {
	if !n.Authenticate(token) {
		n.metrics.Webhook(string(Unknown), string(Unauthorized))
		n.log.WarnContext(ctx, "webhook rejected: bad token")
		return &Result{Outcome: Unauthorized}, nil
	}

	f := Extract(raw)
	res := &Result{
		Outcome:        Ignored,
		Classification: Classify(n.cfg.Rules, f.Event),
		Event:          f.Event,
		Email:          normalize.Email(f.Email),
	}

	var applyErr error
	if res.Classification != Unknown && res.Email != "" {
		applyErr = n.apply(ctx, res, DeliveryKey(f, res.Classification, raw))
	}

	if err := eventlog.BestEffort(ctx, n.log, n.record(ctx, res, raw)); err != nil && applyErr == nil {
		applyErr = err
	}
	if applyErr != nil {
		n.metrics.Webhook(string(res.Classification), "error")
		n.log.ErrorContext(ctx, "webhook mutation failed",
			slog.String("event", res.Event),
			slog.String("error", applyErr.Error()))
		return nil, applyErr
	}

	n.metrics.Webhook(string(res.Classification), string(res.Outcome))
	n.log.InfoContext(ctx, "webhook handled",
		slog.String("event", res.Event),
		slog.String("classification", string(res.Classification)),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("licenses", res.Licenses))
	return res, nil
}

// apply changes every license owned by res.Email that this delivery has not
// changed yet. A claim is released when its change fails so the provider's
// retry can apply it.
func (n *Normalizer) apply(ctx context.Context, res *Result, delivery string) error {
	keys, err := n.licenses.OwnedKeys(ctx, res.Email)
	if err != nil {
		return err
	}

	days := 0
	change := func(key string) (bool, error) {
		return n.licenses.Prolong(ctx, key, res.Email, n.cfg.RenewalWindow)
	}
	switch res.Classification {
	case Renew:
		days = int(n.cfg.RenewalWindow / (24 * time.Hour))
	case Cancel:
		days = -int(n.cfg.CancelSentinel / (24 * time.Hour))
		change = func(key string) (bool, error) {
			return n.licenses.Expire(ctx, key, res.Email, n.cfg.CancelSentinel)
		}
	}

	claimed := 0
	for _, key := range keys {
		ok, err := n.deliveries.Claim(ctx, delivery, key, n.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		claimed++
		changed, err := change(key)
		if err != nil {
			if rerr := n.deliveries.Release(ctx, delivery, key); rerr != nil {
				n.log.ErrorContext(ctx, "delivery claim not released",
					slog.String("license_key", key),
					slog.String("error", rerr.Error()))
			}
			return err
		}
		if changed {
			res.Licenses++
		}
	}

	switch {
	case res.Licenses > 0:
		res.Outcome = Applied
		res.AppliedDays = days
	case len(keys) > 0 && claimed == 0:
		res.Outcome = Duplicate
	}
	return nil
}

// DeliveryKey names the change an event asks for. Events about one payment
// share its transaction, so an approval and its later completion or a
// redelivery collapse to the same key. Without a transaction the provider's
// delivery id is used, and without either the body hash.
func DeliveryKey(f Fields, c Classification, raw []byte) string {
	var key string
	switch {
	case f.Transaction != "":
		key = "txn:" + f.Transaction + ":" + string(c)
	case f.ID != "":
		key = "id:" + f.ID
	default:
		return "body:" + digest(raw)
	}
	if len(key) > maxDeliveryKey {
		return "sha:" + digest([]byte(key))
	}
	return key
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (n *Normalizer) record(ctx context.Context, res *Result, raw []byte) error {
	if n.events == nil {
		return nil
	}
	if len(raw) > maxStoredPayload {
		raw = raw[:maxStoredPayload]
	}
	return n.events.RecordWebhook(ctx, eventlog.WebhookEvent{
		EventType:      res.Event,
		Classification: string(res.Classification),
		Email:          res.Email,
		AppliedDays:    res.AppliedDays,
		Payload:        string(raw),
	})
}
