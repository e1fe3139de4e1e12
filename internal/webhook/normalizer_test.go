package webhook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"winsbygroup.com/licserver/internal/eventlog"
	"winsbygroup.com/licserver/internal/license"
	"winsbygroup.com/licserver/internal/testutil"
	"winsbygroup.com/licserver/internal/webhook"
)

const (
	day    = 24 * time.Hour
	secret = "s3cret-hottok"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestClassify(t *testing.T) {
	tests := []struct {
		event string
		want  webhook.Classification
	}{
		{"PURCHASE_APPROVED", webhook.Renew},
		{"PURCHASE_COMPLETE", webhook.Unknown},
		{"compra_aprovada", webhook.Renew},
		{"PURCHASE_REFUNDED", webhook.Cancel},
		{"refund", webhook.Cancel},
		{"PURCHASE_CHARGEBACK", webhook.Cancel},
		{"PURCHASE_EXPIRED", webhook.Cancel},
		{"assinatura_expirada", webhook.Cancel},
		{"SUBSCRIPTION_CANCELLATION", webhook.Cancel},
		{"pedido_reembolsado", webhook.Cancel},
		{"APPROVED_THEN_REFUNDED", webhook.Cancel},
		{"SUBSCRIPTION_PRINTED_RECEIPT", webhook.Unknown},
		{"PURCHASE_PROTEST", webhook.Unknown},
		{"", webhook.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			if got := webhook.Classify(webhook.Rules, tt.event); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.event, got, tt.want)
			}
		})
	}
}

func TestClassifyWithCustomRules(t *testing.T) {
	rules := []webhook.Rule{{Substring: "paid", Classification: webhook.Renew}}
	if got := webhook.Classify(rules, "INVOICE_PAID"); got != webhook.Renew {
		t.Errorf("got %q", got)
	}
	if got := webhook.Classify(rules, "PURCHASE_APPROVED"); got != webhook.Unknown {
		t.Errorf("default rules leaked into custom table: %q", got)
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want webhook.Fields
	}{
		{"flat", `{"event":"PURCHASE_APPROVED","buyer_email":"a@b.com"}`, webhook.Fields{Event: "PURCHASE_APPROVED", Email: "a@b.com"}},
		{"event_key fallback", `{"event_key":"refund","email":"a@b.com"}`, webhook.Fields{Event: "refund", Email: "a@b.com"}},
		{"status and customer_email", `{"status":"approved","customer_email":"c@d.com"}`, webhook.Fields{Event: "approved", Email: "c@d.com"}},
		{"nested buyer", `{"event":"PURCHASE_APPROVED","data":{"buyer":{"email":"n@b.com"}}}`, webhook.Fields{Event: "PURCHASE_APPROVED", Email: "n@b.com"}},
		{"nested subscription", `{"type":"cancel","subscription":{"customer":{"email":"s@b.com"}}}`, webhook.Fields{Event: "cancel", Email: "s@b.com"}},
		{"first path wins", `{"event":"a","status":"b","email":"1@x.com","buyer_email":"2@x.com"}`, webhook.Fields{Event: "a", Email: "2@x.com"}},
		{"blank values skipped", `{"event":"  ","status":"refund"}`, webhook.Fields{Event: "refund", Email: ""}},
		{"non-string ignored", `{"event":42,"data":{"buyer":"x"}}`, webhook.Fields{}},
		{"not json", `event=refund`, webhook.Fields{}},
		{"json array", `["refund"]`, webhook.Fields{}},
		{"delivery identity", `{"id":"evt-1","event":"PURCHASE_APPROVED","data":{"purchase":{"transaction":"HP123"}}}`,
			webhook.Fields{Event: "PURCHASE_APPROVED", ID: "evt-1", Transaction: "HP123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := webhook.Extract([]byte(tt.raw)); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDeliveryKey(t *testing.T) {
	raw := []byte(`{"event":"PURCHASE_APPROVED"}`)
	approved := webhook.DeliveryKey(webhook.Fields{ID: "evt-1", Transaction: "HP123"}, webhook.Renew, raw)
	redelivered := webhook.DeliveryKey(webhook.Fields{ID: "evt-2", Transaction: "HP123"}, webhook.Renew, raw)
	if approved != redelivered {
		t.Errorf("same payment renewal got two keys: %q, %q", approved, redelivered)
	}
	refund := webhook.DeliveryKey(webhook.Fields{ID: "evt-3", Transaction: "HP123"}, webhook.Cancel, raw)
	if refund == approved {
		t.Error("refund shares the renewal key")
	}
	if got := webhook.DeliveryKey(webhook.Fields{ID: "evt-1"}, webhook.Renew, raw); got != "id:evt-1" {
		t.Errorf("id key = %q", got)
	}
	anon := webhook.DeliveryKey(webhook.Fields{}, webhook.Renew, raw)
	if anon != webhook.DeliveryKey(webhook.Fields{}, webhook.Renew, raw) || anon == webhook.DeliveryKey(webhook.Fields{}, webhook.Renew, []byte(`{}`)) {
		t.Errorf("body key %q is not a stable digest", anon)
	}
	long := webhook.DeliveryKey(webhook.Fields{ID: string(make([]byte, 300))}, webhook.Renew, raw)
	if len(long) > 255 {
		t.Errorf("key of %d bytes does not fit the column", len(long))
	}
}

func TestAuthenticate(t *testing.T) {
	n := webhook.NewNormalizer(webhook.Config{Secret: secret}, nil, nil, nil)
	if !n.Authenticate(secret) {
		t.Error("correct token rejected")
	}
	for _, bad := range []string{"", "s3cret", secret + "x", "S3CRET-HOTTOK"} {
		if n.Authenticate(bad) {
			t.Errorf("token %q accepted", bad)
		}
	}

	open := webhook.NewNormalizer(webhook.Config{}, nil, nil, nil)
	if open.Authenticate("") || open.Authenticate("anything") {
		t.Error("normalizer without a secret accepted a call")
	}
}

type fixture struct {
	licenses *license.Service
	events   *eventlog.Memory
	n        *webhook.Normalizer
	clock    *testutil.Clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := testutil.NewClock(start)
	lics := license.NewService(license.NewMemory(), license.WithClock(clock.Now))
	events := eventlog.NewMemory()
	n := webhook.NewNormalizer(webhook.Config{
		Secret:         secret,
		RenewalWindow:  30 * day,
		CancelSentinel: 3650 * day,
	}, lics, webhook.NewMemoryDeliveries(), eventlog.NewLog(events, eventlog.WithClock(clock.Now)),
		webhook.WithClock(clock.Now))
	return fixture{licenses: lics, events: events, n: n, clock: clock}
}

func (f fixture) issue(t *testing.T, key, email string, d time.Duration) {
	t.Helper()
	if _, err := f.licenses.Issue(context.Background(), license.IssueParams{Key: key, Email: email, Duration: d}); err != nil {
		t.Fatalf("issue: %v", err)
	}
}

func TestHandleRefundCancelsOwnersLicense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.issue(t, "ABC-1", "x@y.com", 30*day)

	res, err := f.n.Handle(ctx, secret, []byte(`{"event":"refund","email":"x@y.com"}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Outcome != webhook.Applied || res.Classification != webhook.Cancel {
		t.Errorf("unexpected result %+v", res)
	}
	if res.AppliedDays != -3650 {
		t.Errorf("applied days = %d", res.AppliedDays)
	}

	lic, err := f.licenses.GetByKey(ctx, "ABC-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !lic.ExpiresAt.Before(f.clock.Now()) {
		t.Errorf("expiry %v not in the past", lic.ExpiresAt)
	}
	if lic.IsActive(f.clock.Now()) || lic.EffectiveStatus(f.clock.Now()) != license.StatusCanceled {
		t.Error("license still reads as active after refund")
	}

	evs, _ := f.events.RecentWebhooks(ctx, 10)
	if len(evs) != 1 || evs[0].Classification != "cancel" || evs[0].Email != "x@y.com" {
		t.Errorf("event not recorded: %+v", evs)
	}
}

func TestHandleApprovedRenews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.issue(t, "ABC-1", "x@y.com", 5*day)

	res, err := f.n.Handle(ctx, secret, []byte(`{"event":"PURCHASE_APPROVED","data":{"buyer":{"email":"X@Y.com"}}}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Outcome != webhook.Applied || res.Classification != webhook.Renew || res.AppliedDays != 30 {
		t.Errorf("unexpected result %+v", res)
	}
	lic, _ := f.licenses.GetByKey(ctx, "ABC-1")
	if want := start.Add(35 * day); !lic.ExpiresAt.Equal(want) {
		t.Errorf("expires %v, want %v", lic.ExpiresAt, want)
	}
}

func TestHandleIgnoresWithoutMutation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		raw  string
	}{
		{"unrecognized event", `{"event":"SUBSCRIPTION_PRINTED_RECEIPT","email":"x@y.com"}`},
		{"missing event", `{"email":"x@y.com"}`},
		{"missing email", `{"event":"PURCHASE_APPROVED"}`},
		{"unknown owner", `{"event":"PURCHASE_APPROVED","email":"nobody@y.com"}`},
		{"malformed body", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.issue(t, "ABC-1", "x@y.com", 10*day)
			before, _ := f.licenses.GetByKey(ctx, "ABC-1")

			res, err := f.n.Handle(ctx, secret, []byte(tt.raw))
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if res.Outcome != webhook.Ignored {
				t.Errorf("outcome = %q", res.Outcome)
			}
			after, _ := f.licenses.GetByKey(ctx, "ABC-1")
			if !after.ExpiresAt.Equal(before.ExpiresAt) || after.Revision != before.Revision {
				t.Error("ignored event mutated the license")
			}
			if evs, _ := f.events.RecentWebhooks(ctx, 10); len(evs) != 1 {
				t.Errorf("recorded %d events, want 1", len(evs))
			}
		})
	}
}

func TestHandleUnauthorizedDoesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.issue(t, "ABC-1", "x@y.com", 10*day)

	res, err := f.n.Handle(ctx, "wrong", []byte(`{"event":"refund","email":"x@y.com"}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Outcome != webhook.Unauthorized {
		t.Errorf("outcome = %q", res.Outcome)
	}
	lic, _ := f.licenses.GetByKey(ctx, "ABC-1")
	if !lic.IsActive(f.clock.Now()) {
		t.Error("unauthorized call changed the license")
	}
	if evs, _ := f.events.RecentWebhooks(ctx, 10); len(evs) != 0 {
		t.Error("unauthorized call was recorded")
	}
}

func TestHandleRefundExpiresLongLicense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.issue(t, "LIFETIME", "x@y.com", 36500*day)

	res, err := f.n.Handle(ctx, secret, []byte(`{"event":"PURCHASE_REFUNDED","email":"x@y.com"}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Outcome != webhook.Applied {
		t.Errorf("outcome = %q", res.Outcome)
	}
	lic, _ := f.licenses.GetByKey(ctx, "LIFETIME")
	if lic.IsActive(f.clock.Now()) {
		t.Errorf("refunded license still active until %v", lic.ExpiresAt)
	}
}

func TestHandleRedeliveryAppliesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.issue(t, "ABC-1", "x@y.com", 5*day)
	raw := []byte(`{"id":"evt-1","event":"PURCHASE_APPROVED","email":"x@y.com"}`)

	first, err := f.n.Handle(ctx, secret, raw)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := f.n.Handle(ctx, secret, raw)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if first.Outcome != webhook.Applied || second.Outcome != webhook.Duplicate {
		t.Errorf("outcomes = %q, %q", first.Outcome, second.Outcome)
	}
	lic, _ := f.licenses.GetByKey(ctx, "ABC-1")
	if want := start.Add(35 * day); !lic.ExpiresAt.Equal(want) {
		t.Errorf("expires %v, want %v", lic.ExpiresAt, want)
	}
}

func TestHandleOnePaymentRenewsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.issue(t, "ABC-1", "x@y.com", 5*day)

	for _, raw := range []string{
		`{"id":"evt-1","event":"PURCHASE_APPROVED","email":"x@y.com","data":{"purchase":{"transaction":"HP123"}}}`,
		`{"id":"evt-2","event":"PURCHASE_COMPLETE","email":"x@y.com","data":{"purchase":{"transaction":"HP123"}}}`,
		`{"id":"evt-3","event":"PURCHASE_APPROVED","email":"x@y.com","data":{"purchase":{"transaction":"HP123"}}}`,
	} {
		if _, err := f.n.Handle(ctx, secret, []byte(raw)); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	lic, _ := f.licenses.GetByKey(ctx, "ABC-1")
	if want := start.Add(35 * day); !lic.ExpiresAt.Equal(want) {
		t.Errorf("expires %v, want %v", lic.ExpiresAt, want)
	}

	// the refund of that payment is a different change
	res, err := f.n.Handle(ctx, secret, []byte(`{"id":"evt-4","event":"PURCHASE_REFUNDED","email":"x@y.com","data":{"purchase":{"transaction":"HP123"}}}`))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if res.Outcome != webhook.Applied {
		t.Errorf("refund outcome = %q", res.Outcome)
	}
}

// flakyLicenses fails the first Prolong of one key.
type flakyLicenses struct {
	*license.Service
	failKey string
	fails   int
}

func (f *flakyLicenses) Prolong(ctx context.Context, key, email string, delta time.Duration) (bool, error) {
	if key == f.failKey && f.fails > 0 {
		f.fails--
		return false, errors.New("database is locked")
	}
	return f.Service.Prolong(ctx, key, email, delta)
}

func TestHandleRetryAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.issue(t, "A", "x@y.com", 5*day)
	f.issue(t, "B", "x@y.com", 5*day)
	flaky := &flakyLicenses{Service: f.licenses, failKey: "B", fails: 1}
	n := webhook.NewNormalizer(webhook.Config{Secret: secret, RenewalWindow: 30 * day},
		flaky, webhook.NewMemoryDeliveries(), nil, webhook.WithClock(f.clock.Now))
	raw := []byte(`{"id":"evt-1","event":"PURCHASE_APPROVED","email":"x@y.com"}`)

	if _, err := n.Handle(ctx, secret, raw); err == nil {
		t.Fatal("expected the failure to surface so the provider retries")
	}
	res, err := n.Handle(ctx, secret, raw)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Outcome != webhook.Applied || res.Licenses != 1 {
		t.Errorf("retry result %+v", res)
	}
	for _, key := range []string{"A", "B"} {
		lic, _ := f.licenses.GetByKey(ctx, key)
		if want := start.Add(35 * day); !lic.ExpiresAt.Equal(want) {
			t.Errorf("%s expires %v, want %v", key, lic.ExpiresAt, want)
		}
	}
}

func TestDeliveries(t *testing.T) {
	stores := map[string]webhook.Deliveries{
		"memory": webhook.NewMemoryDeliveries(),
		"sqlite": webhook.NewDeliveries(testutil.NewTestDB(t)),
	}
	for name, d := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := d.Claim(ctx, "id:evt-1", "ABC-1", start)
			if err != nil || !ok {
				t.Fatalf("first claim = %v, %v", ok, err)
			}
			if ok, err := d.Claim(ctx, "id:evt-1", "ABC-1", start); err != nil || ok {
				t.Errorf("second claim = %v, %v", ok, err)
			}
			if ok, err := d.Claim(ctx, "id:evt-1", "ABC-2", start); err != nil || !ok {
				t.Errorf("other license = %v, %v", ok, err)
			}
			if err := d.Release(ctx, "id:evt-1", "ABC-1"); err != nil {
				t.Fatalf("release: %v", err)
			}
			if ok, err := d.Claim(ctx, "id:evt-1", "ABC-1", start); err != nil || !ok {
				t.Errorf("claim after release = %v, %v", ok, err)
			}
		})
	}
}

type brokenStore struct{}

func (brokenStore) OwnedKeys(context.Context, string) ([]string, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Prolong(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenStore) Expire(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

type brokenRecorder struct{}

func (brokenRecorder) RecordWebhook(context.Context, eventlog.WebhookEvent) error {
	return &eventlog.Error{Op: "record webhook", Err: errors.New("disk full")}
}

func TestHandleStoreFailurePropagates(t *testing.T) {
	n := webhook.NewNormalizer(webhook.Config{Secret: secret, RenewalWindow: day, CancelSentinel: day},
		brokenStore{}, webhook.NewMemoryDeliveries(), eventlog.NewLog(eventlog.NewMemory()))
	if _, err := n.Handle(context.Background(), secret, []byte(`{"event":"refund","email":"x@y.com"}`)); err == nil {
		t.Error("store failure was swallowed")
	}
}

func TestHandleRecorderFailureKeepsOutcome(t *testing.T) {
	clock := testutil.NewClock(start)
	lics := license.NewService(license.NewMemory(), license.WithClock(clock.Now))
	if _, err := lics.Issue(context.Background(), license.IssueParams{Key: "K", Email: "x@y.com", Duration: day}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	n := webhook.NewNormalizer(webhook.Config{Secret: secret, RenewalWindow: 30 * day, CancelSentinel: 3650 * day},
		lics, webhook.NewMemoryDeliveries(), brokenRecorder{})

	res, err := n.Handle(context.Background(), secret, []byte(`{"event":"PURCHASE_APPROVED","email":"x@y.com"}`))
	if err != nil {
		t.Fatalf("logging failure leaked: %v", err)
	}
	if res.Outcome != webhook.Applied {
		t.Errorf("outcome = %q", res.Outcome)
	}
}
