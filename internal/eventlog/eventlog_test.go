package eventlog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"winsbygroup.com/licserver/internal/eventlog"
	"winsbygroup.com/licserver/internal/testutil"
)

var errDomain = errors.New("license store down")

func TestBestEffort(t *testing.T) {
	ctx := context.Background()

	t.Run("nil stays nil", func(t *testing.T) {
		if err := eventlog.BestEffort(ctx, nil, nil); err != nil {
			t.Errorf("got %v", err)
		}
	})

	t.Run("eventlog error is discarded", func(t *testing.T) {
		err := &eventlog.Error{Op: "record ping", Err: errors.New("disk full")}
		if got := eventlog.BestEffort(ctx, nil, err); got != nil {
			t.Errorf("got %v", got)
		}
	})

	t.Run("wrapped eventlog error is discarded", func(t *testing.T) {
		err := errors.Join(&eventlog.Error{Op: "x", Err: errors.New("boom")})
		if got := eventlog.BestEffort(ctx, nil, err); got != nil {
			t.Errorf("got %v", got)
		}
	})

	t.Run("domain error passes through", func(t *testing.T) {
		if got := eventlog.BestEffort(ctx, nil, errDomain); !errors.Is(got, errDomain) {
			t.Errorf("domain error was absorbed: %v", got)
		}
	})
}

func TestSQLRecordsRows(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	clock := testutil.NewClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	l := eventlog.NewSQLLog(db, eventlog.WithClock(clock.Now))

	if err := l.RecordPing(ctx, "ABC-1", "dev-1", "active"); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := l.RecordDownload(ctx, "10.0.0.1", "curl", ""); err != nil {
		t.Fatalf("download: %v", err)
	}
	if err := l.RecordWebhook(ctx, eventlog.WebhookEvent{
		EventType:      "PURCHASE_APPROVED",
		Classification: "renew",
		Email:          "x@y.com",
		AppliedDays:    30,
		Payload:        `{"event":"PURCHASE_APPROVED"}`,
	}); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	var pings, downloads int
	if err := db.Get(&pings, `SELECT COUNT(*) FROM activation_ping`); err != nil || pings != 1 {
		t.Errorf("pings=%d err=%v", pings, err)
	}
	if err := db.Get(&downloads, `SELECT COUNT(*) FROM download`); err != nil || downloads != 1 {
		t.Errorf("downloads=%d err=%v", downloads, err)
	}

	evs, err := l.RecentWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("got %d events", len(evs))
	}
	if evs[0].EventID == "" || !evs[0].ReceivedAt.Equal(clock.Now()) {
		t.Errorf("event not stamped: %+v", evs[0])
	}
}

func TestSQLFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	l := eventlog.NewSQLLog(db)
	db.Close()

	if err := l.TryPing(ctx, "ABC-1", "dev-1", "active"); err == nil {
		t.Fatal("expected an error writing to a closed database")
	} else {
		var logErr *eventlog.Error
		if !errors.As(err, &logErr) {
			t.Errorf("error is %T, want *eventlog.Error", err)
		}
	}
	if err := l.RecordPing(ctx, "ABC-1", "dev-1", "active"); err != nil {
		t.Errorf("best-effort ping returned %v", err)
	}
}

type failingRepo struct {
	eventlog.Repository
	err error
}

func (f failingRepo) RecordPing(context.Context, eventlog.Ping) error { return f.err }

func TestRecordPropagatesForeignErrors(t *testing.T) {
	l := eventlog.NewLog(failingRepo{Repository: eventlog.NewMemory(), err: errDomain})
	if err := l.RecordPing(context.Background(), "k", "f", "s"); !errors.Is(err, errDomain) {
		t.Errorf("expected the non-eventlog error to surface, got %v", err)
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := eventlog.NewMemory()
	l := eventlog.NewLog(m)

	for _, typ := range []string{"a", "b", "c"} {
		if err := l.RecordWebhook(ctx, eventlog.WebhookEvent{EventType: typ}); err != nil {
			t.Fatalf("webhook: %v", err)
		}
	}
	evs, _ := l.RecentWebhooks(ctx, 2)
	if len(evs) != 2 || evs[0].EventType != "c" || evs[1].EventType != "b" {
		t.Errorf("unexpected recent events %+v", evs)
	}
	_ = l.RecordPing(ctx, "k", "f", "active")
	if len(m.Pings()) != 1 {
		t.Errorf("pings = %d", len(m.Pings()))
	}
}
