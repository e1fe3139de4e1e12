package licclient_test

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"winsbygroup.com/licserver/internal/config"
	"winsbygroup.com/licserver/internal/server"
	"winsbygroup.com/licserver/internal/signing"
	"winsbygroup.com/licserver/internal/testutil"
	"winsbygroup.com/licserver/pkg/licclient"
)

const demoKey = "TESTE-123-XYZ"

func newClient(t *testing.T) *licclient.Client {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.DBDriver = config.DriverMemory
	cfg.DatabaseURL = ""
	cfg.APIKey = "admin-key"
	cfg.RateLimit = 0
	cfg.LogLevel = "error"
	cfg.DemoMode = true
	cfg.PrivateKeyPath = ""
	cfg.PrivateKeyPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(testutil.SigningKey(t)),
	}))

	srv, err := server.Build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ts := httptest.NewServer(srv.Echo)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return licclient.New(ts.URL, licclient.WithHTTPClient(ts.Client()))
}

func TestActivateVerifyAndStore(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	fp := licclient.Fingerprint("machine-id", "cpu-id", "disk-serial")

	lic, err := c.Activate(ctx, demoKey, "", fp)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	pub, err := c.PublicKey(ctx)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if err := licclient.Usable(lic, pub, fp, time.Now()); err != nil {
		t.Fatalf("usable: %v", err)
	}
	if !licclient.HasFeature(lic.Payload, "Export") {
		t.Errorf("paid features missing: %v", lic.Payload.Features)
	}

	store := licclient.NewStore(filepath.Join(t.TempDir(), "Company", "Product"))
	if got, err := store.Load(); err != nil || got != nil {
		t.Fatalf("empty store returned %v, %v", got, err)
	}
	if err := store.Save(lic); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := licclient.Usable(loaded, pub, fp, time.Now()); err != nil {
		t.Errorf("stored license no longer verifies: %v", err)
	}
	if err := licclient.Usable(loaded, pub, "other-machine", time.Now()); !errors.Is(err, licclient.ErrWrongMachine) {
		t.Errorf("other machine = %v", err)
	}
	if err := licclient.Usable(loaded, pub, fp, loaded.Payload.ExpiresAtUTC); !errors.Is(err, licclient.ErrExpired) {
		t.Errorf("at expiry = %v", err)
	}

	if err := store.Delete(); err != nil || store.Exists() {
		t.Errorf("delete: %v", err)
	}
}

func TestTamperedLicenseFailsVerification(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	lic, err := c.Activate(ctx, demoKey, "", "PC-1")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	pub, err := c.PublicKey(ctx)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}

	lic.Payload.ExpiresAtUTC = lic.Payload.ExpiresAtUTC.Add(365 * 24 * time.Hour)
	if err := licclient.Verify(lic, pub); !errors.Is(err, licclient.ErrBadSignature) {
		t.Errorf("tampered expiry = %v", err)
	}
}

func TestLicenseWithoutMachineIsNotUsable(t *testing.T) {
	signer := signing.NewSigner(testutil.SigningKey(t))
	now := time.Now().UTC().Truncate(time.Second)
	lic, err := signer.Sign(signing.Payload{
		LicenseID:          demoKey,
		SubscriptionStatus: "active",
		ExpiresAtUTC:       now.Add(30 * 24 * time.Hour),
		IssuedAtUTC:        now,
		Features:           []string{"Export"},
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := licclient.Verify(lic, signer.PublicKey()); err != nil {
		t.Fatalf("verify: %v", err)
	}
	for _, fp := range []string{"", "PC-1"} {
		if err := licclient.Usable(lic, signer.PublicKey(), fp, now); !errors.Is(err, licclient.ErrWrongMachine) {
			t.Errorf("usable on %q = %v", fp, err)
		}
	}
}

func TestActivateWithoutFingerprintIsRejected(t *testing.T) {
	c := newClient(t)

	_, err := c.Activate(context.Background(), demoKey, "", "")
	var apiErr *licclient.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Errorf("expected a 400 APIError, got %v", err)
	}
}

func TestAPIErrorsMatchSentinels(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	if _, err := c.Activate(ctx, demoKey, "", "PC-1"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	_, err := c.Activate(ctx, demoKey, "", "PC-2")
	if !errors.Is(err, licclient.ErrInUse) {
		t.Errorf("second device = %v", err)
	}
	var apiErr *licclient.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 409 {
		t.Errorf("expected a 409 APIError, got %v", err)
	}

	if _, err := c.Activate(ctx, "NOPE-000", "", "PC-1"); !errors.Is(err, licclient.ErrNotFound) {
		t.Errorf("unknown key = %v", err)
	}
}

func TestDeactivateFreesLicenseForAnotherDevice(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	if _, err := c.Activate(ctx, demoKey, "", "PC-1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	released, err := c.Deactivate(ctx, demoKey, "PC-1", "new laptop")
	if err != nil || !released {
		t.Fatalf("deactivate = %v, %v", released, err)
	}
	if _, err := c.Activate(ctx, demoKey, "", "PC-2"); err != nil {
		t.Errorf("activate after release: %v", err)
	}
}

func TestTrialValidateCheckAndStatus(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	v, err := c.Validate(ctx, "", "", "TRIAL-PC", "2.1.0")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.OK || v.Plan != "trial" || v.License == nil {
		t.Fatalf("unexpected validation %+v", v)
	}
	pub, err := c.PublicKey(ctx)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if err := licclient.Usable(v.License, pub, "TRIAL-PC", time.Now()); err != nil {
		t.Errorf("trial license unusable: %v", err)
	}

	chk, err := c.Check(ctx, "", "TRIAL-PC", "2.1.0")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !chk.Active || chk.Plan != "trial" {
		t.Errorf("unexpected check %+v", chk)
	}

	st, err := c.Status(ctx, "", "TRIAL-PC", "2.1.0")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.TrialStartedAt == nil || !st.IsActive || st.DaysLeft != 7 {
		t.Errorf("unexpected status %+v", st)
	}
}
