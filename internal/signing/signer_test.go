package signing_test

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	"winsbygroup.com/licserver/internal/signing"
	"winsbygroup.com/licserver/internal/testutil"
)

func samplePayload() signing.Payload {
	return signing.Payload{
		LicenseID:          "ABC-1",
		SubscriptionStatus: "active",
		ExpiresAtUTC:       time.Date(2025, 4, 1, 12, 0, 0, 123456789, time.UTC),
		Email:              signing.Optional("x@y.com"),
		Fingerprint:        signing.Optional("dev-1"),
		IssuedAtUTC:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Features:           []string{"Import", "Export", "UnlimitedRows"},
	}
}

func TestCanonicalEncoding(t *testing.T) {
	t.Run("fixed field order and formats", func(t *testing.T) {
		got, err := samplePayload().Canonical()
		if err != nil {
			t.Fatalf("canonical: %v", err)
		}
		want := `{"licenseId":"ABC-1","subscriptionStatus":"active","expiresAtUtc":"2025-04-01T12:00:00.123Z",` +
			`"email":"x@y.com","fingerprint":"dev-1","issuedAtUtc":"2025-03-01T12:00:00.000Z",` +
			`"features":["Import","Export","UnlimitedRows"]}`
		if string(got) != want {
			t.Errorf("got  %s\nwant %s", got, want)
		}
	})

	t.Run("nulls and empty features", func(t *testing.T) {
		p := samplePayload()
		p.Email = nil
		p.Fingerprint = nil
		p.Features = nil
		got, err := p.Canonical()
		if err != nil {
			t.Fatalf("canonical: %v", err)
		}
		if !strings.Contains(string(got), `"email":null,"fingerprint":null`) {
			t.Errorf("nulls missing: %s", got)
		}
		if !strings.HasSuffix(string(got), `"features":[]}`) {
			t.Errorf("empty features not []: %s", got)
		}
	})

	t.Run("non-UTC times are converted", func(t *testing.T) {
		p := samplePayload()
		p.IssuedAtUTC = p.IssuedAtUTC.In(time.FixedZone("BRT", -3*3600))
		a, _ := p.Canonical()
		b, _ := samplePayload().Canonical()
		if string(a) != string(b) {
			t.Errorf("zone leaked into encoding:\n%s\n%s", a, b)
		}
	})

	t.Run("no HTML escaping", func(t *testing.T) {
		p := samplePayload()
		p.Email = signing.Optional("a&b@<x>.com")
		got, _ := p.Canonical()
		if !strings.Contains(string(got), `"a&b@<x>.com"`) {
			t.Errorf("email escaped: %s", got)
		}
	})
}

func TestSignIsDeterministicAndVerifies(t *testing.T) {
	signer := signing.NewSigner(testutil.SigningKey(t))
	p := samplePayload()

	a, err := signer.Sign(p)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, err := signer.Sign(p)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if a.SignatureBase64 != b.SignatureBase64 {
		t.Error("signing the same payload twice gave different signatures")
	}

	if err := signing.Verify(p, a.SignatureBase64, signer.PublicKey()); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	signer := signing.NewSigner(testutil.SigningKey(t))
	signed, err := signer.Sign(samplePayload())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	mutations := map[string]func(p *signing.Payload){
		"license id":  func(p *signing.Payload) { p.LicenseID = "ABC-2" },
		"status":      func(p *signing.Payload) { p.SubscriptionStatus = "trial" },
		"expiry":      func(p *signing.Payload) { p.ExpiresAtUTC = p.ExpiresAtUTC.Add(24 * time.Hour) },
		"email":       func(p *signing.Payload) { p.Email = signing.Optional("z@y.com") },
		"email null":  func(p *signing.Payload) { p.Email = nil },
		"fingerprint": func(p *signing.Payload) { p.Fingerprint = signing.Optional("dev-2") },
		"issued at":   func(p *signing.Payload) { p.IssuedAtUTC = p.IssuedAtUTC.Add(time.Second) },
		"features":    func(p *signing.Payload) { p.Features = []string{"Import"} },
		"order":       func(p *signing.Payload) { p.Features = []string{"Export", "Import", "UnlimitedRows"} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := samplePayload()
			mutate(&p)
			if err := signing.Verify(p, signed.SignatureBase64, signer.PublicKey()); !errors.Is(err, signing.ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}

	t.Run("garbage signature", func(t *testing.T) {
		if err := signing.Verify(samplePayload(), "not base64!", signer.PublicKey()); !errors.Is(err, signing.ErrInvalidSignature) {
			t.Errorf("expected ErrInvalidSignature, got %v", err)
		}
	})
}

func TestSignedLicenseRoundTripsThroughJSON(t *testing.T) {
	signer := signing.NewSigner(testutil.SigningKey(t))
	signed, err := signer.Sign(samplePayload())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	raw, err := json.Marshal(signed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded signing.SignedLicense
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// a client re-encodes what it received and must land on the same bytes
	if err := signing.Verify(decoded.Payload, decoded.SignatureBase64, signer.PublicKey()); err != nil {
		t.Errorf("verify after round trip: %v", err)
	}
}

func TestParsePrivateKey(t *testing.T) {
	key := testutil.SigningKey(t)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pkcs8PEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}))
	pkcs1PEM := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))

	tests := []struct {
		name string
		text string
	}{
		{"pkcs8", pkcs8PEM},
		{"pkcs1", pkcs1PEM},
		{"escaped newlines", strings.ReplaceAll(pkcs8PEM, "\n", `\n`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := signing.ParsePrivateKey(tt.text)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !got.Equal(key) {
				t.Error("parsed key differs")
			}
		})
	}

	t.Run("not pem", func(t *testing.T) {
		if _, err := signing.ParsePrivateKey("hello"); !errors.Is(err, signing.ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey, got %v", err)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		if _, err := signing.LoadPrivateKey("", ""); !errors.Is(err, signing.ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey, got %v", err)
		}
	})
}

func TestPublicKeyPEM(t *testing.T) {
	signer := signing.NewSigner(testutil.SigningKey(t))
	b, err := signer.PublicKeyPEM()
	if err != nil {
		t.Fatalf("pem: %v", err)
	}
	pub, err := signing.ParsePublicKeyPEM(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !pub.Equal(signer.PublicKey()) {
		t.Error("published key differs from signing key")
	}
}
