// Package licclient talks to the licserver client API from a desktop
// application: activation, periodic checks and offline verification of the
// signed license it gets back.
package licclient

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"winsbygroup.com/licserver/internal/activation"
	"winsbygroup.com/licserver/internal/signing"
)

type (
	Payload       = signing.Payload
	SignedLicense = signing.SignedLicense
	CheckResult   = activation.CheckResult
	StatusReport  = activation.StatusReport
)

// Errors matched by APIError.Is, so callers can use errors.Is on any call.
var (
	ErrNotFound    = errors.New("license not found")
	ErrCanceled    = errors.New("license canceled")
	ErrInUse       = errors.New("license in use on another computer")
	ErrUnavailable = errors.New("license server unavailable")
)

var codeErrors = map[string]error{
	"license_not_found":                ErrNotFound,
	"license_canceled":                 ErrCanceled,
	"license_in_use_in_other_computer": ErrInUse,
	"store_unavailable":                ErrUnavailable,
}

// APIError is a non-200 answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("licserver: %d %s: %s", e.StatusCode, e.Code, e.Reason)
	}
	return fmt.Sprintf("licserver: %d %s", e.StatusCode, e.Code)
}

func (e *APIError) Is(target error) bool {
	return codeErrors[e.Code] == target
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

// New returns a client for the server at baseURL, e.g. https://lic.example.com.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/") + "/api/v1",
		http:      &http.Client{Timeout: 15 * time.Second},
		userAgent: "licclient",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Validation is the validate answer. License is signed for both paid
// licenses and trials.
type Validation struct {
	OK                 bool           `json:"ok"`
	Plan               string         `json:"plan"`
	SubscriptionStatus string         `json:"subscriptionStatus"`
	DaysLeft           int            `json:"daysLeft"`
	License            *SignedLicense `json:"-"`
}

func (c *Client) Activate(ctx context.Context, key, email, fingerprint string) (*SignedLicense, error) {
	var out SignedLicense
	err := c.post(ctx, "/activate", map[string]string{
		"licenseKey":  key,
		"email":       email,
		"fingerprint": fingerprint,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate checks key, or the device trial when key is empty.
func (c *Client) Validate(ctx context.Context, key, email, fingerprint, appVersion string) (*Validation, error) {
	var out struct {
		Validation
		SignedLicense
	}
	err := c.post(ctx, "/validate", map[string]string{
		"licenseKey":  key,
		"email":       email,
		"fingerprint": fingerprint,
		"appVersion":  appVersion,
	}, &out)
	if err != nil {
		return nil, err
	}
	v := out.Validation
	v.License = &out.SignedLicense
	return &v, nil
}

func (c *Client) Check(ctx context.Context, key, fingerprint, client string) (*CheckResult, error) {
	var out CheckResult
	err := c.post(ctx, "/check", map[string]string{
		"licenseKey":  key,
		"fingerprint": fingerprint,
		"client":      client,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, key, fingerprint, appVersion string) (*StatusReport, error) {
	var out StatusReport
	err := c.post(ctx, "/status", map[string]string{
		"licenseKey":  key,
		"fingerprint": fingerprint,
		"appVersion":  appVersion,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Deactivate frees the license from this device. It reports whether a
// binding was actually released.
func (c *Client) Deactivate(ctx context.Context, key, fingerprint, reason string) (bool, error) {
	var out struct {
		Released bool `json:"released"`
	}
	err := c.post(ctx, "/deactivate", map[string]string{
		"licenseKey":  key,
		"fingerprint": fingerprint,
		"reason":      reason,
	}, &out)
	return out.Released, err
}

// PublicKey fetches the verification key. Applications usually embed it
// instead of trusting the network.
func (c *Client) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/public-key", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return signing.ParsePublicKeyPEM(b)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends req and turns any non-200 answer into an *APIError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	var body struct {
		Error   string `json:"error"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: body.Error, Reason: body.Reason}
	if apiErr.Code == "" {
		apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		apiErr.Reason = body.Message
	}
	return nil, apiErr
}
