package client

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"winsbygroup.com/licserver/internal/activation"
	"winsbygroup.com/licserver/internal/http/apierr"
	"winsbygroup.com/licserver/internal/signing"
)

type Handler struct {
	ActivationService *activation.Service
	Signer            *signing.Signer
	log               *slog.Logger
}

func NewHandler(a *activation.Service, s *signing.Signer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		ActivationService: a,
		Signer:            s,
		log:               log.With(slog.String("component", "client_api")),
	}
}

// POST /activate
func (h *Handler) Activate(c echo.Context) error {
	var req ActivateRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(c, "invalid request body")
	}

	signed, err := h.ActivationService.Activate(c.Request().Context(), req.LicenseKey, req.Email, req.Fingerprint)
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, ActivateResponse{OK: true, SignedLicense: signed})
}

// POST /validate
func (h *Handler) Validate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(c, "invalid request body")
	}

	v, err := h.ActivationService.Validate(c.Request().Context(), req.LicenseKey, req.Email, req.Fingerprint)
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	p := v.Signed.Payload
	return c.JSON(http.StatusOK, ValidateResponse{
		OK:                 v.OK,
		Plan:               v.Plan,
		SubscriptionStatus: p.SubscriptionStatus,
		ExpiresAtUTC:       p.ExpiresAtUTC.UTC().Format(signing.TimeFormat),
		Email:              p.Email,
		Fingerprint:        p.Fingerprint,
		Features:           p.Features,
		DaysLeft:           v.DaysLeft,
		SignedLicense:      v.Signed,
	})
}

// POST /check
func (h *Handler) Check(c echo.Context) error {
	var req CheckRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(c, "invalid request body")
	}

	res, err := h.ActivationService.Check(c.Request().Context(), req.LicenseKey, req.Fingerprint, req.Client, c.RealIP())
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// POST /status
func (h *Handler) Status(c echo.Context) error {
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(c, "invalid request body")
	}

	rep, err := h.ActivationService.Status(c.Request().Context(), req.LicenseKey, req.Fingerprint, req.AppVersion, c.RealIP())
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// POST /deactivate releases the caller's own device binding.
func (h *Handler) Deactivate(c echo.Context) error {
	var req DeactivateRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(c, "invalid request body")
	}

	ctx := c.Request().Context()
	released, err := h.ActivationService.Release(ctx, req.LicenseKey, req.Fingerprint)
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	if req.Reason != "" {
		h.log.InfoContext(ctx, "client deactivation", slog.String("reason", req.Reason))
	}
	return c.JSON(http.StatusOK, DeactivateResponse{OK: true, Released: released})
}

// GET /public-key
func (h *Handler) PublicKey(c echo.Context) error {
	pem, err := h.Signer.PublicKeyPEM()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "public key unavailable",
		})
	}
	return c.Blob(http.StatusOK, "application/x-pem-file", pem)
}
