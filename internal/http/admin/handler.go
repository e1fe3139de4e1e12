package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"winsbygroup.com/licserver/internal/backup"
	"winsbygroup.com/licserver/internal/http/apierr"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log.With(slog.String("component", "admin_api"))}
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return errors.New("invalid request body")
	}
	return c.Validate(req)
}

// Licenses

func (h *Handler) GetLicenses(c echo.Context) error {
	out, err := h.svc.ListLicenses(c.Request().Context())
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetLicense(c echo.Context) error {
	out, err := h.svc.GetLicense(c.Request().Context(), c.Param("key"))
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateLicense(c echo.Context) error {
	var req CreateLicenseRequest
	if err := bind(c, &req); err != nil {
		return apierr.BadRequest(c, err.Error())
	}
	out, err := h.svc.CreateLicense(c.Request().Context(), &req)
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) RenewLicense(c echo.Context) error {
	var req RenewRequest
	if err := bind(c, &req); err != nil {
		return apierr.BadRequest(c, err.Error())
	}
	out, err := h.svc.RenewLicense(c.Request().Context(), c.Param("key"), &req)
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ReissueLicense(c echo.Context) error {
	var req ReissueRequest
	if err := bind(c, &req); err != nil {
		return apierr.BadRequest(c, err.Error())
	}
	out, err := h.svc.ReissueLicense(c.Request().Context(), c.Param("key"), &req)
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) DeactivateLicense(c echo.Context) error {
	out, err := h.svc.DeactivateLicense(c.Request().Context(), c.Param("key"))
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Prolong(c echo.Context) error {
	var req ProlongRequest
	if err := bind(c, &req); err != nil {
		return apierr.BadRequest(c, err.Error())
	}
	out, err := h.svc.Prolong(c.Request().Context(), &req)
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Activations

func (h *Handler) GetActivations(c echo.Context) error {
	out, err := h.svc.GetActivations(c.Request().Context(), c.Param("key"))
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) RevokeActivation(c echo.Context) error {
	out, err := h.svc.RevokeActivation(c.Request().Context(), c.Param("key"))
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Webhook events

func (h *Handler) GetWebhookEvents(c echo.Context) error {
	limit := defaultEventLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return apierr.BadRequest(c, "limit must be a positive integer")
		}
		limit = min(n, maxEventLimit)
	}
	out, err := h.svc.RecentWebhooks(c.Request().Context(), limit)
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Backup

func (h *Handler) BackupDatabase(c echo.Context) error {
	result, err := h.svc.Backup(c.Request().Context())
	if errors.Is(err, backup.ErrUnsupported) {
		return c.JSON(http.StatusNotImplemented, map[string]string{
			"error": err.Error(),
		})
	}
	if err != nil {
		h.log.ErrorContext(c.Request().Context(), "backup failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "backup failed",
		})
	}
	return c.JSON(http.StatusOK, result)
}
