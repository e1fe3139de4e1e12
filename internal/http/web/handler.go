// Package web serves the public, browser-facing pages.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"winsbygroup.com/licserver/internal/eventlog"
)

var errInvalidDownloadURL = errors.New("download URL must be an absolute http or https URL")

// Handler handles public web requests
type Handler struct {
	events      *eventlog.Log
	downloadURL string
	urlErr      error
	log         *slog.Logger
}

// NewHandler creates a new web handler. An invalid downloadURL is reported
// on every download request instead of failing startup.
func NewHandler(events *eventlog.Log, downloadURL string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	downloadURL = strings.TrimSpace(downloadURL)
	return &Handler{
		events:      events,
		downloadURL: downloadURL,
		urlErr:      checkURL(downloadURL),
		log:         log.With(slog.String("component", "web")),
	}
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || raw == "" || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errInvalidDownloadURL
	}
	return nil
}

// IsMobile reports whether the user agent is a phone or tablet.
func IsMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	return strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "android")
}

// GET|HEAD /download/demo
func (h *Handler) DownloadDemo(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()

	if h.events != nil {
		if err := h.events.RecordDownload(ctx, c.RealIP(), req.UserAgent(), req.Referer()); err != nil {
			h.log.WarnContext(ctx, "download not logged", slog.String("error", err.Error()))
		}
	}

	if h.urlErr != nil {
		h.log.ErrorContext(ctx, "download URL misconfigured")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": h.urlErr.Error(),
		})
	}

	if IsMobile(req.UserAgent()) && req.Method == http.MethodGet {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
		c.Response().WriteHeader(http.StatusOK)
		return DesktopOnly(h.downloadURL).Render(ctx, c.Response())
	}
	return c.Redirect(http.StatusFound, h.downloadURL)
}
