// Package webhook exposes the billing provider callback endpoint.
package webhook

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"winsbygroup.com/licserver/internal/http/apierr"
	hook "winsbygroup.com/licserver/internal/webhook"
)

// maxBody bounds what a provider call may send.
const maxBody = 1 << 20

type Handler struct {
	normalizer *hook.Normalizer
	log        *slog.Logger
}

func NewHandler(n *hook.Normalizer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{normalizer: n, log: log.With(slog.String("component", "webhook_api"))}
}

func RegisterRoutes(g *echo.Group, h *Handler) {
	g.POST("/hotmart", h.Hotmart)
}

// Response never carries the token or the raw body back.
type Response struct {
	Received       bool   `json:"received"`
	Outcome        string `json:"outcome"`
	Classification string `json:"classification"`
	EventRaw       string `json:"eventRaw"`
	Email          string `json:"email"`
	AppliedDays    int    `json:"appliedDays"`
	Licenses       int    `json:"licenses"`
}

// token returns the first non-blank value among the accepted header names,
// trimmed of surrounding whitespace.
func token(r *http.Request) string {
	for _, name := range hook.TokenHeaders {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// POST /webhook/hotmart
func (h *Handler) Hotmart(c echo.Context) error {
	req := c.Request()
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
	if err != nil {
		return apierr.BadRequest(c, "unreadable body")
	}

	res, err := h.normalizer.Handle(req.Context(), token(req), raw)
	if err != nil {
		return apierr.Write(c, h.log, err)
	}
	if res.Outcome == hook.Unauthorized {
		return c.JSON(http.StatusUnauthorized, map[string]any{"received": false, "error": apierr.CodeUnauthorized})
	}
	return c.JSON(http.StatusOK, Response{
		Received:       true,
		Outcome:        string(res.Outcome),
		Classification: string(res.Classification),
		EventRaw:       res.Event,
		Email:          res.Email,
		AppliedDays:    res.AppliedDays,
		Licenses:       res.Licenses,
	})
}
