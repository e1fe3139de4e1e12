package client

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all client-facing endpoints under the given Echo group.
// None of them take credentials; the license key travels in the body.
func RegisterRoutes(g *echo.Group, h *Handler) {

	// Licensed use
	g.POST("/activate", h.Activate)
	g.POST("/validate", h.Validate)
	g.POST("/deactivate", h.Deactivate)

	// Periodic ping and status (licensed or trial)
	g.POST("/check", h.Check)
	g.POST("/status", h.Status)

	// Key clients verify signed payloads with
	g.GET("/public-key", h.PublicKey)
}
