package admin

import "github.com/labstack/echo/v4"

func RegisterRoutes(g *echo.Group, h *Handler) {

	// Licenses
	g.GET("/licenses", h.GetLicenses)
	g.POST("/licenses", h.CreateLicense)
	g.GET("/licenses/:key", h.GetLicense)
	g.POST("/licenses/:key/renew", h.RenewLicense)
	g.POST("/licenses/:key/reissue", h.ReissueLicense)
	g.POST("/licenses/:key/deactivate", h.DeactivateLicense)

	// Device bindings
	g.GET("/licenses/:key/activations", h.GetActivations)
	g.DELETE("/licenses/:key/activation", h.RevokeActivation)

	// Owner-wide expiry shift
	g.POST("/prolong", h.Prolong)

	// Webhook audit trail
	g.GET("/webhooks", h.GetWebhookEvents)

	// Backup
	g.POST("/backup", h.BackupDatabase)
}
