package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	mwecho "github.com/labstack/echo/v4/middleware"
	mwsvc "winsbygroup.com/licserver/internal/middleware"

	"winsbygroup.com/licserver/internal/activation"
	"winsbygroup.com/licserver/internal/backup"
	"winsbygroup.com/licserver/internal/binding"
	"winsbygroup.com/licserver/internal/config"
	"winsbygroup.com/licserver/internal/demodata"
	"winsbygroup.com/licserver/internal/eventlog"
	"winsbygroup.com/licserver/internal/license"
	"winsbygroup.com/licserver/internal/metrics"
	"winsbygroup.com/licserver/internal/postgres"
	"winsbygroup.com/licserver/internal/signing"
	"winsbygroup.com/licserver/internal/sqlite"
	"winsbygroup.com/licserver/internal/trial"
	"winsbygroup.com/licserver/internal/webhook"

	adminhttp "winsbygroup.com/licserver/internal/http/admin"
	clienthttp "winsbygroup.com/licserver/internal/http/client"
	webhttp "winsbygroup.com/licserver/internal/http/web"
	hookhttp "winsbygroup.com/licserver/internal/http/webhook"
)

type Server struct {
	Echo    *echo.Echo
	HTTP    *http.Server
	DB      *sqlx.DB // nil for the memory store
	Metrics *metrics.Metrics
}

// Close releases the database handle, if any.
func (s *Server) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// stores holds one repository per domain package, all on the same backend.
type stores struct {
	db       *sqlx.DB
	isNew    bool
	licenses license.Repository
	bindings binding.Repository
	trials   trial.Repository
	events   eventlog.Repository
	claims   webhook.Deliveries
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		log.Print("Using in-memory store (data is lost on exit)")
		return &stores{
			isNew:    true,
			licenses: license.NewMemory(),
			bindings: binding.NewMemory(),
			trials:   trial.NewMemory(),
			events:   eventlog.NewMemory(),
			claims:   webhook.NewMemoryDeliveries(),
		}, nil

	case config.DriverPostgres:
		log.Print("Connecting to postgres")
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return sqlStores(db, false), nil

	case config.DriverSQLite:
		isNew := false
		if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
			isNew = true
			log.Printf("Creating database '%s' (from %s setting)", cfg.DBPath, cfg.DBPathSource)
		} else {
			log.Printf("Opening database '%s' (from %s setting)", cfg.DBPath, cfg.DBPathSource)
		}
		db, err := sqlite.Open(cfg.DBPath, "WAL")
		if err != nil {
			return nil, err
		}
		return sqlStores(db, isNew), nil
	}
	return nil, fmt.Errorf("unknown db_driver %q", cfg.DBDriver)
}

func sqlStores(db *sqlx.DB, isNew bool) *stores {
	return &stores{
		db:       db,
		isNew:    isNew,
		licenses: license.New(db),
		bindings: binding.New(db),
		trials:   trial.New(db),
		events:   eventlog.New(db),
		claims:   webhook.NewDeliveries(db),
	}
}

// NewLogger returns the JSON slog logger used by every service.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func Build(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	//
	// Signing key
	//
	key, err := signing.LoadPrivateKey(cfg.PrivateKeyPEM, cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	signer := signing.NewSigner(key)

	//
	// Database
	//
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	//
	// Domain services
	//
	m := metrics.New()
	lc := cfg.Licensing

	licenseSvc := license.NewService(st.licenses,
		license.WithRenewalWindow(lc.RenewalWindow),
		license.WithLogger(logger))
	bindingMgr := binding.NewManager(licenseSvc, st.bindings,
		binding.WithLogger(logger),
		binding.WithMetrics(m))
	trialSvc := trial.NewService(st.trials,
		trial.WithLogger(logger),
		trial.WithMetrics(m))
	events := eventlog.NewLog(st.events,
		eventlog.WithLogger(logger),
		eventlog.WithMetrics(m))

	activationSvc := activation.NewService(activation.Config{
		TrialDays:        lc.TrialDays,
		NextCheckSeconds: lc.NextCheckSeconds,
		PaidFeatures:     lc.PaidFeatures,
		TrialFeatures:    lc.TrialFeatures,
	}, licenseSvc, bindingMgr, trialSvc, signer, events,
		activation.WithLogger(logger),
		activation.WithMetrics(m))

	normalizer := webhook.NewNormalizer(webhook.Config{
		Secret:         cfg.WebhookSecret,
		RenewalWindow:  lc.RenewalWindow,
		CancelSentinel: lc.CancelSentinel,
	}, licenseSvc, st.claims, events,
		webhook.WithLogger(logger),
		webhook.WithMetrics(m))
	if cfg.WebhookSecret == "" {
		log.Print("WEBHOOK_SECRET is not set; every webhook call will be rejected")
	}

	var backups *backup.Service
	if cfg.DBDriver == config.DriverSQLite {
		backups = backup.NewService(st.db, cfg.DBPath, cfg.BackupKeep)
	}

	// Load demo data if requested and database is new
	if cfg.DemoMode && st.isNew {
		n, err := demodata.Load(ctx, licenseSvc)
		if err != nil {
			st.close()
			return nil, errors.New("failed to load demo data: " + err.Error())
		}
		log.Printf("Demo data loaded (%d licenses)", n)
	}

	//
	// Handlers
	//
	clientHandler := clienthttp.NewHandler(activationSvc, signer, logger)
	adminSvc := adminhttp.NewService(licenseSvc, activationSvc, bindingMgr, events, backups)
	adminHandler := adminhttp.NewHandler(adminSvc, logger)
	hookHandler := hookhttp.NewHandler(normalizer, logger)
	webHandler := webhttp.NewHandler(events, cfg.DownloadURL, logger)

	//
	// Echo
	//
	e := echo.New()
	e.HideBanner = true
	e.Validator = adminhttp.NewValidator()

	// Health endpoints
	e.GET("/livez", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	e.GET("/readyz", func(c echo.Context) error {
		if st.db != nil {
			if err := st.db.PingContext(c.Request().Context()); err != nil {
				return c.String(http.StatusServiceUnavailable, "DB not ready")
			}
		}
		return c.String(http.StatusOK, "Ready")
	})

	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Middleware
	e.Use(mwecho.Logger())
	e.Use(mwecho.Recover())
	e.Use(mwsvc.Version())

	limit := func(g *echo.Group) {
		if cfg.RateLimit > 0 {
			g.Use(mwecho.RateLimiter(mwecho.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
		}
	}

	// Client API
	clientGroup := e.Group("/api/v1")
	limit(clientGroup)
	clienthttp.RegisterRoutes(clientGroup, clientHandler)

	// Admin API
	adminGroup := e.Group("/api/admin")
	adminGroup.Use(mwsvc.AdminAPIKeyAuth(cfg.APIKey))
	adminhttp.RegisterRoutes(adminGroup, adminHandler)

	// Billing provider callbacks
	hookGroup := e.Group("/webhook")
	limit(hookGroup)
	hookhttp.RegisterRoutes(hookGroup, hookHandler)

	// Installer download
	downloadGroup := e.Group("/download")
	limit(downloadGroup)
	webhttp.RegisterRoutes(downloadGroup, webHandler)

	//
	// HTTP server
	//
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      e,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		Echo:    e,
		HTTP:    srv,
		DB:      st.db,
		Metrics: m,
	}, nil
}

func (s *stores) close() {
	if s.db != nil {
		s.db.Close()
	}
}
