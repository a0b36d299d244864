package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/internal/config"
	"github.com/ehr/clinic-live/internal/domain/collaboration"
	"github.com/ehr/clinic-live/internal/domain/dashboard"
	"github.com/ehr/clinic-live/internal/domain/livedata"
	"github.com/ehr/clinic-live/internal/domain/notification"
	"github.com/ehr/clinic-live/internal/platform/auth"
	"github.com/ehr/clinic-live/internal/platform/db"
	"github.com/ehr/clinic-live/internal/platform/middleware"
	"github.com/ehr/clinic-live/internal/platform/websocket"
	"github.com/ehr/clinic-live/pkg/wire"
)

// storeDeps are the dashboard backends, Postgres or in-memory.
type storeDeps struct {
	stats    dashboard.StatsRepository
	activity dashboard.ActivityStore
}

func pgStore(q dashboard.Querier) storeDeps {
	s := dashboard.NewPGStore(q)
	return storeDeps{stats: s, activity: s}
}

func memoryStore() storeDeps {
	s := dashboard.NewMemoryStore(0)
	return storeDeps{stats: s, activity: s}
}

// server is the assembled gateway.
type server struct {
	cfg         *config.Config
	logger      zerolog.Logger
	echo        *echo.Echo
	hub         *websocket.Hub
	broadcaster *dashboard.Broadcaster
	sessions    *collaboration.Processor
}

// authenticator picks JWT verification when a signing key is configured.
// Development without a key accepts ?user= identities.
func authenticator(cfg *config.Config) (auth.Authenticator, error) {
	if cfg.AuthSigningKey == "" && cfg.IsDev() {
		return auth.DevAuthenticator{}, nil
	}
	return auth.NewTokenService([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, cfg.AuthTokenTTL)
}

func newServer(cfg *config.Config, logger zerolog.Logger, store storeDeps, prober db.Prober) (*server, error) {
	authn, err := authenticator(cfg)
	if err != nil {
		return nil, err
	}
	if _, dev := authn.(auth.DevAuthenticator); dev {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set, accepting development identities")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))

	hub := websocket.NewHub(logger)

	// Realtime endpoints, one per concern.
	sessions := collaboration.NewProcessor(hub, collaboration.NewStore(0), logger)
	wsHandler := websocket.NewWebSocketHandler(hub, authn, logger, cfg.CORSOrigins...)
	wsHandler.Handle(wire.ConcernDashboard, dashboard.NewProcessor())
	wsHandler.Handle(wire.ConcernLiveData, livedata.NewProcessor(hub))
	wsHandler.Handle(wire.ConcernNotifications, notification.NewProcessor())
	wsHandler.Handle(wire.ConcernCollaboration, sessions)
	wsHandler.RegisterRoutes(e.Group("/ws"))

	// REST API
	apiV1 := e.Group("/api/v1", auth.Middleware(authn), middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, callerKey))
	dashboard.NewHandler(store.stats, store.activity, hub, logger).RegisterRoutes(apiV1)

	backend := apiV1.Group("", auth.RequireRole("admin", "service"))
	websocket.NewPublishHandler(hub).RegisterRoutes(backend)
	notification.NewNotifier(hub, logger).RegisterRoutes(backend)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"clients": hub.ClientCount(),
		})
	})
	if prober != nil {
		e.GET("/health/db", db.HealthHandler(prober))
	}
	e.GET("/metrics", websocket.MetricsHandler(hub, websocket.Gauge{
		Name:  "clinic_live_collab_sessions",
		Help:  "Open collaboration sessions.",
		Value: func() float64 { return float64(sessions.Sessions()) },
	}))

	return &server{
		cfg:         cfg,
		logger:      logger,
		echo:        e,
		hub:         hub,
		broadcaster: dashboard.NewBroadcaster(store.stats, hub, cfg.StatsInterval, logger),
		sessions:    sessions,
	}, nil
}

// callerKey rate-limits per authenticated user, falling back to the IP.
func callerKey(c echo.Context) string {
	if id := auth.IdentityFrom(c); id != nil {
		return "user:" + id.UserID
	}
	return "ip:" + c.RealIP()
}

// start launches the background loops. They stop with ctx.
func (s *server) start(ctx context.Context) {
	go s.broadcaster.Run(ctx)
	go s.sessions.Run(ctx, time.Minute, s.cfg.SessionIdle)
}
