package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/urbanease-realtime/internal/auth"
	"github.com/urbanease-realtime/internal/bridge"
	"github.com/urbanease-realtime/internal/config"
	"github.com/urbanease-realtime/internal/db"
	apihttp "github.com/urbanease-realtime/internal/http"
	"github.com/urbanease-realtime/internal/http/middleware"
	"github.com/urbanease-realtime/internal/logging"
	"github.com/urbanease-realtime/internal/mobility"
	"github.com/urbanease-realtime/internal/realtime"
	"github.com/urbanease-realtime/internal/supervisor"
	"github.com/urbanease-realtime/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		logging.Fatal().Err(err).Msg("apply migrations")
	}

	operators := auth.NewPGOperatorStore(pool)
	if cfg.Auth.OperatorEmail != "" && cfg.Auth.OperatorPassword != "" {
		op, err := operators.CreateOperator(ctx, cfg.Auth.OperatorEmail, "Operator", cfg.Auth.OperatorPassword)
		if err != nil {
			logging.Fatal().Err(err).Msg("bootstrap operator")
		}
		logging.Info().Int64("operator_id", op.ID).Str("email", op.Email).Msg("operator ready")
	}
	authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL(), operators)

	hub := realtime.NewHub(realtime.Options{
		QueueSize:   cfg.Hub.QueueSize,
		SendTimeout: cfg.Hub.SendTimeout,
	})
	store := mobility.NewBreakerStore(mobility.NewPGStore(pool), mobility.BreakerConfig{
		FailureThreshold: cfg.Database.BreakerThreshold,
		Timeout:          cfg.Database.BreakerTimeout,
	})
	mobilitySvc := mobility.NewService(store, hub)

	handler := apihttp.NewServerHandler(apihttp.RouterDeps{
		Handler: apihttp.NewHandler(hub, mobilitySvc, authSvc, cfg),
		AuthMW:  middleware.NewAuth(authSvc),
		Config:  cfg,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// websocket handlers watch the request context, so shutdown reaches them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(hub)
	if cfg.NATS.URL != "" {
		tree.AddMessagingService(bridge.NewNATSBridge(cfg.NATS.URL, cfg.NATS.Subject, hub))
	} else {
		logging.Info().Msg("NATS_URL not set, bridge disabled")
	}
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", srv.Addr).Msg("urbanease realtime server listening")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("shutdown complete")
}

// ensure gin uses release mode in production
func init() {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
}
