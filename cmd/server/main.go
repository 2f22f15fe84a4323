package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lairchat/server/internal/v1/auth"
	"github.com/lairchat/server/internal/v1/bus"
	"github.com/lairchat/server/internal/v1/config"
	"github.com/lairchat/server/internal/v1/dispatcher"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/health"
	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/ratelimit"
	"github.com/lairchat/server/internal/v1/relay"
	"github.com/lairchat/server/internal/v1/sessionmgr"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/storage/memory"
	"github.com/lairchat/server/internal/v1/storage/postgres"
	"github.com/lairchat/server/internal/v1/tracing"
	"github.com/lairchat/server/internal/v1/transport/command"
	"github.com/lairchat/server/internal/v1/transport/framed"
	"github.com/lairchat/server/internal/v1/transport/httpapi"
	"github.com/lairchat/server/internal/v1/types"
)

const sessionSweepInterval = 10 * time.Minute

func main() {
	// Load .env for local development; in production everything arrives via
	// real environment variables.
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	development := os.Getenv("GO_ENV") == "development"
	if err := logging.Initialize(development); err != nil {
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Error(ctx, "configuration invalid", zap.Error(err))
		os.Exit(1)
	}

	if !development {
		gin.SetMode(gin.ReleaseMode)
	}

	if collectorAddr := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "lairchat-server", collectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: collector unreachable", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// Storage backend: Postgres when DATABASE_URL is set, else the
	// in-memory reference store (dev/test only; nothing survives restart).
	var (
		repos  storage.Repositories
		pinger health.Pinger
	)
	if cfg.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logging.Error(ctx, "database open failed", zap.Error(err))
			os.Exit(1)
		}
		defer store.Close()
		repos = store.Repositories()
		pinger = store
	} else {
		logging.Warn(ctx, "DATABASE_URL not set: using the in-memory store; all state is lost on restart")
		repos = memory.New().Repositories()
	}

	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword, uuid.NewString())
		if err != nil {
			logging.Error(ctx, "redis connect failed", zap.Error(err))
			os.Exit(1)
		}
		defer func() { _ = busService.Close() }()
	}

	disp := dispatcher.New(repos.Memberships)
	if busService != nil {
		eventRelay := relay.New(busService, disp, repos.Memberships)
		eventRelay.Start(ctx)
		defer eventRelay.Wait()
	}

	validator, err := auth.NewValidator(cfg.JWTSecret, "lairchat")
	if err != nil {
		logging.Error(ctx, "token validator init failed", zap.Error(err))
		os.Exit(1)
	}
	sessions := sessionmgr.New(repos.Sessions)
	eng := engine.New(repos, validator, sessions, disp)

	limiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		logging.Error(ctx, "rate limiter init failed", zap.Error(err))
		os.Exit(1)
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", nil)
	router := httpapi.NewRouter(httpapi.Deps{
		Engine:         eng,
		Commands:       &command.Router{Engine: eng, Sessions: sessions, Protocol: types.ProtocolWebSocket},
		Limiter:        limiter,
		Health:         health.NewHandler(busService, pinger),
		AllowedOrigins: allowedOrigins,
	})

	// Framed binary adapter. Bind failures are fatal startup errors.
	framedLis, err := net.Listen("tcp", ":"+cfg.TCPPort)
	if err != nil {
		logging.Error(ctx, "framed listener bind failed", zap.String("port", cfg.TCPPort), zap.Error(err))
		os.Exit(1)
	}
	framedOpts := []framed.Option{framed.WithMaxConnections(cfg.MaxConnections)}
	if cfg.FramedAllowPlaintext {
		framedOpts = append(framedOpts, framed.WithPlaintextAllowed())
	}
	framedSrv := framed.NewServer(
		&command.Router{Engine: eng, Sessions: sessions, Protocol: types.ProtocolFramed},
		framedOpts...,
	)
	framedDone := make(chan struct{})
	go func() {
		defer close(framedDone)
		logging.Info(ctx, "framed adapter listening", zap.String("addr", framedLis.Addr().String()))
		if err := framedSrv.Serve(ctx, framedLis); err != nil {
			logging.Error(ctx, "framed adapter stopped", zap.Error(err))
		}
	}()

	httpSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}
	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		logging.Info(ctx, "http adapter listening", zap.String("addr", httpSrv.Addr), zap.Bool("tls", cfg.TLSEnabled))
		var err error
		if cfg.TLSEnabled {
			err = httpSrv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "http adapter failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Expired sessions are swept periodically; the dispatcher's presence
	// accounting is driven by adapter disconnects, not by this sweep.
	go func() {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = sessions.SweepExpired(ctx)
			}
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warn(context.Background(), "http shutdown forced", zap.Error(err))
	}
	<-framedDone
	<-httpDone
	logging.Info(context.Background(), "server exited")
}
