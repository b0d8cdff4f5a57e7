package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/replanner/config"
	"github.com/mohammad-safakhou/replanner/internal/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the HTTP API is built from.
type Deps struct {
	Agent  *runtime.Agent
	Prober *Prober
	// JWTSecret protects /api when set.
	JWTSecret []byte
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	authEnabled := len(d.JWTSecret) > 0
	if authEnabled {
		api.Use(runtime.EchoAuthMiddleware(d.JWTSecret))
	}

	(&ChatHandler{Conversation: d.Agent.Conversation}).Register(api)
	(&ToolsHandler{Catalogue: d.Agent.Catalogue, Prober: d.Prober}).Register(api)
	sh := &SessionsHandler{}
	if d.Agent.Store != nil {
		sh.Turns = d.Agent.Store
	}
	sh.Register(api, runtime.RequireScopes(authEnabled, "turns:read"))
	return e
}

// Run wires the agent from configuration and serves the API until SIGINT or SIGTERM.
func Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceVersion: "dev"})
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	if cfg.Server.AutoMigrate && cfg.Storage.Postgres.Enabled() {
		dsn, err := runtime.BuildPostgresDSN(cfg)
		if err != nil {
			return err
		}
		if err := Migrate(cfg.Server.MigrationsDir, dsn, "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	agent, err := runtime.BuildAgent(ctx, cfg, runtime.AgentOptions{})
	if err != nil {
		return err
	}
	defer agent.Close()

	if agent.Store != nil {
		if _, err := runtime.SyncToolRegistry(ctx, agent.Store, agent.Catalogue, cfg.Capability.SigningSecret, nil); err != nil {
			log.Printf("[STORE] warn: tool registry sync failed: %v", err)
		}
	}
	if cfg.Telemetry.PeriodicLogs {
		agent.Telemetry.StartPeriodicLogging(ctx, 5*time.Minute)
	}

	prober := NewProber(agent.Catalogue, agent.Redis, cfg.Tools.ProbeSchedule, cfg.Agents.Normalize().ToolTimeout)
	prober.Start()
	defer close(prober.Stop)

	secret, err := runtime.LoadJWTSecret(cfg)
	if errors.Is(err, runtime.ErrNoJWTSecret) {
		log.Printf("[HTTP] warn: server.jwt_secret not set; /api is unauthenticated")
	} else if err != nil {
		return err
	}

	e := New(Deps{Agent: agent, Prober: prober, JWTSecret: secret})
	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
