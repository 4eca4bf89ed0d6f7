// Package app holds the process lifecycle shared by the service binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fulfillment/config"
	"fulfillment/internal/util"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Application owns a service's config, logger, tracer and background loops
type Application struct {
	Config *config.Config
	Logger *zap.Logger

	tp      *sdktrace.TracerProvider
	closers []func() error
}

// New loads configuration and initializes logging and tracing for service
func New(service, defaultPort string) *Application {
	cfg := config.Load(service, defaultPort)

	if err := util.InitLogger(cfg.Server.Env, service); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := util.GetLogger()
	logger.Info("Starting " + service)

	tp, err := util.InitTracer(service, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Application{Config: cfg, Logger: logger, tp: tp}
}

// OnShutdown registers a closer run after the server and loops have stopped,
// in reverse registration order
func (a *Application) OnShutdown(closer func() error) {
	a.closers = append(a.closers, closer)
}

// Run serves router and runs the loops until SIGINT/SIGTERM or until any of
// them fails. Loops must return when their context is done.
func (a *Application) Run(router http.Handler, loops ...func(context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", a.Config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("Starting HTTP server", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	for _, loop := range loops {
		loop := loop
		g.Go(func() error { return loop(gctx) })
	}

	err := g.Wait()
	a.shutdown()
	if err != nil {
		a.Logger.Error("Service exited with error", zap.Error(err))
		return err
	}
	a.Logger.Info("Server exited")
	return nil
}

func (a *Application) shutdown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Error during shutdown", zap.Error(err))
		}
	}

	if a.tp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tp.Shutdown(ctx); err != nil {
			a.Logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}
	util.SyncLogger()
}
