package app

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"storefront/internal/config"
	"storefront/pkg/log"
)

func (a *App) newServer() *http.Server {
	return &http.Server{
		Addr:           a.cfg.Server.GetAddr(),
		Handler:        a.router,
		ReadTimeout:    a.cfg.Server.ReadTimeout,
		WriteTimeout:   a.cfg.Server.WriteTimeout,
		IdleTimeout:    a.cfg.Server.IdleTimeout,
		MaxHeaderBytes: a.cfg.Server.MaxHeaderMB << 20,
	}
}

// Start starts the consumers and the runtime gauges
func (a *App) Start(ctx context.Context) {
	go a.metrics.StartSystemMetricsCollection(ctx)
	for _, c := range a.consumers {
		c.Start(ctx)
	}
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts down
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(map[string]interface{}{
			"addr":    a.server.Addr,
			"service": a.cfg.Service,
			"mode":    a.cfg.Server.Mode,
		}).Info("Starting HTTP server")

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.WithError(serveErr).Error("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown drains HTTP, waits for in-flight deliveries and releases resources.
// Unacknowledged messages stay on the bus for redelivery.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	for _, c := range a.consumers {
		c.Stop()
	}
	a.Close()

	if terr := a.tracer.Shutdown(ctx); terr != nil {
		log.WithError(terr).Warn("Failed to flush traces")
	}
	return err
}

// Main loads configuration for service, runs the roles and exits on SIGINT or SIGTERM
func Main(service string, roles ...Role) {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(service, *configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	if err := log.Init(log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
		Service:    cfg.Service,
	}); err != nil {
		log.WithError(err).Fatal("Failed to initialize logger")
	}

	switch cfg.Server.Mode {
	case gin.ReleaseMode:
		gin.SetMode(gin.ReleaseMode)
	case gin.TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	config.WatchConfig(func(c *config.Config) {
		if log.SetLevel(c.Log.Level) {
			log.WithField("level", c.Log.Level).Info("Log level updated")
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, roles...)
	if err != nil {
		log.WithError(err).Fatal("Failed to start " + service)
	}

	if err := a.Run(ctx); err != nil {
		log.WithError(err).Error("Server exited with error")
		stop()
		os.Exit(1)
	}
	log.Info("Server exited")
}
