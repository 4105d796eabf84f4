package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/knowhook/knowhook-server/internal/api"
	"github.com/knowhook/knowhook-server/internal/config"
	"github.com/knowhook/knowhook-server/internal/dispatch"
	"github.com/knowhook/knowhook-server/internal/httpclient"
	"github.com/knowhook/knowhook-server/internal/mcp"
	"github.com/knowhook/knowhook-server/internal/registry"
	"github.com/knowhook/knowhook-server/internal/service"
	"github.com/knowhook/knowhook-server/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the knowledge source server",
	Long: `Start the knowledge source server.

With --transport http (the default) the server exposes the REST API for
registering sources and dispatching queries. With --transport stdio it runs
as an MCP server over standard input and output, exposing the same
operations as tools.

A configuration file (--config) is optional; flags and built-in defaults
apply when it is omitted. See examples/ for a sample configuration.`,
	RunE: runServe,
}

const (
	transportHTTP  = "http"
	transportStdio = "stdio"

	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	// Write timeout must cover a full fan-out, which waits up to the
	// dispatch timeout per call.
	serverWriteTimeout = 120 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", config.DefaultAddress, "Address to listen on (http transport)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	serveCmd.Flags().String("transport", transportHTTP, "Transport to serve on (http or stdio)")

	for _, flag := range []string{"address", "config", "transport"} {
		if err := viper.BindPFlag(flag, serveCmd.Flags().Lookup(flag)); err != nil {
			slog.Error("Failed to bind flag", "flag", flag, "error", err)
			os.Exit(1)
		}
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	transport := viper.GetString("transport")
	if transport != transportHTTP && transport != transportStdio {
		return fmt.Errorf("unknown transport %q (expected %q or %q)", transport, transportHTTP, transportStdio)
	}

	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	svc, err := buildService(cfg)
	if err != nil {
		return err
	}

	if transport == transportStdio {
		slog.Info("Starting MCP server on stdio")
		return mcp.ServeStdio(svc)
	}

	return serveHTTP(cfg, svc)
}

// loadServeConfig loads the configuration file when one is given and falls
// back to built-in defaults otherwise. The address flag wins over both.
func loadServeConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath := viper.GetString("config"); configPath != "" {
		loaded, err := config.LoadConfig(config.WithConfigPath(configPath))
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		slog.Info("Loaded configuration", "path", configPath)
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if address := viper.GetString("address"); address != config.DefaultAddress {
		cfg.Address = address
	}
	return cfg, nil
}

// buildService wires the registry, dispatcher, and HTTP client into the
// knowledge service.
func buildService(cfg *config.Config) (service.KnowledgeService, error) {
	reg := registry.New(cfg.GetStorePath(),
		registry.WithDefaultFlavor(cfg.GetDefaultFlavor()),
	)
	reg.EnsureLoaded()

	if cfg.Bootstrap != nil && cfg.Bootstrap.Path != "" {
		count, err := reg.BulkLoad(cfg.Bootstrap.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to bootstrap sources from %s: %w", cfg.Bootstrap.Path, err)
		}
		slog.Info("Bootstrapped knowledge sources", "path", cfg.Bootstrap.Path, "count", count)
	}

	client := httpclient.NewDefaultClient(cfg.GetDispatchTimeout())
	dispatcher := dispatch.New(client,
		dispatch.WithTimeout(cfg.GetDispatchTimeout()),
		dispatch.WithAPIKeyHeader(cfg.GetAPIKeyHeader()),
	)

	return service.New(reg, dispatcher, client), nil
}

func serveHTTP(cfg *config.Config, svc service.KnowledgeService) error {
	address := cfg.GetAddress()
	slog.Info("Starting knowledge API server", "address", address)

	meterProvider, scrapeHandler, err := telemetry.NewMeterProvider()
	if err != nil {
		return fmt.Errorf("failed to create meter provider: %w", err)
	}
	metricsMiddleware, err := telemetry.MetricsMiddleware(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics middleware: %w", err)
	}

	router := api.NewServer(svc,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			metricsMiddleware,
			api.LoggingMiddleware,
		),
		api.WithMetricsHandler(scrapeHandler),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
