package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gandalf-gdac/erddap_sync/internal/catalog"
	"github.com/gandalf-gdac/erddap_sync/internal/config"
	"github.com/gandalf-gdac/erddap_sync/internal/logctx"
	"github.com/gandalf-gdac/erddap_sync/internal/mcp"
	"github.com/gandalf-gdac/erddap_sync/internal/oauthproxy"
	"github.com/gandalf-gdac/erddap_sync/internal/telemetry"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	// Stdio transport owns stdout for the protocol, so logs go to stderr.
	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("erddap mcp server starting...", "transport", cfg.MCP.Transport, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "erddap_mcp",
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Catalog Registry
	var clientOpts []catalog.Option
	if cfg.AuthToken != "" {
		clientOpts = append(clientOpts, catalog.WithToken(cfg.AuthToken))
	}

	registry := catalog.NewRegistry(clientOpts...)
	defer registry.Close()

	// =========================================================================
	// Start MCP Server
	server, err := mcp.NewServer(&mcp.Ports{
		Catalogs:    registry,
		Telemetry:   tel,
		DownloadDir: cfg.MCP.DownloadDir,
	})
	if err != nil {
		return fmt.Errorf("failed to build mcp server: %w", err)
	}

	switch cfg.MCP.Transport {
	case "stdio":
		return server.Run(ctx)
	case "http":
		return runHTTP(ctx, cfg, server, tel)
	default:
		return fmt.Errorf("unknown mcp transport: %s", cfg.MCP.Transport)
	}
}

// runHTTP serves the MCP endpoint over HTTP behind the OAuth proxy.
func runHTTP(ctx context.Context, cfg *config.Config, server *mcp.Server, tel *telemetry.Telemetry) error {
	logger := logctx.LoggerFromContext(ctx)

	provider := oauthproxy.NewProvider(oauthproxy.Config{Issuer: cfg.MCP.Issuer})

	handler := provider.Router(server.Handler())

	telMiddleware := telemetry.NewHTTPMiddleware(tel)
	var root http.Handler = telemetry.RequestID(telMiddleware.Middleware(telemetry.HTTPLogging(handler)))

	mux := http.NewServeMux()
	mux.Handle("/metrics", tel.Handler())
	mux.Handle("/", root)

	httpServer := &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("serving mcp over http", "host", cfg.Web.BindAddress)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = httpServer.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}
