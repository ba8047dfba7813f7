package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/gandalf-gdac/erddap_sync/internal/catalog"
	"github.com/gandalf-gdac/erddap_sync/internal/config"
	"github.com/gandalf-gdac/erddap_sync/internal/downloader"
	"github.com/gandalf-gdac/erddap_sync/internal/logctx"
	"github.com/gandalf-gdac/erddap_sync/internal/notifier"
	"github.com/gandalf-gdac/erddap_sync/internal/telemetry"
	"github.com/gandalf-gdac/erddap_sync/internal/tracker"
	"github.com/gandalf-gdac/erddap_sync/internal/tracker/statefile"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	serverURL := pflag.StringP("server", "s", cfg.ServerURL, "ERDDAP server URL")
	outputDir := pflag.StringP("output", "o", cfg.OutputDir, "directory for downloaded files")
	statePath := pflag.String("state-file", cfg.StatePath, "path of the sync state file")
	pattern := pflag.StringP("pattern", "p", cfg.FilePattern, "glob pattern for file names")
	delay := pflag.Duration("delay", cfg.FetchDelay, "pause between downloads within a dataset")
	maxParallel := pflag.Int("max-parallel", cfg.MaxParallel, "datasets to sync concurrently")
	force := pflag.BoolP("force", "f", false, "re-download files already tracked")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	datasets := pflag.Args()
	if len(datasets) == 0 {
		fmt.Fprintln(os.Stderr, "usage: erddap_sync [flags] DATASET_ID [DATASET_ID...]")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	level := cfg.SlogLevel()
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := syncOptions{
		serverURL:   *serverURL,
		outputDir:   *outputDir,
		statePath:   *statePath,
		pattern:     *pattern,
		delay:       *delay,
		maxParallel: *maxParallel,
		force:       *force,
		authToken:   cfg.AuthToken,
		webhookURL:  cfg.DiscordWebhookURL,
		datasets:    datasets,
		telemetry:   cfg.Telemetry,
	}

	if err := run(logctx.WithLogger(ctx, logger), opts); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

type syncOptions struct {
	serverURL   string
	outputDir   string
	statePath   string
	pattern     string
	delay       time.Duration
	maxParallel int
	force       bool
	authToken   string
	webhookURL  string
	datasets    []string
	telemetry   config.TelemetryConfig
}

func run(ctx context.Context, opts syncOptions) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        opts.telemetry.Enabled,
		ServiceName:    "erddap_sync",
		ServiceVersion: version,
		OTLPEndpoint:   opts.telemetry.OTLPEndpoint,
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
	// Start Sync Tracker
	trk, err := tracker.New(statefile.New(opts.statePath))
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}

	// =========================================================================
	// Start Catalog Client
	var clientOpts []catalog.Option
	if opts.authToken != "" {
		clientOpts = append(clientOpts, catalog.WithToken(opts.authToken))
	}

	client := catalog.NewInstrumentedClient(catalog.NewClient(opts.serverURL, clientOpts...), tel)

	// =========================================================================
	// Start Downloader
	dl := downloader.New(opts.outputDir, client, trk, downloader.Options{
		Pattern:     opts.pattern,
		Delay:       opts.delay,
		Force:       opts.force,
		MaxParallel: opts.maxParallel,
		Telemetry:   tel,
	})
	defer dl.Close()

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, dl, opts.webhookURL)

	// =========================================================================
	// Run Sync Pass
	logger.Info("starting sync",
		"server", opts.serverURL,
		"datasets", len(opts.datasets),
		"pattern", opts.pattern,
		"force", opts.force)

	results, err := dl.SyncAll(ctx, opts.datasets)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	var downloaded, failed int

	var bytes int64

	for _, r := range results {
		downloaded += r.Downloaded
		failed += r.Failed
		bytes += r.Bytes
	}

	logger.Info("sync complete",
		"datasets", len(results),
		"downloaded", downloaded,
		"failed", failed,
		"bytes", humanize.Bytes(uint64(bytes)))

	if failed > 0 {
		return fmt.Errorf("%d file downloads failed", failed)
	}

	return nil
}

func setupNotifications(ctx context.Context, dl *downloader.Downloader, webhookURL string) {
	if webhookURL == "" {
		return
	}

	logger := logctx.LoggerFromContext(ctx)
	notif := &notifier.DiscordNotifier{WebhookURL: webhookURL}

	go func() {
		for event := range dl.OnFileDownloadError {
			msg := fmt.Sprintf("download failed: %s/%s (%v)", event.DatasetID, event.FileName, event.Err)

			if notifyErr := notif.Notify(ctx, msg); notifyErr != nil {
				logger.Error("failed to send notification", "err", notifyErr)
			}
		}
	}()

	go func() {
		for event := range dl.OnDatasetSynced {
			if event.Downloaded == 0 {
				continue
			}

			msg := fmt.Sprintf("synced %s: %d new files (%s)",
				event.DatasetID, event.Downloaded, humanize.Bytes(uint64(event.Bytes)))

			if notifyErr := notif.Notify(ctx, msg); notifyErr != nil {
				logger.Error("failed to send notification", "err", notifyErr)
			}
		}
	}()
}
