// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/koyomi-app/koyomi/internal/alerts"
	"github.com/koyomi-app/koyomi/internal/api"
	"github.com/koyomi-app/koyomi/internal/buildinfo"
	"github.com/koyomi-app/koyomi/internal/bus"
	"github.com/koyomi-app/koyomi/internal/config"
	"github.com/koyomi-app/koyomi/internal/database"
	"github.com/koyomi-app/koyomi/internal/metrics"
	"github.com/koyomi-app/koyomi/internal/models"
	"github.com/koyomi-app/koyomi/internal/queue"
	"github.com/koyomi-app/koyomi/internal/scheduler"
	"github.com/koyomi-app/koyomi/internal/services/anilist"
	"github.com/koyomi-app/koyomi/internal/services/assets"
	"github.com/koyomi-app/koyomi/internal/services/harvest"
	"github.com/koyomi-app/koyomi/internal/services/nyaa"
	"github.com/koyomi-app/koyomi/internal/services/torrentsearch"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "koyomi",
		Short: "An anime airing schedule and torrent discovery daemon",
		Long: `koyomi - Harvests the weekly anime airing schedule, keeps a local
media catalog and discovers torrent releases per episode.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/koyomi/). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and images (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := &Application{
			configDir: configDir,
			dataDir:   dataDir,
			logPath:   logPath,
			pprofFlag: pprofFlag,
		}
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of koyomi",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("koyomi %s (commit %s, built %s)\n", version, buildinfo.Commit, buildinfo.Date)
		},
	}
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.WriteDefaultConfig(configDir)
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "directory to write config.toml into (default is OS-specific)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("KOYOMI__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("KOYOMI__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}
	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting koyomi")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	metricsManager := metrics.NewManager()
	notifier := alerts.New(cfg.Config.AlertWebhookURL, log.Logger)

	mediaStore := models.NewMediaStore(db)
	jobStore := queue.NewStore(db)

	assetFetcher, err := assets.NewFetcher(cfg.GetImageDir(), notifier, metricsManager, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare image directory")
	}

	anilistClient := anilist.NewClient(cfg.Config.AniListURL, metricsManager, log.Logger)
	nyaaClient := nyaa.NewClient(
		cfg.Config.NyaaURL,
		cfg.Config.SearchResultLimit,
		time.Duration(cfg.Config.SearchTimeoutSeconds)*time.Second,
		log.Logger,
	)

	searchService := torrentsearch.New(mediaStore, nyaaClient, jobStore, torrentsearch.Options{
		MaxAttempts:    cfg.Config.SearchAttempts,
		BackoffType:    cfg.Config.SearchBackoffType,
		BackoffSeconds: cfg.Config.SearchBackoffSeconds,
	}, log.Logger)

	harvester := harvest.New(anilistClient, mediaStore, assetFetcher, notifier, metricsManager, log.Logger)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	worker := queue.NewWorker(jobStore, notifier, metricsManager, 5*time.Second, log.Logger)
	worker.Register(queue.KindTorrentDownload, searchService.HandleJob)
	worker.Register(queue.KindAiringCollect, func(ctx context.Context, _ *queue.Job) error {
		_, err := harvester.Run(ctx)
		return err
	})
	go worker.Run(runCtx)

	harvestScheduler := scheduler.New(jobStore, cfg.Config.HarvestCron, log.Logger)
	if err := harvestScheduler.Start(runCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start harvest scheduler")
	}

	// Broker is optional; without it download requests come in over HTTP only.
	if cfg.Config.NatsURL != "" {
		natsConn, err := bus.Connect(cfg.Config.NatsURL, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to message broker")
		}
		defer natsConn.Close()

		listener := bus.NewListener(natsConn, cfg.Config.NatsSubject, searchService, log.Logger)
		if _, err := listener.Start(runCtx); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to download requests")
		}
	}

	httpServer := api.NewServer(&api.Dependencies{
		Config:        cfg,
		Version:       buildinfo.Version,
		MediaStore:    mediaStore,
		JobStore:      jobStore,
		SearchService: searchService,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if cfg.Config.MetricsEnabled {
		go func() {
			metricsServer := metrics.NewServer(metricsManager, cfg.Config.MetricsHost, cfg.Config.MetricsPort)
			errorChannel <- metricsServer.ListenAndServe()
		}()
	}

	if cfg.Config.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	cancelRun()
	<-harvestScheduler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		os.Exit(1)
	}

	os.Exit(0)
}
