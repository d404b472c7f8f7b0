package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pushhub/hub/pkg/clock"
	"github.com/pushhub/hub/pkg/config"
	"github.com/pushhub/hub/pkg/httpapi"
	"github.com/pushhub/hub/pkg/lease"
	"github.com/pushhub/hub/pkg/log"
	"github.com/pushhub/hub/pkg/metrics"
	"github.com/pushhub/hub/pkg/storage"
	"github.com/pushhub/hub/pkg/subscription"
	"github.com/pushhub/hub/pkg/worker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub's ingress, background workers, and admin endpoints",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "f", "", "Path to a YAML configuration file")
	serveCmd.Flags().String("data-dir", "", "Override the configured data directory")
	serveCmd.Flags().String("http-addr", "", "Override the configured HTTP listen address")
	serveCmd.Flags().Bool("dev-mode", false, "Relax URL validation and bypass operator auth (development only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr, _ := cmd.Flags().GetString("http-addr"); httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if devMode, _ := cmd.Flags().GetBool("dev-mode"); devMode {
		cfg.DevMode = true
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}

	log.Init(cfg.LogConfig())
	logger := log.WithComponent("main")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	clk := clock.Real{}
	subs := subscription.NewManager(store, clk, cfg.Subscription)
	dispatcher := lease.NewDispatcher(lease.NewLockCache(4096), clk)

	confirmWorker := worker.NewConfirmWorker(subs, dispatcher, clk, cfg.Worker)
	pullWorker := worker.NewPullWorker(store, subs, dispatcher, clk, cfg.Worker)
	pushWorker := worker.NewPushWorker(store, subs, dispatcher, clk, cfg.Worker)
	bootstrapWorker := worker.NewBootstrapWorker(store, clk, cfg.Worker)

	confirmWorker.Start()
	pullWorker.Start()
	pushWorker.Start()
	bootstrapWorker.Start()
	logger.Info().Msg("background workers started")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "ready")

	auth := httpapi.Authorizer{
		CronToken:  cfg.CronToken,
		AdminToken: cfg.AdminToken,
		DevMode:    cfg.DevMode,
	}
	server := httpapi.NewServer(store, subs, dispatcher, auth, cfg.DevMode, httpapi.Workers{
		Confirm:   confirmWorker,
		Pull:      pullWorker,
		Push:      pushWorker,
		Bootstrap: bootstrapWorker,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("fatal error")
	}

	confirmWorker.Stop()
	pullWorker.Stop()
	pushWorker.Stop()
	bootstrapWorker.Stop()

	logger.Info().Msg("shutdown complete")
	return nil
}
