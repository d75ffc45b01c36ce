package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/Napolesllll/sst-services-sub001/internal/server"
	"github.com/Napolesllll/sst-services-sub001/pkg/config"
	"github.com/Napolesllll/sst-services-sub001/pkg/logging"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notification server",
		Long: `Run the notification server until SIGINT or SIGTERM.

Configuration is read from config.yaml in the working directory, or from
--config, and can be overridden with SSTNOTIFY_* environment variables,
for example SSTNOTIFY_SERVER_ADDRESS=:9090.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a config file")
	return cmd
}

func runServe(configPath string) error {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger = logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := server.NewApp(ctx, logger, cfg)
	if err := app.Run(); err != nil {
		return fmt.Errorf("application run failed: %w", err)
	}
	logger.Info("Application shut down successfully.")
	return nil
}
