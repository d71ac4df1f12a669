package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/memri/memri-go/internal/config"
	"github.com/memri/memri-go/internal/engine"
	"github.com/memri/memri-go/internal/pod"
	"github.com/memri/memri-go/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the engine and the UI wire server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err := buildLogger(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := pod.NewClient(cfg.Pod.URL, cfg.Pod.APIKey, logger)
		e, err := engine.New(ctx, cfg, client, logger)
		if err != nil {
			return err
		}
		defer e.Close()

		srv := server.New(e, logger)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return e.Run(ctx) })
		g.Go(func() error { return srv.Run(ctx, cfg.Server.Addr) })
		return g.Wait()
	},
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
	}
	return zc.Build()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
