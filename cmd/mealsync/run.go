package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/platewise/mealsync/internal/config"
	"github.com/platewise/mealsync/internal/engine"
	"github.com/platewise/mealsync/internal/harness"
	"github.com/platewise/mealsync/internal/remote"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine",
	Long: `Run the sync engine until interrupted.

This restores the persisted snapshot, starts the connectivity monitor,
sync subscriber, auth reconciler, and realtime listener, and drains any
intents left queued from a previous run once the server is reachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		var out io.Writer = os.Stderr
		if cfg.LogFile != "" {
			out = &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     14, // days
			}
		}
		logger := log.New(out, "[mealsync] ", log.LstdFlags)

		client := remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL: cfg.ServerURL,
			Token:   func() string { return cfg.AuthToken },
			Logger:  log.New(out, "[remote] ", log.LstdFlags),
		})

		eng, err := engine.New(engine.Config{
			Client:        client,
			StoragePath:   cfg.StoragePath,
			Namespace:     cfg.Namespace,
			ProbeURL:      cfg.ProbeURL,
			ProbeInterval: cfg.ProbeInterval,
			RealtimeURL:   cfg.RealtimeURL,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng.Start(ctx)

		if cfg.OverridePath != "" {
			override, err := harness.NewOverride(eng.Store(), cfg.OverridePath, log.New(out, "[harness] ", log.LstdFlags))
			if err != nil {
				return err
			}
			if err := override.Start(); err != nil {
				return err
			}
			defer func() { _ = override.Stop() }()
			logger.Printf("WARNING: state override enabled (%s); never use in production", cfg.OverridePath)
		}

		// Background sync failures are logged; local state is already
		// committed, so there is nothing to roll back.
		go func() {
			for err := range eng.Errors() {
				logger.Printf("sync: %v", err)
			}
		}()

		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "Shutting down...")
		return eng.Stop()
	},
}
