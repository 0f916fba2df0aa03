// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/childserv/lib/bansync"
	"github.com/bureau-foundation/childserv/lib/clock"
	"github.com/bureau-foundation/childserv/lib/config"
	"github.com/bureau-foundation/childserv/lib/process"
	"github.com/bureau-foundation/childserv/lib/service"
	"github.com/bureau-foundation/childserv/lib/version"
	"github.com/bureau-foundation/childserv/messaging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("childserv", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the configuration file (default: $"+config.EnvConfigPath+")")
	flagSet.StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("childserv %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		if err := cfg.Logging.Level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}

	logger := newLogger(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func newLogger(w io.Writer, logging config.LoggingConfig) *slog.Logger {
	options := &slog.HandlerOptions{Level: logging.Level}
	if strings.EqualFold(logging.Format, "text") {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

// serve runs the bot until ctx is cancelled. Every error it returns is
// a startup error.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting childserv", "version", version.Info())

	if err := cfg.EnsureStateDir(); err != nil {
		return err
	}

	client, session, err := service.LoadSession(cfg.SessionFile, messaging.ClientConfig{
		HomeserverURL:     cfg.HomeserverURL,
		Logger:            logger,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		UserAgent:         version.UserAgent(),
	})
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	defer session.Close()
	defer client.CloseIdleConnections()

	self, err := service.ValidateSession(ctx, session)
	if err != nil {
		return err
	}
	logger.Info("matrix session valid", "user_id", self.String())

	store, err := bansync.OpenSQLiteStore(cfg.DatabasePath(), logger)
	if err != nil {
		return fmt.Errorf("opening ban store: %w", err)
	}
	defer store.Close()

	clk := clock.Real()
	bot, err := NewBot(ctx, BotConfig{
		Config:  cfg,
		Session: session,
		Self:    self,
		Store:   store,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	loopContext, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		bot.loop.Run(loopContext)
	}()
	// Queued work drains before the store closes, on shutdown and after
	// a startup error alike.
	defer func() {
		bot.Stop()
		stopLoop()
		<-loopDone
	}()

	if err := bot.Start(ctx); err != nil {
		return err
	}

	sinceToken, initial, err := service.InitialSync(ctx, session, syncFilter)
	if err != nil {
		return err
	}
	bot.HandleInitialSync(ctx, initial)

	logger.Info("childserv running")
	service.RunSyncLoop(ctx, session, service.SyncConfig{
		Filter:  syncFilter,
		Timeout: cfg.Gateway.SyncTimeout,
	}, sinceToken, bot.HandleSync, clk, logger)

	logger.Info("shutting down")
	return nil
}
