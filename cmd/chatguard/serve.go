// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/chatguard/pkg/chat"
	"github.com/aiku/chatguard/pkg/modlog"
)

const defaultAdminAddr = ":29330"

// logExecutor stands in for a server console. It only logs the commands
// that auto-reply rules dispatch.
type logExecutor struct {
	log zerolog.Logger
}

var _ chat.CommandExecutor = logExecutor{}

func (e logExecutor) RunPrivileged(_ context.Context, command string) error {
	e.log.Info().Str("command", command).Msg("Dispatching console command")
	return nil
}

func serveCmd() *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the moderation core behind the admin HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), !noWatch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file when it changes")
	return cmd
}

func adminAddr(cfg *chat.Config) string {
	if cfg.AdminAPIAddr != "" {
		return cfg.AdminAPIAddr
	}
	if v := os.Getenv("CHATGUARD_ADMIN_ADDR"); v != "" {
		return v
	}
	return defaultAdminAddr
}

func runServe(parent context.Context, watch bool) error {
	path := resolveConfigPath()
	cfg, err := chat.LoadConfig(path, true)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, logCloser := setupLogger(cfg.Logging)
	defer logCloser.Close()
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("config", path).
		Msg("Starting chatguard")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	roster := chat.NewRoster(cfg.MaxActors)
	mailbox := chat.NewMailbox(0, log)
	params := chat.ServiceParams{
		ConfigPath: path,
		Presence:   roster,
		Sink:       mailbox,
		Executor:   logExecutor{log: log.With().Str("component", "executor").Logger()},
		Log:        log,
	}

	modlogPath := cfg.ModerationLog
	if modlogPath == "" {
		modlogPath = os.Getenv("CHATGUARD_MODLOG")
	}
	if modlogPath != "" {
		store, err := modlog.Open(modlogPath, log)
		if err != nil {
			return fmt.Errorf("open moderation log: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Err(err).Msg("Failed to close moderation log")
			}
		}()
		params.Recorder = store
		params.History = store
		log.Info().Str("path", modlogPath).Msg("Moderation log enabled")
	}

	svc := chat.NewService(cfg, params)
	api := chat.NewAdminAPI(svc, roster, mailbox, log)

	addr := adminAddr(cfg)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     stdlog.New(exzerolog.NewLogWriter(log).WithLevel(zerolog.WarnLevel), "", 0),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Announcer.Run(ctx)
	}()
	if watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.WatchConfig(ctx, 0); err != nil {
				log.Err(err).Msg("Config watcher stopped")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting admin API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("admin API: %w", err)
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Err(err).Msg("Admin API shutdown failed")
	}
	wg.Wait()
	return nil
}
