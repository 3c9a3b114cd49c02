package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/groblegark/kchat/internal/archive"
	"github.com/groblegark/kchat/internal/config"
	"github.com/groblegark/kchat/internal/events"
	"github.com/groblegark/kchat/internal/fanout"
	"github.com/groblegark/kchat/internal/listener"
	"github.com/groblegark/kchat/internal/server"
	"github.com/groblegark/kchat/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the chat event distribution server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create a client connection.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Connect to Postgres. Migrations install the change triggers.
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		// Create the NATS bridge publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				store.Close()
				return err
			}
			publisher = pub
			logger.Info("NATS bridge enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("NATS bridge disabled (CHAT_NATS_URL not set)")
		}

		// Fanout manager: registry, presence, delivery policy.
		manager := fanout.New(store, store, publisher, logger, fanout.Config{
			SendTimeout:  cfg.SendTimeout,
			FailureLimit: cfg.FailureLimit,
		})
		manager.Presence().StartSweeper(nil)

		// Notification listener: the single LISTEN subscription feeding
		// dispatch.
		lst, err := listener.Connect(cfg.DatabaseURL, logger)
		if err != nil {
			publisher.Close()
			store.Close()
			return err
		}
		lst.OnEvent(manager.Dispatch)

		listenerCtx, listenerCancel := context.WithCancel(context.Background())
		listenerDone := make(chan struct{})
		go func() {
			defer close(listenerDone)
			if err := lst.Run(listenerCtx); err != nil {
				logger.Error("notification listener error", "err", err)
			}
		}()

		// Start HTTP server (SSE stream + REST surface).
		chatServer := server.New(store, manager, logger)
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: chatServer.NewHTTPHandler(cfg.AuthToken),
		}

		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start archive scheduler if configured.
		var scheduler *archive.Scheduler
		if cfg.ArchiveInterval > 0 && cfg.ArchiveS3Bucket != "" {
			s3Dest, err := archive.NewS3Destination(
				context.Background(),
				cfg.ArchiveS3Bucket,
				cfg.ArchiveS3Prefix,
				cfg.ArchiveS3Region,
				cfg.ArchiveS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				scheduler = archive.NewScheduler(store, []archive.Destination{s3Dest}, cfg.ArchiveInterval, logger)
				scheduler.Start()
				logger.Info("archive scheduler started",
					"interval", cfg.ArchiveInterval,
					"bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix)
			}
		}

		logger.Info("chat server started", "http_addr", cfg.HTTPAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown. Stop the listener first so no new events enter
		// the pipeline, then drain HTTP connections.
		listenerCancel()
		<-listenerDone
		logger.Info("notification listener stopped")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		manager.Presence().Stop()

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
