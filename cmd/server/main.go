// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package main is the entry point for the Ingestwatch server.
//
// Ingestwatch watches a multi-stage content ingestion pipeline: jobs
// report per-stage timings and outcomes through the recorder API,
// finalized sessions are persisted to DuckDB with hourly/daily
// rollups, and completions are routed to a webhook channel either per
// session or as periodic batch summaries.
//
// # Application Architecture
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered defaults, config.yaml, env vars
//  2. Logging: zerolog, level and format from config
//  3. Metrics store: DuckDB plus the on-disk failover log
//  4. Notification router: webhook channel behind a token bucket
//  5. Supervisor tree: failover replayer, batch scheduler, ops HTTP server
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context; the supervisor tree
// drains its services, a final notification flush runs, and the store
// closes. Failover entries left on disk are replayed on next start.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ingestwatch/ingestwatch/internal/api"
	"github.com/ingestwatch/ingestwatch/internal/config"
	"github.com/ingestwatch/ingestwatch/internal/logging"
	"github.com/ingestwatch/ingestwatch/internal/metricstore"
	"github.com/ingestwatch/ingestwatch/internal/notify"
	"github.com/ingestwatch/ingestwatch/internal/scheduler"
	"github.com/ingestwatch/ingestwatch/internal/supervisor"
	"github.com/ingestwatch/ingestwatch/internal/supervisor/services"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ingestwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("version", Version).
		Str("mode", string(cfg.Notifier.Mode)).
		Bool("notifier_enabled", cfg.Notifier.Enabled).
		Msg("Starting ingestwatch")

	store, err := metricstore.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open metrics store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Store close failed")
		}
	}()

	var channel notify.Channel
	if cfg.Notifier.Enabled {
		channel = notify.NewWebhookChannel(cfg.Notifier.WebhookURL, cfg.Notifier.WebhookAuth)
	}
	router := notify.NewRouter(cfg.Notifier, channel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	replayer := metricstore.NewReplayer(store, cfg.Store.ReplayInterval)
	tree.AddDataService(services.NewReplayerService(replayer))

	if cfg.Notifier.Enabled {
		batch := scheduler.New(router, cfg.Notifier.FlushInterval)
		tree.AddDeliveryService(services.NewSchedulerService(batch))
	}

	opsServer := api.NewServer(cfg.Server, store, router)
	tree.AddDeliveryService(services.NewHTTPService(opsServer))

	logging.Info().Msg("Supervisor tree starting")
	err = tree.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service missed shutdown timeout")
		}
	}

	logging.Info().Msg("Shutdown complete")
	return nil
}
