// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package services adapts the Start/Stop lifecycle of the background
// components to suture's Serve pattern: start the component, block on
// the context, stop it, and hand the context error back so suture
// treats cancellation as normal termination.
package services

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// httpShutdownTimeout bounds the drain of in-flight requests.
const httpShutdownTimeout = 10 * time.Second

// StartStopper is the lifecycle shared by the failover replayer and
// the batch scheduler. Declared here rather than importing their
// packages so the wrappers stay dependency-free.
type StartStopper interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
}

// LoopService supervises one Start/Stop loop component.
type LoopService struct {
	loop StartStopper
	name string
}

// NewReplayerService wraps the failover replayer for the data layer.
func NewReplayerService(loop StartStopper) *LoopService {
	return &LoopService{loop: loop, name: "failover-replayer"}
}

// NewSchedulerService wraps the batch scheduler for the delivery layer.
func NewSchedulerService(loop StartStopper) *LoopService {
	return &LoopService{loop: loop, name: "batch-scheduler"}
}

// Serve implements suture.Service.
func (s *LoopService) Serve(ctx context.Context) error {
	s.loop.Start(ctx)
	<-ctx.Done()
	s.loop.Stop()
	return ctx.Err()
}

func (s *LoopService) String() string {
	return s.name
}

// HTTPServer is the subset of the ops server the wrapper needs.
type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// HTTPService supervises the ops HTTP server.
type HTTPService struct {
	server HTTPServer
}

// NewHTTPService wraps the ops server for the delivery layer.
func NewHTTPService(server HTTPServer) *HTTPService {
	return &HTTPService{server: server}
}

// Serve implements suture.Service: ListenAndServe blocks in a
// goroutine while this method waits on the context, then drains
// in-flight requests.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server exited: %w", err)
		}
		// Clean exit without cancellation means someone shut the
		// listener down; let suture restart it.
		return fmt.Errorf("ops server stopped unexpectedly: %w", http.ErrServerClosed)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string {
	return "ops-http-server"
}
