// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package webhook ingests forge webhook deliveries over HTTP and
// turns them into engine submissions. The listener is optional: an
// engine configured without one is driven entirely through the
// control socket and the scheduler.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ServerConfig configures an HTTP listener for webhook ingestion.
type ServerConfig struct {
	// Address is the listen address, e.g. "127.0.0.1:8667". Use port 0
	// to let the OS assign one; read it back with Addr after Ready.
	Address string

	// Handler serves all requests.
	Handler http.Handler

	// Logger receives lifecycle events.
	Logger *slog.Logger

	// ShutdownTimeout bounds graceful drain after the context is
	// cancelled. Zero means 10 seconds.
	ShutdownTimeout time.Duration
}

// Server runs an HTTP listener with a managed lifecycle: bind, serve
// until the context is cancelled, then drain in-flight requests.
type Server struct {
	address         string
	handler         http.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration

	ready chan struct{}
	addr  net.Addr
}

// NewServer creates a webhook server. Panics if the address, handler,
// or logger is missing; those are programming errors, not runtime
// conditions.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		panic("webhook.NewServer: missing Address")
	}
	if config.Handler == nil {
		panic("webhook.NewServer: missing Handler")
	}
	if config.Logger == nil {
		panic("webhook.NewServer: missing Logger")
	}
	shutdownTimeout := config.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: shutdownTimeout,
		ready:           make(chan struct{}),
	}
}

// Ready is closed once the listener is bound and Addr is valid.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address. Only valid after Ready.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve binds the listener and serves until ctx is cancelled, then
// shuts down gracefully. Returns nil on clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook listener started", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down webhook listener: %w", err)
		}
		return nil
	case err := <-serveDone:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving webhooks on %s: %w", s.address, err)
	}
}
