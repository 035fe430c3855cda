// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/mnemo/internal/remote"
)

// runServe starts the Remote Access Surface: an HTTP server exposing the
// JSON-RPC dispatch table over SSE (4.F).
func runServe(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address, overriding server.listen_addr")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: mnemo serve [options]

Description:
  Start the Remote Access Surface: GET /{client}/sse/{user_id} opens an
  event stream, POST /messages/?session_id= submits a JSON-RPC request.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(ExitGeneral)
	}

	cfg := loadConfigOrDefault(configPath)
	if *addr != "" {
		cfg.Server.ListenAddr = *addr
	}

	logLevel := slog.LevelInfo
	if globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	}
	if globals.Quiet {
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot initialize mnemo: %v\n", err)
		os.Exit(ExitDatabase)
	}
	defer func() { _ = rt.Close() }()

	srv := remote.NewServer(rt.engine, remote.Config{
		IdleTimeout: time.Duration(cfg.Server.SessionIdleTimeoutSeconds) * time.Second,
	}, logger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
	}

	logger.Info("mnemo Remote Access Surface starting", "addr", cfg.Server.ListenAddr, "storage", cfg.Storage.Engine)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
		os.Exit(ExitServer)
	case <-sigCh:
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: graceful shutdown failed: %v\n", err)
		os.Exit(ExitServer)
	}
}
