// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/mnemo/internal/store"
)

// runReset drops and recreates every mnemo relation, destroying all
// memories, history, and graph data. Requires --yes to proceed.
func runReset(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the destructive reset")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: mnemo reset --yes

Description:
  Delete all memory, history, and graph data. This cannot be undone.
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(ExitGeneral)
	}

	if !*confirm {
		fmt.Fprintf(os.Stderr, "Error: this deletes all memory data; pass --yes to confirm\n")
		os.Exit(ExitGeneral)
	}

	cfg := loadConfigOrDefault(configPath)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot initialize mnemo: %v\n", err)
		os.Exit(ExitDatabase)
	}
	defer func() { _ = rt.Close() }()

	if err := store.ResetAll(rt.backend, cfg.Embedding.Dimensions); err != nil {
		fmt.Fprintf(os.Stderr, "Error: reset failed: %v\n", err)
		os.Exit(ExitDatabase)
	}

	if !globals.Quiet {
		fmt.Println("All memory data deleted.")
	}
}
