// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/mnemo/internal/store"
)

// runExport dumps every memory, entity, relationship, and history event
// across all tenants to JSON. Like status and reset, this bypasses the
// Engine and scope.Resolver: an export is an administrative, unscoped
// operation, not a request on behalf of a single tenant.
func runExport(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.StringP("output", "o", "", "Output file path (default: stdout)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: mnemo export [options]

Description:
  Dump every memory, entity, relationship, and history event to JSON.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  mnemo export --output backup.json    Write export to a file
  mnemo export > backup.json           Write export to stdout

`)
	}

	if err := fs.Parse(args); err != nil {
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

	dump, err := store.DumpAll(context.Background(), rt.backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: export failed: %v\n", err)
		os.Exit(ExitDatabase)
	}

	out, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot encode export: %v\n", err)
		os.Exit(ExitGeneral)
	}

	if *output != "" {
		if err := os.WriteFile(*output, out, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", *output, err)
			os.Exit(ExitGeneral)
		}
	} else {
		fmt.Println(string(out))
	}

	if !globals.Quiet && *output != "" {
		fmt.Fprintf(os.Stderr, "Exported %d memories, %d entities, %d relationships, %d history events to %s\n",
			len(dump.Memories), len(dump.Entities), len(dump.Relationships), len(dump.History), *output)
	}
}
