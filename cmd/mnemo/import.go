// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/mnemo/internal/store"
)

// runImport restores a JSON export produced by runExport. Like export, it
// writes through VectorStore/GraphStore/History directly rather than through
// the Engine, so restored rows are not re-planned as new facts. Memories and
// history events keep their original IDs and timestamps; entities and
// relationships keep their identities but are re-upserted, so their
// timestamps are set at import time.
func runImport(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	input := fs.StringP("input", "i", "", "Input file path (default: stdin)")
	dryRun := fs.Bool("dry-run", false, "Preview what would be imported without writing")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: mnemo import [options]

Description:
  Import a JSON export produced by "mnemo export" into the database.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  mnemo import --input backup.json              Import from a file
  mnemo import --input backup.json --dry-run    Preview import
  cat backup.json | mnemo import                Import from stdin

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(ExitGeneral)
	}

	var data []byte
	var err error
	if *input != "" {
		data, err = os.ReadFile(*input) //nolint:gosec // G304: path comes from a user-supplied flag
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot read %s: %v\n", *input, err)
			os.Exit(ExitGeneral)
		}
	} else {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot read stdin: %v\n", err)
			os.Exit(ExitGeneral)
		}
	}

	if len(data) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no input data\n")
		os.Exit(ExitGeneral)
	}

	var dump store.Dump
	if err := json.Unmarshal(data, &dump); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid JSON: %v\n", err)
		os.Exit(ExitGeneral)
	}

	if *dryRun {
		fmt.Println("Dry run — would import:")
		fmt.Printf("  %d memories\n", len(dump.Memories))
		fmt.Printf("  %d entities\n", len(dump.Entities))
		fmt.Printf("  %d relationships\n", len(dump.Relationships))
		fmt.Printf("  %d history events\n", len(dump.History))
		return
	}

	cfg := loadConfigOrDefault(configPath)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot initialize mnemo: %v\n", err)
		os.Exit(ExitDatabase)
	}
	defer func() { _ = rt.Close() }()

	counts, err := store.RestoreAll(context.Background(), rt.backend, &dump)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: import failed after %d memories, %d entities, %d relationships, %d history events: %v\n",
			counts.Memories, counts.Entities, counts.Relationships, counts.History, err)
		os.Exit(ExitDatabase)
	}

	if !globals.Quiet {
		fmt.Printf("Imported %d memories, %d entities, %d relationships, %d history events\n",
			counts.Memories, counts.Entities, counts.Relationships, counts.History)
	}
}
