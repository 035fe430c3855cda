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
)

type statusReport struct {
	StorageEngine    string `json:"storage_engine"`
	DataDir          string `json:"data_dir"`
	MemoryCount      int64  `json:"memory_count"`
	ActiveCount      int64  `json:"active_count"`
	HistoryEventCount int64 `json:"history_event_count"`
	EntityCount      int64  `json:"entity_count"`
	RelationshipCount int64 `json:"relationship_count"`
}

// runStatus reports row counts across mnemo's CozoDB relations. It queries
// the backend directly rather than through the Engine, since status is an
// unscoped administrative view, not a tenant-scoped operation.
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
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

	ctx := context.Background()
	dataDir, _ := ResolveDataDir(cfg)

	report := statusReport{StorageEngine: cfg.Storage.Engine, DataDir: dataDir}
	report.MemoryCount = countRows(ctx, rt, "?[count(id)] := *mnemo_memory{id}")
	report.ActiveCount = countRows(ctx, rt, `?[count(id)] := *mnemo_memory{id, state}, state = "active"`)
	report.HistoryEventCount = countRows(ctx, rt, "?[count(event_id)] := *mnemo_history{event_id}")
	report.EntityCount = countRows(ctx, rt, "?[count(name)] := *mnemo_entity{name}")
	report.RelationshipCount = countRows(ctx, rt, "?[count(source)] := *mnemo_relationship{source}")

	if globals.JSON || *jsonOutput {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("Storage:       %s (%s)\n", report.StorageEngine, report.DataDir)
	fmt.Printf("Memories:      %d (%d active)\n", report.MemoryCount, report.ActiveCount)
	fmt.Printf("History events: %d\n", report.HistoryEventCount)
	fmt.Printf("Entities:      %d\n", report.EntityCount)
	fmt.Printf("Relationships: %d\n", report.RelationshipCount)
}

func countRows(ctx context.Context, rt *runtime, script string) int64 {
	res, err := rt.backend.Query(ctx, script)
	if err != nil || len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return 0
	}
	switch n := res.Rows[0][0].(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
