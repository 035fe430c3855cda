// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

// Package main implements the mnemo CLI: a long-term memory service for
// conversational agents, reachable over HTTP+SSE.
//
// Usage:
//
//	mnemo serve                   Start the Remote Access Surface (HTTP+SSE)
//	mnemo init                    Create .mnemo/config.yaml configuration
//	mnemo status [--json]         Show memory store status
//	mnemo reset --yes             Delete all memory data
//	mnemo export [--output FILE]  Export memory store as JSON
//	mnemo import [--input FILE]   Import memory store from JSON
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// Exit codes for the mnemo CLI.
const (
	ExitSuccess  = 0
	ExitGeneral  = 1
	ExitConfig   = 2
	ExitDatabase = 3
	ExitServer   = 4
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .mnemo/config.yaml")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v info, -vv debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `mnemo - long-term memory for conversational agents

mnemo extracts durable facts from conversation turns, deduplicates them
against what it already knows, and serves them back over a JSON-RPC
Remote Access Surface reachable via HTTP+SSE.

Usage:
  mnemo <command> [options]

Commands:
  serve         Start the Remote Access Surface (HTTP+SSE)
  init          Create .mnemo/config.yaml configuration
  status        Show memory store status
  reset         Delete all memory data (destructive!)
  export        Export memory store
  import        Import memory store

Global Options:
  --json            Output in JSON format
  -v, --verbose     Increase verbosity (-v info, -vv debug)
  -q, --quiet       Suppress non-essential output
  -c, --config      Path to .mnemo/config.yaml
  -V, --version     Show version and exit

Examples:
  mnemo init                          Create configuration
  mnemo serve                         Start the Remote Access Surface
  mnemo status                        Show memory store stats
  mnemo status --json                 Output as JSON
  mnemo export --output backup.json   Export all data
  mnemo import --input backup.json    Import from file

Environment Variables:
  MNEMO_CONFIG_PATH      Path to config file
  STORAGE_ENGINE         Storage engine (sqlite, rocksdb, mem)
  EMBEDDING_PROVIDER     Embedding provider (ollama, openai)
  EMBEDDING_BASE_URL     Embedding provider base URL
  PLAN_PROVIDER          Chat/plan provider (anthropic)
  PLAN_API_KEY           Chat/plan provider API key
  GRAPH_QUERY_EXTRACTION Graph query extraction mode (llm, heuristic)

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("mnemo version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(ExitSuccess)
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(ExitGeneral)
	}

	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		Verbose: *verbose,
		Quiet:   *quiet,
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(ExitGeneral)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "serve":
		runServe(cmdArgs, *configPath, globals)
	case "init":
		runInit(cmdArgs, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "reset":
		runReset(cmdArgs, *configPath, globals)
	case "export":
		runExport(cmdArgs, *configPath, globals)
	case "import":
		runImport(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(ExitGeneral)
	}
}

// loadConfigOrDefault loads a config file, falling back to defaults with
// environment overrides and a warning if none is found.
func loadConfigOrDefault(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		fmt.Fprintf(os.Stderr, "Using default configuration with environment variable overrides\n")
		cfg = DefaultConfig()
		cfg.applyEnvOverrides()
	}
	return cfg
}
