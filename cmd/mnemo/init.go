// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"
)

// runInit writes a default .mnemo/config.yaml in the current directory.
func runInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: mnemo init [options]

Description:
  Create .mnemo/config.yaml with default values. Settings can then be
  edited directly in the file or overridden via environment variables.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(ExitGeneral)
	}

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot access working directory: %v\n", err)
		os.Exit(ExitGeneral)
	}
	configPath := ConfigPath(wd)

	if _, err := os.Stat(configPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", configPath)
		os.Exit(ExitConfig)
	}

	cfg := DefaultConfig()
	if err := SaveConfig(cfg, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitConfig)
	}

	if !globals.Quiet {
		fmt.Printf("Wrote %s\n", configPath)
		fmt.Printf("Data directory will default to %s\n", filepath.Join("~", ".mnemo", "data", "default"))
	}
}
