// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// alchemy is the command-line client for the forge combination service.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the optional config.yaml next to the binary.
type Config struct {
	// Server is the forged base URL, e.g. "http://localhost:12230".
	Server string `yaml:"server"`

	// Session is the default session identifier for combine and
	// delete commands. Overridable per call with --session.
	Session string `yaml:"session"`
}

var config Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		loadConfig("config.yaml")
	}
}

// loadConfig reads the YAML config when present. A missing file is
// fine; flags and defaults cover everything it would have set.
func loadConfig(path string) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: could not read %s: %v", path, err)
		}
		return
	}
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		log.Fatalf("Error parsing %s: %v", path, err)
	}
}
