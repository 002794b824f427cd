// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The advisor command runs the campaign recommendation service.
//
// `advisor serve` exposes the pipeline over HTTP; `advisor recommend`
// runs one campaign through the pipeline and prints the result.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "advisor",
	Short: "Campaign recommendation advisor",
	Long: `Advisor collects campaign signals, reasons over them with an LLM,
and emits validated, human-reviewable campaign recommendations.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the YAML config file (defaults apply when omitted)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recommendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
