// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/config"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/engine"
)

var (
	dryRun      bool
	windowDays  int
	prettyPrint bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <campaign-id>",
	Short: "Run one campaign through the pipeline and print the result",
	Long: `Runs the full pipeline for one campaign and prints the terminal
artifact as JSON: the Recommendation on success, or the failure record
with its reason code on a non-zero exit.

With --dry-run the canned stub engine answers every reasoning stage,
which exercises the whole pipeline without a model or network.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecommend,
}

func init() {
	recommendCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"use the canned stub engine instead of the configured provider")
	recommendCmd.Flags().IntVar(&windowDays, "days", 14,
		"length of the trailing analysis window in days")
	recommendCmd.Flags().BoolVar(&prettyPrint, "pretty", true,
		"indent the JSON output")
}

func runRecommend(cmd *cobra.Command, args []string) error {
	campaign := datatypes.CampaignID(args[0])
	if windowDays < 1 {
		return fmt.Errorf("--days must be at least 1, got %d", windowDays)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Keep stdout clean for the JSON artifact; logs go to the log file
	// only when one is configured.
	log := buildLogger(cfg.Log, true)
	defer log.Close()

	var eng engine.Engine
	if dryRun {
		eng = cannedStub()
	} else {
		eng, err = buildEngine(cfg.Engine)
		if err != nil {
			return fmt.Errorf("build engine: %w", err)
		}
	}

	cache, closeCache, err := buildCache(cfg.Cache, log)
	if err != nil {
		return err
	}
	defer closeCache()

	pipe, err := buildPipeline(cfg, eng, cache, log)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	now := time.Now().UTC()
	window := datatypes.Window{Start: now.AddDate(0, 0, -windowDays), End: now}

	rec, err := pipe.Run(context.Background(), campaign, window)
	if err != nil {
		var failure *datatypes.PipelineFailure
		if errors.As(err, &failure) {
			if printErr := printJSON(failure); printErr != nil {
				return printErr
			}
			return fmt.Errorf("run failed: %s", failure.Reason)
		}
		return err
	}
	return printJSON(rec)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	if prettyPrint {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
