// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main is the query agent CLI: run the service, ask questions
// against a running instance, and lint queries against the guard policy.
package main

import (
	"os"

	"github.com/AleutianAI/AleutianQuery/pkg/ux"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "queryagent",
	Short: "A guarded natural-language query agent for tabular data",
	Long: `queryagent answers questions about tabular data by synthesizing
SQL or dataframe snippets with an LLM, vetting every candidate against a
deterministic policy guard, and retrying on recoverable failures.`,
}

func main() {
	ux.InitPersonality()
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}
