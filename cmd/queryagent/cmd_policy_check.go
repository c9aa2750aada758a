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
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianQuery/pkg/ux"
	"github.com/AleutianAI/AleutianQuery/services/guard"
	"github.com/spf13/cobra"
)

// Exit codes for policy check.
const (
	PolicyCheckExitAccepted = 0
	PolicyCheckExitRejected = 1
	PolicyCheckExitError    = 2
)

var (
	policyPath     string
	policySnippet  bool
	policyJSONOut  bool
	policyCheckCmd = &cobra.Command{
		Use:   "check [query]",
		Short: "Check a query against the guard policy",
		Long: `Runs one query through the same guard the service uses and reports
the verdict. The query is taken from the arguments, or from stdin when
no arguments are given. Useful for testing policy files before
deploying them with --policy.`,
		Run: runPolicyCheck,
	}
	policyLintCmd = &cobra.Command{
		Use:   "lint [policy.yaml]",
		Short: "Validate a guard policy file without running it",
		Args:  cobra.ExactArgs(1),
		Run:   runPolicyLint,
	}
	policyCmd = &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test guard policies",
	}
)

func init() {
	policyCheckCmd.Flags().StringVar(&policyPath, "policy", "", "policy file to check against (default: embedded policy)")
	policyCheckCmd.Flags().BoolVar(&policySnippet, "snippet", false, "check as a dataframe snippet instead of SQL")
	policyCheckCmd.Flags().BoolVar(&policyJSONOut, "json", false, "emit the verdict as JSON")
	policyCmd.AddCommand(policyCheckCmd)
	policyCmd.AddCommand(policyLintCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyLint(cmd *cobra.Command, args []string) {
	g, err := guard.NewGuardFromFile(args[0])
	if err != nil {
		ux.Error(err.Error())
		os.Exit(PolicyCheckExitRejected)
	}
	policy := g.Policy()
	ux.Success(fmt.Sprintf("%s compiles: %d forbidden keywords, %d allowed objects, max %d rows",
		args[0], len(policy.SQL.ForbiddenKeywords), len(policy.SQL.AllowedObjects), g.MaxResultRows()))
}

func runPolicyCheck(cmd *cobra.Command, args []string) {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
		if err != nil {
			ux.Error(fmt.Sprintf("read stdin: %v", err))
			os.Exit(PolicyCheckExitError)
		}
		query = strings.TrimSpace(string(data))
	}
	if query == "" {
		ux.Error("nothing to check: pass a query or pipe one on stdin")
		os.Exit(PolicyCheckExitError)
	}

	g, err := loadGuard()
	if err != nil {
		ux.Error(err.Error())
		os.Exit(PolicyCheckExitError)
	}

	var verdict guard.Verdict
	if policySnippet {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		verdict = g.CheckSnippet(ctx, query)
	} else {
		verdict = g.CheckSQL(query)
	}

	if policyJSONOut {
		out, _ := json.MarshalIndent(verdict, "", "  ")
		fmt.Println(string(out))
	} else {
		renderVerdict(verdict)
	}

	if !verdict.Accepted {
		os.Exit(PolicyCheckExitRejected)
	}
}

func loadGuard() (*guard.Guard, error) {
	if policyPath != "" {
		return guard.NewGuardFromFile(policyPath)
	}
	return guard.NewGuard()
}

func renderVerdict(verdict guard.Verdict) {
	if verdict.Accepted {
		ux.Success("accepted")
		if verdict.NormalizedText != "" {
			ux.Query(verdict.NormalizedText)
		}
		return
	}
	ux.Error("rejected")
	for _, v := range verdict.Violations {
		ux.Warning(fmt.Sprintf("[%s] %s", v.RuleID, v.Message))
	}
}
