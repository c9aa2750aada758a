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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianQuery/pkg/logging"
	"github.com/AleutianAI/AleutianQuery/services/queryagent"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/observability"
	"github.com/spf13/cobra"
)

var (
	serveLogDir   string
	serveLogLevel string
	serveLogJSON  bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the query agent HTTP service",
		Long: `Starts the query agent: loads the guard policy, connects the
configured executor (sql or dataframe), and serves the query API until
interrupted. Configuration comes from the environment: QUERY_VARIANT,
QUERY_DATABASE_PATH, SNIPPET_RUNNER_URL, LLM_BACKEND_TYPE,
WEAVIATE_SERVICE_URL, GUARD_POLICY_PATH, and friends.`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "", "directory for JSON log files (disabled when empty)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "minimum log level: debug, info, warn, error")
	serveCmd.Flags().BoolVar(&serveLogJSON, "log-json", true, "emit JSON logs on stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(serveLogLevel),
		LogDir:  serveLogDir,
		Service: "queryagent",
		JSON:    serveLogJSON,
	})
	defer logger.Close()
	logger.SetAsDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := queryagent.InitTracer(ctx)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer shutdownTracer()

	metrics := observability.InitMetrics()
	svc, err := queryagent.New(queryagent.DefaultServiceConfig(), metrics)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := queryagent.Run(ctx, svc); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
