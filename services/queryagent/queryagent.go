// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queryagent assembles the guarded query pipeline into a
// running service: LLM backend, guard, executor, sessions, schema
// cache, metrics and the HTTP surface.
package queryagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/dfengine"
	"github.com/AleutianAI/AleutianQuery/services/guard"
	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/agent"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/observability"
	"github.com/AleutianAI/AleutianQuery/services/sqlengine"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// introspectingExecutor is the combined surface both engines implement.
type introspectingExecutor interface {
	agent.Executor
	agent.Introspector
}

// ServiceConfig holds the deployment-level settings of the agent.
type ServiceConfig struct {
	// Port is the HTTP listen port.
	// Default: "12310" (QUERYAGENT_PORT)
	Port string

	// Variant selects the execution backend: "sql" or "dataframe".
	// Default: "sql" (QUERY_VARIANT)
	Variant string

	// DatabasePath locates the SQLite database (sql variant).
	// Default: "data.db" (QUERY_DATABASE_PATH)
	DatabasePath string

	// RunnerURL locates the snippet runner (dataframe variant).
	// Default: "http://localhost:8100" (SNIPPET_RUNNER_URL)
	RunnerURL string

	// DefaultTable pins questions without an explicit table.
	// Empty means: use the sole table if exactly one exists.
	// (QUERY_DEFAULT_TABLE)
	DefaultTable string

	// PolicyPath optionally overrides the embedded guard policy and
	// enables hot reload. (GUARD_POLICY_PATH)
	PolicyPath string

	// SchemaCachePath is the BadgerDB directory for the schema cache.
	// Empty means in-memory. (SCHEMA_CACHE_PATH)
	SchemaCachePath string

	// SchemaCacheTTL bounds descriptor staleness.
	// Default: 15m (SCHEMA_CACHE_TTL)
	SchemaCacheTTL time.Duration

	// SessionTTL is the idle time after which sessions are reaped.
	// Default: 1h (SESSION_TTL)
	SessionTTL time.Duration

	// JanitorInterval is how often the session janitor sweeps.
	// Default: 5m (SESSION_JANITOR_INTERVAL)
	JanitorInterval time.Duration
}

// DefaultServiceConfig returns the deployment configuration with env
// overrides applied.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Port:            getEnvString("QUERYAGENT_PORT", "12310"),
		Variant:         getEnvString("QUERY_VARIANT", agent.VariantSQL),
		DatabasePath:    getEnvString("QUERY_DATABASE_PATH", "data.db"),
		RunnerURL:       getEnvString("SNIPPET_RUNNER_URL", "http://localhost:8100"),
		DefaultTable:    getEnvString("QUERY_DEFAULT_TABLE", ""),
		PolicyPath:      getEnvString("GUARD_POLICY_PATH", ""),
		SchemaCachePath: getEnvString("SCHEMA_CACHE_PATH", ""),
		SchemaCacheTTL:  getEnvDuration("SCHEMA_CACHE_TTL", 15*time.Minute),
		SessionTTL:      getEnvDuration("SESSION_TTL", time.Hour),
		JanitorInterval: getEnvDuration("SESSION_JANITOR_INTERVAL", 5*time.Minute),
	}
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Service implements handlers.QueryService over one executor variant.
type Service struct {
	config      ServiceConfig
	agentConfig agent.Config
	guard       *guard.Guard
	executor    introspectingExecutor
	controller  *agent.Controller
	sessions    *agent.SessionManager
	schemaCache *agent.SchemaCache
	audit       *agent.AuditLog
	metrics     *observability.QueryMetrics
	closers     []func() error
}

// New assembles the service.
//
// # Description
//
// Builds the guard (embedded policy or the file at PolicyPath), the LLM
// backend from LLM_BACKEND_TYPE, the executor for the configured
// variant, an optional Weaviate-backed few-shot store, the session
// manager, the schema cache, and the audit log when enabled.
func New(cfg ServiceConfig, metrics *observability.QueryMetrics) (*Service, error) {
	agentConfig := agent.DefaultConfig()

	g, err := buildGuard(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("initialize guard: %w", err)
	}

	llmClient, err := llm.NewClient(os.Getenv("LLM_BACKEND_TYPE"))
	if err != nil {
		return nil, fmt.Errorf("initialize LLM client: %w", err)
	}
	generate := agent.WrapLLMClient(llmClient)

	svc := &Service{
		config:      cfg,
		agentConfig: agentConfig,
		guard:       g,
		sessions:    agent.NewSessionManager(agentConfig.HistoryBudgetTokens),
		metrics:     metrics,
	}

	switch cfg.Variant {
	case agent.VariantSQL:
		engine, err := sqlengine.Open(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open sql engine: %w", err)
		}
		svc.executor = engine
		svc.closers = append(svc.closers, engine.Close)
	case agent.VariantDataframe:
		svc.executor = dfengine.NewEngine(cfg.RunnerURL, g.MaxResultRows())
	default:
		return nil, fmt.Errorf("unknown query variant %q", cfg.Variant)
	}

	cache, err := agent.OpenSchemaCache(cfg.SchemaCachePath, cfg.SchemaCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("open schema cache: %w", err)
	}
	svc.schemaCache = cache
	svc.closers = append(svc.closers, cache.Close)

	if agentConfig.AuditEnabled {
		audit, err := agent.NewAuditLog(agentConfig.AuditPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		svc.audit = audit
		svc.closers = append(svc.closers, audit.Close)
	}

	shots := buildShotSource(llmClient, cfg.DefaultTable)

	svc.controller = agent.NewController(
		agentConfig,
		agent.NewRewriter(generate, agentConfig),
		agent.NewSynthesizer(generate, agentConfig, cfg.Variant),
		g,
		svc.executor,
		agent.NewReconciler(agentConfig, svc.executor),
		shots,
	)
	return svc, nil
}

// buildGuard prefers a policy file (enabling hot reload) over the
// embedded default.
func buildGuard(policyPath string) (*guard.Guard, error) {
	if policyPath != "" {
		return guard.NewGuardFromFile(policyPath)
	}
	return guard.NewGuard()
}

// buildShotSource connects to Weaviate when configured, mirroring the
// lightweight-mode fallback: no URL, no few-shot retrieval.
func buildShotSource(llmClient llm.LLMClient, table string) agent.ShotSource {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set. Running without few-shot retrieval.")
		return nil
	}
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running without few-shot retrieval.",
			"url", weaviateURL, "error", err)
		return nil
	}

	embedder, ok := llmClient.(llm.Embedder)
	if !ok {
		slog.Info("LLM backend has no embedding support. Running without few-shot retrieval.")
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	return agent.NewWeaviateShotStore(client, embedder, table)
}

// Close releases the service's resources.
func (s *Service) Close() error {
	var firstErr error
	for _, closer := range s.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Guard exposes the policy guard for the hot-reload watcher.
func (s *Service) Guard() *guard.Guard {
	return s.guard
}

// SessionManager exposes the session store for the TTL janitor.
func (s *Service) SessionManager() *agent.SessionManager {
	return s.sessions
}

// Answer runs one question through the pipeline.
func (s *Service) Answer(ctx context.Context, req datatypes.QueryRequest, progress agent.ProgressFunc) (*agent.RunResult, error) {
	start := time.Now()

	table, err := s.resolveTable(ctx, req)
	if err != nil {
		return nil, err
	}

	history := s.sessions.GetOrCreate(req.SessionKey, table)
	s.metrics.SetActiveSessions(s.sessions.Len())

	schema, err := s.describeCached(ctx, table)
	if err != nil {
		return nil, err
	}

	result, err := s.controller.Run(ctx, agent.RunInput{
		RequestID: req.RequestID,
		Question:  req.Question,
		Schema:    schema,
		History:   history,
		Progress:  progress,
	})
	s.observe(result, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		record := agent.AuditRecord{
			RequestID:       req.RequestID,
			SessionKey:      req.SessionKey,
			Table:           table,
			Question:        req.Question,
			ExecutedQuery:   result.ExecutedQuery,
			AttemptsElapsed: len(result.Attempts),
			RowCount:        result.Table.RowCount(),
		}
		if err := s.audit.Record(record); err != nil {
			slog.Warn("failed to write audit record", "request_id", req.RequestID, "error", err)
		}
	}
	return result, nil
}

// resolveTable picks the table for a request: explicit request table,
// then the session's binding, then the configured default, then the
// sole table of the source.
func (s *Service) resolveTable(ctx context.Context, req datatypes.QueryRequest) (string, error) {
	if req.Table != "" {
		return req.Table, nil
	}
	if bound, err := s.sessions.Table(req.SessionKey); err == nil && bound != "" {
		return bound, nil
	}
	if s.config.DefaultTable != "" {
		return s.config.DefaultTable, nil
	}

	tables, err := s.executor.ListTables(ctx)
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 1 {
		return tables[0], nil
	}
	return "", fmt.Errorf("%w: no table specified and %d tables available", agent.ErrUnknownTable, len(tables))
}

// describeCached serves the schema descriptor from the cache, falling
// back to live introspection on a miss.
func (s *Service) describeCached(ctx context.Context, table string) (*datatypes.SchemaDescriptor, error) {
	dsn := s.cacheDSN()
	if cached, err := s.schemaCache.Get(ctx, dsn, table); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		slog.Warn("schema cache read failed", "table", table, "error", err)
	}

	schema, err := s.executor.Describe(ctx, table)
	if err != nil {
		return nil, err
	}
	if err := s.schemaCache.Put(ctx, dsn, table, schema); err != nil {
		slog.Warn("schema cache write failed", "table", table, "error", err)
	}
	return schema, nil
}

func (s *Service) cacheDSN() string {
	if s.config.Variant == agent.VariantDataframe {
		return s.config.RunnerURL
	}
	return s.config.DatabasePath
}

// observe records metrics for one finished run.
func (s *Service) observe(result *agent.RunResult, err error, elapsed time.Duration) {
	status := "success"
	attempts := 0
	if result != nil {
		attempts = len(result.Attempts)
	}

	var unrelated *agent.UnrelatedError
	var exhausted *agent.RetryExhaustedError
	switch {
	case err == nil:
	case errors.As(err, &unrelated):
		status = "unrelated"
	case errors.As(err, &exhausted):
		status = "exhausted"
		attempts = exhausted.Attempts
		if exhausted.LastRule != "" {
			s.metrics.ObserveGuardRejection(exhausted.LastRule)
		}
	default:
		status = "error"
	}
	s.metrics.ObserveRequest(s.config.Variant, status, attempts, elapsed.Seconds())
}

// Sessions lists live sessions.
func (s *Service) Sessions() []datatypes.SessionInfo {
	return s.sessions.List()
}

// SessionHistory returns the recorded turns of one session.
func (s *Service) SessionHistory(key string) ([]datatypes.Turn, error) {
	history, err := s.sessions.Get(key)
	if err != nil {
		return nil, err
	}
	return history.Turns(), nil
}

// DeleteSession drops a session and its history.
func (s *Service) DeleteSession(key string) error {
	if err := s.sessions.Delete(key); err != nil {
		return err
	}
	s.metrics.SetActiveSessions(s.sessions.Len())
	return nil
}

// ListTables lists the queryable tables.
func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	return s.executor.ListTables(ctx)
}

// Describe introspects one table (through the cache).
func (s *Service) Describe(ctx context.Context, table string) (*datatypes.SchemaDescriptor, error) {
	return s.describeCached(ctx, table)
}
