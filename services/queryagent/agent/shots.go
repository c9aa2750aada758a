// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Shot is one stored question/query example folded into synthesis
// prompts as a few-shot demonstration.
type Shot struct {
	Question string `json:"question"`
	Query    string `json:"query"`
}

// ShotSource retrieves examples similar to a question. A nil source
// disables few-shot prompting.
type ShotSource interface {
	Similar(ctx context.Context, question string, limit int) ([]Shot, error)
}

// shotClassName is the Weaviate class holding curated examples.
const shotClassName = "QueryExample"

// WeaviateShotStore implements ShotSource backed by a Weaviate
// nearVector search over curated examples, scoped to one source table.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying Weaviate client handles
// connection pooling.
type WeaviateShotStore struct {
	client   *weaviate.Client
	embedder llm.Embedder
	table    string
}

// NewWeaviateShotStore creates a store scoped to the given table.
func NewWeaviateShotStore(client *weaviate.Client, embedder llm.Embedder, table string) *WeaviateShotStore {
	return &WeaviateShotStore{client: client, embedder: embedder, table: table}
}

// Similar returns up to limit examples whose questions are semantically
// close to the given question.
func (s *WeaviateShotStore) Similar(ctx context.Context, question string, limit int) ([]Shot, error) {
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question for example search: %w", err)
	}

	tableFilter := filters.Where().
		WithPath([]string{"source_table"}).
		WithOperator(filters.Equal).
		WithValueString(s.table)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "question"},
		{Name: "query"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(shotClassName).
		WithFields(fields...).
		WithWhere(tableFilter).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate example search failed: %w", err)
	}

	parsed, err := parseShotResponse(result)
	if err != nil {
		return nil, err
	}
	slog.Debug("Found few-shot examples", "count", len(parsed), "table", s.table)
	return parsed, nil
}

// Add stores a new example with the question vector.
func (s *WeaviateShotStore) Add(ctx context.Context, shot Shot) error {
	vector, err := s.embedder.Embed(ctx, shot.Question)
	if err != nil {
		return fmt.Errorf("failed to embed example question: %w", err)
	}

	_, err = s.client.Data().Creator().
		WithClassName(shotClassName).
		WithProperties(map[string]interface{}{
			"question":     shot.Question,
			"query":        shot.Query,
			"source_table": s.table,
		}).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save example to Weaviate: %w", err)
	}
	return nil
}

type shotQueryResponse struct {
	Get struct {
		QueryExample []struct {
			Question string `json:"question"`
			Query    string `json:"query"`
		} `json:"QueryExample"`
	} `json:"Get"`
}

func parseShotResponse(resp *models.GraphQLResponse) ([]Shot, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var parsed shotQueryResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal example results: %w", err)
	}
	shots := make([]Shot, 0, len(parsed.Get.QueryExample))
	for _, ex := range parsed.Get.QueryExample {
		shots = append(shots, Shot{Question: ex.Question, Query: ex.Query})
	}
	return shots, nil
}
