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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianQuery/pkg/ux"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Exit codes for ask.
const (
	AskExitSuccess    = 0
	AskExitUnanswered = 1 // unrelated question or retries exhausted
	AskExitError      = 2
)

var (
	askTable      string
	askSession    string
	askShowTrace  bool
	askServiceURL string

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against a running query agent",
		Long: `Sends a natural-language question to the query agent and renders
the answer table. With no arguments an interactive prompt collects the
question. Follow-up questions reuse the session, so "only the top 5" or
"now by year" build on the previous answer.`,
		Run: runAskCommand,
	}
)

func init() {
	askCmd.Flags().StringVarP(&askTable, "table", "t", "", "table to query (defaults to the session or sole table)")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session key for follow-up questions")
	askCmd.Flags().BoolVar(&askShowTrace, "trace", false, "print the attempt trace")
	askCmd.Flags().StringVar(&askServiceURL, "url", "", "query agent base URL (default $QUERYAGENT_URL or http://localhost:12310)")
	rootCmd.AddCommand(askCmd)
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		if !ux.IsInteractive() {
			ux.Error("no question given and stdin is not a terminal")
			os.Exit(AskExitError)
		}
		var err error
		question, err = promptForQuestion()
		if err != nil {
			ux.Error(err.Error())
			os.Exit(AskExitError)
		}
	}

	session := askSession
	if session == "" {
		session = "cli-" + uuid.NewString()
	}

	resp, failure, err := sendQuery(question, session)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(AskExitError)
	}
	if failure != nil {
		renderFailure(failure)
		os.Exit(AskExitUnanswered)
	}
	renderResponse(resp)
}

func promptForQuestion() (string, error) {
	var question string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("What do you want to know?").
			Placeholder("e.g. total sales by region in 2024").
			Value(&question),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("prompt cancelled: %w", err)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("empty question")
	}
	return question, nil
}

func serviceBaseURL() string {
	if askServiceURL != "" {
		return strings.TrimRight(askServiceURL, "/")
	}
	if env := os.Getenv("QUERYAGENT_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://localhost:12310"
}

// sendQuery posts the question. A 422 is not an error at this layer: it
// carries a structured failure body worth rendering.
func sendQuery(question, session string) (*datatypes.QueryResponse, *datatypes.StructuredFailure, error) {
	reqBody := datatypes.QueryRequest{
		Question:   question,
		SessionKey: session,
		Table:      askTable,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, err
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	httpResp, err := client.Post(serviceBaseURL()+"/v1/query", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("is the service running? %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return nil, nil, err
	}

	switch httpResp.StatusCode {
	case http.StatusOK:
		var resp datatypes.QueryResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, nil, fmt.Errorf("malformed response: %w", err)
		}
		return &resp, nil, nil
	case http.StatusUnprocessableEntity:
		var failure datatypes.StructuredFailure
		if err := json.Unmarshal(body, &failure); err != nil {
			return nil, nil, fmt.Errorf("malformed failure body: %w", err)
		}
		return nil, &failure, nil
	default:
		return nil, nil, fmt.Errorf("service returned %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func renderResponse(resp *datatypes.QueryResponse) {
	if resp.RewrittenQuestion != "" {
		ux.Muted("Interpreted as: " + resp.RewrittenQuestion)
	}
	ux.Query(resp.ExecutedQuery)
	fmt.Println()

	if resp.Table != nil {
		fmt.Println(ux.RenderTable(resp.Table.Columns, resp.Table.Rows))
	} else {
		fmt.Println(resp.AnswerMarkdown)
	}

	if resp.Rationale != "" {
		ux.Muted(resp.Rationale)
	}
	if askShowTrace {
		renderTrace(resp.Attempts)
	}
	ux.Success(fmt.Sprintf("answered in %d attempt(s), session %s", len(resp.Attempts), resp.SessionKey))
}

func renderFailure(failure *datatypes.StructuredFailure) {
	switch failure.Kind {
	case "unrelated_question":
		ux.Warning("The question does not fit this table: " + failure.Message)
	case "retries_exhausted":
		ux.Error("Could not produce a valid query: " + failure.Message)
		if failure.LastQuery != "" {
			ux.Muted("last candidate: " + failure.LastQuery)
		}
		if failure.LastRuleID != "" {
			ux.Muted("rejected by rule: " + failure.LastRuleID)
		}
		renderTrace(failure.Attempts)
	default:
		ux.Error(failure.Message)
	}
}

func renderTrace(attempts []datatypes.AttemptRecord) {
	if len(attempts) == 0 {
		return
	}
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			fmt.Sprintf("%d", a.Number),
			a.Stage,
			a.Outcome,
			a.Detail,
		})
	}
	fmt.Println(ux.RenderTable([]string{"attempt", "stage", "outcome", "detail"}, rows))
}
