// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule identifiers, in evaluation order. Evaluation stops at the first
// rule that produces a violation; the resource rule never rejects, it
// normalizes the statement instead.
const (
	RuleShape       = "shape"
	RuleMutation    = "mutation"
	RuleScope       = "scope"
	RuleEnvironment = "environment"
	RuleResource    = "resource"
)

// Policy is the YAML document driving the guard. A default policy is
// embedded in the binary via the enforcement package; deployments may
// override it with an external file.
type Policy struct {
	SQL     SQLPolicy     `yaml:"sql"`
	Snippet SnippetPolicy `yaml:"snippet"`
}

type SQLPolicy struct {
	// ForbiddenKeywords rejects any statement containing one of these
	// words, regardless of position. Matched case-insensitively on word
	// boundaries.
	ForbiddenKeywords []string `yaml:"forbidden_keywords"`

	// AllowedObjects is the whitelist of tables/views a statement may
	// reference. An empty list disables the scope rule entirely.
	AllowedObjects []string `yaml:"allowed_objects"`

	// MaxResultRows is the LIMIT injected into unbounded statements and
	// the ceiling applied to explicit LIMIT clauses.
	MaxResultRows int `yaml:"max_result_rows"`

	// UnsafePatterns flag capabilities that escape the data scope:
	// filesystem reads, extension loading, remote URLs.
	UnsafePatterns []Pattern `yaml:"unsafe_patterns"`
}

type SnippetPolicy struct {
	// AllowedImports is the module whitelist for dataframe snippets.
	AllowedImports []string `yaml:"allowed_imports"`

	// ForbiddenCalls are bare function names that must never be invoked.
	ForbiddenCalls []string `yaml:"forbidden_calls"`

	// ForbiddenMethods are attribute call names that persist or mutate
	// data (to_csv, to_sql, ...).
	ForbiddenMethods []string `yaml:"forbidden_methods"`

	// ForbiddenModules flag ambient-environment access even without an
	// import statement (os, sys, subprocess, ...).
	ForbiddenModules []string `yaml:"forbidden_modules"`
}

type Pattern struct {
	Id          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp
}

// Violation records a single rule breach. Message is safe to echo back
// to the synthesis loop as repair feedback.
type Violation struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// Verdict is the guard's decision on one candidate query.
//
// When Accepted is true, NormalizedText carries the statement that must
// be executed; the resource rule is the only rule permitted to alter the
// text, so NormalizedText differs from the input at most in its LIMIT
// clause. When Accepted is false, Violations holds the breaches of the
// first failing rule and NormalizedText is empty.
type Verdict struct {
	Accepted       bool        `json:"accepted"`
	NormalizedText string      `json:"normalized_text,omitempty"`
	Violations     []Violation `json:"violations,omitempty"`
}

// compiledRules is the immutable, pre-compiled form of a Policy. The
// guard swaps the whole struct on reload so checks never observe a
// half-updated policy.
type compiledRules struct {
	maxRows          int
	forbiddenWords   []forbiddenKeyword
	allowedObjects   map[string]struct{}
	unsafePatterns   []Pattern
	allowedImports   map[string]struct{}
	forbiddenCalls   map[string]struct{}
	forbiddenMethods map[string]struct{}
	forbiddenModules map[string]struct{}
}

type forbiddenKeyword struct {
	word string
	re   *regexp.Regexp
}

func compilePolicy(p *Policy) (*compiledRules, error) {
	if p.SQL.MaxResultRows <= 0 {
		return nil, fmt.Errorf("sql.max_result_rows must be positive, got %d", p.SQL.MaxResultRows)
	}
	rules := &compiledRules{
		maxRows:          p.SQL.MaxResultRows,
		allowedObjects:   make(map[string]struct{}, len(p.SQL.AllowedObjects)),
		allowedImports:   make(map[string]struct{}, len(p.Snippet.AllowedImports)),
		forbiddenCalls:   make(map[string]struct{}, len(p.Snippet.ForbiddenCalls)),
		forbiddenMethods: make(map[string]struct{}, len(p.Snippet.ForbiddenMethods)),
		forbiddenModules: make(map[string]struct{}, len(p.Snippet.ForbiddenModules)),
	}
	for _, kw := range p.SQL.ForbiddenKeywords {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile keyword pattern for %q: %w", kw, err)
		}
		rules.forbiddenWords = append(rules.forbiddenWords, forbiddenKeyword{word: strings.ToUpper(kw), re: re})
	}
	for _, obj := range p.SQL.AllowedObjects {
		rules.allowedObjects[strings.ToLower(obj)] = struct{}{}
	}
	for i := range p.SQL.UnsafePatterns {
		pat := p.SQL.UnsafePatterns[i]
		re, err := regexp.Compile(pat.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile unsafe pattern %s: %w", pat.Id, err)
		}
		pat.compiled = re
		rules.unsafePatterns = append(rules.unsafePatterns, pat)
	}
	for _, m := range p.Snippet.AllowedImports {
		rules.allowedImports[m] = struct{}{}
	}
	for _, f := range p.Snippet.ForbiddenCalls {
		rules.forbiddenCalls[f] = struct{}{}
	}
	for _, m := range p.Snippet.ForbiddenMethods {
		rules.forbiddenMethods[m] = struct{}{}
	}
	for _, m := range p.Snippet.ForbiddenModules {
		rules.forbiddenModules[m] = struct{}{}
	}
	return rules, nil
}
