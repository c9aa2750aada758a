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
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianQuery/services/guard/enforcement"
	"gopkg.in/yaml.v3"
)

// Guard is the deterministic gate every synthesized query passes before
// execution. It never calls a model and never consults the network; the
// same input against the same policy always yields the same verdict.
//
// Thread safety: checks take a read lock, Reload takes the write lock,
// so a reload never exposes a half-compiled policy.
type Guard struct {
	mu     sync.RWMutex
	policy *Policy
	rules  *compiledRules
}

// NewGuard initializes a Guard from the policy embedded in the binary.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all keyword and capability patterns.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewGuard() (*Guard, error) {
	policy, err := ParsePolicy(enforcement.QueryGuardPolicy)
	if err != nil {
		return nil, fmt.Errorf("failed to load the embedded policy file: %w", err)
	}
	g := &Guard{}
	if err := g.Reload(policy); err != nil {
		return nil, err
	}
	return g, nil
}

// NewGuardFromFile initializes a Guard from an external policy file.
func NewGuardFromFile(path string) (*Guard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	policy, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	g := &Guard{}
	if err := g.Reload(policy); err != nil {
		return nil, err
	}
	return g, nil
}

// ParsePolicy unmarshals a policy document without installing it.
func ParsePolicy(data []byte) (*Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	return &policy, nil
}

// Reload compiles and atomically installs a new policy. On compile
// failure the previous policy stays in effect.
func (g *Guard) Reload(policy *Policy) error {
	rules, err := compilePolicy(policy)
	if err != nil {
		return fmt.Errorf("failed to compile policy: %w", err)
	}
	g.mu.Lock()
	g.policy = policy
	g.rules = rules
	g.mu.Unlock()
	return nil
}

// Policy returns the currently installed policy.
func (g *Guard) Policy() *Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// MaxResultRows returns the active row cap. Executor adapters use it as
// the hard bound for variants whose text the guard does not rewrite.
func (g *Guard) MaxResultRows() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rules.maxRows
}

// CheckSQL evaluates a candidate SQL statement against the active policy.
//
// Rules run in a fixed order — shape, mutation, scope, environment — and
// the first rule that produces violations rejects the candidate. The
// resource rule runs last and never rejects: it injects a LIMIT clause
// when the statement has none and clamps an explicit LIMIT above the cap.
// The returned NormalizedText is the only text allowed to reach an
// executor.
func (g *Guard) CheckSQL(raw string) Verdict {
	g.mu.RLock()
	rules := g.rules
	g.mu.RUnlock()

	text := strings.TrimSpace(stripSQLComments(raw))
	// One trailing terminator is tolerated.
	text = strings.TrimSpace(strings.TrimSuffix(text, ";"))

	if text == "" {
		return reject(RuleShape, "statement is empty after comment stripping")
	}
	if strings.Contains(text, ";") {
		return reject(RuleShape, "only a single statement is allowed")
	}
	first := strings.ToUpper(firstWord(text))
	if first != "SELECT" && first != "WITH" {
		return reject(RuleShape, fmt.Sprintf("statement must start with SELECT or WITH, got %q", first))
	}

	for _, kw := range rules.forbiddenWords {
		if kw.re.MatchString(text) {
			return reject(RuleMutation, fmt.Sprintf("forbidden keyword %s", kw.word))
		}
	}

	if len(rules.allowedObjects) > 0 {
		ctes := cteNames(text)
		var violations []Violation
		for _, obj := range referencedObjects(text) {
			if _, isCTE := ctes[obj]; isCTE {
				continue
			}
			if _, ok := rules.allowedObjects[obj]; !ok {
				violations = append(violations, Violation{
					RuleID:  RuleScope,
					Message: fmt.Sprintf("table %q is not in the allowed set", obj),
				})
			}
		}
		if len(violations) > 0 {
			return Verdict{Accepted: false, Violations: violations}
		}
	}

	for _, pat := range rules.unsafePatterns {
		if pat.compiled.MatchString(text) {
			return reject(RuleEnvironment, fmt.Sprintf("%s: %s", pat.Id, pat.Description))
		}
	}

	return Verdict{Accepted: true, NormalizedText: ensureLimit(text, rules.maxRows)}
}

func reject(ruleID, message string) Verdict {
	return Verdict{Accepted: false, Violations: []Violation{{RuleID: ruleID, Message: message}}}
}

// ===== SQL text helpers =====

// stripSQLComments removes line (--) and block (/* */) comments while
// leaving string literals untouched.
func stripSQLComments(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	inString := false
	i := 0
	for i < len(sql) {
		ch := sql[i]
		if inString {
			b.WriteByte(ch)
			if ch == '\'' {
				// Doubled quote is an escaped quote inside the literal.
				if i+1 < len(sql) && sql[i+1] == '\'' {
					b.WriteByte(sql[i+1])
					i += 2
					continue
				}
				inString = false
			}
			i++
			continue
		}
		switch {
		case ch == '\'':
			inString = true
			b.WriteByte(ch)
			i++
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i += 2
			for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i += 2
			// Comments act as token separators.
			b.WriteByte(' ')
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "(")
}

var (
	objectRe = regexp.MustCompile(`(?i)\b(?:from|join)\s+("?[A-Za-z_][\w.]*"?)`)
	cteRe    = regexp.MustCompile(`(?i)\b([A-Za-z_]\w*)\s+as\s*\(`)
	limitRe  = regexp.MustCompile(`(?i)\blimit\s+(\d+)`)
)

// referencedObjects returns lowercased table names appearing after FROM
// or JOIN. Subqueries contribute nothing because the token after the
// keyword is an opening parenthesis.
func referencedObjects(sql string) []string {
	var objects []string
	seen := make(map[string]struct{})
	for _, m := range objectRe.FindAllStringSubmatch(sql, -1) {
		name := strings.ToLower(strings.Trim(m[1], `"`))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		objects = append(objects, name)
	}
	return objects
}

// cteNames collects names bound by `<name> AS (` so common table
// expressions are not mistaken for base tables.
func cteNames(sql string) map[string]struct{} {
	names := make(map[string]struct{})
	for _, m := range cteRe.FindAllStringSubmatch(sql, -1) {
		names[strings.ToLower(m[1])] = struct{}{}
	}
	return names
}

// maskLiterals blanks the contents of single-quoted string literals so
// positional scans cannot match inside them. Doubled quotes are
// literal-internal escapes, mirroring stripSQLComments.
func maskLiterals(sql string) string {
	b := []byte(sql)
	inString := false
	for i := 0; i < len(b); i++ {
		if inString {
			if b[i] == '\'' {
				if i+1 < len(b) && b[i+1] == '\'' {
					b[i], b[i+1] = ' ', ' '
					i++
					continue
				}
				inString = false
				continue
			}
			b[i] = ' '
			continue
		}
		if b[i] == '\'' {
			inString = true
		}
	}
	return string(b)
}

// ensureLimit appends a LIMIT when the statement has none and clamps the
// last LIMIT to maxRows when it exceeds the cap. LIMIT tokens inside
// string literals are not counted.
func ensureLimit(sql string, maxRows int) string {
	matches := limitRe.FindAllStringSubmatchIndex(maskLiterals(sql), -1)
	if len(matches) == 0 {
		return sql + fmt.Sprintf(" LIMIT %d", maxRows)
	}
	last := matches[len(matches)-1]
	numStart, numEnd := last[2], last[3]
	n, err := strconv.Atoi(sql[numStart:numEnd])
	if err != nil || n <= maxRows {
		return sql
	}
	return sql[:numStart] + strconv.Itoa(maxRows) + sql[numEnd:]
}
