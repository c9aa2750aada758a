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
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// CheckSnippet evaluates a candidate dataframe snippet (Python source)
// against the active policy.
//
// The snippet is parsed with tree-sitter; a snippet that does not parse
// cleanly fails the shape rule, as does any snippet carrying more than
// one top-level statement (leading imports are counted separately so a
// whitelisted import prelude stays legal). The remaining rules are
// evaluated on the syntax tree: imports outside the whitelist fail the
// scope rule, method calls or assignments that persist or mutate data
// fail the mutation rule, and references to ambient-environment modules
// or forbidden builtins fail the environment rule. Snippet text is never
// rewritten; the result row cap is enforced by the executor contract
// instead.
func (g *Guard) CheckSnippet(ctx context.Context, code string) Verdict {
	g.mu.RLock()
	rules := g.rules
	g.mu.RUnlock()

	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return reject(RuleShape, "snippet is empty")
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, []byte(trimmed))
	if err != nil {
		return reject(RuleShape, fmt.Sprintf("snippet could not be parsed: %v", err))
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return reject(RuleShape, "snippet contains syntax errors")
	}

	statements := 0
	for i := 0; i < int(root.NamedChildCount()); i++ {
		switch root.NamedChild(i).Type() {
		case "import_statement", "import_from_statement", "comment":
		default:
			statements++
		}
	}
	if statements != 1 {
		return reject(RuleShape, fmt.Sprintf("snippet must contain exactly one statement besides imports, found %d", statements))
	}

	if v := scanSnippetTree(root, []byte(trimmed), rules); v != nil {
		return Verdict{Accepted: false, Violations: []Violation{*v}}
	}
	return Verdict{Accepted: true, NormalizedText: trimmed}
}

// scanSnippetTree walks the tree depth-first and returns the first
// violation found, or nil.
func scanSnippetTree(node *sitter.Node, src []byte, rules *compiledRules) *Violation {
	switch node.Type() {
	case "import_statement":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			name := child.Content(src)
			if child.Type() == "aliased_import" {
				if mod := child.ChildByFieldName("name"); mod != nil {
					name = mod.Content(src)
				}
			}
			if v := checkImport(name, rules); v != nil {
				return v
			}
		}
	case "import_from_statement":
		if mod := node.ChildByFieldName("module_name"); mod != nil {
			if v := checkImport(mod.Content(src), rules); v != nil {
				return v
			}
		}
	case "call":
		if fn := node.ChildByFieldName("function"); fn != nil {
			switch fn.Type() {
			case "identifier":
				name := fn.Content(src)
				if _, bad := rules.forbiddenCalls[name]; bad {
					return &Violation{RuleID: RuleEnvironment, Message: fmt.Sprintf("call to forbidden builtin %q", name)}
				}
			case "attribute":
				if attr := fn.ChildByFieldName("attribute"); attr != nil {
					name := attr.Content(src)
					if _, bad := rules.forbiddenMethods[name]; bad {
						return &Violation{RuleID: RuleMutation, Message: fmt.Sprintf("call to forbidden method .%s()", name)}
					}
				}
			}
		}
	case "assignment", "augmented_assignment":
		// Writes through a subscript or attribute target mutate shared
		// state (df[...] = x, df.iloc[...] = x, df.attrs = x); binding a
		// plain local name does not.
		if left := node.ChildByFieldName("left"); left != nil {
			switch left.Type() {
			case "subscript", "attribute":
				return &Violation{RuleID: RuleMutation, Message: fmt.Sprintf("assignment to %q mutates the dataframe", left.Content(src))}
			}
		}
	case "identifier":
		name := node.Content(src)
		if _, bad := rules.forbiddenModules[name]; bad {
			return &Violation{RuleID: RuleEnvironment, Message: fmt.Sprintf("reference to forbidden module %q", name)}
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if v := scanSnippetTree(node.NamedChild(i), src, rules); v != nil {
			return v
		}
	}
	return nil
}

func checkImport(module string, rules *compiledRules) *Violation {
	root := module
	if idx := strings.IndexByte(root, '.'); idx >= 0 {
		root = root[:idx]
	}
	if _, bad := rules.forbiddenModules[root]; bad {
		return &Violation{RuleID: RuleEnvironment, Message: fmt.Sprintf("import of forbidden module %q", root)}
	}
	if _, ok := rules.allowedImports[root]; !ok {
		return &Violation{RuleID: RuleScope, Message: fmt.Sprintf("import %q is not in the allowed set", root)}
	}
	return nil
}
