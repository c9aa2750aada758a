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
	"testing"
)

func TestCheckSnippet(t *testing.T) {
	g, err := NewGuard()
	if err != nil {
		t.Fatalf("Failed to initialize guard: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name         string
		input        string
		wantAccepted bool
		wantRule     string
	}{
		{
			name:         "Aggregation chain",
			input:        "df.groupby('region')['total'].sum().reset_index()",
			wantAccepted: true,
		},
		{
			name:         "Allowed imports",
			input:        "import pandas as pd\nimport numpy as np\npd.concat([df, df])",
			wantAccepted: true,
		},
		{
			name:         "Empty snippet",
			input:        "   ",
			wantAccepted: false,
			wantRule:     RuleShape,
		},
		{
			name:         "Syntax error",
			input:        "df.groupby(",
			wantAccepted: false,
			wantRule:     RuleShape,
		},
		{
			name:         "Multi-statement payload",
			input:        "x = df.groupby('a').sum()\nx.head(5)",
			wantAccepted: false,
			wantRule:     RuleShape,
		},
		{
			name:         "Imports only, no statement",
			input:        "import pandas as pd",
			wantAccepted: false,
			wantRule:     RuleShape,
		},
		{
			name:         "Column assignment",
			input:        "df['price'] = 0",
			wantAccepted: false,
			wantRule:     RuleMutation,
		},
		{
			name:         "Positional cell assignment",
			input:        "df.iloc[0, 0] = 999",
			wantAccepted: false,
			wantRule:     RuleMutation,
		},
		{
			name:         "Attribute assignment",
			input:        "df.attrs = {'note': 'x'}",
			wantAccepted: false,
			wantRule:     RuleMutation,
		},
		{
			name:         "Augmented column assignment",
			input:        "df['total'] += 1",
			wantAccepted: false,
			wantRule:     RuleMutation,
		},
		{
			name:         "Forbidden module import",
			input:        "import os\ndf.head()",
			wantAccepted: false,
			wantRule:     RuleEnvironment,
		},
		{
			name:         "Import outside the whitelist",
			input:        "import polars as pl\ndf.head()",
			wantAccepted: false,
			wantRule:     RuleScope,
		},
		{
			name:         "From-import of a forbidden module",
			input:        "from subprocess import run\ndf.head()",
			wantAccepted: false,
			wantRule:     RuleEnvironment,
		},
		{
			name:         "Write-out method",
			input:        "df.to_csv('out.csv')",
			wantAccepted: false,
			wantRule:     RuleMutation,
		},
		{
			name:         "Forbidden builtin",
			input:        "eval('2 + 2')",
			wantAccepted: false,
			wantRule:     RuleEnvironment,
		},
		{
			name:         "Module reference without import",
			input:        "df[os.environ['KEY']]",
			wantAccepted: false,
			wantRule:     RuleEnvironment,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := g.CheckSnippet(ctx, tc.input)
			if v.Accepted != tc.wantAccepted {
				t.Fatalf("Accepted = %v, want %v (violations: %+v)", v.Accepted, tc.wantAccepted, v.Violations)
			}
			if !tc.wantAccepted {
				if len(v.Violations) == 0 {
					t.Fatal("Rejected verdict has no violations")
				}
				if v.Violations[0].RuleID != tc.wantRule {
					t.Errorf("RuleID = %q, want %q (message: %s)", v.Violations[0].RuleID, tc.wantRule, v.Violations[0].Message)
				}
			}
		})
	}
}

func TestCheckSnippet_TextNeverRewritten(t *testing.T) {
	g, _ := NewGuard()
	input := "df.sort_values('total', ascending=False).head(3)"
	v := g.CheckSnippet(context.Background(), input)
	if !v.Accepted {
		t.Fatalf("expected acceptance, got %+v", v.Violations)
	}
	if v.NormalizedText != input {
		t.Errorf("snippet text was rewritten: %q", v.NormalizedText)
	}
}
