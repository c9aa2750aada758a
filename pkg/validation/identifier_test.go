// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple table", "sales", false},
		{"underscore prefix", "__row_idx", false},
		{"mixed case", "SalesByRegion", false},
		{"digits inside", "q3_2024", false},
		{"max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"leading digit", "2024_sales", true},
		{"too long", strings.Repeat("a", 65), true},
		{"semicolon injection", "sales; DROP TABLE users", true},
		{"quote injection", `sales" OR "1"="1`, true},
		{"path traversal", "../etc/passwd", true},
		{"whitespace", "sales table", true},
		{"dot qualified", "main.sales", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifiers(t *testing.T) {
	if err := ValidateIdentifiers([]string{"region", "total"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ValidateIdentifiers([]string{"region", "bad name", "also;bad"})
	if err == nil {
		t.Fatal("expected error for invalid names")
	}
	if !strings.Contains(err.Error(), "bad name") || !strings.Contains(err.Error(), "also;bad") {
		t.Errorf("error should list all invalid names, got %v", err)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	got, err := QuoteIdentifier("sales")
	if err != nil || got != `"sales"` {
		t.Errorf("QuoteIdentifier = %q, %v", got, err)
	}
	if _, err := QuoteIdentifier(`sa"les`); err == nil {
		t.Error("embedded quote must be rejected")
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	got, err := NormalizeIdentifier("  SalesByRegion ")
	if err != nil || got != "salesbyregion" {
		t.Errorf("NormalizeIdentifier = %q, %v", got, err)
	}
	if _, err := NormalizeIdentifier(" bad name "); err == nil {
		t.Error("inner whitespace must be rejected")
	}
}
