// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up
// inside SQL statements or file paths. Using these validators prevents
// injection attacks when an identifier cannot go through a placeholder.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches valid SQL identifiers: a letter or
// underscore followed by letters, digits or underscores.
// Max length: 64 characters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidateIdentifier validates a table or column name before it is
// interpolated into a SQL statement.
//
// Valid identifiers:
//   - 1-64 characters
//   - Letters, digits, underscores
//   - Must not start with a digit
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateIdentifier(table); err != nil {
//	    return nil, fmt.Errorf("invalid table name: %w", err)
//	}
//	// Safe to quote and interpolate
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier: %q (must be 1-64 letters, digits or underscores, not starting with a digit)", name)
	}

	return nil
}

// ValidateIdentifiers validates multiple identifiers.
// Returns an error listing all invalid names if any fail validation.
func ValidateIdentifiers(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateIdentifier(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %v", invalid)
	}
	return nil
}

// QuoteIdentifier validates an identifier and returns it wrapped in
// double quotes for direct use in a statement.
func QuoteIdentifier(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	return `"` + name + `"`, nil
}

// NormalizeIdentifier trims whitespace and lowercases an identifier for
// case-insensitive comparison, validating it first.
func NormalizeIdentifier(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateIdentifier(trimmed); err != nil {
		return "", err
	}
	return strings.ToLower(trimmed), nil
}
