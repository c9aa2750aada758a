// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file serves as the bridge between the build system and the runtime logic. It utilizes the Go
embed package to bake the query_guard_policy.yaml file directly into the compiled binary. This
ensures that a sane default policy is immutable at runtime and travels with the executable.
*/

package enforcement

import (
	_ "embed"
)

// QueryGuardPolicy holds the raw byte content of the 'query_guard_policy.yaml' file.
//
// This variable is populated at compile-time using the Go 'embed' directive. Deployments
// may layer an external policy file on top via GUARD_POLICY_PATH, but the embedded
// default always exists and always parses.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.QueryGuardPolicy, &targetStruct)
//
//go:embed query_guard_policy.yaml
var QueryGuardPolicy []byte
