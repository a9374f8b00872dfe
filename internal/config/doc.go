// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the security boundary.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: server, encryption, taint, upload, sanitize and audit settings
//   - PolicyFile: an external taint policy extension
//   - PolicyWatcher: reloads a PolicyFile when it changes on disk
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (BOUNDARY_*)
//   - an explicit --config path
//   - ~/.boundary/boundary.toml
//   - ~/.boundary/boundary.json
//   - Built-in defaults
//
// The encryption key is masked by Config.String and never logged.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy, err := cfg.TaintPolicy(nil)
package config
