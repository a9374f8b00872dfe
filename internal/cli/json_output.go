// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Machine-readable output for CLI commands.
package cli

import (
	"encoding/json"
	"time"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/crypto"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/taint"
)

// JSONResponse is the envelope every --json command prints.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response that still carries data,
// e.g. a scan result that found something.
func NewJSONErrorResponse(command string, err error, data any) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Success:   false,
		Data:      data,
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print writes the response to stdout, indented.
func (r *JSONResponse) Print() error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// COMMAND DATA
// =============================================================================

// VersionData is returned by "version --json".
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// StatusData is returned by "status --json". It never includes key material.
type StatusData struct {
	Environment    string        `json:"environment"`
	ConfigFile     string        `json:"config_file,omitempty"`
	Addr           string        `json:"addr"`
	Encryption     crypto.Status `json:"encryption"`
	HTMLRendering  bool          `json:"html_rendering"`
	MaxDepth       int           `json:"max_depth"`
	DangerousKeys  int           `json:"dangerous_keys"`
	ValueRules     int           `json:"value_rules"`
	PolicyFile     string        `json:"policy_file,omitempty"`
	AuditEnabled   bool          `json:"audit_enabled"`
	AuditPath      string        `json:"audit_path,omitempty"`
	RateLimit      float64       `json:"rate_limit"`
	AllowedUploads []string      `json:"allowed_uploads"`
}

// ScanData is returned by "scan --json".
type ScanData struct {
	Source string           `json:"source"`
	Result taint.ScanResult `json:"result"`
}

// KeygenData is returned by "keygen --json". Key is omitted when the key
// was written to a file.
type KeygenData struct {
	Key        string `json:"key,omitempty"`
	Salt       string `json:"salt,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	Path       string `json:"path,omitempty"`
}
