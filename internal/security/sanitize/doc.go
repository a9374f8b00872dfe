// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sanitize makes untrusted content safe to render, store or follow.
//
//   - SanitizeHTML filters markup against an allowlist Policy
//   - StripHTML and SanitizeTextContent reduce markup to its text
//   - ValidateFile checks an upload's declared type, size and extension
//   - SanitizeURL drops links that would execute code or change origin
//
// # Rendering Capability
//
// Allowlist filtering is provided by bluemonday. Builds with the strip_only
// tag omit it; SanitizeHTML then removes all markup and escapes the remaining
// text. Raw markup is never passed through in either build.
package sanitize
