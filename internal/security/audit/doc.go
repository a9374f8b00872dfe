// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records boundary decisions as JSON lines.
//
// Every rejected request, omitted response payload, encryption failure and
// policy reload becomes one Event. Events are redacted before they are
// written: hex key material, bearer tokens, JWTs and password assignments are
// replaced, and metadata values are truncated.
//
// # Components
//
// FileLogger - append-only JSON-lines log with size-based rotation
//
//	logger, err := audit.NewFileLogger("/var/log/boundary/audit.log")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.LogRejection(requestID, clientIP, rejection)
//
// NopLogger - discards everything; used when auditing is disabled.
package audit
