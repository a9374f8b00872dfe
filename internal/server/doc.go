// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server hosts the request/response security boundary over HTTP.
//
// Every request passes the boundary middleware before a handler sees it:
// reserved transport headers are refused, bodies are capped at 1 MiB before
// parsing, and JSON bodies are scanned for pollution gadgets. Rejections are
// written to the audit trail in full and answered with a generic message.
//
// # Endpoints
//
//   - GET  /health                - Liveness and encryption availability
//   - GET  /stats                 - Request and rejection counters
//   - GET  /v1/encryption/status  - Key shape diagnostics, never key content
//   - POST /v1/encrypt            - Seal a JSON payload into an envelope
//   - POST /v1/decrypt            - Open an envelope; output is re-scanned
//   - POST /v1/echo               - Return a body through CreateSafeResponse
//   - POST /v1/sanitize/html      - Allowlist-sanitize and strip HTML
//   - POST /v1/sanitize/url       - Neutralise a URL
//   - POST /v1/uploads/validate   - Check an upload descriptor
//
// # Middleware
//
// Recovery, request ID, security headers, logging, per-IP rate limiting
// and the boundary check, in that order.
//
// # Usage
//
//	srv, err := server.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//	if err := srv.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package server
