// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security is the request/response security boundary.
//
// # Package Organization
//
// The boundary is split into three independent subpackages plus an audit trail:
//
//   - crypto: envelope encryption of outbound sensitive payloads
//   - taint: gadget scanning of untrusted structured data, request
//     validation and fail-closed response shaping
//   - sanitize: allowlist HTML filtering, upload descriptor validation and
//     URL normalisation
//   - audit: JSON-lines record of every rejection
//
// This file holds the types the subpackages share: the error taxonomy and the
// ValidationOutcome verdict.
//
// # Error Taxonomy
//
//   - ErrConfiguration: encryption key missing or malformed (fatal to the call)
//   - ErrFormat: body too large or not parseable (request rejected)
//   - ErrSecurityRejection: dangerous keys/values or a forbidden transport
//     header (request rejected, never sanitized-and-allowed)
//
// None of these are retried. Callers receive a Rejection whose Message is
// generic; Details are for logging and audit only.
//
// # Usage
//
//	outcome := scanner.ValidateRequestBody(rawBody)
//	if !outcome.Valid {
//	    auditLogger.LogRejection(requestID, clientIP, outcome.Rejection())
//	    return outcome.Err()
//	}
package security

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConfiguration indicates the boundary is misconfigured (e.g. no encryption key).
	ErrConfiguration = errors.New("configuration error")
	// ErrFormat indicates an input that is too large or cannot be parsed.
	ErrFormat = errors.New("format error")
	// ErrSecurityRejection indicates an input that carries a known attack shape.
	ErrSecurityRejection = errors.New("security rejection")
)

// =============================================================================
// REJECTION
// =============================================================================

// Details lists the offending keys and values behind a rejection.
// It is diagnostic data: never echo it to a client without re-scanning it.
type Details struct {
	DangerousKeys   []string `json:"dangerousKeys,omitempty"`
	DangerousValues []string `json:"dangerousValues,omitempty"`
}

// Rejection is the structured error returned when the boundary refuses an input.
type Rejection struct {
	// Kind is one of ErrFormat, ErrSecurityRejection or ErrConfiguration.
	Kind error
	// Message is safe to return to the caller.
	Message string
	// Reason is a short machine-friendly tag for logs (e.g. "body_too_large").
	Reason string
	// Details is set for content rejections.
	Details *Details
}

// NewRejection creates a rejection of the given kind.
func NewRejection(kind error, reason, message string) *Rejection {
	return &Rejection{Kind: kind, Reason: reason, Message: message}
}

// Error implements error.
func (r *Rejection) Error() string {
	return fmt.Sprintf("%v: %s", r.Kind, r.Message)
}

// Unwrap exposes Kind so callers can use errors.Is.
func (r *Rejection) Unwrap() error {
	return r.Kind
}

// WithDetails attaches offending keys/values and returns r.
func (r *Rejection) WithDetails(keys, values []string) *Rejection {
	r.Details = &Details{DangerousKeys: keys, DangerousValues: values}
	return r
}

// =============================================================================
// VALIDATION OUTCOME
// =============================================================================

// ValidationOutcome is either Valid or Invalid with an error and optional details.
type ValidationOutcome struct {
	Valid   bool     `json:"valid"`
	Error   string   `json:"error,omitempty"`
	Details *Details `json:"details,omitempty"`

	rejection *Rejection
}

// Valid returns the Valid outcome.
func Valid() ValidationOutcome {
	return ValidationOutcome{Valid: true}
}

// Invalid returns an Invalid outcome built from a rejection.
func Invalid(r *Rejection) ValidationOutcome {
	return ValidationOutcome{
		Valid:     false,
		Error:     r.Message,
		Details:   r.Details,
		rejection: r,
	}
}

// Err returns the rejection behind an Invalid outcome, or nil when Valid.
func (o ValidationOutcome) Err() error {
	if o.Valid || o.rejection == nil {
		return nil
	}
	return o.rejection
}

// Rejection returns the underlying rejection, or nil when Valid.
func (o ValidationOutcome) Rejection() *Rejection {
	if o.Valid {
		return nil
	}
	return o.rejection
}
