// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package taint

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security"
)

// MaxBodyBytes is the largest raw body accepted for parsing (1 MiB).
const MaxBodyBytes = 1 << 20

// Client-facing messages. They are generic on purpose; details go to the audit log.
const (
	MsgTooLarge         = "Request body too large"
	MsgInvalidFormat    = "Invalid format"
	MsgDangerousContent = "Request contains potentially dangerous content"
	MsgUnauthorized     = "Unauthorized"
)

// Rejection reasons.
const (
	ReasonBodyTooLarge     = "body_too_large"
	ReasonInvalidFormat    = "invalid_format"
	ReasonDangerousContent = "dangerous_content"
	ReasonForbiddenHeader  = "forbidden_header"
	ReasonForbiddenAccept  = "forbidden_accept"
)

// =============================================================================
// REQUEST BODY
// =============================================================================

// ValidateRequestBody validates an inbound body.
//
// string, []byte and json.RawMessage are raw text: they are size-checked
// against MaxBodyBytes before any parsing, then decoded as JSON. Empty or
// whitespace-only text counts as an absent body. Anything else is treated as
// already-decoded data. Absent and scalar bodies are Valid; composite bodies
// are scanned and rejected if unsafe.
func (s *Scanner) ValidateRequestBody(body any) security.ValidationOutcome {
	switch b := body.(type) {
	case nil:
		return security.Valid()
	case string:
		if len(b) > MaxBodyBytes {
			return tooLarge()
		}
		return s.validateText([]byte(b))
	case []byte:
		return s.validateText(b)
	case json.RawMessage:
		return s.validateText(b)
	}
	return s.validateValue(FromAny(body))
}

func (s *Scanner) validateText(raw []byte) security.ValidationOutcome {
	if len(raw) > MaxBodyBytes {
		return tooLarge()
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return security.Valid()
	}

	parsed, err := decodeJSON(raw)
	if err != nil {
		return security.Invalid(security.NewRejection(security.ErrFormat, ReasonInvalidFormat, MsgInvalidFormat))
	}
	return s.validateValue(FromAny(parsed))
}

func (s *Scanner) validateValue(v Value) security.ValidationOutcome {
	if v.Kind() == KindScalar {
		return security.Valid()
	}
	res := s.scanValue(v, s.maxDepth)
	if res.IsSafe {
		return security.Valid()
	}
	return security.Invalid(
		security.NewRejection(security.ErrSecurityRejection, ReasonDangerousContent, MsgDangerousContent).
			WithDetails(res.DangerousKeys, res.DangerousValues),
	)
}

// decodeJSON parses exactly one JSON document.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON document")
	}
	return v, nil
}

func tooLarge() security.ValidationOutcome {
	return security.Invalid(security.NewRejection(security.ErrFormat, ReasonBodyTooLarge, MsgTooLarge))
}

// =============================================================================
// TRANSPORT CHECK
// =============================================================================

// CheckRequestSecurity rejects requests that present reserved internal
// transport signals, then validates body when one is given. It returns nil
// when the request may proceed.
func (s *Scanner) CheckRequestSecurity(headers http.Header, body any) *security.Rejection {
	policy := s.policy.Load()

	for name, values := range headers {
		if policy.IsForbiddenHeader(name) {
			return security.NewRejection(security.ErrSecurityRejection, ReasonForbiddenHeader, MsgUnauthorized)
		}
		if !strings.EqualFold(name, "Accept") {
			continue
		}
		for _, v := range values {
			if _, ok := policy.AcceptMarker(v); ok {
				return security.NewRejection(security.ErrSecurityRejection, ReasonForbiddenAccept, MsgUnauthorized)
			}
		}
	}

	if body == nil {
		return nil
	}
	return s.ValidateRequestBody(body).Rejection()
}

// =============================================================================
// PACKAGE-LEVEL API
// =============================================================================

// ValidateRequestBody validates body with the baseline policy.
func ValidateRequestBody(body any) security.ValidationOutcome {
	return defaultScanner.ValidateRequestBody(body)
}

// CheckRequestSecurity checks headers and body with the baseline policy.
func CheckRequestSecurity(headers http.Header, body any) *security.Rejection {
	return defaultScanner.CheckRequestSecurity(headers, body)
}
