// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/audit"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/crypto"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/sanitize"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/taint"
)

// ============================================================================
// HEALTH AND STATS
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status              string `json:"status"`
	Version             string `json:"version"`
	Environment         string `json:"environment"`
	EncryptionAvailable bool   `json:"encryption_available"`
	HTMLRendering       bool   `json:"html_rendering"`
}

// handleHealth handles GET /health. Missing encryption degrades the status
// but the boundary keeps serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:              "ok",
		Version:             Version,
		Environment:         s.cfg.Environment,
		EncryptionAvailable: s.encryptor.IsAvailable(),
		HTMLRendering:       sanitize.RenderingAvailable(),
	}
	if !health.EncryptionAvailable {
		health.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// ============================================================================
// ENCRYPTION HANDLERS
// ============================================================================

// handleEncryptionStatus handles GET /v1/encryption/status.
func (s *Server) handleEncryptionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.encryptor.Status())
}

// handleEncrypt handles POST /v1/encrypt: the JSON body is sealed into an
// envelope.
func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	if !s.encryptor.IsAvailable() {
		writeError(w, http.StatusServiceUnavailable, "Encryption not available")
		return
	}

	payload, err := decodeAny(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, taint.MsgInvalidFormat)
		return
	}

	env, err := s.encryptor.EncryptPayload(payload)
	if err != nil {
		s.encryptionFailure(r, err)
		writeError(w, http.StatusInternalServerError, "Encryption failed")
		return
	}
	writeJSON(w, http.StatusOK, taint.SafeResponse{Success: true, Data: env})
}

// handleDecrypt handles POST /v1/decrypt. The recovered payload is treated
// as untrusted and goes through CreateSafeResponse.
func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	if !s.encryptor.IsAvailable() {
		writeError(w, http.StatusServiceUnavailable, "Encryption not available")
		return
	}

	var env crypto.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, taint.MsgInvalidFormat)
		return
	}

	var payload any
	if err := s.encryptor.DecryptPayload(&env, &payload); err != nil {
		if errors.Is(err, crypto.ErrInvalidEnvelope) {
			writeError(w, http.StatusBadRequest, taint.MsgInvalidFormat)
			return
		}
		s.encryptionFailure(r, err)
		writeError(w, http.StatusUnprocessableEntity, "Decryption failed")
		return
	}
	s.writeSafe(w, r, payload)
}

func (s *Server) encryptionFailure(r *http.Request, err error) {
	id := RequestIDFromContext(r.Context())
	s.logger.Printf("ENCRYPTION_FAILURE | id=%s path=%s", id, r.URL.Path)
	if logErr := s.audit.Log(audit.Event{
		EventType: audit.EventEncryptionFailure,
		RequestID: id,
		ClientIP:  GetClientIP(r),
		Success:   false,
		Error:     err.Error(),
	}); logErr != nil {
		s.logger.Printf("AUDIT_WRITE_FAILED | id=%s error=%v", id, logErr)
	}
}

// ============================================================================
// ECHO HANDLER
// ============================================================================

// handleEcho handles POST /v1/echo: the body comes back through
// CreateSafeResponse.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeAny(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, taint.MsgInvalidFormat)
		return
	}
	s.writeSafe(w, r, payload)
}

// writeSafe writes data only if it scans clean and audits the omission
// otherwise.
func (s *Server) writeSafe(w http.ResponseWriter, r *http.Request, data any) {
	resp := s.scanner.CreateSafeResponse(true, "", data)
	if data != nil && resp.Data == nil {
		s.stats.RecordOmitted()
		if err := s.audit.Log(audit.Event{
			EventType: audit.EventResponseOmitted,
			RequestID: RequestIDFromContext(r.Context()),
			ClientIP:  GetClientIP(r),
			Success:   true,
		}); err != nil {
			s.logger.Printf("AUDIT_WRITE_FAILED | error=%v", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// SANITIZE HANDLERS
// ============================================================================

// SanitizeHTMLRequest is the body of POST /v1/sanitize/html.
type SanitizeHTMLRequest struct {
	HTML string `json:"html"`
}

// SanitizeHTMLResponse carries both renderings of the input.
type SanitizeHTMLResponse struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

func (s *Server) handleSanitizeHTML(w http.ResponseWriter, r *http.Request) {
	var req SanitizeHTMLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, taint.MsgInvalidFormat)
		return
	}
	writeJSON(w, http.StatusOK, taint.SafeResponse{
		Success: true,
		Data: SanitizeHTMLResponse{
			HTML: s.html.Sanitize(req.HTML),
			Text: sanitize.SanitizeTextContent(req.HTML),
		},
	})
}

// SanitizeURLRequest is the body of POST /v1/sanitize/url.
type SanitizeURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleSanitizeURL(w http.ResponseWriter, r *http.Request) {
	var req SanitizeURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, taint.MsgInvalidFormat)
		return
	}
	writeJSON(w, http.StatusOK, taint.SafeResponse{
		Success: true,
		Data:    SanitizeURLRequest{URL: sanitize.SanitizeURL(req.URL)},
	})
}

// ============================================================================
// UPLOAD HANDLER
// ============================================================================

// handleValidateUpload handles POST /v1/uploads/validate with a file
// descriptor. The outcome is returned as-is; it never carries file content.
func (s *Server) handleValidateUpload(w http.ResponseWriter, r *http.Request) {
	var fd sanitize.FileDescriptor
	if err := json.NewDecoder(r.Body).Decode(&fd); err != nil {
		writeError(w, http.StatusBadRequest, taint.MsgInvalidFormat)
		return
	}

	outcome := sanitize.ValidateFile(fd, s.cfg.Upload.AllowedMIMETypes, s.cfg.Upload.MaxSizeMB)
	if outcome.Valid {
		writeJSON(w, http.StatusOK, outcome)
		return
	}

	rej := outcome.Rejection()
	id := RequestIDFromContext(r.Context())
	s.logger.Printf("UPLOAD_REJECTED | id=%s reason=%s", id, rej.Reason)
	if err := s.audit.Log(audit.Event{
		EventType: audit.EventUploadRejected,
		RequestID: id,
		ClientIP:  GetClientIP(r),
		Reason:    rej.Reason,
		Success:   false,
		Metadata:  map[string]string{"type": fd.MIMEType, "name": fd.Name},
	}); err != nil {
		s.logger.Printf("AUDIT_WRITE_FAILED | id=%s error=%v", id, err)
	}

	status := http.StatusUnprocessableEntity
	if rej.Reason == sanitize.ReasonFileTooLarge {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, outcome)
}

// ============================================================================
// DECODING
// ============================================================================

// decodeAny decodes one JSON document, keeping numbers exact. An empty body
// is an error.
func decodeAny(body io.Reader) (any, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
