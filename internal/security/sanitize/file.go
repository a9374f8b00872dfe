// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sanitize

import (
	"fmt"
	"path"
	"strings"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security"
)

// =============================================================================
// UPLOAD DEFAULTS
// =============================================================================

// ImageExtensions are the only extensions accepted for image/* uploads.
// SVG is excluded because it can carry script.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// DefaultAllowedMIMETypes is the upload allowlist used when none is configured.
var DefaultAllowedMIMETypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "application/pdf"}

// DefaultMaxSizeMB is the upload size limit used when none is configured.
const DefaultMaxSizeMB = 5

// Rejection reasons.
const (
	ReasonMIMENotAllowed    = "mime_not_allowed"
	ReasonFileTooLarge      = "file_too_large"
	ReasonExtensionMismatch = "extension_mismatch"
)

// =============================================================================
// FILE VALIDATION
// =============================================================================

// FileDescriptor describes an upload as declared by the client.
type FileDescriptor struct {
	Name     string `json:"name"`
	MIMEType string `json:"type"`
	Size     int64  `json:"size"`
}

// ValidateFile checks f against a MIME allowlist (case-insensitive) and a size
// limit in megabytes (1 MB = 1024*1024 bytes; a file exactly at the limit
// passes). image/* files must also carry an extension from ImageExtensions.
func ValidateFile(f FileDescriptor, allowedMIMETypes []string, maxSizeMB float64) security.ValidationOutcome {
	mimeType := strings.ToLower(strings.TrimSpace(f.MIMEType))

	allowed := false
	for _, m := range allowedMIMETypes {
		if strings.EqualFold(strings.TrimSpace(m), mimeType) {
			allowed = true
			break
		}
	}
	if !allowed || mimeType == "" {
		return security.Invalid(security.NewRejection(security.ErrSecurityRejection, ReasonMIMENotAllowed, "File type not allowed"))
	}

	maxBytes := maxSizeMB * 1024 * 1024
	if f.Size < 0 || float64(f.Size) > maxBytes {
		return security.Invalid(security.NewRejection(security.ErrFormat, ReasonFileTooLarge,
			fmt.Sprintf("File size exceeds %gMB limit", maxSizeMB)))
	}

	if strings.HasPrefix(mimeType, "image/") && !hasImageExtension(f.Name) {
		return security.Invalid(security.NewRejection(security.ErrSecurityRejection, ReasonExtensionMismatch, "Invalid file extension"))
	}

	return security.Valid()
}

func hasImageExtension(name string) bool {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
