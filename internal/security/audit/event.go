// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	EventRequestRejected   = "REQUEST_REJECTED"
	EventUploadRejected    = "UPLOAD_REJECTED"
	EventResponseOmitted   = "RESPONSE_DATA_OMITTED"
	EventEncryptionFailure = "ENCRYPTION_FAILURE"
	EventPolicyReloaded    = "POLICY_RELOADED"
	EventStartup           = "STARTUP"
	EventShutdown          = "SHUTDOWN"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ToJSON formats the event as a single JSON line (without newline).
func (e *Event) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
