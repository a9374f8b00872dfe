// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package taint

// SafeResponse is the outbound response envelope.
type SafeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// CreateSafeResponse builds a response and includes data only if it scans
// clean. Unsafe data is dropped whole; outside production a diagnostic line
// records the omission.
func (s *Scanner) CreateSafeResponse(success bool, message string, data any) SafeResponse {
	resp := SafeResponse{Success: success, Message: message}
	if data == nil {
		return resp
	}

	res := s.ScanObjectForGadgets(data, s.maxDepth)
	if res.IsSafe {
		resp.Data = data
		return resp
	}

	if !s.production {
		s.logger.Printf("SAFE_RESPONSE_DATA_OMITTED | reason=%q", res.Reason)
	}
	return resp
}

// CreateSafeResponse builds a response with the baseline policy.
func CreateSafeResponse(success bool, message string, data any) SafeResponse {
	return defaultScanner.CreateSafeResponse(success, message, data)
}
