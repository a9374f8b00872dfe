// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package crypto provides envelope encryption for outbound sensitive payloads.
//
// A payload is any JSON-serializable value. It is serialized, encrypted with
// AES-256-CBC (PKCS#7 padding) under the process-wide key and a fresh random
// 128-bit IV, and returned as an Envelope:
//
//	{"content": "<base64 ciphertext>", "iv": "<32 hex chars>"}
//
// # Key Handling
//
// The key is supplied once at start-up as exactly 64 hexadecimal characters.
// Anything else counts as "not configured": EncryptPayload fails with a
// ConfigurationError and never falls back to an unencrypted path. The key is
// never logged and never included in status output; Status reports only its
// shape.
//
// # Usage
//
//	enc := crypto.NewEncryptor(cfg.Encryption.Key)
//	if !enc.IsAvailable() {
//	    log.Printf("ENCRYPTION_UNAVAILABLE | key_length=%d", enc.Status().KeyLength)
//	}
//	env, err := enc.EncryptPayload(map[string]any{"card": "4111..."})
//
// An Encryptor holds only immutable state and is safe for concurrent use.
package crypto
