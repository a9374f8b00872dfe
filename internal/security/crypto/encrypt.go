// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32

	// KeyHexLength is the required length of the hex-encoded key.
	KeyHexLength = KeySize * 2

	// IVSize is the CBC initialization vector size in bytes (128 bits).
	IVSize = aes.BlockSize

	// IVHexLength is the length of an encoded IV.
	IVHexLength = IVSize * 2

	// Algorithm names the cipher for status output.
	Algorithm = "AES-256-CBC"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEncryptionFailed is returned for any cipher-level failure.
	// The underlying cause is deliberately not exposed.
	ErrEncryptionFailed = errors.New("encryption failed")

	// ErrDecryptionFailed is returned when an envelope cannot be opened.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidEnvelope indicates a malformed envelope.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// ConfigurationError reports a missing or malformed encryption key.
// It names the problem, never the key itself.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "encryption key not configured: " + e.Reason
}

// Unwrap lets callers match security.ErrConfiguration.
func (e *ConfigurationError) Unwrap() error {
	return security.ErrConfiguration
}

// =============================================================================
// KEY
// =============================================================================

// Key is an immutable 256-bit encryption key.
type Key struct {
	raw []byte
}

// ParseKey decodes a 64-character hex key.
func ParseKey(keyHex string) (*Key, error) {
	if keyHex == "" {
		return nil, &ConfigurationError{Reason: "key is missing"}
	}
	if len(keyHex) != KeyHexLength {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("key must be exactly %d hex characters, got %d", KeyHexLength, len(keyHex)),
		}
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, &ConfigurationError{Reason: "key is not valid hexadecimal"}
	}
	return &Key{raw: raw}, nil
}

// String never reveals key material.
func (k *Key) String() string {
	return "[REDACTED]"
}

// GoString never reveals key material.
func (k *Key) GoString() string {
	return "crypto.Key{[REDACTED]}"
}

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope is the {content, iv} pair produced by EncryptPayload.
type Envelope struct {
	Content string `json:"content"`
	IV      string `json:"iv"`
}

// Status describes the shape of the configured key. It never carries key content.
type Status struct {
	Configured     bool   `json:"configured"`
	KeyLength      int    `json:"keyLength"`
	ValidKeyLength bool   `json:"validKeyLength"`
	Available      bool   `json:"available"`
	Algorithm      string `json:"algorithm"`
}

// =============================================================================
// ENCRYPTOR
// =============================================================================

// Encryptor encrypts payloads under a single process-wide key.
type Encryptor struct {
	key       *Key
	keyErr    error
	keyLength int
	random    io.Reader
}

// Option configures an Encryptor.
type Option func(*Encryptor)

// WithRandom replaces the IV entropy source. Intended for tests.
func WithRandom(r io.Reader) Option {
	return func(e *Encryptor) {
		e.random = r
	}
}

// NewEncryptor builds an Encryptor from a hex key. It never fails: a bad key
// leaves the Encryptor unavailable and every EncryptPayload call returns a
// ConfigurationError.
func NewEncryptor(keyHex string, opts ...Option) *Encryptor {
	e := &Encryptor{
		keyLength: len(keyHex),
		random:    rand.Reader,
	}
	e.key, e.keyErr = ParseKey(keyHex)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsAvailable reports whether a well-formed key is configured.
func (e *Encryptor) IsAvailable() bool {
	return e != nil && e.key != nil
}

// Status reports the key's shape for diagnostics.
func (e *Encryptor) Status() Status {
	if e == nil {
		return Status{Algorithm: Algorithm}
	}
	return Status{
		Configured:     e.keyLength > 0,
		KeyLength:      e.keyLength,
		ValidKeyLength: e.keyLength == KeyHexLength,
		Available:      e.key != nil,
		Algorithm:      Algorithm,
	}
}

// EncryptPayload serializes data to JSON and encrypts it with a fresh IV.
func (e *Encryptor) EncryptPayload(data any) (*Envelope, error) {
	if e == nil || e.key == nil {
		if e != nil && e.keyErr != nil {
			return nil, e.keyErr
		}
		return nil, &ConfigurationError{Reason: "key is missing"}
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(e.random, iv); err != nil {
		return nil, ErrEncryptionFailed
	}

	block, err := aes.NewCipher(e.key.raw)
	if err != nil {
		return nil, ErrEncryptionFailed
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return &Envelope{
		Content: base64.StdEncoding.EncodeToString(ciphertext),
		IV:      hex.EncodeToString(iv),
	}, nil
}

// DecryptPayload opens an envelope and unmarshals the plaintext into out.
func (e *Encryptor) DecryptPayload(env *Envelope, out any) error {
	plaintext, err := e.Open(env)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("failed to deserialize payload: %w", err)
	}
	return nil
}

// Open returns the serialized plaintext inside an envelope.
func (e *Encryptor) Open(env *Envelope) ([]byte, error) {
	if e == nil || e.key == nil {
		if e != nil && e.keyErr != nil {
			return nil, e.keyErr
		}
		return nil, &ConfigurationError{Reason: "key is missing"}
	}
	if env == nil || len(env.IV) != IVHexLength {
		return nil, ErrInvalidEnvelope
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Content)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidEnvelope
	}

	block, err := aes.NewCipher(e.key.raw)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// =============================================================================
// PADDING
// =============================================================================

// pkcs7Pad always adds between 1 and blockSize bytes.
func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrDecryptionFailed
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrDecryptionFailed
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrDecryptionFailed
		}
	}
	return data[:len(data)-n], nil
}
