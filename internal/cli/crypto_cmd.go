// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// crypto_cmd.go - Envelope encryption and key generation commands.
//
// Command: encrypt [file|-]
//   Seals a JSON payload into a {content, iv} envelope.
//
// Command: decrypt [file|-]
//   Opens an envelope and prints the payload.
//   --safe              Print the payload through the response filter
//
// Both read the key from BOUNDARY_ENCRYPTION_KEY or the config file, or
// from --key-file <path>.
//
// Command: keygen
//   Prints a fresh 64-hex-character key.
//   --passphrase        Derive the key with PBKDF2-SHA256 instead
//   --salt <hex>        Salt for --passphrase (default: random 16 bytes)
//   --out <path>        Write the key to a file with mode 0600

package cli

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/crypto"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/util"
)

const (
	// PBKDF2Iterations follows the OWASP 2023 guidance for PBKDF2-HMAC-SHA256.
	PBKDF2Iterations = 600000

	// SaltSize is the random salt length for passphrase keys.
	SaltSize = 16

	// MinPassphraseLength is the shortest passphrase keygen accepts.
	MinPassphraseLength = 12
)

// newEncryptor resolves the key and fails early when it is unusable. The
// error names the problem, never the key.
func newEncryptor(args Args, p *ArgParser) (*crypto.Encryptor, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	key, err := resolveKey(p, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := crypto.ParseKey(key); err != nil {
		return nil, err
	}
	return crypto.NewEncryptor(key), nil
}

// HandleEncrypt handles the "encrypt" command.
func HandleEncrypt(args Args) error {
	p := NewArgParser(args.Raw)

	enc, err := newEncryptor(args, p)
	if err != nil {
		return err
	}
	data, source, err := readInput(p, 0)
	if err != nil {
		return err
	}
	payload, err := decodeJSONInput(data, source)
	if err != nil {
		return err
	}

	env, err := enc.EncryptPayload(payload)
	if err != nil {
		return NewCommandError("encrypt", "seal", source, err)
	}
	if args.JSON {
		return NewJSONResponse("encrypt", env).Print()
	}
	return writeJSONOut(env)
}

// HandleDecrypt handles the "decrypt" command.
func HandleDecrypt(args Args) error {
	p := NewArgParser(args.Raw, "safe")

	enc, err := newEncryptor(args, p)
	if err != nil {
		return err
	}
	data, source, err := readInput(p, 0)
	if err != nil {
		return err
	}

	var env crypto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return NewValidationError("envelope", source, "not a {content, iv} JSON object")
	}

	var payload any
	if err := enc.DecryptPayload(&env, &payload); err != nil {
		if errors.Is(err, crypto.ErrInvalidEnvelope) {
			return NewValidationError("envelope", source, err.Error())
		}
		return NewCommandError("decrypt", "open", source, err)
	}

	var out any = payload
	if p.BoolFlag("safe") {
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}
		sc, err := newScanner(cfg, 0)
		if err != nil {
			return err
		}
		out = sc.CreateSafeResponse(true, "", payload)
	}

	if args.JSON {
		return NewJSONResponse("decrypt", out).Print()
	}
	return writeJSONOut(out)
}

// HandleKeygen handles the "keygen" command.
func HandleKeygen(args Args) error {
	p := NewArgParser(args.Raw, "passphrase")
	result := KeygenData{}

	var key []byte
	if p.BoolFlag("passphrase") {
		salt, err := keygenSalt(p.Flag("salt"))
		if err != nil {
			return err
		}
		pass, err := readPassphrase()
		if err != nil {
			return err
		}
		key = DeriveKey(pass, salt)
		result.Salt = hex.EncodeToString(salt)
		result.Iterations = PBKDF2Iterations
	} else {
		if p.Flag("salt") != "" {
			return NewValidationError("--salt", p.Flag("salt"), "only valid with --passphrase")
		}
		key = make([]byte, crypto.KeySize)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
	}
	keyHex := hex.EncodeToString(key)

	if out := p.Flag("out"); out != "" {
		if err := util.AtomicWriteFileWithDir(out, []byte(keyHex+"\n"), 0600, 0700); err != nil {
			return NewCommandError("keygen", "write", out, err)
		}
		result.Path = out
	} else {
		result.Key = keyHex
	}

	if args.JSON {
		return NewJSONResponse("keygen", result).Print()
	}
	if result.Key != "" {
		fmt.Fprintln(stdout, result.Key)
	} else {
		fmt.Fprintf(stdout, "%s key written to %s\n", RenderStatus("ok"), result.Path)
	}
	if result.Salt != "" {
		fmt.Fprintf(stderr, "salt: %s (PBKDF2-SHA256, %d iterations)\n", result.Salt, result.Iterations)
	}
	return nil
}

// DeriveKey stretches a passphrase into an AES-256 key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, crypto.KeySize, sha256.New)
}

func keygenSalt(saltHex string) ([]byte, error) {
	if saltHex == "" {
		salt := make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		return salt, nil
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) < 8 {
		return nil, NewValidationError("--salt", saltHex, "must be at least 16 hex characters")
	}
	return salt, nil
}

// readPassphrase prompts twice on a terminal and once otherwise.
func readPassphrase() (string, error) {
	pass, err := ReadSecret("Passphrase: ")
	if err != nil {
		return "", err
	}
	if len(pass) < MinPassphraseLength {
		return "", NewValidationError("passphrase", "", fmt.Sprintf("must be at least %d characters", MinPassphraseLength))
	}
	if IsTTY() {
		confirm, err := ReadSecret("Confirm passphrase: ")
		if err != nil {
			return "", err
		}
		if confirm != pass {
			return "", NewValidationError("passphrase", "", "confirmation does not match")
		}
	}
	return pass, nil
}
