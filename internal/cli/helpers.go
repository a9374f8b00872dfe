// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/config"
)

// maxInputBytes bounds what a command reads from a file or stdin. It is
// well above taint.MaxBodyBytes so validate can still report body_too_large.
const maxInputBytes = 16 << 20

// readInput reads the positional argument at index as a path, or stdin when
// it is "-" or absent. It returns the bytes and a display name.
func readInput(p *ArgParser, index int) ([]byte, string, error) {
	path := p.Positional(index)
	if path == "" || path == "-" {
		if IsTTY() {
			return nil, "", ErrMissingArgument("input", "pass a file or pipe data on stdin")
		}
		data, err := io.ReadAll(io.LimitReader(stdin, maxInputBytes))
		if err != nil {
			return nil, "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, "stdin", nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", &NotFoundError{Resource: "file", ID: path}
		}
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxInputBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, path, nil
}

// decodeJSONInput decodes one JSON document, keeping numbers exact.
func decodeJSONInput(data []byte, source string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, NewValidationError("input", source, "not valid JSON")
	}
	return v, nil
}

// resolveKey returns the key from --key-file when given, the configured key
// otherwise. The key is never echoed in errors.
func resolveKey(p *ArgParser, cfg *config.Config) (string, error) {
	path := p.Flag("key-file")
	if path == "" {
		return cfg.Encryption.Key, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &NotFoundError{Resource: "key file", ID: path}
		}
		return "", fmt.Errorf("failed to read key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// writeJSONOut writes v as indented JSON to stdout.
func writeJSONOut(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
