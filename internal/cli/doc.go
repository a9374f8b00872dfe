// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the boundary command line.
//
// One binary serves the HTTP boundary and exposes the same security
// primitives offline, so operators can test payloads, rotate keys and check
// uploads without a running server.
//
// # Key Types
//
//   - Command: the command word after global flags
//   - Args: global flags plus the raw command arguments
//   - ArgParser: per-command flag parsing
//   - JSONResponse: the envelope printed in --json mode
//
// # Usage
//
//	cmd, args := cli.Parse(os.Args[1:])
//	if err := cli.Run(cmd, args); err != nil {
//	    cli.DisplayError(err, args.JSON)
//	    os.Exit(cli.GetExitCode(err))
//	}
//
// # Commands
//
//   - serve: run the HTTP boundary service
//   - scan, validate: taint checks on a JSON document or raw body
//   - encrypt, decrypt: envelope encryption with the configured key
//   - keygen: random or passphrase-derived keys
//   - sanitize-html, sanitize-url, check-file: content sanitizer
//   - status, version
//
// Human output uses lipgloss and is uncolored when stdout is not a
// terminal or NO_COLOR is set.
package cli
