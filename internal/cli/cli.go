// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command parsing and dispatch for the boundary CLI.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/config"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Standard streams. Tests swap these to capture output.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	stdin  io.Reader = os.Stdin
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdServe
	CmdScan
	CmdValidate
	CmdEncrypt
	CmdDecrypt
	CmdStatus
	CmdSanitizeHTML
	CmdSanitizeURL
	CmdCheckFile
	CmdKeygen
	CmdVersion
)

// String returns the canonical command name.
func (c Command) String() string {
	switch c {
	case CmdServe:
		return "serve"
	case CmdScan:
		return "scan"
	case CmdValidate:
		return "validate"
	case CmdEncrypt:
		return "encrypt"
	case CmdDecrypt:
		return "decrypt"
	case CmdStatus:
		return "status"
	case CmdSanitizeHTML:
		return "sanitize-html"
	case CmdSanitizeURL:
		return "sanitize-url"
	case CmdCheckFile:
		return "check-file"
	case CmdKeygen:
		return "keygen"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	JSON       bool   // Output in JSON format
	Quiet      bool   // Suppress decoration in human output
	ConfigPath string // Explicit config file (--config)

	// Unknown is set when the command word was not recognised.
	Unknown string

	// Raw holds everything after the command word, for ArgParser.
	Raw []string
}

const usageText = `boundary - request/response security boundary

Encrypts payloads into {content, iv} envelopes, rejects request bodies and
transport headers that carry known attack shapes, and sanitizes HTML, URLs
and file uploads.

Usage:
  boundary serve [--addr host:port]     Run the HTTP boundary service
  boundary scan [file|-]                Scan a JSON document for gadgets
  boundary validate [file|-]            Validate a raw request body
  boundary encrypt [file|-]             Seal a JSON payload into an envelope
  boundary decrypt [file|-]             Open an envelope
  boundary status                       Show configuration and key status
  boundary sanitize-html [file|-]       Sanitize HTML (--text for plain text)
  boundary sanitize-url <url>           Neutralize a URL
  boundary check-file <path>            Validate a file against upload rules
  boundary keygen                       Generate an encryption key
  boundary version                      Show version information

Global Flags:
  --config <path>     Config file (default ~/.boundary/boundary.toml)
  --json              Machine-readable output
  -q, --quiet         Plain output without decoration

Command Flags:
  encrypt, decrypt    --key-file <path>   Read the key from a file
  scan                --max-depth <n>     Override the traversal bound
  check-file          --type <mime>       Declared MIME type (default: sniffed)
                      --size <bytes>      Declared size (default: on-disk size)
  keygen              --passphrase        Derive the key from a passphrase
                      --salt <hex>        Reuse a salt with --passphrase
                      --out <path>        Write the key to a file (mode 0600)

Environment:
  BOUNDARY_ENCRYPTION_KEY   64 hex characters (32-byte AES key)
  BOUNDARY_ENV              development | production | test
  BOUNDARY_ADDR             Listen address for serve
  BOUNDARY_POLICY_FILE      Extra taint rules, reloaded on change
  BOUNDARY_AUDIT_LOG        Audit log path, or "off"
  BOUNDARY_MAX_DEPTH        Scanner depth bound

Exit Codes:
  0  success
  2  usage error
  3  configuration error
  6  input rejected by the boundary

Version: %s
`

// PrintUsage prints the usage text.
func PrintUsage() {
	fmt.Fprintf(stdout, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Fprintf(stdout, "boundary version %s\n", Version)
	fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(stdout, "  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments (without the program name).
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)
	if len(remaining) == 0 {
		return CmdHelp, args
	}

	word := strings.ToLower(remaining[0])
	args.Raw = remaining[1:]

	switch word {
	case "serve", "server":
		return CmdServe, args
	case "scan":
		return CmdScan, args
	case "validate":
		return CmdValidate, args
	case "encrypt":
		return CmdEncrypt, args
	case "decrypt":
		return CmdDecrypt, args
	case "status", "s":
		return CmdStatus, args
	case "sanitize-html", "html":
		return CmdSanitizeHTML, args
	case "sanitize-url", "url":
		return CmdSanitizeURL, args
	case "check-file", "check":
		return CmdCheckFile, args
	case "keygen":
		return CmdKeygen, args
	case "version", "--version", "-v":
		return CmdVersion, args
	case "help", "--help", "-h":
		return CmdHelp, args
	default:
		args.Unknown = remaining[0]
		return CmdHelp, args
	}
}

// parseGlobalFlags pulls global flags out of argv wherever they appear.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var args Args
	remaining := make([]string, 0, len(argv))

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--json":
			args.JSON = true
		case arg == "-q" || arg == "--quiet":
			args.Quiet = true
		case arg == "--config":
			if i+1 < len(argv) {
				args.ConfigPath = argv[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, args
}

// Run executes cmd. Errors are returned undisplayed; see HandleError.
func Run(cmd Command, args Args) error {
	switch cmd {
	case CmdServe:
		return HandleServe(args)
	case CmdScan:
		return HandleScan(args)
	case CmdValidate:
		return HandleValidate(args)
	case CmdEncrypt:
		return HandleEncrypt(args)
	case CmdDecrypt:
		return HandleDecrypt(args)
	case CmdStatus:
		return HandleStatus(args)
	case CmdSanitizeHTML:
		return HandleSanitizeHTML(args)
	case CmdSanitizeURL:
		return HandleSanitizeURL(args)
	case CmdCheckFile:
		return HandleCheckFile(args)
	case CmdKeygen:
		return HandleKeygen(args)
	case CmdVersion:
		return HandleVersion(args)
	default:
		if args.Unknown != "" {
			PrintUsage()
			return NewValidationError("command", args.Unknown, "unknown command")
		}
		PrintUsage()
		return nil
	}
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print()
	}
	PrintVersion()
	return nil
}

// loadConfig loads --config if given, the default config files otherwise.
func loadConfig(args Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		cfg, err := config.LoadFromPath(args.ConfigPath)
		if err != nil {
			return nil, NewCommandError("config", "load", args.ConfigPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, NewCommandError("config", "load", "default config", err)
	}
	return cfg, nil
}
