// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status_cmd.go - Shows the effective configuration.
//
// Command: status (alias: s)
//   Prints environment, listen address, key status, taint policy size,
//   upload rules and audit settings. Key material is never shown: only
//   whether a key is configured, its length and whether it is usable.

package cli

import (
	"fmt"
	"strings"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/config"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/crypto"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/sanitize"
)

// HandleStatus handles the "status" command.
func HandleStatus(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	data, err := collectStatus(cfg, args.ConfigPath)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("status", data).Print()
	}
	printStatus(args, data)
	return nil
}

func collectStatus(cfg *config.Config, configPath string) (StatusData, error) {
	policy, err := cfg.LoadTaintPolicy()
	if err != nil {
		return StatusData{}, NewCommandError("status", "load policy", "taint policy", err)
	}
	if configPath == "" {
		if p, err := config.ConfigPathTOML(); err == nil {
			configPath = p
		}
	}

	data := StatusData{
		Environment:    cfg.Environment,
		ConfigFile:     configPath,
		Addr:           cfg.Server.Addr,
		Encryption:     crypto.NewEncryptor(cfg.Encryption.Key).Status(),
		HTMLRendering:  sanitize.RenderingAvailable(),
		MaxDepth:       cfg.Taint.MaxDepth,
		DangerousKeys:  len(policy.DangerousKeys()),
		ValueRules:     len(policy.Rules()),
		PolicyFile:     cfg.Taint.PolicyFile,
		AuditEnabled:   cfg.Audit.Enabled,
		RateLimit:      cfg.Server.RateLimit,
		AllowedUploads: cfg.Upload.AllowedMIMETypes,
	}
	if cfg.Audit.Enabled {
		data.AuditPath = cfg.Audit.Path
	}
	return data, nil
}

func printStatus(args Args, d StatusData) {
	if !args.Quiet {
		fmt.Fprintln(stdout, GetStyleForTTY(TitleStyle).Render("Boundary Status"))
		fmt.Fprintln(stdout, RenderSeparator())
	}

	fmt.Fprintln(stdout, RenderField("Environment", d.Environment))
	if d.ConfigFile != "" {
		fmt.Fprintln(stdout, RenderField("Config", d.ConfigFile))
	}
	fmt.Fprintln(stdout, RenderField("Listen", d.Addr))

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, GetStyleForTTY(SectionStyle).Render("Encryption"))
	switch {
	case d.Encryption.Available:
		fmt.Fprintf(stdout, "%s %s %s\n", RenderLabel("Key"), RenderStatus("ok"), d.Encryption.Algorithm)
	case d.Encryption.Configured:
		fmt.Fprintf(stdout, "%s %s malformed (%d characters, want %d hex)\n",
			RenderLabel("Key"), RenderStatus("fail"), d.Encryption.KeyLength, crypto.KeyHexLength)
	default:
		fmt.Fprintf(stdout, "%s %s not configured\n", RenderLabel("Key"), RenderStatus("warn"))
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, GetStyleForTTY(SectionStyle).Render("Taint Policy"))
	fmt.Fprintln(stdout, RenderField("Dangerous keys", fmt.Sprintf("%d", d.DangerousKeys)))
	fmt.Fprintln(stdout, RenderField("Value rules", fmt.Sprintf("%d", d.ValueRules)))
	fmt.Fprintln(stdout, RenderField("Max depth", fmt.Sprintf("%d", d.MaxDepth)))
	if d.PolicyFile != "" {
		fmt.Fprintln(stdout, RenderField("Policy file", d.PolicyFile))
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, GetStyleForTTY(SectionStyle).Render("Sanitizer"))
	renderer := "bluemonday"
	if !d.HTMLRendering {
		renderer = "strip only"
	}
	fmt.Fprintln(stdout, RenderField("HTML", renderer))
	fmt.Fprintln(stdout, RenderField("Uploads", strings.Join(d.AllowedUploads, ", ")))

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, GetStyleForTTY(SectionStyle).Render("Service"))
	if d.AuditEnabled {
		fmt.Fprintln(stdout, RenderField("Audit log", d.AuditPath))
	} else {
		fmt.Fprintln(stdout, RenderField("Audit log", "off"))
	}
	if d.RateLimit > 0 {
		fmt.Fprintln(stdout, RenderField("Rate limit", fmt.Sprintf("%g req/s per client", d.RateLimit)))
	} else {
		fmt.Fprintln(stdout, RenderField("Rate limit", "off"))
	}
}
