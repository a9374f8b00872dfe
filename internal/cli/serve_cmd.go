// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve_cmd.go - Runs the HTTP boundary service.
//
// Command: serve
// Flags:
//   --addr host:port    Listen address (overrides config and BOUNDARY_ADDR)
//   --env <name>        development | production | test
//
// The server stops gracefully on SIGINT or SIGTERM.

package cli

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/server"
)

// HandleServe handles the "serve" command.
func HandleServe(args Args) error {
	p := NewArgParser(args.Raw)

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if addr := p.Flag("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if env := p.Flag("env"); env != "" {
		cfg.Environment = env
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.New(stderr, "", log.LstdFlags)
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return NewCommandError("serve", "start", "server setup", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
