// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sanitize_cmd.go - Content sanitizer commands.
//
// Command: sanitize-html [file|-] (alias: html)
//   Filters HTML through the configured allowlist.
//   --text              Strip all markup instead
//
// Command: sanitize-url <url> (alias: url)
//   Prints the URL, or an empty line when it was neutralized.
//
// Command: check-file <path> (alias: check)
//   Applies the upload rules (MIME allowlist, size cap, image extension
//   check) to a file on disk.
//   --type <mime>       Declared MIME type (default: sniffed from content)
//   --size <bytes>      Declared size (default: size on disk)
//   --name <name>       Declared file name (default: base name of path)

package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/sanitize"
)

// HandleSanitizeHTML handles the "sanitize-html" command.
func HandleSanitizeHTML(args Args) error {
	p := NewArgParser(args.Raw, "text")

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	data, _, err := readInput(p, 0)
	if err != nil {
		return err
	}

	var out string
	if p.BoolFlag("text") {
		out = sanitize.SanitizeTextContent(string(data))
	} else {
		out = sanitize.NewHTMLSanitizer(cfg.SanitizePolicy()).Sanitize(string(data))
	}

	if args.JSON {
		return NewJSONResponse("sanitize-html", map[string]any{
			"html":      out,
			"text_only": p.BoolFlag("text"),
			"rendered":  sanitize.RenderingAvailable(),
		}).Print()
	}
	fmt.Fprintln(stdout, out)
	return nil
}

// HandleSanitizeURL handles the "sanitize-url" command.
func HandleSanitizeURL(args Args) error {
	p := NewArgParser(args.Raw)
	raw := p.Positional(0)
	if p.PositionalCount() == 0 {
		return ErrMissingArgument("url", "boundary sanitize-url https://example.com")
	}

	clean := sanitize.SanitizeURL(raw)
	if args.JSON {
		return NewJSONResponse("sanitize-url", map[string]any{
			"url":     clean,
			"blocked": clean == "" && raw != "",
		}).Print()
	}
	fmt.Fprintln(stdout, clean)
	return nil
}

// HandleCheckFile handles the "check-file" command.
func HandleCheckFile(args Args) error {
	p := NewArgParser(args.Raw)
	path := p.Positional(0)
	if path == "" {
		return ErrMissingArgument("path", "boundary check-file ./photo.png")
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	fd, err := describeFile(p, path)
	if err != nil {
		return err
	}

	outcome := sanitize.ValidateFile(fd, cfg.Upload.AllowedMIMETypes, cfg.Upload.MaxSizeMB)
	if args.JSON {
		data := map[string]any{"file": fd, "outcome": outcome}
		if !outcome.Valid {
			NewJSONErrorResponse("check-file", outcome.Err(), data).Print()
			return reported(outcome.Err())
		}
		return NewJSONResponse("check-file", data).Print()
	}

	printFileOutcome(fd, outcome)
	return reported(outcome.Err())
}

// describeFile builds a descriptor from flags, falling back to the file on
// disk. The MIME type is sniffed from the first 512 bytes.
func describeFile(p *ArgParser, path string) (sanitize.FileDescriptor, error) {
	fd := sanitize.FileDescriptor{
		Name:     p.FlagOrDefault("name", filepath.Base(path)),
		MIMEType: p.Flag("type"),
	}

	size, err := p.FlagInt64("size", -1)
	if err != nil {
		return fd, err
	}

	if size < 0 || fd.MIMEType == "" {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fd, &NotFoundError{Resource: "file", ID: path}
			}
			return fd, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		if size < 0 {
			info, err := f.Stat()
			if err != nil {
				return fd, fmt.Errorf("failed to stat %s: %w", path, err)
			}
			size = info.Size()
		}
		if fd.MIMEType == "" {
			head := make([]byte, 512)
			n, err := io.ReadFull(f, head)
			if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
				return fd, fmt.Errorf("failed to read %s: %w", path, err)
			}
			fd.MIMEType = http.DetectContentType(head[:n])
		}
	}
	fd.Size = size
	return fd, nil
}

func printFileOutcome(fd sanitize.FileDescriptor, outcome security.ValidationOutcome) {
	fmt.Fprintln(stdout, RenderField("File", fd.Name))
	fmt.Fprintln(stdout, RenderField("Type", fd.MIMEType))
	fmt.Fprintln(stdout, RenderField("Size", formatBytes(fd.Size)))
	if outcome.Valid {
		fmt.Fprintf(stdout, "%s %s\n", RenderLabel("Verdict"), RenderStatus("valid"))
		return
	}
	fmt.Fprintf(stdout, "%s %s %s\n", RenderLabel("Verdict"), RenderStatus("invalid"), outcome.Error)
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
