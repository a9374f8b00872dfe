// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// scan_cmd.go - Offline taint scanning of JSON documents.
//
// Command: scan [file|-]
//   Walks a JSON document and reports denylisted keys and values that
//   match the attack patterns. Exits 6 when anything is found.
//   --max-depth <n>     Override the configured traversal bound
//
// Command: validate [file|-]
//   Runs the same checks the HTTP boundary applies to a raw body: size
//   limit, JSON parse, then the scan. Scalar and empty bodies pass.
//   --header "Name: value"   Also check one request header
//   --accept <value>         Also check an Accept header

package cli

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/config"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/taint"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/util"
)

// valueColumn bounds how much of an offending value is shown.
const valueColumn = 48

// newScanner builds a scanner from the configured policy. maxDepth <= 0
// keeps the configured bound.
func newScanner(cfg *config.Config, maxDepth int) (*taint.Scanner, error) {
	policy, err := cfg.LoadTaintPolicy()
	if err != nil {
		return nil, NewCommandError("scan", "load policy", "taint policy", err)
	}
	if maxDepth <= 0 {
		maxDepth = cfg.Taint.MaxDepth
	}
	return taint.NewScanner(
		taint.WithPolicy(policy),
		taint.WithMaxDepth(maxDepth),
		taint.WithProduction(cfg.IsProduction()),
		taint.WithLogger(log.New(stderr, "", 0)),
	), nil
}

// HandleScan handles the "scan" command.
func HandleScan(args Args) error {
	p := NewArgParser(args.Raw)

	depth, err := p.FlagInt("max-depth", 0)
	if err != nil {
		return err
	}
	if depth < 0 {
		return NewValidationError("--max-depth", p.Flag("max-depth"), "must be positive")
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	sc, err := newScanner(cfg, depth)
	if err != nil {
		return err
	}

	data, source, err := readInput(p, 0)
	if err != nil {
		return err
	}
	doc, err := decodeJSONInput(data, source)
	if err != nil {
		return err
	}

	result := sc.Scan(doc)
	var scanErr error
	if !result.IsSafe {
		scanErr = security.NewRejection(security.ErrSecurityRejection, taint.ReasonDangerousContent, taint.MsgDangerousContent).
			WithDetails(result.DangerousKeys, result.DangerousValues)
	}

	if args.JSON {
		out := ScanData{Source: source, Result: result}
		if scanErr != nil {
			NewJSONErrorResponse("scan", scanErr, out).Print()
			return reported(scanErr)
		}
		return NewJSONResponse("scan", out).Print()
	}

	printScanResult(args, source, result)
	return reported(scanErr)
}

func printScanResult(args Args, source string, result taint.ScanResult) {
	if !args.Quiet {
		fmt.Fprintln(stdout, GetStyleForTTY(TitleStyle).Render("Taint Scan"))
		fmt.Fprintln(stdout, RenderSeparator())
	}
	fmt.Fprintln(stdout, RenderField("Source", source))

	if result.IsSafe {
		fmt.Fprintf(stdout, "%s %s\n", RenderLabel("Verdict"), RenderStatus("safe"))
	} else {
		fmt.Fprintf(stdout, "%s %s %s\n", RenderLabel("Verdict"), RenderStatus("unsafe"), result.Reason)
	}
	if result.DepthLimited {
		fmt.Fprintf(stdout, "%s %s\n", RenderLabel("Depth"), RenderStatus("warn")+" some branches were not scanned")
	}

	if len(result.Findings) == 0 {
		return
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, GetStyleForTTY(SectionStyle).Render("Findings"))
	for _, f := range result.Findings {
		rule := f.Rule
		if f.Category != "" {
			rule += " (" + f.Category + ")"
		}
		fmt.Fprintf(stdout, "  %s %s %s\n",
			util.PadRight(string(f.Kind), 6),
			util.PadRight(util.TruncateWidth(f.Path, 32), 32),
			rule)
	}
	for _, v := range result.DangerousValues {
		fmt.Fprintf(stdout, "  %s %s\n", util.PadRight("match", 6),
			GetStyleForTTY(DimStyle).Render(util.TruncateWidth(v, valueColumn)))
	}
}

// HandleValidate handles the "validate" command.
func HandleValidate(args Args) error {
	p := NewArgParser(args.Raw)

	headers := http.Header{}
	if h := p.Flag("header"); h != "" {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return NewValidationErrorWithExample("--header", h, "expected Name: value", `--header "X-Trace: abc"`)
		}
		headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if accept := p.Flag("accept"); accept != "" {
		headers.Add("Accept", accept)
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	sc, err := newScanner(cfg, 0)
	if err != nil {
		return err
	}

	data, source, err := readInput(p, 0)
	if err != nil {
		return err
	}

	outcome := security.Valid()
	if rej := sc.CheckRequestSecurity(headers, data); rej != nil {
		outcome = security.Invalid(rej)
	}

	if args.JSON {
		if !outcome.Valid {
			NewJSONErrorResponse("validate", outcome.Err(), outcome).Print()
			return reported(outcome.Err())
		}
		return NewJSONResponse("validate", outcome).Print()
	}

	if outcome.Valid {
		fmt.Fprintf(stdout, "%s %s\n", RenderStatus("valid"), source)
		return nil
	}
	rej := outcome.Rejection()
	fmt.Fprintf(stdout, "%s %s: %s (%s)\n", RenderStatus("invalid"), source, rej.Message, rej.Reason)
	if d := rej.Details; d != nil {
		if len(d.DangerousKeys) > 0 {
			fmt.Fprintln(stdout, RenderField("  Keys", strings.Join(d.DangerousKeys, ", ")))
		}
		for _, v := range d.DangerousValues {
			fmt.Fprintln(stdout, RenderField("  Value", util.TruncateWidth(v, valueColumn)))
		}
	}
	return reported(outcome.Err())
}
