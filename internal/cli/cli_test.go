// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/config"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/crypto"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// =============================================================================
// TEST HELPERS
// =============================================================================

// isolate points config loading at an empty home and clears overrides.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{
		"BOUNDARY_ENCRYPTION_KEY", "BOUNDARY_ENV", "BOUNDARY_ADDR",
		"BOUNDARY_POLICY_FILE", "BOUNDARY_AUDIT_LOG", "BOUNDARY_MAX_DEPTH",
	} {
		t.Setenv(name, "")
	}
	ForceColorsEnabled(false)
}

// capture swaps the standard streams for buffers.
func capture(t *testing.T, input string) (out, errOut *bytes.Buffer) {
	t.Helper()
	oldOut, oldErr, oldIn := stdout, stderr, stdin
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	stdout, stderr, stdin = out, errOut, strings.NewReader(input)
	t.Cleanup(func() { stdout, stderr, stdin = oldOut, oldErr, oldIn })
	return out, errOut
}

// runCLI parses argv and runs it like main does, minus os.Exit.
func runCLI(t *testing.T, input string, argv ...string) (string, int) {
	t.Helper()
	out, _ := capture(t, input)
	cmd, args := Parse(argv)
	err := Run(cmd, args)
	DisplayError(err, args.JSON)
	return out.String(), GetExitCode(err)
}

func decodeResponse(t *testing.T, raw string) JSONResponse {
	t.Helper()
	var resp JSONResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("output is not a JSON response: %v\n%s", err, raw)
	}
	return resp
}

// =============================================================================
// ARG PARSER TESTS
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		switches []string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name: "flag with value",
			args: []string{"doc.json", "--max-depth", "5"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("max-depth") != "5" {
					t.Errorf("Flag(max-depth) = %q, want 5", p.Flag("max-depth"))
				}
				if p.Positional(0) != "doc.json" {
					t.Errorf("Positional(0) = %q", p.Positional(0))
				}
			},
		},
		{
			name: "flag with equals",
			args: []string{"--type=image/png", "a.png"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("type") != "image/png" {
					t.Errorf("Flag(type) = %q", p.Flag("type"))
				}
				if p.Positional(0) != "a.png" {
					t.Errorf("Positional(0) = %q", p.Positional(0))
				}
			},
		},
		{
			name: "trailing boolean flag",
			args: []string{"doc.json", "--safe"},
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("safe") {
					t.Error("BoolFlag(safe) should be true")
				}
			},
		},
		{
			name:     "switch does not consume next arg",
			args:     []string{"--text", "page.html"},
			switches: []string{"text"},
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("text") {
					t.Error("BoolFlag(text) should be true")
				}
				if p.Positional(0) != "page.html" {
					t.Errorf("Positional(0) = %q, want page.html", p.Positional(0))
				}
			},
		},
		{
			name: "dash is stdin positional",
			args: []string{"-", "--key-file", "k"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.Positional(0) != "-" {
					t.Errorf("Positional(0) = %q, want -", p.Positional(0))
				}
				if p.Flag("key-file") != "k" {
					t.Errorf("Flag(key-file) = %q", p.Flag("key-file"))
				}
			},
		},
		{
			name: "double dash ends flags",
			args: []string{"--", "-javascript:x"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.Positional(0) != "-javascript:x" {
					t.Errorf("Positional(0) = %q", p.Positional(0))
				}
			},
		},
		{
			name: "explicit boolean",
			args: []string{"--safe=false"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.BoolFlag("safe") {
					t.Error("BoolFlag(safe) should be false")
				}
				if !p.HasFlag("safe") {
					t.Error("HasFlag(safe) should be true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, NewArgParser(tt.args, tt.switches...))
		})
	}
}

func TestArgParser_FlagInt(t *testing.T) {
	p := NewArgParser([]string{"--max-depth", "7", "--size", "abc"})

	if n, err := p.FlagInt("max-depth", 0); err != nil || n != 7 {
		t.Errorf("FlagInt(max-depth) = %d, %v", n, err)
	}
	if n, err := p.FlagInt("missing", 42); err != nil || n != 42 {
		t.Errorf("FlagInt(missing) = %d, %v", n, err)
	}
	if _, err := p.FlagInt64("size", -1); err == nil {
		t.Error("FlagInt64(size) should reject a non-integer")
	} else if GetExitCode(err) != ExitUsageError {
		t.Errorf("exit code = %d, want %d", GetExitCode(err), ExitUsageError)
	}
}

func TestArgParser_EmptyArgs(t *testing.T) {
	p := NewArgParser(nil)
	if p.PositionalCount() != 0 || p.Positional(0) != "" || p.Flag("x") != "" || p.BoolFlag("x") {
		t.Error("empty parser should report nothing")
	}
}

// =============================================================================
// PARSE TESTS
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		argv    []string
		want    Command
		json    bool
		config  string
		raw     []string
		unknown string
	}{
		{argv: nil, want: CmdHelp},
		{argv: []string{"serve", "--addr", ":9000"}, want: CmdServe, raw: []string{"--addr", ":9000"}},
		{argv: []string{"--json", "scan", "doc.json"}, want: CmdScan, json: true, raw: []string{"doc.json"}},
		{argv: []string{"scan", "doc.json", "--json"}, want: CmdScan, json: true, raw: []string{"doc.json"}},
		{argv: []string{"--config", "/tmp/b.toml", "status"}, want: CmdStatus, config: "/tmp/b.toml", raw: []string{}},
		{argv: []string{"s", "--config=/tmp/b.json"}, want: CmdStatus, config: "/tmp/b.json", raw: []string{}},
		{argv: []string{"html", "-"}, want: CmdSanitizeHTML, raw: []string{"-"}},
		{argv: []string{"url", "https://x"}, want: CmdSanitizeURL, raw: []string{"https://x"}},
		{argv: []string{"check", "a.png"}, want: CmdCheckFile, raw: []string{"a.png"}},
		{argv: []string{"KEYGEN"}, want: CmdKeygen, raw: []string{}},
		{argv: []string{"--version"}, want: CmdVersion, raw: []string{}},
		{argv: []string{"frobnicate"}, want: CmdHelp, unknown: "frobnicate", raw: []string{}},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.argv, " "), func(t *testing.T) {
			cmd, args := Parse(tt.argv)
			if cmd != tt.want {
				t.Errorf("command = %v, want %v", cmd, tt.want)
			}
			if args.JSON != tt.json {
				t.Errorf("JSON = %v, want %v", args.JSON, tt.json)
			}
			if args.ConfigPath != tt.config {
				t.Errorf("ConfigPath = %q, want %q", args.ConfigPath, tt.config)
			}
			if args.Unknown != tt.unknown {
				t.Errorf("Unknown = %q, want %q", args.Unknown, tt.unknown)
			}
			if tt.raw != nil && strings.Join(args.Raw, " ") != strings.Join(tt.raw, " ") {
				t.Errorf("Raw = %v, want %v", args.Raw, tt.raw)
			}
		})
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	isolate(t)
	out, code := runCLI(t, "", "frobnicate")
	if code != ExitUsageError {
		t.Errorf("exit code = %d, want %d", code, ExitUsageError)
	}
	if !strings.Contains(out, "Usage:") {
		t.Error("usage should be printed for an unknown command")
	}
}

func TestVersion_JSON(t *testing.T) {
	isolate(t)
	out, code := runCLI(t, "", "version", "--json")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	resp := decodeResponse(t, out)
	data, _ := resp.Data.(map[string]any)
	if !resp.Success || data["version"] != Version || data["go_version"] != runtime.Version() {
		t.Errorf("unexpected version response: %+v", resp)
	}
}

// =============================================================================
// SCAN / VALIDATE TESTS
// =============================================================================

func TestScan_Safe(t *testing.T) {
	isolate(t)
	out, code := runCLI(t, `{"user":{"name":"ada","tags":["a","b"]}}`, "scan")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, output:\n%s", code, out)
	}
	if !strings.Contains(out, "[OK]") {
		t.Errorf("expected [OK] verdict, got:\n%s", out)
	}
}

func TestScan_Unsafe(t *testing.T) {
	isolate(t)
	out, code := runCLI(t, `{"a":{"__proto__":{"polluted":true}},"b":"eval(x)"}`, "scan", "-")
	if code != ExitSecurityError {
		t.Fatalf("exit code = %d, want %d", code, ExitSecurityError)
	}
	if !strings.Contains(out, "[FAIL]") || !strings.Contains(out, "eval_call") {
		t.Errorf("expected findings in output:\n%s", out)
	}
	if strings.Contains(out, "[ERROR]") {
		t.Error("a reported scan failure should not be displayed twice")
	}
}

func TestScan_JSON(t *testing.T) {
	isolate(t)
	out, code := runCLI(t, `{"constructor":{"prototype":{}}}`, "--json", "scan")
	if code != ExitSecurityError {
		t.Fatalf("exit code = %d", code)
	}

	// One JSON document only.
	dec := json.NewDecoder(strings.NewReader(out))
	var resp JSONResponse
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.More() {
		t.Error("scan --json printed more than one document")
	}
	if resp.Success || resp.Error == nil {
		t.Errorf("expected failed response, got %+v", resp)
	}
	data := resp.Data.(map[string]any)
	result := data["result"].(map[string]any)
	if result["isSafe"] != false {
		t.Errorf("isSafe = %v", result["isSafe"])
	}
}

func TestScan_FileAndDepth(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "deep.json")
	doc := `{"l1":{"l2":{"l3":{"__proto__":{}}}}}`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}

	if _, code := runCLI(t, "", "scan", path); code != ExitSecurityError {
		t.Errorf("default depth: exit code = %d, want %d", code, ExitSecurityError)
	}
	out, code := runCLI(t, "", "scan", path, "--max-depth", "2")
	if code != ExitSuccess {
		t.Errorf("depth 2: exit code = %d, want %d", code, ExitSuccess)
	}
	if !strings.Contains(out, "[WARN]") {
		t.Errorf("depth-limited scan should warn:\n%s", out)
	}
}

func TestScan_Errors(t *testing.T) {
	isolate(t)
	if _, code := runCLI(t, "", "scan", filepath.Join(t.TempDir(), "missing.json")); code != ExitNotFoundError {
		t.Errorf("missing file: exit code = %d, want %d", code, ExitNotFoundError)
	}
	if _, code := runCLI(t, "{not json", "scan"); code != ExitUsageError {
		t.Errorf("bad JSON: exit code = %d, want %d", code, ExitUsageError)
	}
	if _, code := runCLI(t, "{}", "scan", "--max-depth", "x"); code != ExitUsageError {
		t.Errorf("bad depth: exit code = %d, want %d", code, ExitUsageError)
	}
}

func TestValidate(t *testing.T) {
	isolate(t)
	tests := []struct {
		name  string
		input string
		args  []string
		code  int
		want  string
	}{
		{name: "clean object", input: `{"title":"hello"}`, code: ExitSuccess, want: "[OK]"},
		{name: "empty body", input: "", code: ExitSuccess, want: "[OK]"},
		{name: "scalar body", input: `"<script>alert(1)</script>"`, code: ExitSuccess, want: "[OK]"},
		{name: "script value", input: `{"bio":"<script>alert(1)</script>"}`, code: ExitSecurityError, want: "dangerous_content"},
		{name: "malformed", input: `{"a":`, code: ExitSecurityError, want: "invalid_format"},
		{name: "forbidden header", input: `{}`, args: []string{"--header", "Next-Action: abc"}, code: ExitSecurityError, want: "forbidden_header"},
		{name: "forbidden accept", input: `{}`, args: []string{"--accept", "text/x-component"}, code: ExitSecurityError, want: "forbidden_accept"},
		{name: "bad header flag", input: `{}`, args: []string{"--header", "nocolon"}, code: ExitUsageError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, code := runCLI(t, tt.input, append([]string{"validate"}, tt.args...)...)
			if code != tt.code {
				t.Errorf("exit code = %d, want %d\n%s", code, tt.code, out)
			}
			if tt.want != "" && !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestValidate_TooLarge(t *testing.T) {
	isolate(t)
	big := `{"a":"` + strings.Repeat("x", 1<<20) + `"}`
	out, code := runCLI(t, big, "--json", "validate")
	if code != ExitSecurityError {
		t.Fatalf("exit code = %d", code)
	}
	resp := decodeResponse(t, out)
	if resp.Success || resp.Error == nil || *resp.Error == "" {
		t.Errorf("expected failure response, got %+v", resp)
	}
}

// =============================================================================
// ENCRYPTION TESTS
// =============================================================================

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	isolate(t)
	t.Setenv("BOUNDARY_ENCRYPTION_KEY", testKey)

	sealed, code := runCLI(t, `{"card":"4111","n":12}`, "encrypt")
	if code != ExitSuccess {
		t.Fatalf("encrypt exit code = %d", code)
	}
	var env crypto.Envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if len(env.IV) != crypto.IVHexLength || env.Content == "" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if strings.Contains(sealed, "4111") {
		t.Error("plaintext leaked into envelope")
	}

	opened, code := runCLI(t, sealed, "decrypt")
	if code != ExitSuccess {
		t.Fatalf("decrypt exit code = %d", code)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(opened), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["card"] != "4111" || payload["n"] != float64(12) {
		t.Errorf("payload = %v", payload)
	}
}

func TestDecrypt_SafeOmitsTaintedPayload(t *testing.T) {
	isolate(t)
	t.Setenv("BOUNDARY_ENCRYPTION_KEY", testKey)

	env, err := crypto.NewEncryptor(testKey).EncryptPayload(map[string]any{"x": "process.env.SECRET"})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(env)

	out, code := runCLI(t, string(raw), "decrypt", "--safe")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if strings.Contains(out, "process.env") {
		t.Errorf("tainted payload printed with --safe:\n%s", out)
	}
	if !strings.Contains(out, `"success": true`) {
		t.Errorf("expected a safe response shape:\n%s", out)
	}
}

func TestEncrypt_NoKey(t *testing.T) {
	isolate(t)
	out, code := runCLI(t, `{"a":1}`, "encrypt")
	if code != ExitConfigError {
		t.Errorf("exit code = %d, want %d", code, ExitConfigError)
	}
	if out != "" {
		t.Errorf("nothing should reach stdout, got %q", out)
	}
}

func TestDecrypt_Errors(t *testing.T) {
	isolate(t)
	t.Setenv("BOUNDARY_ENCRYPTION_KEY", testKey)

	if _, code := runCLI(t, `not json`, "decrypt"); code != ExitUsageError {
		t.Errorf("non-JSON envelope: exit code = %d, want %d", code, ExitUsageError)
	}
	if _, code := runCLI(t, `{"content":"AAAA","iv":"zz"}`, "decrypt"); code != ExitUsageError {
		t.Errorf("bad iv: exit code = %d, want %d", code, ExitUsageError)
	}

	other := strings.Repeat("ab", 32)
	env, err := crypto.NewEncryptor(other).EncryptPayload("hello")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(env)
	if _, code := runCLI(t, string(raw), "decrypt"); code == ExitSuccess {
		t.Error("decrypting under the wrong key should fail")
	}
}

func TestKeygen_Random(t *testing.T) {
	isolate(t)
	out, code := runCLI(t, "", "keygen")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	key := strings.TrimSpace(out)
	if len(key) != crypto.KeyHexLength {
		t.Fatalf("key length = %d, want %d", len(key), crypto.KeyHexLength)
	}
	if _, err := crypto.ParseKey(key); err != nil {
		t.Errorf("generated key does not parse: %v", err)
	}

	again, _ := runCLI(t, "", "keygen")
	if strings.TrimSpace(again) == key {
		t.Error("two random keys should differ")
	}
}

func TestKeygen_PassphraseIsDeterministic(t *testing.T) {
	isolate(t)
	salt := "00112233445566778899aabbccddeeff"
	pass := "correct horse battery staple"

	first, code := runCLI(t, pass+"\n", "keygen", "--passphrase", "--salt", salt)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	second, _ := runCLI(t, pass+"\n", "keygen", "--passphrase", "--salt", salt)
	if first != second {
		t.Error("same passphrase and salt should give the same key")
	}

	saltBytes, _ := hex.DecodeString(salt)
	want := hex.EncodeToString(DeriveKey(pass, saltBytes))
	if strings.TrimSpace(first) != want {
		t.Errorf("key = %q, want %q", strings.TrimSpace(first), want)
	}
}

func TestKeygen_PassphraseErrors(t *testing.T) {
	isolate(t)
	if _, code := runCLI(t, "short\n", "keygen", "--passphrase"); code != ExitUsageError {
		t.Errorf("short passphrase: exit code = %d, want %d", code, ExitUsageError)
	}
	if _, code := runCLI(t, "", "keygen", "--salt", "0011"); code != ExitUsageError {
		t.Errorf("salt without passphrase: exit code = %d, want %d", code, ExitUsageError)
	}
	if _, code := runCLI(t, "long enough passphrase\n", "keygen", "--passphrase", "--salt", "zz"); code != ExitUsageError {
		t.Errorf("bad salt: exit code = %d, want %d", code, ExitUsageError)
	}
}

func TestKeygen_OutFileFeedsKeyFile(t *testing.T) {
	isolate(t)
	keyPath := filepath.Join(t.TempDir(), "keys", "boundary.key")

	out, code := runCLI(t, "", "keygen", "--out", keyPath)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out, "key written") {
		t.Errorf("unexpected output %q", out)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(keyPath)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("key file mode = %o, want 600", info.Mode().Perm())
		}
	}
	keyBytes, _ := os.ReadFile(keyPath)
	if strings.Contains(out, strings.TrimSpace(string(keyBytes))) {
		t.Error("key printed even though it was written to a file")
	}

	sealed, code := runCLI(t, `[1,2,3]`, "encrypt", "--key-file", keyPath)
	if code != ExitSuccess {
		t.Fatalf("encrypt with key file: exit code = %d", code)
	}
	opened, code := runCLI(t, sealed, "decrypt", "--key-file", keyPath)
	if code != ExitSuccess {
		t.Fatalf("decrypt with key file: exit code = %d", code)
	}
	if strings.Join(strings.Fields(opened), "") != "[1,2,3]" {
		t.Errorf("payload = %q", opened)
	}
}

// =============================================================================
// SANITIZE TESTS
// =============================================================================

func TestSanitizeURL(t *testing.T) {
	isolate(t)
	tests := map[string]string{
		"https://example.com/a?b=c": "https://example.com/a?b=c",
		"javascript:alert(1)":       "",
		"//evil.example":            "",
		"/docs/start":               "/docs/start",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			out, code := runCLI(t, "", "sanitize-url", in)
			if code != ExitSuccess {
				t.Fatalf("exit code = %d", code)
			}
			if got := strings.TrimRight(out, "\n"); got != want {
				t.Errorf("sanitize-url %q = %q, want %q", in, got, want)
			}
		})
	}

	if _, code := runCLI(t, "", "sanitize-url"); code != ExitUsageError {
		t.Errorf("missing url: exit code = %d, want %d", code, ExitUsageError)
	}
}

func TestSanitizeHTML(t *testing.T) {
	isolate(t)
	input := `<p onclick="x()">Hi <b>there</b><script>alert(1)</script></p>`

	out, code := runCLI(t, input, "sanitize-html")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if strings.Contains(out, "<script") || strings.Contains(out, "onclick") || strings.Contains(out, "alert") {
		t.Errorf("dangerous markup survived: %q", out)
	}

	text, code := runCLI(t, input, "sanitize-html", "--text")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if strings.TrimSpace(text) != "Hi there" {
		t.Errorf("--text = %q, want %q", strings.TrimSpace(text), "Hi there")
	}
}

func TestCheckFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	png := filepath.Join(dir, "photo.png")
	pngHeader := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	if err := os.WriteFile(png, pngHeader, 0600); err != nil {
		t.Fatal(err)
	}
	disguised := filepath.Join(dir, "photo.exe")
	if err := os.WriteFile(disguised, pngHeader, 0600); err != nil {
		t.Fatal(err)
	}
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("plain text notes"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{name: "sniffed png", args: []string{png}, code: ExitSuccess, want: "image/png"},
		{name: "image with wrong extension", args: []string{disguised}, code: ExitSecurityError, want: "Invalid file extension"},
		{name: "text not allowed", args: []string{notes}, code: ExitSecurityError, want: "File type not allowed"},
		{name: "declared too large", args: []string{png, "--size", fmt.Sprint(6 << 20)}, code: ExitSecurityError, want: "5MB"},
		{name: "declared pdf", args: []string{notes, "--type", "application/pdf"}, code: ExitSuccess},
		{name: "missing path", args: nil, code: ExitUsageError},
		{name: "missing file", args: []string{filepath.Join(dir, "nope.png")}, code: ExitNotFoundError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, code := runCLI(t, "", append([]string{"check-file"}, tt.args...)...)
			if code != tt.code {
				t.Errorf("exit code = %d, want %d\n%s", code, tt.code, out)
			}
			if tt.want != "" && !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

// =============================================================================
// STATUS TESTS
// =============================================================================

func TestStatus_NeverShowsKey(t *testing.T) {
	isolate(t)
	t.Setenv("BOUNDARY_ENCRYPTION_KEY", testKey)

	human, code := runCLI(t, "", "status")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	asJSON, _ := runCLI(t, "", "status", "--json")

	for _, out := range []string{human, asJSON} {
		if strings.Contains(out, testKey) || strings.Contains(out, testKey[:16]) {
			t.Fatalf("key material in status output:\n%s", out)
		}
	}

	resp := decodeResponse(t, asJSON)
	data := resp.Data.(map[string]any)
	enc := data["encryption"].(map[string]any)
	if enc["available"] != true || enc["keyLength"] != float64(crypto.KeyHexLength) {
		t.Errorf("encryption status = %v", enc)
	}
}

func TestStatus_ConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "boundary.toml")
	cfg := config.Default()
	cfg.Environment = config.EnvProduction
	cfg.Encryption.Key = "tooshort"
	cfg.Audit.Enabled = false
	if err := config.SaveTOML(cfg, path); err != nil {
		t.Fatal(err)
	}

	out, code := runCLI(t, "", "--config", path, "status")
	if code != ExitSuccess {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	for _, want := range []string{"production", "malformed", "Audit log", "off"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "tooshort") {
		t.Error("malformed key echoed in status")
	}
}

func TestStatus_BadConfig(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "boundary.toml")
	if err := os.WriteFile(path, []byte("environment = \"staging\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, code := runCLI(t, "", "--config", path, "status"); code != ExitConfigError {
		t.Errorf("exit code = %d, want %d", code, ExitConfigError)
	}
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", NewValidationError("x", "y", "bad"), ExitUsageError},
		{"not found", &NotFoundError{Resource: "file", ID: "a"}, ExitNotFoundError},
		{"key config", &crypto.ConfigurationError{Reason: "key is missing"}, ExitConfigError},
		{"config load", NewCommandError("config", "load", "x", errors.New("boom")), ExitConfigError},
		{"rejection", security.NewRejection(security.ErrSecurityRejection, "r", "m"), ExitSecurityError},
		{"reported rejection", reported(security.NewRejection(security.ErrFormat, "r", "m")), ExitSecurityError},
		{"generic", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDisplayErrorJSON_Rejection(t *testing.T) {
	out, _ := capture(t, "")
	rej := security.NewRejection(security.ErrSecurityRejection, "dangerous_content", "Request contains potentially dangerous content").
		WithDetails([]string{"__proto__"}, nil)

	DisplayError(rej, true)

	var got map[string]any
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["error_type"] != "rejection" || got["reason"] != "dangerous_content" || got["success"] != false {
		t.Errorf("unexpected error JSON: %v", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		512:     "512 B",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
