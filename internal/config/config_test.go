// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/taint"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BOUNDARY_ENCRYPTION_KEY", "BOUNDARY_ENV", "BOUNDARY_ADDR",
		"BOUNDARY_POLICY_FILE", "BOUNDARY_AUDIT_LOG", "BOUNDARY_MAX_DEPTH",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// replaceFile swaps content in by rename so a watcher never sees a
// truncated file.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	writeFile(t, tmp, content)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename %s: %v", tmp, err)
	}
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.Environment != EnvDevelopment {
		t.Errorf("Environment = %q, want %q", cfg.Environment, EnvDevelopment)
	}
	if cfg.Taint.MaxDepth != taint.DefaultMaxDepth {
		t.Errorf("Taint.MaxDepth = %d, want %d", cfg.Taint.MaxDepth, taint.DefaultMaxDepth)
	}
	if cfg.Upload.MaxSizeMB != 5 {
		t.Errorf("Upload.MaxSizeMB = %v, want 5", cfg.Upload.MaxSizeMB)
	}
	if cfg.Encryption.Key != "" {
		t.Error("default config must not carry an encryption key")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default", modify: func(*Config) {}},
		{
			name:    "bad environment",
			modify:  func(c *Config) { c.Environment = "staging" },
			wantErr: "environment",
		},
		{
			name:    "bad address",
			modify:  func(c *Config) { c.Server.Addr = "no-port" },
			wantErr: "server.addr",
		},
		{
			name:    "negative timeout",
			modify:  func(c *Config) { c.Server.ReadTimeoutSecs = -1 },
			wantErr: "server.read_timeout_secs",
		},
		{
			name:    "depth too small",
			modify:  func(c *Config) { c.Taint.MaxDepth = 0 },
			wantErr: "taint.max_depth",
		},
		{
			name:    "depth too large",
			modify:  func(c *Config) { c.Taint.MaxDepth = 1001 },
			wantErr: "taint.max_depth",
		},
		{
			name: "bad pattern",
			modify: func(c *Config) {
				c.Taint.Patterns = []taint.RuleSpec{{Name: "broken", Pattern: "("}}
			},
			wantErr: "taint.patterns",
		},
		{
			name:    "zero upload size",
			modify:  func(c *Config) { c.Upload.MaxSizeMB = 0 },
			wantErr: "upload.max_size_mb",
		},
		{
			name:    "bad MIME type",
			modify:  func(c *Config) { c.Upload.AllowedMIMETypes = []string{"jpeg"} },
			wantErr: "upload.allowed_mime_types",
		},
		{
			name:    "audit without path",
			modify:  func(c *Config) { c.Audit.Enabled, c.Audit.Path = true, "" },
			wantErr: "audit.path",
		},
		{
			// Encryption reports unavailable instead of blocking startup.
			name:   "malformed key is allowed",
			modify: func(c *Config) { c.Encryption.Key = "short" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_LoadFromPathTOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "boundary.toml")
	writeFile(t, path, `
environment = "production"

[server]
addr = "0.0.0.0:9000"

[encryption]
key = "`+testKey+`"

[taint]
max_depth = 4
dangerous_keys = ["__internal"]

[[taint.patterns]]
name = "sql_drop"
category = "code"
pattern = "(?i)drop\\s+table"

[upload]
max_size_mb = 2.5
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true")
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeoutSecs != 15 {
		t.Errorf("Server.ReadTimeoutSecs = %d, want default 15", cfg.Server.ReadTimeoutSecs)
	}
	if cfg.Taint.MaxDepth != 4 {
		t.Errorf("Taint.MaxDepth = %d, want 4", cfg.Taint.MaxDepth)
	}
	if cfg.Upload.MaxSizeMB != 2.5 {
		t.Errorf("Upload.MaxSizeMB = %v, want 2.5", cfg.Upload.MaxSizeMB)
	}
	if len(cfg.Upload.AllowedMIMETypes) == 0 {
		t.Error("AllowedMIMETypes should fall back to defaults")
	}

	policy, err := cfg.TaintPolicy(nil)
	if err != nil {
		t.Fatalf("TaintPolicy() error = %v", err)
	}
	if !policy.IsDangerousKey("__INTERNAL") {
		t.Error("configured dangerous key not applied")
	}
	if !policy.IsDangerousKey("__proto__") {
		t.Error("baseline dangerous key missing")
	}
	if rule, ok := policy.MatchValue("DROP TABLE users"); !ok || rule.Name != "sql_drop" {
		t.Errorf("MatchValue() = %q, %v, want sql_drop", rule.Name, ok)
	}
}

func TestConfig_LoadFromPathJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "boundary.json")
	writeFile(t, path, `{"environment":"test","sanitize":{"allowed_tags":["b"]}}`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Environment != EnvTest {
		t.Errorf("Environment = %q, want test", cfg.Environment)
	}
	p := cfg.SanitizePolicy()
	if len(p.AllowedTags) != 1 || p.AllowedTags[0] != "b" {
		t.Errorf("AllowedTags = %v, want [b]", p.AllowedTags)
	}
}

func TestConfig_LoadRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "boundary.toml")
	writeFile(t, path, "[server]\nadress = \"x\"\n")

	if _, err := LoadFromPath(path); err == nil || !strings.Contains(err.Error(), "server.adress") {
		t.Errorf("LoadFromPath() error = %v, want unknown key error", err)
	}
}

func TestConfig_LoadFixesPermissions(t *testing.T) {
	if os.PathSeparator != '/' {
		t.Skip("permission bits are not meaningful on this platform")
	}
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "boundary.toml")
	writeFile(t, path, "environment = \"test\"\n")
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPath(path); err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %o, want 600", info.Mode().Perm())
	}
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOUNDARY_ENCRYPTION_KEY", " "+testKey+" ")
	t.Setenv("BOUNDARY_ENV", "production")
	t.Setenv("BOUNDARY_ADDR", "127.0.0.1:1")
	t.Setenv("BOUNDARY_POLICY_FILE", "/etc/boundary/policy.toml")
	t.Setenv("BOUNDARY_AUDIT_LOG", "/var/log/boundary.log")
	t.Setenv("BOUNDARY_MAX_DEPTH", "7")

	cfg := Default()
	cfg.Audit.Enabled = false
	cfg.ApplyEnvOverrides()

	if cfg.Encryption.Key != testKey {
		t.Error("encryption key override not applied or not trimmed")
	}
	if cfg.Environment != "production" || cfg.Server.Addr != "127.0.0.1:1" {
		t.Errorf("env/addr = %q/%q", cfg.Environment, cfg.Server.Addr)
	}
	if cfg.Taint.PolicyFile != "/etc/boundary/policy.toml" {
		t.Errorf("PolicyFile = %q", cfg.Taint.PolicyFile)
	}
	if !cfg.Audit.Enabled || cfg.Audit.Path != "/var/log/boundary.log" {
		t.Errorf("audit = %+v", cfg.Audit)
	}
	if cfg.Taint.MaxDepth != 7 {
		t.Errorf("MaxDepth = %d, want 7", cfg.Taint.MaxDepth)
	}

	t.Setenv("BOUNDARY_AUDIT_LOG", "off")
	t.Setenv("BOUNDARY_MAX_DEPTH", "deep")
	cfg.ApplyEnvOverrides()
	if cfg.Audit.Enabled {
		t.Error("BOUNDARY_AUDIT_LOG=off should disable auditing")
	}
	if cfg.Taint.MaxDepth != 7 {
		t.Error("invalid BOUNDARY_MAX_DEPTH should be ignored")
	}
}

func TestConfig_StringMasksKey(t *testing.T) {
	cfg := Default()
	cfg.Encryption.Key = testKey

	s := cfg.String()
	if strings.Contains(s, testKey) {
		t.Fatal("String() leaked the encryption key")
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Error("String() should show the key as redacted")
	}
	if cfg.Encryption.Key != testKey {
		t.Error("String() must not modify the config")
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	cfg.Taint.DangerousKeys = []string{"a"}

	clone := cfg.Clone()
	clone.Taint.DangerousKeys[0] = "b"
	clone.Upload.AllowedMIMETypes[0] = "x/y"

	if cfg.Taint.DangerousKeys[0] != "a" {
		t.Error("Clone() shares DangerousKeys")
	}
	if cfg.Upload.AllowedMIMETypes[0] == "x/y" {
		t.Error("Clone() shares AllowedMIMETypes")
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg := Default()
	cfg.Environment = EnvTest
	cfg.Taint.Patterns = []taint.RuleSpec{{Name: "x", Category: "code", Pattern: "xyz"}}

	for _, name := range []string{"boundary.toml", "boundary.json"} {
		path := filepath.Join(dir, "sub", name)
		var err error
		if strings.HasSuffix(name, ".json") {
			err = SaveJSON(cfg, path)
		} else {
			err = SaveTOML(cfg, path)
		}
		if err != nil {
			t.Fatalf("save %s: %v", name, err)
		}

		loaded, err := LoadFromPath(path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if loaded.Environment != EnvTest || len(loaded.Taint.Patterns) != 1 {
			t.Errorf("%s: round trip lost fields: %+v", name, loaded.Taint)
		}
	}
}

// =============================================================================
// POLICY FILE TESTS
// =============================================================================

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "policy.toml")
	writeFile(t, tomlPath, `
dangerous_keys = ["$where"]
forbidden_headers = ["x-debug-eval"]

[[patterns]]
name = "mongo_where"
category = "code"
pattern = "\\$where"
`)
	f, err := LoadPolicyFile(tomlPath)
	if err != nil {
		t.Fatalf("LoadPolicyFile(toml) error = %v", err)
	}
	if len(f.DangerousKeys) != 1 || len(f.Patterns) != 1 || len(f.ForbiddenHeaders) != 1 {
		t.Errorf("policy file = %+v", f)
	}

	jsonPath := filepath.Join(dir, "policy.json")
	writeFile(t, jsonPath, `{"forbidden_accept_markers":["application/x-eval"]}`)
	f, err = LoadPolicyFile(jsonPath)
	if err != nil {
		t.Fatalf("LoadPolicyFile(json) error = %v", err)
	}
	if len(f.ForbiddenAcceptMarkers) != 1 {
		t.Errorf("policy file = %+v", f)
	}

	cfg := Default()
	cfg.Taint.PolicyFile = tomlPath
	policy, err := cfg.LoadTaintPolicy()
	if err != nil {
		t.Fatalf("LoadTaintPolicy() error = %v", err)
	}
	if !policy.IsDangerousKey("$where") || !policy.IsForbiddenHeader("X-Debug-Eval") {
		t.Error("policy file entries not applied")
	}
}

func TestLoadPolicyFile_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadPolicyFile(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("missing file should fail")
	}

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "unexpected = 1\n")
	if _, err := LoadPolicyFile(bad); err == nil {
		t.Error("unknown keys should fail")
	}
}

func TestPolicyWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")
	writeFile(t, path, "dangerous_keys = [\"first\"]\n")

	cfg := Default()
	cfg.Taint.PolicyFile = path

	var mu sync.Mutex
	var got []*taint.Policy
	changed := make(chan struct{}, 4)

	w, err := NewPolicyWatcher(cfg, 20*time.Millisecond, func(p *taint.Policy) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		changed <- struct{}{}
	}, nil)
	if err != nil {
		t.Fatalf("NewPolicyWatcher() error = %v", err)
	}
	defer w.Close()

	if err := w.Watch(context.Background()); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	replaceFile(t, path, "dangerous_keys = [\"second\"]\n")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("policy was not reloaded")
	}

	mu.Lock()
	defer mu.Unlock()
	last := got[len(got)-1]
	if !last.IsDangerousKey("second") {
		t.Error("reloaded policy missing new key")
	}
	if !last.IsDangerousKey("__proto__") {
		t.Error("reloaded policy lost the baseline")
	}
}

func TestPolicyWatcher_BadFileKeepsPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")
	writeFile(t, path, "dangerous_keys = [\"ok\"]\n")

	cfg := Default()
	cfg.Taint.PolicyFile = path

	errs := make(chan error, 4)
	w, err := NewPolicyWatcher(cfg, 20*time.Millisecond, func(*taint.Policy) {
		t.Error("onChange must not be called for an invalid file")
	}, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("NewPolicyWatcher() error = %v", err)
	}
	defer w.Close()
	if err := w.Watch(context.Background()); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	replaceFile(t, path, "[[patterns]]\nname = \"x\"\npattern = \"(\"\n")

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected a reload error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload error was not reported")
	}
}

func TestNewPolicyWatcher_RequiresFile(t *testing.T) {
	if _, err := NewPolicyWatcher(Default(), 0, func(*taint.Policy) {}, nil); err == nil {
		t.Error("NewPolicyWatcher() without a policy file should fail")
	}
}
