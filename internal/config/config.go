// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/sanitize"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/taint"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/util"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete boundary configuration.
type Config struct {
	// Environment is development, production or test. Production suppresses
	// local diagnostics.
	Environment string `toml:"environment" json:"environment"`

	Server     ServerConfig     `toml:"server" json:"server"`
	Encryption EncryptionConfig `toml:"encryption" json:"encryption"`
	Taint      TaintConfig      `toml:"taint" json:"taint"`
	Upload     UploadConfig     `toml:"upload" json:"upload"`
	Sanitize   SanitizeConfig   `toml:"sanitize" json:"sanitize"`
	Audit      AuditConfig      `toml:"audit" json:"audit"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Addr                string `toml:"addr" json:"addr"`
	ReadTimeoutSecs     int    `toml:"read_timeout_secs" json:"read_timeout_secs"`
	WriteTimeoutSecs    int    `toml:"write_timeout_secs" json:"write_timeout_secs"`
	IdleTimeoutSecs     int    `toml:"idle_timeout_secs" json:"idle_timeout_secs"`
	ShutdownTimeoutSecs int    `toml:"shutdown_timeout_secs" json:"shutdown_timeout_secs"`

	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`
}

// EncryptionConfig holds the envelope encryption key (64 hex characters).
type EncryptionConfig struct {
	Key string `toml:"key" json:"key"`
}

// TaintConfig extends the baseline scanner policy.
type TaintConfig struct {
	MaxDepth               int              `toml:"max_depth" json:"max_depth"`
	DangerousKeys          []string         `toml:"dangerous_keys" json:"dangerous_keys"`
	Patterns               []taint.RuleSpec `toml:"patterns" json:"patterns"`
	ForbiddenHeaders       []string         `toml:"forbidden_headers" json:"forbidden_headers"`
	ForbiddenAcceptMarkers []string         `toml:"forbidden_accept_markers" json:"forbidden_accept_markers"`
	// PolicyFile is an optional file with further extensions; it is
	// watched and reloaded while the server runs.
	PolicyFile string `toml:"policy_file" json:"policy_file"`
}

// UploadConfig configures upload descriptor validation.
type UploadConfig struct {
	AllowedMIMETypes []string `toml:"allowed_mime_types" json:"allowed_mime_types"`
	MaxSizeMB        float64  `toml:"max_size_mb" json:"max_size_mb"`
}

// SanitizeConfig is the HTML allowlist.
type SanitizeConfig struct {
	AllowedTags       []string `toml:"allowed_tags" json:"allowed_tags"`
	AllowedAttributes []string `toml:"allowed_attributes" json:"allowed_attributes"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration. The encryption key is empty:
// it must be supplied by file or environment.
func Default() *Config {
	p := sanitize.DefaultPolicy()
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Addr:                "127.0.0.1:8787",
			ReadTimeoutSecs:     15,
			WriteTimeoutSecs:    15,
			IdleTimeoutSecs:     60,
			ShutdownTimeoutSecs: 10,
			RateLimit:           20,
			RateBurst:           40,
		},
		Taint: TaintConfig{
			MaxDepth: taint.DefaultMaxDepth,
		},
		Upload: UploadConfig{
			AllowedMIMETypes: append([]string(nil), sanitize.DefaultAllowedMIMETypes...),
			MaxSizeMB:        sanitize.DefaultMaxSizeMB,
		},
		Sanitize: SanitizeConfig{
			AllowedTags:       p.AllowedTags,
			AllowedAttributes: p.AllowedAttributes,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    DefaultAuditPath(),
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory (~/.boundary).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".boundary"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "boundary.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "boundary.json"), nil
}

// DefaultAuditPath returns ~/.boundary/audit.log.
func DefaultAuditPath() string {
	dir, err := ConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "audit.log")
}

// ensureSecurePermissions tightens config files to 0600; they hold the key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads the configuration from the default locations. TOML is tried
// first, then JSON, then built-in defaults. Environment overrides are
// applied last.
func Load() (*Config, error) {
	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads configuration from a specific file. Files ending in
// .json are decoded as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Environment == "" {
		c.Environment = d.Environment
	}
	c.Environment = strings.ToLower(c.Environment)

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = d.Server.ReadTimeoutSecs
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = d.Server.WriteTimeoutSecs
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = d.Server.IdleTimeoutSecs
	}
	if c.Server.ShutdownTimeoutSecs == 0 {
		c.Server.ShutdownTimeoutSecs = d.Server.ShutdownTimeoutSecs
	}

	if c.Server.RateLimit > 0 && c.Server.RateBurst == 0 {
		c.Server.RateBurst = int(c.Server.RateLimit) * 2
		if c.Server.RateBurst < 1 {
			c.Server.RateBurst = 1
		}
	}

	if c.Taint.MaxDepth == 0 {
		c.Taint.MaxDepth = d.Taint.MaxDepth
	}

	if len(c.Upload.AllowedMIMETypes) == 0 {
		c.Upload.AllowedMIMETypes = d.Upload.AllowedMIMETypes
	}
	if c.Upload.MaxSizeMB == 0 {
		c.Upload.MaxSizeMB = d.Upload.MaxSizeMB
	}

	if len(c.Sanitize.AllowedTags) == 0 {
		c.Sanitize.AllowedTags = d.Sanitize.AllowedTags
	}
	if c.Sanitize.AllowedAttributes == nil {
		c.Sanitize.AllowedAttributes = d.Sanitize.AllowedAttributes
	}

	if c.Audit.Path == "" {
		c.Audit.Path = d.Audit.Path
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# security boundary configuration\n")
	b.WriteString("# This file may contain the encryption key: keep it private.\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, []byte(b.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration. A malformed encryption key is not a
// validation error: the boundary starts and reports encryption unavailable.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch strings.ToLower(c.Environment) {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, ValidationError{
			Field:   "environment",
			Message: fmt.Sprintf("invalid environment '%s', must be one of: development, production, test", c.Environment),
		})
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, ValidationError{Field: "server.addr", Message: fmt.Sprintf("invalid address '%s': %v", c.Server.Addr, err)})
	}
	for field, v := range map[string]int{
		"server.read_timeout_secs":     c.Server.ReadTimeoutSecs,
		"server.write_timeout_secs":    c.Server.WriteTimeoutSecs,
		"server.idle_timeout_secs":     c.Server.IdleTimeoutSecs,
		"server.shutdown_timeout_secs": c.Server.ShutdownTimeoutSecs,
	} {
		if v < 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must not be negative"})
		}
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}
	if c.Server.RateBurst < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_burst", Message: "must not be negative"})
	}

	if c.Taint.MaxDepth < 1 || c.Taint.MaxDepth > 1000 {
		errs = append(errs, ValidationError{
			Field:   "taint.max_depth",
			Message: fmt.Sprintf("must be between 1 and 1000, got %d", c.Taint.MaxDepth),
		})
	}
	if _, err := c.TaintPolicy(nil); err != nil {
		errs = append(errs, ValidationError{Field: "taint.patterns", Message: err.Error()})
	}

	if c.Upload.MaxSizeMB <= 0 {
		errs = append(errs, ValidationError{Field: "upload.max_size_mb", Message: "must be positive"})
	}
	for _, m := range c.Upload.AllowedMIMETypes {
		if !strings.Contains(m, "/") {
			errs = append(errs, ValidationError{Field: "upload.allowed_mime_types", Message: fmt.Sprintf("invalid MIME type '%s'", m)})
		}
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, ValidationError{Field: "audit.path", Message: "required when audit is enabled"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - BOUNDARY_ENCRYPTION_KEY: overrides encryption.key
//   - BOUNDARY_ENV: overrides environment
//   - BOUNDARY_ADDR: overrides server.addr
//   - BOUNDARY_POLICY_FILE: overrides taint.policy_file
//   - BOUNDARY_AUDIT_LOG: overrides audit.path and enables auditing ("off" disables)
//   - BOUNDARY_MAX_DEPTH: overrides taint.max_depth
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("BOUNDARY_ENCRYPTION_KEY"); key != "" {
		c.Encryption.Key = strings.TrimSpace(key)
	}
	if env := os.Getenv("BOUNDARY_ENV"); env != "" {
		c.Environment = env
	}
	if addr := os.Getenv("BOUNDARY_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if policy := os.Getenv("BOUNDARY_POLICY_FILE"); policy != "" {
		c.Taint.PolicyFile = policy
	}
	if auditPath := os.Getenv("BOUNDARY_AUDIT_LOG"); auditPath != "" {
		if strings.EqualFold(auditPath, "off") {
			c.Audit.Enabled = false
		} else {
			c.Audit.Enabled = true
			c.Audit.Path = auditPath
		}
	}
	if depth := os.Getenv("BOUNDARY_MAX_DEPTH"); depth != "" {
		if n, err := strconv.Atoi(depth); err == nil {
			c.Taint.MaxDepth = n
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring invalid BOUNDARY_MAX_DEPTH %q\n", depth)
		}
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// IsProduction reports whether the boundary runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// TaintPolicy builds the scanner policy: the baseline, the [taint] section,
// then the optional policy file contents.
func (c *Config) TaintPolicy(file *PolicyFile) (*taint.Policy, error) {
	p, err := taint.DefaultPolicy().Extend(taint.Extension{
		DangerousKeys:          c.Taint.DangerousKeys,
		Rules:                  c.Taint.Patterns,
		ForbiddenHeaders:       c.Taint.ForbiddenHeaders,
		ForbiddenAcceptMarkers: c.Taint.ForbiddenAcceptMarkers,
	})
	if err != nil {
		return nil, err
	}
	if file == nil {
		return p, nil
	}
	p, err = p.Extend(file.Extension())
	if err != nil {
		return nil, fmt.Errorf("policy file: %w", err)
	}
	return p, nil
}

// SanitizePolicy returns the HTML allowlist.
func (c *Config) SanitizePolicy() sanitize.Policy {
	return sanitize.Policy{
		AllowedTags:       append([]string(nil), c.Sanitize.AllowedTags...),
		AllowedAttributes: append([]string(nil), c.Sanitize.AllowedAttributes...),
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Taint.DangerousKeys = append([]string(nil), c.Taint.DangerousKeys...)
	clone.Taint.Patterns = append([]taint.RuleSpec(nil), c.Taint.Patterns...)
	clone.Taint.ForbiddenHeaders = append([]string(nil), c.Taint.ForbiddenHeaders...)
	clone.Taint.ForbiddenAcceptMarkers = append([]string(nil), c.Taint.ForbiddenAcceptMarkers...)
	clone.Upload.AllowedMIMETypes = append([]string(nil), c.Upload.AllowedMIMETypes...)
	clone.Sanitize.AllowedTags = append([]string(nil), c.Sanitize.AllowedTags...)
	clone.Sanitize.AllowedAttributes = append([]string(nil), c.Sanitize.AllowedAttributes...)
	return &clone
}

// String returns a JSON rendering for debugging with the key masked.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Encryption.Key != "" {
		safe.Encryption.Key = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
