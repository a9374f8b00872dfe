// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package taint

import (
	"fmt"
	"net/textproto"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// RULES
// =============================================================================

// Rule categories.
const (
	CategoryCode        = "code"
	CategoryProcess     = "process"
	CategoryFilesystem  = "filesystem"
	CategoryEnvironment = "environment"
	CategoryGlobal      = "global"
	CategoryBrowser     = "browser"
)

// RuleSpec is the declarative form of a value rule, as read from config.
type RuleSpec struct {
	Name     string `toml:"name" json:"name"`
	Category string `toml:"category" json:"category"`
	Pattern  string `toml:"pattern" json:"pattern"`
}

// Rule is a compiled value rule.
type Rule struct {
	Name     string
	Category string
	re       *regexp.Regexp
}

// Pattern returns the rule's regular expression source.
func (r Rule) Pattern() string {
	return r.re.String()
}

// Match reports whether s matches the rule.
func (r Rule) Match(s string) bool {
	return r.re.MatchString(s)
}

// defaultDangerousKeys are stored lower-cased; keys are lower-cased before lookup.
var defaultDangerousKeys = []string{
	"__proto__",
	"constructor",
	"prototype",
	"__definegetter__",
	"__definesetter__",
	"__lookupgetter__",
	"__lookupsetter__",
	"_response",
	"_prefix",
}

// defaultRules is ordered: the first match names a finding.
var defaultRules = []RuleSpec{
	// Dynamic code evaluation
	{Name: "eval_call", Category: CategoryCode, Pattern: `(?i)\beval\s*\(`},
	{Name: "function_constructor", Category: CategoryCode, Pattern: "(?i)\\bnew\\s+Function\\s*\\(|\\bFunction\\s*\\(\\s*['\"`]"},
	{Name: "string_timer", Category: CategoryCode, Pattern: "(?i)\\bset(Timeout|Interval|Immediate)\\s*\\(\\s*['\"`]"},
	{Name: "dynamic_import", Category: CategoryCode, Pattern: "(?i)\\bimport\\s*\\(\\s*['\"`]"},

	// Process and child-process spawning
	{Name: "child_process", Category: CategoryProcess, Pattern: `(?i)\bchild_process\b`},
	{Name: "process_spawn", Category: CategoryProcess, Pattern: `(?i)\b(exec|execSync|execFile|execFileSync|spawn|spawnSync|fork)\s*\(`},
	{Name: "module_require", Category: CategoryProcess, Pattern: "(?i)\\brequire\\s*\\(\\s*['\"`]"},
	{Name: "process_internals", Category: CategoryProcess, Pattern: `(?i)\bprocess\s*\.\s*(mainModule|binding|dlopen|kill|exit)\b`},

	// Filesystem access
	{Name: "fs_module", Category: CategoryFilesystem, Pattern: `(?i)\bfs(\s*\.\s*promises)?\s*\.\s*(read|write|append|unlink|rm|mkdir|open|create|copy|rename|symlink|chmod|chown)\w*`},
	{Name: "fs_sync", Category: CategoryFilesystem, Pattern: `(?i)\b(readFileSync|writeFileSync|appendFileSync|unlinkSync|readdirSync)\b`},

	// Environment access
	{Name: "process_env", Category: CategoryEnvironment, Pattern: `(?i)\bprocess\s*\.\s*env\b`},
	{Name: "import_meta_env", Category: CategoryEnvironment, Pattern: `(?i)\bimport\s*\.\s*meta\s*\.\s*env\b`},

	// Global / realm escape
	{Name: "global_this", Category: CategoryGlobal, Pattern: `(?i)\bglobalThis\b`},
	{Name: "global_object", Category: CategoryGlobal, Pattern: `(?i)\bglobal\s*\.\s*(process|require|Buffer)\b`},
	{Name: "constructor_chain", Category: CategoryGlobal, Pattern: "(?i)\\bconstructor\\s*\\.\\s*constructor\\b|\\bconstructor\\s*\\[\\s*['\"`]constructor"},
	{Name: "proto_reference", Category: CategoryGlobal, Pattern: `(?i)__proto__`},

	// Browser storage, cookie and DOM access
	{Name: "document_cookie", Category: CategoryBrowser, Pattern: `(?i)\bdocument\s*\.\s*cookie\b`},
	{Name: "web_storage", Category: CategoryBrowser, Pattern: `(?i)\b(localStorage|sessionStorage|indexedDB)\b`},
	{Name: "dom_write", Category: CategoryBrowser, Pattern: `(?i)\bdocument\s*\.\s*(write|writeln|domain)\b|\b(window|document)\s*\.\s*location\b|\b(inner|outer)HTML\s*=`},
	{Name: "script_tag", Category: CategoryBrowser, Pattern: `(?i)<\s*script\b`},
}

var (
	defaultForbiddenHeaders       = []string{"Next-Action"}
	defaultForbiddenAcceptMarkers = []string{"text/x-component"}
)

// =============================================================================
// POLICY
// =============================================================================

// Policy is an immutable set of key denylist entries, value rules and
// transport markers. Build variants with NewPolicy or Extend.
type Policy struct {
	dangerousKeys          map[string]struct{}
	rules                  []Rule
	forbiddenHeaders       []string
	forbiddenAcceptMarkers []string
}

// Extension adds entries to a Policy.
type Extension struct {
	DangerousKeys          []string
	Rules                  []RuleSpec
	ForbiddenHeaders       []string
	ForbiddenAcceptMarkers []string
}

var defaultPolicy = mustPolicy(NewPolicy(Extension{
	DangerousKeys:          defaultDangerousKeys,
	Rules:                  defaultRules,
	ForbiddenHeaders:       defaultForbiddenHeaders,
	ForbiddenAcceptMarkers: defaultForbiddenAcceptMarkers,
}))

// DefaultPolicy returns the baseline policy.
func DefaultPolicy() *Policy {
	return defaultPolicy
}

// NewPolicy compiles a policy from scratch.
func NewPolicy(ext Extension) (*Policy, error) {
	return (&Policy{dangerousKeys: map[string]struct{}{}}).Extend(ext)
}

// Extend returns a new policy with ext appended. The receiver is unchanged.
// Duplicate entries are ignored; rule names must be unique.
func (p *Policy) Extend(ext Extension) (*Policy, error) {
	next := &Policy{
		dangerousKeys:          make(map[string]struct{}, len(p.dangerousKeys)+len(ext.DangerousKeys)),
		rules:                  append([]Rule(nil), p.rules...),
		forbiddenHeaders:       append([]string(nil), p.forbiddenHeaders...),
		forbiddenAcceptMarkers: append([]string(nil), p.forbiddenAcceptMarkers...),
	}
	for k := range p.dangerousKeys {
		next.dangerousKeys[k] = struct{}{}
	}

	for _, k := range ext.DangerousKeys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		next.dangerousKeys[k] = struct{}{}
	}

	names := make(map[string]bool, len(next.rules))
	for _, r := range next.rules {
		names[r.Name] = true
	}
	for _, rs := range ext.Rules {
		if rs.Name == "" {
			return nil, fmt.Errorf("rule with pattern %q has no name", rs.Pattern)
		}
		if names[rs.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", rs.Name)
		}
		re, err := regexp.Compile(rs.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid pattern: %w", rs.Name, err)
		}
		names[rs.Name] = true
		next.rules = append(next.rules, Rule{Name: rs.Name, Category: rs.Category, re: re})
	}

	for _, h := range ext.ForbiddenHeaders {
		h = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(h))
		if h != "" && !contains(next.forbiddenHeaders, h) {
			next.forbiddenHeaders = append(next.forbiddenHeaders, h)
		}
	}
	for _, m := range ext.ForbiddenAcceptMarkers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && !contains(next.forbiddenAcceptMarkers, m) {
			next.forbiddenAcceptMarkers = append(next.forbiddenAcceptMarkers, m)
		}
	}

	return next, nil
}

// IsDangerousKey reports whether key, lower-cased, is on the denylist.
func (p *Policy) IsDangerousKey(key string) bool {
	_, ok := p.dangerousKeys[strings.ToLower(key)]
	return ok
}

// MatchValue returns the first rule that matches s.
func (p *Policy) MatchValue(s string) (Rule, bool) {
	for _, r := range p.rules {
		if r.re.MatchString(s) {
			return r, true
		}
	}
	return Rule{}, false
}

// IsForbiddenHeader reports whether a header name is reserved for internal use.
func (p *Policy) IsForbiddenHeader(name string) bool {
	return contains(p.forbiddenHeaders, textproto.CanonicalMIMEHeaderKey(name))
}

// AcceptMarker returns the forbidden marker contained in an Accept value, if any.
func (p *Policy) AcceptMarker(accept string) (string, bool) {
	accept = strings.ToLower(accept)
	for _, m := range p.forbiddenAcceptMarkers {
		if strings.Contains(accept, m) {
			return m, true
		}
	}
	return "", false
}

// DangerousKeys returns the sorted denylist.
func (p *Policy) DangerousKeys() []string {
	keys := make([]string, 0, len(p.dangerousKeys))
	for k := range p.dangerousKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Rules returns the ordered value rules.
func (p *Policy) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// ForbiddenHeaders returns the reserved header names.
func (p *Policy) ForbiddenHeaders() []string {
	return append([]string(nil), p.forbiddenHeaders...)
}

// ForbiddenAcceptMarkers returns the reserved Accept markers.
func (p *Policy) ForbiddenAcceptMarkers() []string {
	return append([]string(nil), p.forbiddenAcceptMarkers...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func mustPolicy(p *Policy, err error) *Policy {
	if err != nil {
		panic("taint: invalid built-in policy: " + err.Error())
	}
	return p
}
