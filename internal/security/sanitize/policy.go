// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sanitize

import "strings"

// Policy is the HTML allowlist. Anything not listed is dropped.
type Policy struct {
	AllowedTags       []string `toml:"allowed_tags" json:"allowedTags"`
	AllowedAttributes []string `toml:"allowed_attributes" json:"allowedAttributes"`
}

// DefaultPolicy allows basic inline formatting, lists and links.
func DefaultPolicy() Policy {
	return Policy{
		AllowedTags: []string{
			"b", "i", "em", "strong", "u", "s",
			"p", "br", "span", "blockquote", "code", "pre",
			"ul", "ol", "li", "a",
		},
		AllowedAttributes: []string{"href", "title", "target", "rel"},
	}
}

// normalized returns a lower-cased, de-duplicated copy.
func (p Policy) normalized() Policy {
	return Policy{
		AllowedTags:       normalizeNames(p.AllowedTags, false),
		AllowedAttributes: normalizeNames(p.AllowedAttributes, true),
	}
}

func (p Policy) allowsAttribute(name string) bool {
	for _, a := range p.AllowedAttributes {
		if a == name {
			return true
		}
	}
	return false
}

func normalizeNames(in []string, attrs bool) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		// Event handlers are never allowed, even if configured.
		if attrs && strings.HasPrefix(s, "on") {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
