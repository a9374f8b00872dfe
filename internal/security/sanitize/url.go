// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sanitize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// blockedSchemes execute code or read local content when followed.
var blockedSchemes = []string{"javascript:", "data:", "vbscript:", "file:"}

var schemePattern = regexp.MustCompile(`^[a-z][a-z0-9+.\-]*:`)

// SanitizeURL returns a link target that is safe to navigate to, or "".
//
//   - executable schemes (javascript:, data:, vbscript:, file:) -> ""
//   - absolute http/https URLs with a host -> raw, unchanged
//   - protocol-relative URLs (//host, /\host) -> ""
//   - root- and dot-relative paths -> raw, unchanged
//   - any other explicit scheme -> ""
//   - a bare fragment or a token starting with a letter -> "/" + token
//   - anything else, or anything with control characters -> ""
//
// Surrounding whitespace is ignored when classifying but kept in the result.
// Scheme checks run on a folded copy (NFKC, control characters and
// whitespace removed, lower-cased) so obfuscated schemes are still caught.
func SanitizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	folded := fold(trimmed)

	for _, s := range blockedSchemes {
		if strings.HasPrefix(folded, s) {
			return ""
		}
	}

	if strings.IndexFunc(raw, unicode.IsControl) >= 0 {
		return ""
	}

	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		u, err := url.Parse(trimmed)
		if err != nil || u.Host == "" {
			return ""
		}
		return raw
	}

	if strings.HasPrefix(folded, "//") || strings.HasPrefix(folded, "/\\") ||
		strings.HasPrefix(folded, "\\") {
		return ""
	}

	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "./") || strings.HasPrefix(trimmed, "../") {
		return raw
	}

	if schemePattern.MatchString(folded) {
		return ""
	}

	if first := trimmed[0]; first == '#' || ('a' <= first && first <= 'z') || ('A' <= first && first <= 'Z') {
		return "/" + trimmed
	}

	return ""
}

func fold(s string) string {
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.IsSpace(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s))
}
