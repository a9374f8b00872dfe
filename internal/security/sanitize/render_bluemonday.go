// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !strip_only

package sanitize

import "github.com/microcosm-cc/bluemonday"

const renderingAvailable = true

// policySanitizer wraps a compiled bluemonday policy. bluemonday policies are
// safe for concurrent use once built.
type policySanitizer struct {
	policy *bluemonday.Policy
}

func newRenderer(p Policy) HTMLSanitizer {
	bm := bluemonday.NewPolicy()
	bm.AllowElements(p.AllowedTags...)
	if len(p.AllowedAttributes) > 0 {
		bm.AllowAttrs(p.AllowedAttributes...).Globally()
	}
	if p.allowsAttribute("href") || p.allowsAttribute("src") {
		bm.AllowStandardURLs()
	}
	if p.allowsAttribute("target") {
		bm.AddTargetBlankToFullyQualifiedLinks(true)
	}
	return &policySanitizer{policy: bm}
}

func (s *policySanitizer) Sanitize(input string) string {
	return s.policy.Sanitize(input)
}
