// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sanitize

import (
	"html"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLSanitizer filters untrusted markup.
type HTMLSanitizer interface {
	Sanitize(input string) string
}

// NewHTMLSanitizer returns the allowlist filter for p, or the strip-all
// fallback when the build has no rendering capability.
func NewHTMLSanitizer(p Policy) HTMLSanitizer {
	return newRenderer(p.normalized())
}

// RenderingAvailable reports whether allowlist filtering is compiled in.
func RenderingAvailable() bool {
	return renderingAvailable
}

var defaultHTML = NewHTMLSanitizer(DefaultPolicy())

// SanitizeHTML filters input with DefaultPolicy.
func SanitizeHTML(input string) string {
	return defaultHTML.Sanitize(input)
}

// StripHTML removes all markup and returns the text content. Script and
// style bodies are dropped, entities are decoded.
func StripHTML(input string) string {
	if !strings.ContainsAny(input, "<&") {
		return input
	}

	z := nethtml.NewTokenizer(strings.NewReader(input))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			return b.String()
		case nethtml.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case nethtml.StartTagToken:
			name, _ := z.TagName()
			if skipsContent(name) {
				skip++
			}
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			if skipsContent(name) && skip > 0 {
				skip--
			}
		}
	}
}

// SanitizeTextContent strips markup and surrounding whitespace.
func SanitizeTextContent(input string) string {
	return strings.TrimSpace(StripHTML(input))
}

func skipsContent(name []byte) bool {
	switch atom.Lookup(name) {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Iframe, atom.Object, atom.Noembed, atom.Noframes:
		return true
	}
	return false
}

// stripSanitizer is the fallback: no markup survives, and text is escaped so
// decoded entities cannot turn back into markup.
type stripSanitizer struct{}

func (stripSanitizer) Sanitize(input string) string {
	return html.EscapeString(StripHTML(input))
}
