// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build strip_only

package sanitize

const renderingAvailable = false

func newRenderer(Policy) HTMLSanitizer {
	return stripSanitizer{}
}
