// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the boundary packages.
//
//   - AtomicWriteFile, AtomicWriteFileWithDir: crash-safe writes used for
//     config files and generated keys
//   - TruncateRunes: UTF-8 safe truncation, used for audit metadata
//   - StringWidth, TruncateWidth, PadRight: column-aware text for CLI tables
//
// Usage:
//
//	err := util.AtomicWriteFileWithDir(path, data, 0600, 0700)
//	cell := util.PadRight(util.TruncateWidth(name, 24), 24)
package util
