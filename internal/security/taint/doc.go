// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package taint inspects untrusted structured data for object-pollution keys
// and code/OS-interaction value patterns before it is trusted, rendered or
// echoed back.
//
// # Data Model
//
// Arbitrary Go values (decoded JSON, maps, slices, structs, pointers) are
// converted by FromAny into a closed union of three node kinds:
//
//   - Scalar: strings, numbers, booleans, null
//   - *Sequence: ordered items
//   - *Mapping: string-keyed entries
//
// Composite nodes are pointers, so the scanner tracks visited nodes by
// identity. A value that contains itself, directly or through a longer cycle,
// is converted into a cyclic graph; cycles are cut on the current path, and a
// shared node is walked again only when reached from a shallower depth than
// before. Each key or value is reported once.
//
// # Scanning
//
// ScanObjectForGadgets walks the graph depth-first. Mapping keys are
// lower-cased and checked against the policy's denylist; every scalar is
// coerced to a string and checked against the policy's ordered rules. Nodes
// deeper than maxDepth are not descended into: content beyond the bound is
// NOT guaranteed to be scanned. Callers that need full coverage must bound the
// nesting of accepted input elsewhere.
//
// # Request Boundary
//
//	if rej := scanner.CheckRequestSecurity(r.Header, rawBody); rej != nil {
//	    // reject with rej.Message, audit rej.Details
//	}
//
//	resp := scanner.CreateSafeResponse(true, "ok", payload)
//	// resp.Data is nil when payload carried a gadget
//
// A Scanner is safe for concurrent use. Its Policy is immutable and may be
// replaced atomically with SetPolicy (e.g. when a policy file is reloaded).
package taint
