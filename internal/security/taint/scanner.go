// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package taint

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
)

// DefaultMaxDepth is the nesting depth scanned when the caller gives none.
const DefaultMaxDepth = 10

// =============================================================================
// RESULT TYPES
// =============================================================================

// FindingKind tells whether a finding came from a key or a value.
type FindingKind string

const (
	FindingKey   FindingKind = "key"
	FindingValue FindingKind = "value"
)

// Finding locates one offending key or value.
type Finding struct {
	Path     string      `json:"path"`
	Kind     FindingKind `json:"kind"`
	Rule     string      `json:"rule"`
	Category string      `json:"category,omitempty"`
}

// ScanResult is the verdict of a gadget scan.
type ScanResult struct {
	IsSafe          bool      `json:"isSafe"`
	DangerousKeys   []string  `json:"dangerousKeys"`
	DangerousValues []string  `json:"dangerousValues"`
	Reason          string    `json:"reason,omitempty"`
	Findings        []Finding `json:"findings,omitempty"`
	// DepthLimited is set when some branch was cut off by maxDepth.
	DepthLimited bool `json:"depthLimited,omitempty"`
}

// =============================================================================
// SCANNER
// =============================================================================

// Scanner scans untrusted data against a Policy.
type Scanner struct {
	policy     atomic.Pointer[Policy]
	maxDepth   int
	production bool
	logger     *log.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPolicy sets the initial policy.
func WithPolicy(p *Policy) Option {
	return func(s *Scanner) {
		if p != nil {
			s.policy.Store(p)
		}
	}
}

// WithMaxDepth sets the default scan depth. Values <= 0 are ignored.
func WithMaxDepth(depth int) Option {
	return func(s *Scanner) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithProduction suppresses local diagnostics.
func WithProduction(production bool) Option {
	return func(s *Scanner) {
		s.production = production
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a scanner using DefaultPolicy unless overridden.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		maxDepth: DefaultMaxDepth,
		logger:   log.Default(),
	}
	s.policy.Store(DefaultPolicy())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the current policy.
func (s *Scanner) Policy() *Policy {
	return s.policy.Load()
}

// SetPolicy atomically replaces the policy. In-flight scans finish with the
// policy they started with.
func (s *Scanner) SetPolicy(p *Policy) {
	if p != nil {
		s.policy.Store(p)
	}
}

// MaxDepth returns the default scan depth.
func (s *Scanner) MaxDepth() int {
	return s.maxDepth
}

// Scan scans v with the scanner's default depth.
func (s *Scanner) Scan(v any) ScanResult {
	return s.ScanObjectForGadgets(v, s.maxDepth)
}

// ScanObjectForGadgets walks v depth-first and collects denylisted keys and
// rule-matching values. maxDepth <= 0 means DefaultMaxDepth. Content nested
// deeper than maxDepth is not scanned.
func (s *Scanner) ScanObjectForGadgets(v any, maxDepth int) ScanResult {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return s.scanValue(FromAny(v), maxDepth)
}

func (s *Scanner) scanValue(v Value, maxDepth int) ScanResult {
	w := newWalker(s.policy.Load(), maxDepth)
	w.walk(v, 0, nil)

	r := w.result
	r.IsSafe = len(r.DangerousKeys) == 0 && len(r.DangerousValues) == 0
	if !r.IsSafe {
		r.Reason = fmt.Sprintf("Found %d dangerous keys and %d dangerous values",
			len(r.DangerousKeys), len(r.DangerousValues))
	}
	return r
}

// =============================================================================
// WALKER
// =============================================================================

// pathNode is rendered only when a finding needs a location.
type pathNode struct {
	parent *pathNode
	key    string
	index  int
	isKey  bool
}

func (p *pathNode) String() string {
	var parts []*pathNode
	for n := p; n != nil; n = n.parent {
		parts = append(parts, n)
	}
	var b strings.Builder
	b.WriteString("$")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].isKey {
			b.WriteByte('.')
			b.WriteString(parts[i].key)
		} else {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(parts[i].index))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// walker state. A composite node is skipped when it is on the current path
// (a cycle), when an earlier walk of it finished without hitting the depth
// bound, or when it was already walked from the same or a shallower depth.
// A node first reached near the bound is walked again if a shallower route
// to it turns up, so at most maxDepth+1 walks happen per node.
type walker struct {
	policy   *Policy
	maxDepth int
	best     map[Value]int
	complete map[Value]bool
	onPath   map[Value]bool
	reported map[site]struct{}
	result   ScanResult
}

// site is one slot of a composite node. Findings are recorded once per site
// however many routes lead to it.
type site struct {
	node  Value
	index int
}

func newWalker(p *Policy, maxDepth int) *walker {
	return &walker{
		policy:   p,
		maxDepth: maxDepth,
		best:     make(map[Value]int),
		complete: make(map[Value]bool),
		onPath:   make(map[Value]bool),
		reported: make(map[site]struct{}),
		result: ScanResult{
			DangerousKeys:   []string{},
			DangerousValues: []string{},
		},
	}
}

// walk scans v and reports whether the depth bound cut any of it off.
func (w *walker) walk(v Value, depth int, path *pathNode) bool {
	if depth > w.maxDepth {
		w.result.DepthLimited = true
		return true
	}

	truncated := false
	switch n := v.(type) {
	case Scalar:
		w.checkValue(n, nil, path)

	case *Sequence:
		if n == nil || !w.enter(n, depth) {
			return false
		}
		for i, item := range n.Items {
			child := &pathNode{parent: path, index: i}
			if sc, ok := item.(Scalar); ok {
				w.checkValue(sc, &site{node: n, index: i}, child)
				continue
			}
			if w.walk(item, depth+1, child) {
				truncated = true
			}
		}
		w.leave(n, truncated)

	case *Mapping:
		if n == nil || !w.enter(n, depth) {
			return false
		}
		for i, e := range n.Entries {
			child := &pathNode{parent: path, key: e.Key, isKey: true}
			at := site{node: n, index: i}
			if w.policy.IsDangerousKey(e.Key) && w.first(at) {
				w.result.DangerousKeys = append(w.result.DangerousKeys, e.Key)
				w.result.Findings = append(w.result.Findings, Finding{
					Path: child.String(),
					Kind: FindingKey,
					Rule: "denylist",
				})
			}
			if sc, ok := e.Value.(Scalar); ok {
				// Keys use slot i, their values -1-i.
				w.checkValue(sc, &site{node: n, index: -1 - i}, child)
				continue
			}
			if w.walk(e.Value, depth+1, child) {
				truncated = true
			}
		}
		w.leave(n, truncated)
	}
	return truncated
}

func (w *walker) enter(n Value, depth int) bool {
	if w.onPath[n] || w.complete[n] {
		return false
	}
	if d, ok := w.best[n]; ok && d <= depth {
		return false
	}
	w.best[n] = depth
	w.onPath[n] = true
	return true
}

func (w *walker) leave(n Value, truncated bool) {
	delete(w.onPath, n)
	if !truncated {
		w.complete[n] = true
	}
}

// first reports whether at has not produced a finding yet.
func (w *walker) first(at site) bool {
	if _, ok := w.reported[at]; ok {
		return false
	}
	w.reported[at] = struct{}{}
	return true
}

func (w *walker) checkValue(v Scalar, at *site, path *pathNode) {
	if mal, ok := v.V.(malformedJSON); ok {
		if at == nil || w.first(*at) {
			w.result.DangerousValues = append(w.result.DangerousValues, string(mal))
			w.result.Findings = append(w.result.Findings, Finding{
				Path: path.String(),
				Kind: FindingValue,
				Rule: "malformed_json",
			})
		}
		return
	}
	if v.V == nil {
		return
	}
	str := v.String()
	rule, ok := w.policy.MatchValue(str)
	if !ok {
		return
	}
	if at != nil && !w.first(*at) {
		return
	}
	w.result.DangerousValues = append(w.result.DangerousValues, str)
	w.result.Findings = append(w.result.Findings, Finding{
		Path:     path.String(),
		Kind:     FindingValue,
		Rule:     rule.Name,
		Category: rule.Category,
	})
}

// =============================================================================
// PACKAGE-LEVEL API
// =============================================================================

var defaultScanner = NewScanner()

// ScanObjectForGadgets scans v with the baseline policy.
func ScanObjectForGadgets(v any, maxDepth int) ScanResult {
	return defaultScanner.ScanObjectForGadgets(v, maxDepth)
}
