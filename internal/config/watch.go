// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security/taint"
)

// DefaultReloadDebounce is how long a policy file must be quiet before it
// is reloaded.
const DefaultReloadDebounce = 250 * time.Millisecond

// =============================================================================
// POLICY FILE
// =============================================================================

// PolicyFile is an operator-supplied extension of the taint policy. It can
// only add entries; the baseline denylist and patterns always apply.
type PolicyFile struct {
	DangerousKeys          []string         `toml:"dangerous_keys" json:"dangerous_keys"`
	Patterns               []taint.RuleSpec `toml:"patterns" json:"patterns"`
	ForbiddenHeaders       []string         `toml:"forbidden_headers" json:"forbidden_headers"`
	ForbiddenAcceptMarkers []string         `toml:"forbidden_accept_markers" json:"forbidden_accept_markers"`
}

// Extension converts the file into a taint policy extension.
func (f *PolicyFile) Extension() taint.Extension {
	return taint.Extension{
		DangerousKeys:          f.DangerousKeys,
		Rules:                  f.Patterns,
		ForbiddenHeaders:       f.ForbiddenHeaders,
		ForbiddenAcceptMarkers: f.ForbiddenAcceptMarkers,
	}
}

// LoadPolicyFile reads a policy file. Files ending in .json are decoded as
// JSON, anything else as TOML.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	var f PolicyFile

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to decode policy file %s: %w", path, err)
		}
		return &f, nil
	}

	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode policy file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown policy keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return &f, nil
}

// LoadTaintPolicy builds the scanner policy including taint.policy_file
// when one is configured.
func (c *Config) LoadTaintPolicy() (*taint.Policy, error) {
	if c.Taint.PolicyFile == "" {
		return c.TaintPolicy(nil)
	}
	f, err := LoadPolicyFile(c.Taint.PolicyFile)
	if err != nil {
		return nil, err
	}
	return c.TaintPolicy(f)
}

// =============================================================================
// POLICY WATCHER
// =============================================================================

// PolicyWatcher reloads the taint policy when the policy file changes.
// A file that fails to load or compile is reported through onError and the
// previous policy stays in force.
type PolicyWatcher struct {
	cfg      *Config
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(*taint.Policy)
	onError  func(error)

	mu      sync.Mutex
	pending time.Time // zero when nothing is pending

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPolicyWatcher creates a watcher for cfg.Taint.PolicyFile. onChange
// receives each successfully rebuilt policy.
func NewPolicyWatcher(cfg *Config, debounce time.Duration, onChange func(*taint.Policy), onError func(error)) (*PolicyWatcher, error) {
	if cfg.Taint.PolicyFile == "" {
		return nil, errors.New("no policy file configured")
	}
	if onChange == nil {
		return nil, errors.New("policy watcher requires an onChange callback")
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	if onError == nil {
		onError = func(error) {}
	}

	path, err := filepath.Abs(cfg.Taint.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &PolicyWatcher{
		cfg:      cfg.Clone(),
		path:     path,
		watcher:  watcher,
		debounce: debounce,
		onChange: onChange,
		onError:  onError,
	}, nil
}

// Watch starts watching until ctx is cancelled or Close is called. The
// parent directory is watched so editors that replace the file by rename
// are still seen.
func (pw *PolicyWatcher) Watch(ctx context.Context) error {
	if err := pw.watcher.Add(filepath.Dir(pw.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(pw.path), err)
	}

	pw.ctx, pw.cancel = context.WithCancel(ctx)

	pw.wg.Add(2)
	go pw.processEvents()
	go pw.processPending()
	return nil
}

// Reload rebuilds the policy from disk immediately.
func (pw *PolicyWatcher) Reload() (*taint.Policy, error) {
	f, err := LoadPolicyFile(pw.path)
	if err != nil {
		return nil, err
	}
	return pw.cfg.TaintPolicy(f)
}

// Close stops the watcher and waits for its goroutines.
func (pw *PolicyWatcher) Close() error {
	if pw.cancel != nil {
		pw.cancel()
	}
	err := pw.watcher.Close()
	pw.wg.Wait()
	return err
}

func (pw *PolicyWatcher) processEvents() {
	defer pw.wg.Done()

	for {
		select {
		case <-pw.ctx.Done():
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != pw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pw.mu.Lock()
				pw.pending = time.Now()
				pw.mu.Unlock()
			}

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.onError(fmt.Errorf("policy watcher: %w", err))
		}
	}
}

// processPending applies the reload once the file has been quiet for the
// debounce interval.
func (pw *PolicyWatcher) processPending() {
	defer pw.wg.Done()

	tick := pw.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-pw.ctx.Done():
			return

		case now := <-ticker.C:
			pw.mu.Lock()
			due := !pw.pending.IsZero() && now.Sub(pw.pending) >= pw.debounce
			if due {
				pw.pending = time.Time{}
			}
			pw.mu.Unlock()

			if !due {
				continue
			}
			policy, err := pw.Reload()
			if err != nil {
				pw.onError(err)
				continue
			}
			pw.onChange(policy)
		}
	}
}
