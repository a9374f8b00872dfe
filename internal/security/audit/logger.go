// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/security"
	"github.com/Dundanagoudp/flimfestival-sub002/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// MaxMetadataLength is the longest metadata value written, in runes.
const MaxMetadataLength = 200

// DefaultMaxFileSize is the size at which the log file is rotated (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// =============================================================================
// LOGGER INTERFACE
// =============================================================================

// Logger records boundary events.
type Logger interface {
	Log(event Event) error
	LogRejection(requestID, clientIP string, r *security.Rejection) error
	LogEvent(eventType string, metadata map[string]string) error
	Close() error
}

// FailureCallback is called synchronously, outside the logger lock, when a
// write fails.
type FailureCallback func(err error)

// =============================================================================
// FILE LOGGER
// =============================================================================

// FileLogger writes redacted events as JSON lines. It is safe for concurrent use.
type FileLogger struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	w         io.Writer
	maxSize   int64
	redactors []Redactor
	now       func() time.Time
	rename    func(oldPath, newPath string) error

	// broken holds the error that left a file-backed logger without a file.
	// Every write retries the open and fails until it succeeds.
	broken error
	closed bool

	failureCount int
	onFailure    FailureCallback
}

// NewFileLogger opens (or creates) an append-only log at path.
func NewFileLogger(path string) (*FileLogger, error) {
	if path == "" {
		return nil, errors.New("audit log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	l := newLogger(file)
	l.path = path
	l.file = file
	l.maxSize = DefaultMaxFileSize
	return l, nil
}

// NewWriterLogger writes events to w. Rotation does not apply.
func NewWriterLogger(w io.Writer) *FileLogger {
	return newLogger(w)
}

func newLogger(w io.Writer) *FileLogger {
	return &FileLogger{
		w:         w,
		redactors: defaultRedactors(),
		now:       time.Now,
		rename:    os.Rename,
	}
}

// =============================================================================
// LOGGING METHODS
// =============================================================================

// Log redacts and writes one event.
func (l *FileLogger) Log(event Event) error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	event.Error = l.redactLocked(event.Error)
	event.Reason = l.redactLocked(event.Reason)
	if event.Metadata != nil {
		clean := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			clean[k] = util.TruncateRunes(l.redactLocked(v), MaxMetadataLength)
		}
		event.Metadata = clean
	}

	line, err := event.ToJSON()
	if err == nil {
		err = l.reopenLocked()
	}
	if err == nil {
		// A failed rotation that kept a usable file still records the event.
		err = l.checkRotationLocked()
		if l.w != nil {
			if _, werr := io.WriteString(l.w, line+"\n"); werr != nil {
				err = errors.Join(err, werr)
			}
		}
	}
	if err != nil {
		l.failureCount++
		cb := l.onFailure
		l.mu.Unlock()
		err = fmt.Errorf("failed to write audit log: %w", err)
		if cb != nil {
			cb(err)
		}
		return err
	}

	l.failureCount = 0
	l.mu.Unlock()
	return nil
}

// LogRejection records a refused request. The rejection's offending keys and
// values go into metadata, redacted and truncated.
func (l *FileLogger) LogRejection(requestID, clientIP string, r *security.Rejection) error {
	if r == nil {
		return nil
	}
	event := Event{
		EventType: EventRequestRejected,
		RequestID: requestID,
		ClientIP:  clientIP,
		Reason:    r.Reason,
		Success:   false,
		Error:     r.Message,
		Metadata:  map[string]string{"kind": kindName(r.Kind)},
	}
	if r.Details != nil {
		if len(r.Details.DangerousKeys) > 0 {
			event.Metadata["dangerous_keys"] = strings.Join(r.Details.DangerousKeys, ",")
		}
		if len(r.Details.DangerousValues) > 0 {
			event.Metadata["dangerous_values"] = strings.Join(r.Details.DangerousValues, " | ")
		}
	}
	return l.Log(event)
}

// LogEvent records a generic successful event.
func (l *FileLogger) LogEvent(eventType string, metadata map[string]string) error {
	return l.Log(Event{EventType: eventType, Success: true, Metadata: metadata})
}

func kindName(kind error) string {
	switch {
	case errors.Is(kind, security.ErrFormat):
		return "format"
	case errors.Is(kind, security.ErrSecurityRejection):
		return "security"
	case errors.Is(kind, security.ErrConfiguration):
		return "configuration"
	default:
		return "unknown"
	}
}

// =============================================================================
// REDACTION
// =============================================================================

// Redact applies all redactors to input.
func (l *FileLogger) Redact(input string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redactLocked(input)
}

func (l *FileLogger) redactLocked(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range l.redactors {
		result = r.Redact(result)
	}
	return result
}

// AddRedactor adds a custom redactor.
func (l *FileLogger) AddRedactor(r Redactor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redactors = append(l.redactors, r)
}

// RedactorNames lists the active redactors in sorted order.
func (l *FileLogger) RedactorNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.redactors))
	for _, r := range l.redactors {
		names = append(names, r.Name())
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// FILE ROTATION
// =============================================================================

// Rotate renames the current file with a timestamp suffix and reopens path.
func (l *FileLogger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func (l *FileLogger) rotateLocked() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		l.file, l.w, l.broken = nil, nil, err
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}

	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotatedPath := fmt.Sprintf("%s_%s%s", base, l.now().Format("20060102_150405.000000000"), ext)

	if err := l.rename(l.path, rotatedPath); err != nil {
		rerr := fmt.Errorf("failed to rotate audit log: %w", err)
		if oerr := l.openLocked(); oerr != nil {
			return errors.Join(rerr, fmt.Errorf("failed to reopen audit log: %w", oerr))
		}
		return rerr
	}

	if err := l.openLocked(); err != nil {
		return fmt.Errorf("failed to create new audit log after rotation: %w", err)
	}
	return nil
}

// openLocked (re)opens path. On failure the logger is marked broken.
func (l *FileLogger) openLocked() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		l.file, l.w, l.broken = nil, nil, err
		return err
	}
	l.file, l.w, l.broken = file, file, nil
	return nil
}

// reopenLocked retries the open of a broken logger.
func (l *FileLogger) reopenLocked() error {
	if l.broken == nil {
		return nil
	}
	if err := l.openLocked(); err != nil {
		return fmt.Errorf("audit log unavailable: %w", err)
	}
	return nil
}

func (l *FileLogger) checkRotationLocked() error {
	if l.file == nil || l.maxSize <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return nil
	}
	if info.Size() >= l.maxSize {
		return l.rotateLocked()
	}
	return nil
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SetMaxSize sets the rotation threshold. Zero disables rotation.
func (l *FileLogger) SetMaxSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
}

// SetOnFailure registers a write-failure callback.
func (l *FileLogger) SetOnFailure(cb FailureCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFailure = cb
}

// FailureCount returns the number of consecutive failed writes.
func (l *FileLogger) FailureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failureCount
}

// Path returns the log file path, or "" for writer-backed loggers.
func (l *FileLogger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Sync flushes the log file to disk.
func (l *FileLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken != nil {
		return fmt.Errorf("audit log unavailable: %w", l.broken)
	}
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close closes the log file. Later writes are dropped.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w = nil
	l.closed = true
	l.broken = nil
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// =============================================================================
// NO-OP LOGGER
// =============================================================================

// NopLogger discards every event.
type NopLogger struct{}

// NewNopLogger returns a Logger for when auditing is disabled.
func NewNopLogger() Logger {
	return NopLogger{}
}

func (NopLogger) Log(Event) error                                         { return nil }
func (NopLogger) LogRejection(string, string, *security.Rejection) error { return nil }
func (NopLogger) LogEvent(string, map[string]string) error               { return nil }
func (NopLogger) Close() error                                           { return nil }
