// Package audit records moderation command invocations in an append-only
// JSON-lines file. Every event carries an HMAC over its content and the hash
// of the event before it, so edits and deletions break the chain.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventTypeCommandExecuted  EventType = "command_executed"
	EventTypeCommandFailed    EventType = "command_failed"
	EventTypePermissionDenied EventType = "permission_denied"
	EventTypeRateLimitHit     EventType = "rate_limit_hit"
	EventTypeConfigChange     EventType = "config_change"
)

// Event represents a single audit event.
type Event struct {
	Timestamp    time.Time      `json:"timestamp"`
	EventType    EventType      `json:"event_type"`
	Actor        string         `json:"actor,omitempty"`    // actor id
	Action       string         `json:"action"`             // canonical command name, or "unknown"
	Resource     string         `json:"resource,omitempty"` // raw invocation text
	Details      map[string]any `json:"details,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	Hash         string         `json:"hash,omitempty"`
	PreviousHash string         `json:"previous_hash,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	Enabled       bool
	LogDenials    bool // permission-denied and rate-limit events
	RetentionDays int
	SecretKey     []byte
	LogFilePath   string
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Enabled:       true,
		LogDenials:    true,
		RetentionDays: 30,
		LogFilePath:   filepath.Join(home, ".modclaw", "audit.log"),
	}
}

// Logger provides audit logging capabilities.
type Logger struct {
	config   Config
	file     *os.File
	mu       sync.Mutex
	lastHash string
}

// New opens the audit log at config.LogFilePath. A disabled config yields a
// logger that accepts and drops every event.
func New(config Config) (*Logger, error) {
	l := &Logger{config: config}
	if err := l.init(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) init() error {
	if !l.config.Enabled {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.config.LogFilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	if len(l.config.SecretKey) == 0 {
		key, err := generateSecretKey()
		if err != nil {
			return err
		}
		l.config.SecretKey = key
	}

	last, err := l.readLastHash()
	if err != nil {
		return err
	}
	l.lastHash = last

	file, err := os.OpenFile(l.config.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	return nil
}

// readLastHash resumes the chain of an existing log file.
func (l *Logger) readLastHash() (string, error) {
	data, err := os.ReadFile(l.config.LogFilePath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read audit log: %w", err)
	}
	lines := nonEmptyLines(data)
	if len(lines) == 0 {
		return "", nil
	}
	var event Event
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &event); err != nil {
		return "", fmt.Errorf("failed to parse last audit event: %w", err)
	}
	return event.Hash, nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Log records an audit event.
func (l *Logger) Log(event Event) error {
	if l == nil || !l.config.Enabled || !l.shouldLog(event.EventType) {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	event.PreviousHash = l.lastHash
	event.Hash = l.computeHash(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if l.file != nil {
		if _, err := l.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write audit event: %w", err)
		}
	}

	l.lastHash = event.Hash
	return nil
}

func (l *Logger) shouldLog(eventType EventType) bool {
	switch eventType {
	case EventTypePermissionDenied, EventTypeRateLimitHit:
		return l.config.LogDenials
	default:
		return true
	}
}

func (l *Logger) computeHash(event Event) string {
	signData := fmt.Sprintf("%s|%s|%s|%s|%s|%v|%s|%s",
		event.Timestamp.Format(time.RFC3339Nano),
		event.EventType,
		event.Actor,
		event.Action,
		event.Resource,
		event.Success,
		event.Error,
		event.PreviousHash,
	)

	h := hmac.New(sha256.New, l.config.SecretKey)
	h.Write([]byte(signData))
	return hex.EncodeToString(h.Sum(nil))
}

func generateSecretKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate audit key: %w", err)
	}
	return key, nil
}

// VerifyChain verifies the integrity of the audit log chain.
func (l *Logger) VerifyChain() (bool, error) {
	if !l.config.Enabled {
		return false, fmt.Errorf("audit logger not enabled")
	}

	data, err := os.ReadFile(l.config.LogFilePath)
	if err != nil {
		return false, fmt.Errorf("failed to read audit log: %w", err)
	}

	var prevHash string
	for i, line := range nonEmptyLines(data) {
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return false, fmt.Errorf("failed to parse event at line %d: %w", i+1, err)
		}

		if i > 0 && event.PreviousHash != prevHash {
			return false, fmt.Errorf("hash chain broken at line %d", i+1)
		}
		if event.Hash != l.computeHash(event) {
			return false, fmt.Errorf("event hash mismatch at line %d", i+1)
		}
		prevHash = event.Hash
	}

	return true, nil
}

// CleanupOldLogs removes events older than the retention period. The oldest
// kept event becomes the new head of the chain.
func (l *Logger) CleanupOldLogs() error {
	if !l.config.Enabled || l.config.RetentionDays <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.config.LogFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -l.config.RetentionDays)
	var kept strings.Builder
	for _, line := range nonEmptyLines(data) {
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if event.Timestamp.After(cutoff) {
			kept.WriteString(line)
			kept.WriteByte('\n')
		}
	}

	return os.WriteFile(l.config.LogFilePath, []byte(kept.String()), 0o600)
}

func nonEmptyLines(data []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
