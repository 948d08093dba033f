package mocks

import (
	"fmt"
	"sync"

	"github.com/user/subscale/pkg/ports"
)

// LogEntry is one recorded log call.
type LogEntry struct {
	Level     ports.LogLevel
	Component string
	Key       string
	Message   string
}

// Logger is a mock implementation of ports.Logger that records every call
// untranslated.
type Logger struct {
	component string
	store     *logStore
}

type logStore struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewLogger creates a new recording logger.
func NewLogger() *Logger {
	return &Logger{store: &logStore{}}
}

func (m *Logger) Debug(msg string, args ...interface{}) { m.record(ports.LevelDebug, msg, args) }

func (m *Logger) Info(msg string, args ...interface{}) { m.record(ports.LevelInfo, msg, args) }

func (m *Logger) Warn(msg string, args ...interface{}) { m.record(ports.LevelWarn, msg, args) }

func (m *Logger) Error(msg string, args ...interface{}) { m.record(ports.LevelError, msg, args) }

// WithComponent returns a logger sharing the same record.
func (m *Logger) WithComponent(component string) ports.Logger {
	if m.component != "" {
		component = m.component + "/" + component
	}
	return &Logger{component: component, store: m.store}
}

func (m *Logger) record(level ports.LogLevel, key string, args []interface{}) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.entries = append(m.store.entries, LogEntry{
		Level:     level,
		Component: m.component,
		Key:       key,
		Message:   fmt.Sprintf(key, args...),
	})
}

// Entries returns a copy of everything logged so far.
func (m *Logger) Entries() []LogEntry {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return append([]LogEntry(nil), m.store.entries...)
}

// HasKey reports whether a message with the given key was logged at level.
func (m *Logger) HasKey(level ports.LogLevel, key string) bool {
	for _, e := range m.Entries() {
		if e.Level == level && e.Key == key {
			return true
		}
	}
	return false
}

var _ ports.Logger = (*Logger)(nil)
