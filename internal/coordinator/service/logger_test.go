package service

import (
	"slices"
	"sync"
)

type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *testLogger) Debug(msg string, args ...any) { l.record(msg) }
func (l *testLogger) Info(msg string, args ...any)  { l.record(msg) }
func (l *testLogger) Warn(msg string, args ...any)  { l.record(msg) }
func (l *testLogger) Error(msg string, args ...any) { l.record(msg) }
func (l *testLogger) Fatal(msg string, args ...any) { l.record(msg) }

func (l *testLogger) getMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.messages...)
}

func (l *testLogger) has(msg string) bool {
	return slices.Contains(l.getMessages(), msg)
}
