package model

import (
	"sync"
	"time"
)

// Level is the severity of a flash message.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelErr
)

// Flash holds one transient status-bar message. The zero value is ready to use.
type Flash struct {
	mu      sync.RWMutex
	message string
	level   Level
	expires time.Time
	now     func() time.Time
}

// Info shows msg for five seconds.
func (f *Flash) Info(msg string) { f.set(msg, LevelInfo, 5*time.Second) }

// Warn shows msg for eight seconds.
func (f *Flash) Warn(msg string) { f.set(msg, LevelWarn, 8*time.Second) }

// Err shows err for ten seconds.
func (f *Flash) Err(err error) { f.set(err.Error(), LevelErr, 10*time.Second) }

// Set stores an info message that expires after the given duration.
func (f *Flash) Set(msg string, d time.Duration) { f.set(msg, LevelInfo, d) }

func (f *Flash) set(msg string, level Level, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.level = level
	f.expires = f.clock().Add(d)
}

// Get returns the current message and its level, or empty if expired.
func (f *Flash) Get() (string, Level) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.message == "" || !f.clock().Before(f.expires) {
		return "", LevelInfo
	}
	return f.message, f.level
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}
