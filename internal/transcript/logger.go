// Package transcript writes a per-session NDJSON log of practice activity.
//
// Events are queued and written by a single background goroutine so that
// request handlers never wait on disk. When the queue is full the oldest
// pending event is dropped.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	EventSessionCreated = "session_created"
	EventMessage        = "message"
	EventReply          = "reply"
	EventEvaluation     = "evaluation"
	EventSessionExpired = "session_expired"
)

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one line of a transcript file.
type Event struct {
	Timestamp    time.Time `json:"ts"`
	LearnerID    string    `json:"learner_id"`
	SessionID    string    `json:"session_id"`
	ScenarioID   string    `json:"scenario_id,omitempty"`
	EventType    string    `json:"event_type"`
	MessageID    string    `json:"message_id,omitempty"`
	Role         string    `json:"role,omitempty"`
	Content      string    `json:"content,omitempty"`
	ContentRaw   string    `json:"content_raw,omitempty"`
	OverallScore *int      `json:"overall_score,omitempty"`
	Passing      *bool     `json:"passing,omitempty"`
}

// Logger records transcript events.
type Logger interface {
	Log(event Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(Event)    {}
func (Nop) Close() error { return nil }

// FileLogger appends events to <dir>/<learner>/<session>.ndjson.
type FileLogger struct {
	dir    string
	queue  chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// New returns a FileLogger, or Nop when logging is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1000
	}

	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, size),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

// Log queues an event. It never blocks.
func (l *FileLogger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ContentRaw != "" && event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- event:
		return
	default:
	}

	// Queue full: drop the oldest pending event to make room.
	select {
	case <-l.queue:
		l.dropped.Add(1)
	default:
	}
	select {
	case l.queue <- event:
	default:
		l.dropped.Add(1)
	}
	l.logger.Warn("Transcript queue full, dropped oldest event",
		"session_id", event.SessionID,
		"dropped_total", l.dropped.Load(),
	)
}

func (l *FileLogger) run() {
	defer close(l.done)
	for {
		select {
		case event := <-l.queue:
			l.write(event)
		case <-l.stop:
			for {
				select {
				case event := <-l.queue:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *FileLogger) write(event Event) {
	path := l.pathFor(event)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.logger.Warn("Failed to create transcript dir", "path", path, "error", err)
		return
	}

	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("Failed to encode transcript event", "session_id", event.SessionID, "error", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("Failed to open transcript file", "path", path, "error", err)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Debug("failed to close transcript file", "path", path, "error", closeErr)
		}
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Failed to write transcript event", "path", path, "error", err)
		return
	}
	l.written.Add(1)
}

func (l *FileLogger) pathFor(event Event) string {
	learner := safeName(event.LearnerID, "anonymous")
	session := safeName(event.SessionID, "unknown")
	return filepath.Join(l.dir, learner, session+".ndjson")
}

// Close flushes pending events and stops the writer. It waits at most five
// seconds.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		l.logger.Warn("Transcript writer shutdown timeout", "queue_remaining", len(l.queue))
	}
	l.logger.Info("Transcript writer stopped",
		"written", l.written.Load(),
		"dropped", l.dropped.Load(),
	)
	return nil
}

// Stats returns writer statistics.
func (l *FileLogger) Stats() map[string]any {
	return map[string]any{
		"queue_len":      len(l.queue),
		"queue_capacity": cap(l.queue),
		"written":        l.written.Load(),
		"dropped":        l.dropped.Load(),
	}
}

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	spacePattern    = regexp.MustCompile(`[ \t]+`)
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of spaces.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func safeName(s, fallback string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return fallback
	}
	return s
}
