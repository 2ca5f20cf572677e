package assistant

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InteractionLogConfig controls NDJSON interaction logging.
type InteractionLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// InteractionLogEvent is one pipeline phase observation. The durable
// record of an exchange is the logs table; these files exist for
// operators who want to replay how a reply came to be.
type InteractionLogEvent struct {
	EventID   string `json:"event_id"`
	UserID    int64  `json:"user_id"`
	SessionID int64  `json:"session_id,omitempty"`
	Phase     string `json:"phase"` // plan, dispatch, synthesize, log
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"ts"`
}

// InteractionLogger appends events to per-user NDJSON files through a
// bounded queue; writes are asynchronous and best-effort, and never
// fail the request that produced them.
type InteractionLogger struct {
	cfg    InteractionLogConfig
	logger *slog.Logger
	queue  chan InteractionLogEvent
	done   chan struct{}
	once   sync.Once
}

// NewInteractionLogger creates the logger and starts its writer. A
// disabled config returns a logger whose Log is a no-op.
func NewInteractionLogger(cfg InteractionLogConfig, logger *slog.Logger) (*InteractionLogger, error) {
	l := &InteractionLogger{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	if !cfg.Enabled {
		return l, nil
	}

	if l.cfg.QueueSize <= 0 {
		l.cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create interaction log directory: %w", err)
	}

	l.queue = make(chan InteractionLogEvent, l.cfg.QueueSize)
	go l.run()
	return l, nil
}

// Log enqueues an event. Drops with a warning when the queue is full.
func (l *InteractionLogger) Log(event InteractionLogEvent) {
	if !l.cfg.Enabled {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	select {
	case l.queue <- event:
	default:
		l.logger.Warn("interaction log queue full, dropping event",
			"user_id", event.UserID, "phase", event.Phase)
	}
}

// Close stops the writer after draining queued events.
func (l *InteractionLogger) Close() error {
	if !l.cfg.Enabled {
		return nil
	}
	l.once.Do(func() {
		close(l.queue)
		<-l.done
	})
	return nil
}

func (l *InteractionLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write interaction log event",
				"user_id", event.UserID, "phase", event.Phase, "error", err)
		}
	}
}

func (l *InteractionLogger) write(event InteractionLogEvent) error {
	path := filepath.Join(l.cfg.Dir, fmt.Sprintf("user_%d.ndjson", event.UserID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Warn("failed to close interaction log file", "path", path, "error", closeErr)
		}
	}()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
