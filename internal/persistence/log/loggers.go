package log

import (
	"path/filepath"

	"brickstream.ai/internal/stream/runtime"
	"brickstream.ai/internal/transport/ws"
)

// FrameLogger writes one JSONL entry per streaming frame (compressed).
type FrameLogger struct{ w *JSONLZstdWriter }

func NewFrameLogger(dataDir string) *FrameLogger {
	return &FrameLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "frames"), "frames")}
}

func (l *FrameLogger) WriteFrame(v runtime.FrameLogEntry) error { return l.w.Write(v) }
func (l *FrameLogger) Close() error                             { return l.w.Close() }

// SessionLogger writes session JSONL entries (compressed).
type SessionLogger struct{ w *JSONLZstdWriter }

func NewSessionLogger(dataDir string) *SessionLogger {
	return &SessionLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "sessions"), "sessions")}
}

func (l *SessionLogger) WriteSession(v ws.SessionEvent) error { return l.w.Write(v) }
func (l *SessionLogger) Close() error                         { return l.w.Close() }
