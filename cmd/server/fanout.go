package main

import (
	"brickstream.ai/internal/stream/runtime"
	"brickstream.ai/internal/transport/ws"
)

type multiFrameRecorder struct {
	a runtime.FrameRecorder
	b runtime.FrameRecorder
}

func (m multiFrameRecorder) WriteFrame(entry runtime.FrameLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteFrame(entry)
	}
	if m.b != nil {
		_ = m.b.WriteFrame(entry)
	}
	return nil
}

type multiSessionRecorder struct {
	a ws.SessionRecorder
	b ws.SessionRecorder
}

func (m multiSessionRecorder) WriteSession(ev ws.SessionEvent) error {
	if m.a != nil {
		_ = m.a.WriteSession(ev)
	}
	if m.b != nil {
		_ = m.b.WriteSession(ev)
	}
	return nil
}
