package server

import (
	"encoding/json"
	"time"
)

const EventVersion = 1

// Connection-level events. Session events are named in package session.
const (
	EventConnection = "connection"

	CmdSessionStart  = "session:start"
	CmdAudioChunk    = "audio:chunk"
	CmdVideoUpload   = "video:upload"
	CmdSessionPause  = "session:pause"
	CmdSessionResume = "session:resume"
	CmdSessionStop   = "session:stop"
	CmdSessionCancel = "session:cancel"
	CmdSessionStatus = "session:status"
)

// Envelope wraps every outbound frame.
type Envelope struct {
	Event     string `json:"event"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// Frame is an inbound command. Data is decoded per event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type ConnectionPayload struct {
	ConnectionID string `json:"connectionId"`
	Connected    bool   `json:"connected"`
}

type StartCommand struct {
	OwnerID string `json:"ownerId"`
	Mode    string `json:"mode"`
}

// SessionCommand is the payload of pause, resume, stop, cancel and status.
type SessionCommand struct {
	SessionID string `json:"sessionId"`
}

type ChunkCommand struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
	Size      int    `json:"size"`
}

type UploadCommand struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
	Filename  string `json:"filename"`
	FileSize  int64  `json:"fileSize"`
}

func newEnvelope(event string, now time.Time, data any) Envelope {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Envelope{
		Event:     event,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}
