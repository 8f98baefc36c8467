package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sjawhar/meetscribe/internal/logging"
	"github.com/sjawhar/meetscribe/internal/session"
)

// errInvalidPayload maps to the invalid_payload code.
var errInvalidPayload = errors.New("invalid payload")

func invalidPayload(msg string) error {
	return fmt.Errorf("%w: %s", errInvalidPayload, msg)
}

// dispatch runs one inbound command. Successful commands answer through the
// events the session manager emits; failures are reported here.
func (s *Server) dispatch(ctx context.Context, connID string, f Frame) {
	if err := s.run(ctx, connID, f); err != nil {
		s.reject(connID, f.Event, err)
	}
}

func (s *Server) run(ctx context.Context, connID string, f Frame) error {
	switch f.Event {
	case CmdSessionStart:
		var cmd StartCommand
		if err := decode(f.Data, &cmd); err != nil {
			return err
		}
		if strings.TrimSpace(cmd.OwnerID) == "" {
			return invalidPayload("ownerId is required")
		}
		_, err := s.sessions.Start(ctx, connID, cmd.OwnerID, session.Mode(cmd.Mode))
		return err

	case CmdAudioChunk:
		var cmd ChunkCommand
		if err := decodeSession(f.Data, &cmd, &cmd.SessionID); err != nil {
			return err
		}
		data, err := decodeBinary(cmd.Data)
		if err != nil {
			return err
		}
		_, err = s.sessions.Ingest(ctx, connID, cmd.SessionID, session.AudioChunk{
			Data:      data,
			Timestamp: cmd.Timestamp,
			Size:      cmd.Size,
		})
		return err

	case CmdVideoUpload:
		var cmd UploadCommand
		if err := decodeSession(f.Data, &cmd, &cmd.SessionID); err != nil {
			return err
		}
		data, err := decodeBinary(cmd.Data)
		if err != nil {
			return err
		}
		_, err = s.sessions.Upload(ctx, connID, cmd.SessionID, session.Upload{
			Data:     data,
			Filename: cmd.Filename,
			FileSize: cmd.FileSize,
		})
		return err

	case CmdSessionPause, CmdSessionResume, CmdSessionStop, CmdSessionCancel, CmdSessionStatus:
		var cmd SessionCommand
		if err := decodeSession(f.Data, &cmd, &cmd.SessionID); err != nil {
			return err
		}
		return s.control(ctx, connID, f.Event, cmd.SessionID)

	default:
		return invalidPayload(fmt.Sprintf("unknown event %q", f.Event))
	}
}

func (s *Server) control(ctx context.Context, connID, event, sessionID string) error {
	switch event {
	case CmdSessionPause:
		return s.sessions.Pause(ctx, connID, sessionID)
	case CmdSessionResume:
		return s.sessions.Resume(ctx, connID, sessionID)
	case CmdSessionCancel:
		return s.sessions.Cancel(ctx, connID, sessionID)
	case CmdSessionStop:
		_, err := s.sessions.Stop(ctx, connID, sessionID)
		return err
	default:
		return s.status(ctx, connID, sessionID)
	}
}

// status reports a held session's state, or the stored status of one that
// has already been released.
func (s *Server) status(ctx context.Context, connID, sessionID string) error {
	state, err := s.sessions.Status(connID, sessionID)
	if err == nil {
		s.hub.Send(connID, session.EventStatusUpdate, session.StatusPayload{SessionID: sessionID, Status: state})
		return nil
	}
	if s.store == nil || !(errors.Is(err, session.ErrNoSession) || errors.Is(err, session.ErrSessionMismatch)) {
		return err
	}

	rec, serr := s.store.GetSession(ctx, sessionID)
	if serr != nil {
		return err
	}
	s.hub.Send(connID, session.EventStatusUpdate, session.StatusPayload{SessionID: sessionID, Status: session.State(rec.Status)})
	return nil
}

func (s *Server) reject(connID, event string, err error) {
	code := session.ErrorCode(err)
	name := session.EventError
	if session.IsUploadError(err) {
		name = session.EventVideoError
	}

	s.metrics.RecordRejected(code)
	log := logging.WithComponent("ws")
	log.Debug().
		Err(err).
		Str("connectionId", connID).
		Str("command", event).
		Str("code", code).
		Msg("Command rejected")

	s.hub.Send(connID, name, session.MessagePayload{Message: err.Error(), Code: code})
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return invalidPayload("data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", errInvalidPayload, err)
	}
	return nil
}

func decodeSession(raw json.RawMessage, v any, sessionID *string) error {
	if err := decode(raw, v); err != nil {
		return err
	}
	if strings.TrimSpace(*sessionID) == "" {
		return invalidPayload("sessionId is required")
	}
	return nil
}

// decodeBinary accepts plain base64 or a base64 data URL.
func decodeBinary(raw string) ([]byte, error) {
	if strings.HasPrefix(raw, "data:") {
		if i := strings.Index(raw, ";base64,"); i >= 0 {
			raw = raw[i+len(";base64,"):]
		}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: data is not base64: %w", errInvalidPayload, err)
	}
	return data, nil
}
