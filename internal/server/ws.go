package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sjawhar/meetscribe/internal/logging"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	commandQueue = 64
	// frameOverhead covers the JSON around a base64 payload.
	frameOverhead = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// readLimit is the largest inbound frame accepted. It leaves room for
// uploads up to twice the configured limit so those are answered with a
// size_limit error instead of a dropped connection.
func readLimit(maxUploadBytes int64) int64 {
	if maxUploadBytes <= 0 {
		return 0
	}
	return 2*maxUploadBytes*4/3 + frameOverhead
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log := logging.WithComponent("ws")
		log.Warn().Err(err).Msg("Upgrade failed")
		return
	}

	connID := uuid.NewString()
	log := logging.WithComponent("ws").With().Str("connectionId", connID).Logger()
	c := s.hub.register(connID)
	s.metrics.RecordConnection(1)
	log.Info().Str("remote", r.RemoteAddr).Msg("Client connected")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	commands := make(chan Frame, commandQueue)
	stop := make(chan struct{})

	var writer, worker sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		s.writePump(conn, c, stop)
	}()
	worker.Add(1)
	go func() {
		defer worker.Done()
		for f := range commands {
			s.dispatch(ctx, connID, f)
		}
	}()

	s.hub.Send(connID, EventConnection, ConnectionPayload{ConnectionID: connID, Connected: true})
	s.readPump(ctx, conn, connID, commands, log)

	// Queued commands still run so a pending stop finalizes, but with a
	// cancelled context adapters give up quickly.
	cancel()
	close(commands)
	worker.Wait()

	s.sessions.Disconnect(connID)
	s.hub.unregister(connID)
	close(stop)
	writer.Wait()
	_ = conn.Close()

	s.metrics.RecordConnection(-1)
	log.Info().Msg("Client disconnected")
}

// readPump decodes frames until the connection fails. Status queries are
// answered inline; everything else goes to the connection's worker in
// arrival order. A status reply can therefore overtake commands that are
// still queued and report the state from before them.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, connID string, commands chan<- Frame, log zerolog.Logger) {
	if limit := readLimit(s.maxUploadBytes); limit > 0 {
		conn.SetReadLimit(limit)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Connection closed unexpectedly")
			} else if errors.Is(err, websocket.ErrReadLimit) {
				log.Warn().Int64("limit", readLimit(s.maxUploadBytes)).Msg("Frame exceeds read limit")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			s.reject(connID, "", invalidPayload("frame must be a JSON object with an event"))
			continue
		}
		if f.Event == CmdSessionStatus {
			s.dispatch(ctx, connID, f)
			continue
		}
		commands <- f
	}
}

func (s *Server) writePump(conn *websocket.Conn, c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.kick:
			return
		case <-stop:
			s.flush(conn, c)
			return
		}
	}
}

// flush writes whatever is still queued once the connection is shutting
// down.
func (s *Server) flush(conn *websocket.Conn, c *client) {
	for {
		select {
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
