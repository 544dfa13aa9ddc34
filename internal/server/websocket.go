package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radiomirchi/radio-mirchi/internal/mission"
	"github.com/radiomirchi/radio-mirchi/internal/protocol"
)

const (
	// maxFrameBytes bounds inbound frames; voice frames are a few KiB
	maxFrameBytes = 1 << 20
	closeTimeout  = time.Second
)

// checkOrigin allows same-origin requests, requests without an Origin header
// (native clients) and configured origins. "*" allows any origin.
func (h *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (h *HTTPServer) activeConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.wsConns
}

func (h *HTTPServer) trackConnection(delta int) {
	h.mu.Lock()
	h.wsConns += delta
	h.mu.Unlock()
}

// wsSender writes game frames to one WebSocket. gorilla connections allow a
// single concurrent writer.
type wsSender struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newWSSender(conn *websocket.Conn, writeTimeout time.Duration) *wsSender {
	return &wsSender{conn: conn, writeTimeout: writeTimeout}
}

func (s *wsSender) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return websocket.ErrCloseSent
	}
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(messageType, data)
}

// SendMessage writes a JSON text frame
func (s *wsSender) SendMessage(msg *protocol.ServerMessage) error {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

// SendAudio writes a binary PCM frame
func (s *wsSender) SendAudio(pcm []byte) error {
	return s.write(websocket.BinaryMessage, pcm)
}

// Close sends a close frame and closes the connection
func (s *wsSender) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	s.mu.Unlock()

	return s.conn.Close()
}

// handleWebSocket runs the live broadcast for one mission. The session
// reports unknown or unfinished missions over the socket.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	missionID := r.PathValue("id")
	logger := h.logger.With(slog.String("mission_id", missionID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	h.trackConnection(1)
	defer h.trackConnection(-1)

	sender := newWSSender(conn, h.config.Server.GetWriteTimeout())

	session, err := h.games.CreateSession(missionID, sender)
	if err != nil {
		logger.Error("Failed to create game session", slog.String("error", err.Error()))
		_ = sender.SendMessage(protocol.Error(err.Error()))
		_ = sender.Close(websocket.CloseInternalServerErr, "session unavailable")
		return
	}
	defer h.games.RemoveSession(missionID, session)

	logger.Info("Client connected", slog.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		h.readLoop(conn, sender, session, logger)
	}()

	runErr := session.Run(ctx)

	code, reason := websocket.CloseNormalClosure, ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, mission.ErrNotReady):
		code, reason = websocket.ClosePolicyViolation, "mission not ready"
	default:
		logger.Info("Game session ended", slog.String("error", runErr.Error()))
		code = websocket.CloseGoingAway
	}

	_ = sender.Close(code, reason)
	<-readDone

	logger.Info("Client disconnected")
}

// gameSession is the part of *game.Session the read loop drives
type gameSession interface {
	HandleUserText(text, source string)
	HandleAudio(pcm []byte)
	HandleVoiceEnd()
}

// readLoop feeds client frames to the session until the connection fails
func (h *HTTPServer) readLoop(conn *websocket.Conn, sender *wsSender, session gameSession, logger *slog.Logger) {
	maxLen := h.config.Game.MaxUserDialogue

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read failed", slog.String("error", err.Error()))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			session.HandleAudio(data)

		case websocket.TextMessage:
			msg, err := protocol.ParseClientMessage(data, maxLen)
			if err != nil {
				logger.Debug("Invalid client message", slog.String("error", err.Error()))
				if sendErr := sender.SendMessage(protocol.Error(fmt.Sprintf("invalid message: %v", err))); sendErr != nil {
					return
				}
				continue
			}

			switch msg.Type {
			case protocol.TypeUserDialogue:
				session.HandleUserText(msg.UserDialogue, "text")
			case protocol.TypeVoiceEnd:
				session.HandleVoiceEnd()
			}
		}
	}
}
