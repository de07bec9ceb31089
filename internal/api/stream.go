package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// The control API only listens locally
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleTranscriptStream pushes the running transcript to a websocket
// client on every update, starting with the current snapshot.
func (s *Server) handleTranscriptStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade transcript stream")
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.console.Subscribe()
	defer unsubscribe()

	// The client sends nothing; reading only detects the disconnect
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger := s.logger.With().Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("Transcript stream connected")

	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(s.console.Transcript()); err != nil {
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			logger.Info().Msg("Transcript stream disconnected")
			return
		case running, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(running); err != nil {
				logger.Warn().Err(err).Msg("Transcript stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}
