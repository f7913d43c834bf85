package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type statusFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   16 << 10,
		WriteBufferSize:  4 << 10,
		CheckOrigin:      s.checkOrigin,
	}
}

// checkOrigin accepts same-host requests, non-browser clients and the CORS
// allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.opts.CORSOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// handleAudioSocket acknowledges every binary frame. Audio is not processed
// yet; text frames are ignored.
func (s *Server) handleAudioSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	// the server's read/write timeouts would otherwise cut long sessions
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	log := s.logger.With("remote", r.RemoteAddr)
	log.Info("audio socket connected")

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Info("audio socket closed by client")
				return
			}
			log.Error("audio socket read failed", "error", err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		log.Debug("audio frame received", "bytes", len(data))
		if err := conn.WriteJSON(statusFrame{Type: "status", Message: "Audio received"}); err != nil {
			log.Error("audio socket write failed", "error", err)
			return
		}
	}
}
