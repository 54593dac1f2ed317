package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser dashboard connects cross-origin in development; CORS
	// already gates the REST surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleMonitorWS streams the plant status board to the client on the
// configured push interval until the peer disconnects.
func (s *Server) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()
	s.logger.Info("monitor stream opened", zap.String("remote", conn.RemoteAddr().String()))

	// Reader only consumes control frames; any read error ends the stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			metrics.WebSocketMessagesTotal.WithLabelValues("in").Inc()
		}
	}()

	interval := time.Duration(s.cfg.Monitor.PushInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	push := time.NewTicker(interval)
	defer push.Stop()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	if err := s.pushStatus(conn, r); err != nil {
		return
	}
	for {
		select {
		case <-done:
			s.logger.Info("monitor stream closed", zap.String("remote", conn.RemoteAddr().String()))
			return
		case <-r.Context().Done():
			return
		case <-push.C:
			if err := s.pushStatus(conn, r); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) pushStatus(conn *websocket.Conn, r *http.Request) error {
	board, err := s.monitor.LatestStatus(r.Context())
	if err != nil {
		s.logger.Warn("monitor push failed", zap.Error(err))
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(map[string]any{
		"type":  "latest_status",
		"units": board,
		"ts":    time.Now().UTC(),
	}); err != nil {
		return err
	}
	metrics.WebSocketMessagesTotal.WithLabelValues("out").Inc()
	return nil
}
