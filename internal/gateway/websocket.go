// ABOUTME: Websocket transport between browser clients and the collaboration coordinator
// ABOUTME: Authenticates the handshake, then runs one reader and one writer per connection

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-collab/internal/collab"
	"github.com/2389/coven-collab/internal/config"
	"github.com/2389/coven-collab/internal/events"
)

// writeWait bounds every frame write, including pings and the close frame.
const writeWait = 10 * time.Second

func (g *Gateway) maxMessageBytes() int64 {
	if n := g.config.Collab.MaxMessageBytes; n > 0 {
		return n
	}
	return config.DefaultMaxMessageBytes
}

// handleWebSocket authenticates the handshake and upgrades the request.
// Unauthenticated handshakes are refused before any upgrade happens.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		g.sendJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	id, err := g.authenticator.Authenticate(r)
	if err != nil {
		g.onAuthReject(r, err)
		g.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		g.logger.Debug("websocket upgrade failed", "user_id", id.UserID, "error", err)
		return
	}

	conn, out, err := g.coordinator.Connect(id)
	if err != nil {
		g.logger.Warn("refusing websocket connection", "user_id", id.UserID, "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	g.liveness.Touch(conn.ID)

	logger := g.logger.With("conn_id", conn.ID, "user_id", id.UserID)
	logger.Debug("websocket established", "remote_addr", r.RemoteAddr)

	go g.writePump(ws, out, logger)
	g.readPump(r.Context(), ws, conn, logger)
}

// readPump feeds inbound frames to the coordinator until the socket fails.
// On return the connection is torn down through the lifecycle manager.
func (g *Gateway) readPump(ctx context.Context, ws *websocket.Conn, conn *collab.Conn, logger *slog.Logger) {
	defer func() {
		g.liveness.Forget(conn.ID)
		g.coordinator.Disconnect(conn.ID)
	}()

	ws.SetReadLimit(g.maxMessageBytes())
	ws.SetPongHandler(func(string) error {
		g.liveness.Touch(conn.ID)
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		g.liveness.Touch(conn.ID)

		if err := g.coordinator.HandleRaw(ctx, conn, data); err != nil {
			if errors.Is(err, collab.ErrUnknownConnection) {
				return
			}
			logger.Debug("event rejected", "error", err)
		}
	}
}

// writePump drains the outbound queue onto the socket and pings on the
// heartbeat interval. It owns closing the socket.
func (g *Gateway) writePump(ws *websocket.Conn, out <-chan events.Event, logger *slog.Logger) {
	defer ws.Close()

	var ping <-chan time.Time
	if g.config.Collab.HeartbeatInterval > 0 {
		ticker := time.NewTicker(g.config.Collab.HeartbeatInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case ev, ok := <-out:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := events.Marshal(ev)
			if err != nil {
				logger.Error("encoding outbound event", "event", ev.Kind(), "error", err)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
