package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"order-metrics/internal/broadcast"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// wsConn adapts a websocket connection to broadcast.Conn. Frames are JSON text messages.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, msg broadcast.Message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type wsRequest struct {
	Type string `json:"type"`
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		zap.L().Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	sub, err := s.broadcast.Subscribe(uuid.NewString(), &wsConn{conn: conn})
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	// unblock the read loop once the subscription ends on its own
	go func() {
		<-sub.Done()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("Websocket closed", zap.String("subscriber", sub.ID()), zap.Error(err))
			}
			return
		}

		var req wsRequest
		if err := sonic.Unmarshal(data, &req); err != nil {
			zap.L().Debug("Ignoring malformed websocket request", zap.String("subscriber", sub.ID()), zap.Error(err))
			continue
		}
		if err := sub.Request(r.Context(), req.Type); err != nil {
			if errors.Is(err, broadcast.ErrSubscriptionClosed) {
				return
			}
			zap.L().Debug("Websocket request failed",
				zap.String("subscriber", sub.ID()),
				zap.String("type", req.Type),
				zap.Error(err))
		}
	}
}
