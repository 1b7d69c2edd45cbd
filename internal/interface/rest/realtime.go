package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type realtimeRequest struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets"`
}

// handleRealtime streams pairing events of the assets a client listens to.
func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	input := make(chan []string)
	output := h.signal.Realtime(ctx, input)

	go func() {
		defer cancel()
		for {
			var req realtimeRequest
			err := ws.ReadJSON(&req)
			if err != nil {
				if wsErr, ok := err.(*websocket.CloseError); ok {
					if wsErr.Code != websocket.CloseNormalClosure && wsErr.Code != websocket.CloseGoingAway {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}
				return
			}

			switch req.Type {
			case "listen":
				select {
				case input <- req.Assets:
				case <-ctx.Done():
					return
				}
				slog.DebugContext(
					ctx, "Socket subscribe",
					slog.Any("assets", req.Assets),
					slog.String("module", "socket"),
				)
			case "h": // heartbeat
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for event := range output {
		if err := ws.WriteJSON(event); err != nil {
			slog.ErrorContext(
				ctx, "Error writing message",
				slog.String("error", err.Error()),
				slog.String("module", "socket"),
			)
			return nil
		}
	}
	return nil
}
