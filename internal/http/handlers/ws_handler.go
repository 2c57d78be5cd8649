package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	applog "fixmarket/internal/log"
	"fixmarket/internal/notify"
	"fixmarket/internal/validate"
)

// WSHandler exposes the realtime channels over WebSocket:
// GET /ws?channels=category:plumbing,request:<id>,user:<id>
// Push is advisory only; clients reconcile through the query API.
type WSHandler struct {
	Hub *notify.Hub
}

// UpgradeGuard validates the subscription before the protocol switch.
func (h *WSHandler) UpgradeGuard() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "websocket upgrade required"})
		}
		channels, ok := parseChannels(c.Query("channels"))
		if !ok {
			applog.Security(c, "ws.channels.invalid", map[string]any{"raw": c.Query("channels")})
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid channels"})
		}
		c.Locals("ws_channels", channels)
		return c.Next()
	}
}

// Serve pumps hub events to the socket. Client frames are drained and
// discarded; the protocol is server push only.
func (h *WSHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		channels, _ := conn.Locals("ws_channels").([]string)
		sub := h.Hub.Subscribe(channels, 64)
		defer h.Hub.Unsubscribe(sub)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	})
}

func parseChannels(raw string) ([]string, bool) {
	if raw == "" {
		return nil, false
	}
	parts := strings.Split(raw, ",")
	if len(parts) > 16 {
		return nil, false
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		ch, ok := validate.Channel(p)
		if !ok {
			return nil, false
		}
		out = append(out, ch)
	}
	return out, true
}
