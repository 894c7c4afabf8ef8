package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
	"github.com/getdatasurge/fresh-staged-sub013/internal/gateway"
)

// Close codes sent on server-initiated closes.
const (
	CloseCodeRevoked  = 4401
	CloseCodeShutdown = websocket.CloseGoingAway
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxCommand = 4096
)

// Command is a client request on the websocket.
type Command struct {
	Action string `json:"action"`
	gateway.RoomRequest
}

// Reply acknowledges a command.
type Reply struct {
	Type   string `json:"type"`
	Room   string `json:"room,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// WebSocketHandler serves GET /api/v1/live.
type WebSocketHandler struct {
	gateway  *gateway.Gateway
	upgrader websocket.Upgrader
	buffer   int
	logger   zerolog.Logger
}

// WebSocketOption configures the handler.
type WebSocketOption func(*WebSocketHandler)

// WithClientBuffer sets the per-connection frame buffer.
func WithClientBuffer(n int) WebSocketOption {
	return func(h *WebSocketHandler) {
		h.buffer = n
	}
}

// WithAllowedOrigins restricts browser origins. Empty allows any origin.
func WithAllowedOrigins(origins []string) WebSocketOption {
	return func(h *WebSocketHandler) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			allowed[origin] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// WithWebSocketLogger assigns a logger.
func WithWebSocketLogger(logger zerolog.Logger) WebSocketOption {
	return func(h *WebSocketHandler) {
		h.logger = logger
	}
}

// NewWebSocketHandler constructs the websocket transport.
func NewWebSocketHandler(gw *gateway.Gateway, opts ...WebSocketOption) (*WebSocketHandler, error) {
	if gw == nil {
		return nil, errors.New("transport: nil gateway")
	}
	h := &WebSocketHandler{
		gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer: 64,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP authenticates before upgrading; rejected clients get a JSON 401 with the reason.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sink := newClient(h.buffer)
	conn, err := h.gateway.Connect(r.Context(), auth.BearerToken(r), sink)
	if err != nil {
		writeConnectError(w, err)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.gateway.Disconnect(conn)
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	done := make(chan struct{})
	go h.writePump(ws, sink, done)
	h.readPump(r.Context(), ws, conn, sink)
	close(done)
	h.gateway.Disconnect(conn)
}

func (h *WebSocketHandler) readPump(ctx context.Context, ws *websocket.Conn, conn *gateway.Connection, sink *client) {
	ws.SetReadLimit(maxCommand)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(sink, Reply{Type: "error", Reason: "malformed"})
			continue
		}
		switch cmd.Action {
		case "subscribe":
			room, err := h.gateway.Subscribe(ctx, conn, cmd.RoomRequest)
			if err != nil {
				h.reply(sink, Reply{Type: "error", Reason: roomErrorReason(err)})
				continue
			}
			h.reply(sink, Reply{Type: "subscribed", Room: room})
		case "unsubscribe":
			room, err := h.gateway.Unsubscribe(conn, cmd.RoomRequest)
			if err != nil {
				h.reply(sink, Reply{Type: "error", Reason: roomErrorReason(err)})
				continue
			}
			h.reply(sink, Reply{Type: "unsubscribed", Room: room})
		default:
			h.reply(sink, Reply{Type: "error", Reason: "unknown_action"})
		}
	}
}

func (h *WebSocketHandler) writePump(ws *websocket.Conn, sink *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case payload := <-sink.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case reason := <-sink.closed:
			code := CloseCodeShutdown
			if reason == gateway.CloseRevoked {
				code = CloseCodeRevoked
			}
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WebSocketHandler) reply(sink *client, reply Reply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if !sink.Send(payload) {
		h.logger.Debug().Str("type", reply.Type).Msg("reply dropped")
	}
}
