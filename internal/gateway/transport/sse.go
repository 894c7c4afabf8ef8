package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
	"github.com/getdatasurge/fresh-staged-sub013/internal/gateway"
)

// StreamHandler serves GET /api/v1/live/stream as server-sent events.
type StreamHandler struct {
	gateway      *gateway.Gateway
	buffer       int
	keepalive    time.Duration
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// NewStreamHandler constructs the SSE transport.
func NewStreamHandler(gw *gateway.Gateway, buffer int, logger zerolog.Logger) (*StreamHandler, error) {
	if gw == nil {
		return nil, errors.New("transport: nil gateway")
	}
	return &StreamHandler{gateway: gw, buffer: buffer, keepalive: 25 * time.Second, writeTimeout: 10 * time.Second, logger: logger}, nil
}

// ServeHTTP streams the organization room plus the optional site_id / unit_id room.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	sink := newClient(h.buffer)
	conn, err := h.gateway.Connect(r.Context(), auth.BearerToken(r), sink)
	if err != nil {
		writeConnectError(w, err)
		return
	}
	defer h.gateway.Disconnect(conn)

	query := r.URL.Query()
	for _, req := range []gateway.RoomRequest{{SiteID: query.Get("site_id")}, {UnitID: query.Get("unit_id")}} {
		if req.SiteID == "" && req.UnitID == "" {
			continue
		}
		if _, err := h.gateway.Subscribe(r.Context(), conn, req); err != nil {
			writeRoomError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The server's WriteTimeout would cut the stream; each write gets its own deadline instead.
	rc := http.NewResponseController(w)
	write := func(format string, args ...any) error {
		if err := rc.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := write("event: ready\ndata: {}\n\n"); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case payload := <-sink.send:
			if err := write("event: %s\ndata: %s\n\n", eventName(payload), payload); err != nil {
				h.logger.Debug().Err(err).Str("connection_id", conn.ID).Msg("sse write failed")
				return
			}
		case reason := <-sink.closed:
			_ = write("event: closed\ndata: {\"reason\":%q}\n\n", reason)
			return
		case <-ticker.C:
			if err := write(": keepalive\n\n"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func eventName(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}
