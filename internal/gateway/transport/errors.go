package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getdatasurge/fresh-staged-sub013/internal/gateway"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeConnectError answers a refused connection before any stream is opened.
func writeConnectError(w http.ResponseWriter, err error) {
	if reason := gateway.RejectReason(err); reason != "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Reason: string(reason)})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable"})
}

func writeRoomError(w http.ResponseWriter, err error) {
	var roomErr *gateway.RoomError
	if !errors.As(err, &roomErr) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable"})
		return
	}
	status := http.StatusBadRequest
	switch roomErr.Reason {
	case gateway.RoomForbidden:
		status = http.StatusForbidden
	case gateway.RoomNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorBody{Error: "room_refused", Reason: string(roomErr.Reason)})
}

func roomErrorReason(err error) string {
	var roomErr *gateway.RoomError
	if errors.As(err, &roomErr) {
		return string(roomErr.Reason)
	}
	if errors.Is(err, gateway.ErrClosed) {
		return "closed"
	}
	return "unavailable"
}
