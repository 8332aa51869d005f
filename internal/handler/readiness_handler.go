package handler

import (
	"net/http"

	"github.com/Lutefd/botkit-telemetry/internal/commons"
	"github.com/Lutefd/botkit-telemetry/internal/telemetry"
)

// Live reports that the process serves HTTP, whatever the broker state.
func Live(w http.ResponseWriter, r *http.Request) {
	commons.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready is 503 until the producer holds a broker session, and again after
// the session is lost.
func (h *IngestHandler) Ready(w http.ResponseWriter, r *http.Request) {
	state := h.emitter.State()
	code := http.StatusOK
	if state != telemetry.StateReady {
		code = http.StatusServiceUnavailable
	}
	commons.RespondWithJSON(w, code, map[string]string{"state": state.String()})
}
