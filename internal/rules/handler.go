package rules

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"duel-server/internal/obslog"
)

const maxBodyBytes = 1 << 20

// Handler serves every game in reg over HTTP for Remote clients.
func Handler(reg *Registry) http.Handler {
	h := &handler{reg: reg}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /rules", h.list)
	mux.HandleFunc("POST /rules/{game}/initial", h.initial)
	mux.HandleFunc("POST /rules/{game}/validate", h.validate)
	mux.HandleFunc("POST /rules/{game}/terminal", h.terminal)
	return mux
}

type handler struct {
	reg *Registry
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

func (h *handler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"games": h.reg.Names()})
}

func (h *handler) initial(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req initialRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := auth.InitialState(r.Context(), req.SeatCount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, initialResponse{State: st})
}

func (h *handler) validate(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req validateRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := auth.Validate(r.Context(), req.State, req.Move)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	obslog.L().Debug("rules_validate",
		zap.String("game", r.PathValue("game")),
		zap.Int("seat", req.Move.Seat),
		zap.Bool("accepted", v.Accepted),
		zap.String("reason", v.Reason))
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) terminal(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req terminalRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := auth.IsTerminal(r.Context(), req.State)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) lookup(w http.ResponseWriter, r *http.Request) (Authority, bool) {
	auth, err := h.reg.Lookup(r.PathValue("game"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return auth, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("rules_write_failed", zap.Error(err))
	}
}
