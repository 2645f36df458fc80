package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valet-labs/valet/internal/command"
	"github.com/valet-labs/valet/pkg/speech/wsbridge"
)

// userHeader carries the caller identity. Commands are scoped to this user.
const userHeader = "X-User-ID"

// defaultListLimit caps GET /v1/commands responses when no limit is given.
const defaultListLimit = 50

// submitRequest is the body of POST /v1/commands.
type submitRequest struct {
	Text string `json:"text"`
}

// errorResponse is the JSON error body shared by all endpoints.
type errorResponse struct {
	Error string `json:"error"`
}

// routes registers all HTTP endpoints on mux.
func (a *App) routes(mux *http.ServeMux) {
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/commands", a.handleSubmit)
	mux.HandleFunc("GET /v1/commands", a.handleList)
	mux.HandleFunc("GET /v1/commands/{id}", a.handleGet)
	mux.HandleFunc("GET /v1/speech", a.handleSpeech)
}

// handleSubmit accepts a typed command, runs it through the pipeline, and
// returns the completed command record.
func (a *App) handleSubmit(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing "+userHeader+" header")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	cmd, err := a.orch.SubmitText(r.Context(), userID, req.Text)
	if err != nil {
		slog.Error("submit command failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to process command")
		return
	}
	if cmd == nil {
		writeError(w, http.StatusBadRequest, "missing user identity")
		return
	}

	writeJSON(w, http.StatusCreated, cmd)
}

// handleGet returns one command by ID. Commands belonging to other users are
// indistinguishable from absent ones.
func (a *App) handleGet(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing "+userHeader+" header")
		return
	}

	cmd, err := a.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("get command failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load command")
		return
	}
	if cmd == nil || cmd.UserID != userID {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}

	writeJSON(w, http.StatusOK, cmd)
}

// handleList returns the caller's most recent commands, newest first.
func (a *App) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing "+userHeader+" header")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	cmds, err := a.store.List(r.Context(), userID, limit)
	if err != nil {
		slog.Error("list commands failed", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	if cmds == nil {
		cmds = []*command.Command{}
	}

	writeJSON(w, http.StatusOK, cmds)
}

// handleSpeech upgrades the connection to a WebSocket and drives capture
// sessions over it until the client disconnects.
func (a *App) handleSpeech(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing "+userHeader+" header")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "user_id", userID, "err", err)
		return
	}

	bridge := wsbridge.New(conn)
	defer bridge.Close()

	err = a.sessions.Run(r.Context(), userID, bridge, bridge.SendLevel)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("speech connection closed", "user_id", userID, "err", err)
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "err", err)
	}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
