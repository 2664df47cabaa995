package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"math-battle/internal/app"
	"math-battle/internal/domain"
	"math-battle/internal/lobby"
)

// UserHeader carries the caller's user id; authentication happens upstream.
const UserHeader = "X-User-ID"

const qrSize = 256

// APIHandler serves the statistics endpoints and party join codes.
type APIHandler struct {
	stats     *app.StatsService
	publicURL string
}

func NewAPIHandler(stats *app.StatsService, publicURL string) *APIHandler {
	return &APIHandler{stats: stats, publicURL: publicURL}
}

// ResultRequest is a self-reported round result.
type ResultRequest struct {
	DisplayName string             `json:"displayName"`
	Result      domain.RoundResult `json:"result"`
	Won         bool               `json:"won"`
}

// PostResult folds a finished round into the caller's statistics.
func (h *APIHandler) PostResult(w http.ResponseWriter, r *http.Request) {
	var req ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid result payload"))
		return
	}
	stats, err := h.stats.RecordResult(r.Context(), r.Header.Get(UserHeader), req.DisplayName, req.Result, req.Won)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	board, err := h.stats.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *APIHandler) GetPlayerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetPartyQR renders the guest join link of a party as a PNG QR code.
func (h *APIHandler) GetPartyQR(w http.ResponseWriter, r *http.Request) {
	code, err := lobby.ValidateCode(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	png, err := qrcode.Encode(lobby.JoinURL(h.publicURL, code), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPlayerNotFound), errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrLobbyNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCode), errors.Is(err, domain.ErrInvalidSettings):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorPayload{Code: domain.ErrorCode(err), Message: err.Error()})
}
