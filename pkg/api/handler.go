package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mockpress/mockpress/pkg/metering"
)

const (
	customKeyHeader = "X-Has-Custom-Key"
	maxBodyBytes    = 64 << 10
)

// Handler provides the HTTP endpoints for attempt inspection, generation
// and credential management.
type Handler struct {
	config Config
}

// RegisterRoutes mounts all endpoints on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /attempts/status", h.AttemptStatus)
	mux.HandleFunc("POST /attempts/check", h.AttemptCheck)
	mux.HandleFunc("POST /generate", h.Generate)
	mux.HandleFunc("GET /trial/status", h.TrialStatus)
	mux.HandleFunc("POST /credential", h.SetCredential)
	mux.HandleFunc("DELETE /credential", h.RemoveCredential)
	mux.HandleFunc("GET /usage/stats", h.UsageStats)
}

// AttemptStatus reports the client's remaining daily attempts. A truthful
// X-Has-Custom-Key header short-circuits to the unlimited sentinel without
// touching storage.
func (h *Handler) AttemptStatus(w http.ResponseWriter, r *http.Request) {
	if hasCustomKeyHeader(r) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Success: true,
			Data: AttemptStatus{
				Remaining:    -1,
				Total:        -1,
				ResetTime:    0,
				HasCustomKey: true,
			},
		})
		return
	}

	clientID := h.config.GetClientID(r)
	status := h.config.Meter.DailyStatus(r.Context(), clientID)

	var resetTime int64
	if !status.ResetTime.IsZero() {
		resetTime = status.ResetTime.UnixMilli()
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Success: true,
		Data: AttemptStatus{
			Remaining:    status.Remaining,
			Total:        status.Total,
			ResetTime:    resetTime,
			HasCustomKey: status.HasCustomKey,
		},
	})
}

// AttemptCheck consumes one daily attempt if available.
func (h *Handler) AttemptCheck(w http.ResponseWriter, r *http.Request) {
	if hasCustomKeyHeader(r) {
		writeJSON(w, http.StatusOK, CheckResponse{
			Success:   true,
			Allowed:   true,
			Remaining: -1,
		})
		return
	}

	clientID := h.config.GetClientID(r)
	result := h.config.Meter.CheckAndConsumeDaily(r.Context(), clientID)

	var resetTime int64
	if !result.ResetTime.IsZero() {
		resetTime = result.ResetTime.UnixMilli()
	}
	writeJSON(w, http.StatusOK, CheckResponse{
		Success:   true,
		Allowed:   result.Allowed,
		Remaining: result.Remaining,
		ResetTime: resetTime,
		Message:   result.Message,
	})
}

// Generate runs the full metering and generation flow for a topic.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	clientID := h.config.GetClientID(r)
	outcome := h.config.Meter.Generate(r.Context(), clientID, req.Topic)

	status := http.StatusOK
	switch {
	case outcome.NeedsCredential:
		status = http.StatusPaymentRequired
	case outcome.RateLimited:
		status = http.StatusTooManyRequests
	}

	writeJSON(w, status, GenerateResponse{
		Success:         outcome.Success,
		Content:         outcome.Content,
		Error:           outcome.Error,
		NeedsCredential: outcome.NeedsCredential,
		TrialMode:       outcome.TrialMode,
	})
}

// TrialStatus reports the free-attempt ledger standing.
func (h *Handler) TrialStatus(w http.ResponseWriter, r *http.Request) {
	clientID := h.config.GetClientID(r)
	st := h.config.Meter.TrialStatus(r.Context(), clientID)

	writeJSON(w, http.StatusOK, TrialResponse{
		Success:   true,
		Used:      st.Used,
		Remaining: st.Remaining,
		TrialMode: st.TrialMode,
	})
}

// SetCredential stores a caller-supplied credential after validation.
func (h *Handler) SetCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	clientID := h.config.GetClientID(r)
	if err := h.config.Meter.SetCredential(r.Context(), clientID, req.Credential); err != nil {
		if errors.Is(err, metering.ErrInvalidCredential) {
			h.handleError(w, r, err, http.StatusBadRequest)
			return
		}
		h.handleError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RemoveCredential drops the stored credential and resumes trial metering.
func (h *Handler) RemoveCredential(w http.ResponseWriter, r *http.Request) {
	clientID := h.config.GetClientID(r)
	h.config.Meter.RemoveCredential(r.Context(), clientID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// UsageStats reports aggregated statistics for a trailing window.
// The hours query parameter defaults to 24.
func (h *Handler) UsageStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.handleError(w, r, errors.New("invalid hours parameter"), http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	stats := h.config.Meter.Stats(hours)
	writeJSON(w, http.StatusOK, StatsResponse{
		Success:       true,
		TotalAttempts: stats.TotalAttempts,
		Successes:     stats.Successes,
		Failures:      stats.Failures,
		RateLimitHits: stats.RateLimitHits,
		SuccessRate:   stats.SuccessRate,
	})
}

func hasCustomKeyHeader(r *http.Request) bool {
	return r.Header.Get(customKeyHeader) == "true"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response already partially written
		_ = err
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: err.Error()})
}
