package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/server/middleware"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v and writes it with status. A marshal failure becomes a
// plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a domain error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient balance"
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid amount"
	case errors.Is(err, domain.ErrInvalidOrder):
		return http.StatusBadRequest, "invalid order"
	case errors.Is(err, domain.ErrInvalidSettings):
		return http.StatusBadRequest, "invalid settings"
	case errors.Is(err, domain.ErrPortfolioNotFound):
		return http.StatusNotFound, "portfolio not found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrNoMarketData):
		return http.StatusServiceUnavailable, "no market data"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "trade is not open"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "concurrent update, retry"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not authenticated"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusForbidden, "invalid signature"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limited"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeServiceError answers with the mapped status. Validation errors carry
// their detail to the client; unexpected ones are logged and hidden.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, msg := statusFor(err)
	switch {
	case status == http.StatusInternalServerError:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("user_id", middleware.UserID(r.Context())),
			slog.String("error", err.Error()),
		)
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidSettings):
		msg = err.Error()
	}
	writeError(w, status, msg)
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts reads limit and offset. Limit defaults to def and is capped
// at 500.
func parseListOpts(r *http.Request, def int) domain.ListOpts {
	q := r.URL.Query()
	limit := def
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}
