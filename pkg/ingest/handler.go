package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billingsync/pkg/billingevent"
	"github.com/dmitrymomot/billingsync/pkg/logger"
)

type response struct {
	Status  string `json:"status,omitempty"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Register mounts the webhook endpoint on r.
func (p *Processor) Register(r chi.Router) {
	r.Post(p.cfg.Path, p.Handler())
}

// Handler answers 200 for processed, duplicate, ignored and failed
// deliveries. Rejections map to 401, 400, 413 or 503.
func (p *Processor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.cfg.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, response{Error: "payload too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, response{Error: "unreadable body"})
			return
		}

		out, err := p.Process(r.Context(), raw, r.Header)
		if err != nil {
			status, msg := httpError(err)
			if status >= http.StatusInternalServerError {
				p.logger.LogAttrs(r.Context(), slog.LevelError, "billing webhook rejected", logger.Error(err))
			} else {
				p.logger.LogAttrs(r.Context(), slog.LevelWarn, "billing webhook rejected", logger.Error(err))
			}
			writeJSON(w, status, response{Error: msg})
			return
		}

		writeJSON(w, http.StatusOK, response{
			Status:  out.Status.String(),
			EventID: out.EventID,
			Error:   out.Error,
		})
	}
}

func httpError(err error) (int, string) {
	switch {
	case errors.Is(err, billingevent.ErrUnauthorizedSender):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, billingevent.ErrMalformedPayload):
		return http.StatusBadRequest, "malformed payload"
	case errors.Is(err, billingevent.ErrSecretUnavailable), errors.Is(err, ErrClaimFailed):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
