// Package handler contains HTTP handlers for the webhook API.
package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/SumitKumar-17/cre-agent/internal/apperror"
	"github.com/SumitKumar-17/cre-agent/internal/dispatcher"
	"github.com/SumitKumar-17/cre-agent/internal/model"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Vapi-Signature"

const maxBodyBytes = 1 << 20

// CallReader is the read-only slice of the log used by the calls API.
type CallReader interface {
	ReadRecent(ctx context.Context, limit int) ([]model.CallRecord, error)
}

// Handler wraps HTTP handlers with logger, dispatcher and log reader.
type Handler struct {
	log      *zap.Logger
	dispatch dispatcher.Dispatcher
	reader   CallReader
	validate *validator.Validate
	secret   string
}

// New creates a new Handler instance. An empty secret disables signature
// verification (local development against unsigned test requests).
func New(log *zap.Logger, d dispatcher.Dispatcher, r CallReader, v *validator.Validate, secret string) *Handler {
	return &Handler{log: log, dispatch: d, reader: r, validate: v, secret: secret}
}

// Healthz is a simple health check endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Root reports the service banner and its endpoints.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "CRE call intake is running",
		"status":  "active",
		"endpoints": map[string]string{
			"webhook": "/webhook/vapi",
			"calls":   "/api/calls",
			"health":  "/healthz",
		},
	})
}

// Webhook receives Vapi call lifecycle events. Terminal call-end events are
// queued for extraction and logging; everything else is acknowledged with
// no side effects. The acknowledgment always goes out before any store I/O.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.log.Error("failed to read request body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request payload"})
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		h.log.Warn("webhook signature rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var event model.CallEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.log.Error("failed to decode json", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request payload"})
		return
	}

	if err := h.validate.Struct(event); err != nil {
		h.log.Warn("validation failed", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, apperror.CustomValidationError(err))
		return
	}

	if event.Terminal() {
		if !h.dispatch.Enqueue(event) {
			// Already a surfaced data-loss event inside the dispatcher;
			// the platform retries terminal events, so still ack.
			h.log.Error("terminal event not queued", zap.String("call_id", event.CallID))
		}
	} else {
		h.log.Debug("ignoring non-terminal event",
			zap.String("type", event.Type),
			zap.String("call_id", event.CallID))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// RecentCalls returns the newest rows of the call log for the dashboard.
func (h *Handler) RecentCalls(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	calls, err := h.reader.ReadRecent(r.Context(), limit)
	if err != nil {
		h.log.Error("failed to read call log", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "call log unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
