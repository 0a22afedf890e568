package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

// Handler exposes the operator surface of the queue: stats, the upcoming
// schedule, manual retry, and cancellation.
type Handler struct {
	store   *Store
	trigger func()
	logger  *logging.Logger
}

// NewHandler creates the queue admin handler. The trigger, when set, asks
// the processor for an immediate pass after a manual retry.
func NewHandler(store *Store, trigger func(), logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, trigger: trigger, logger: logger}
}

// Routes mounts the handler on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/stats", h.GetStats)
	r.Get("/scheduled", h.GetScheduled)
	r.Get("/messages/{id}", h.GetMessage)
	r.Post("/messages/{id}/retry", h.RetryMessage)
	r.Post("/messages/{id}/cancel", h.CancelMessage)
}

// GetStats handles GET /admin/queue/stats requests.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.logger.Error("queue stats failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":     stats.Pending,
		"processing":  stats.Processing,
		"sent":        stats.Sent,
		"failed":      stats.Failed,
		"dead_letter": stats.DeadLetter,
		"cancelled":   stats.Cancelled,
	})
}

// GetScheduled handles GET /admin/queue/scheduled requests.
func (h *Handler) GetScheduled(w http.ResponseWriter, r *http.Request) {
	hoursAhead := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			hoursAhead = parsed
		}
	}
	msgs, err := h.store.GetScheduled(r.Context(), hoursAhead, r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.logger.Error("queue scheduled lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messagesPayload(msgs),
		"count":    len(msgs),
		"hours":    hoursAhead,
	})
}

// GetMessage handles GET /admin/queue/messages/{id} requests.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	msg, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		h.logger.Error("queue message lookup failed", "id", id, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, messagePayload(*msg))
}

// RetryMessage handles POST /admin/queue/messages/{id}/retry requests. It
// resets the attempt budget of a failed or dead-lettered message and asks
// the processor to pick it up now.
func (h *Handler) RetryMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	applied, err := h.store.Retry(r.Context(), id)
	if err != nil {
		h.logger.Error("queue retry failed", "id", id, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !applied {
		http.Error(w, "message is not in a retryable state", http.StatusConflict)
		return
	}
	if h.trigger != nil {
		h.trigger()
	}
	h.logger.Info("queue message retried", "id", id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "pending"})
}

// CancelMessage handles POST /admin/queue/messages/{id}/cancel requests.
func (h *Handler) CancelMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	applied, err := h.store.Cancel(r.Context(), id)
	if err != nil {
		h.logger.Error("queue cancel failed", "id", id, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !applied {
		http.Error(w, "message is not cancellable", http.StatusConflict)
		return
	}
	h.logger.Info("queue message cancelled", "id", id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func messagePayload(msg Message) map[string]any {
	payload := map[string]any{
		"id":            msg.ID,
		"tenant_id":     msg.TenantID,
		"channel":       msg.Channel,
		"recipient":     msg.Recipient,
		"message_type":  msg.MessageType,
		"scheduled_for": msg.ScheduledFor,
		"status":        msg.Status,
		"attempts":      msg.Attempts,
		"max_attempts":  msg.MaxAttempts,
	}
	if msg.LastError != "" {
		payload["last_error"] = msg.LastError
	}
	if msg.AppointmentID != "" {
		payload["appointment_id"] = msg.AppointmentID
	}
	if msg.Provider != "" {
		payload["provider"] = msg.Provider
		payload["provider_message_id"] = msg.ProviderMessageID
		payload["provider_status"] = msg.ProviderStatus
	}
	if msg.DeadLetterAt != nil {
		payload["dead_letter_at"] = msg.DeadLetterAt
		payload["dead_letter_reason"] = msg.DeadLetterReason
	}
	return payload
}

func messagesPayload(msgs []Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messagePayload(msg))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
