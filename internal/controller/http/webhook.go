package http

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/igflow/internal/httpx/response"
)

// maxWebhookBody bounds webhook payload size (1 MiB)
const maxWebhookBody = 1 << 20

// EventPipeline accepts raw webhook deliveries for processing
type EventPipeline interface {
	Submit(ctx context.Context, body []byte) error
}

// WebhookHandler handles the provider's webhook surface. Acknowledgement
// is decoupled from processing: POST answers 200 as soon as the delivery
// is validated and enqueued.
type WebhookHandler struct {
	pipeline    EventPipeline
	verifyToken string
	logger      *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(pipeline EventPipeline, verifyToken string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		pipeline:    pipeline,
		verifyToken: verifyToken,
		logger:      logger,
	}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook", h.Verify())
	r.Post("/webhook", h.Receive())
}

// Verify handles GET /webhook — the provider's subscription handshake
func (h *WebhookHandler) Verify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("hub.mode")
		token := r.URL.Query().Get("hub.verify_token")
		challenge := r.URL.Query().Get("hub.challenge")

		if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
			h.logger.Warn("webhook verification rejected", "mode", mode)
			response.Forbidden(w, "verification failed")
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
	}
}

// Receive handles POST /webhook — event intake. Delivery is
// at-least-once; unroutable or malformed events are logged and dropped
// downstream, the provider always gets its 2xx.
func (h *WebhookHandler) Receive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			response.BadRequest(w, "reading body")
			return
		}

		if err := h.pipeline.Submit(r.Context(), body); err != nil {
			// Still ack: redelivering an undecodable envelope cannot
			// make it decodable.
			h.logger.Warn("webhook delivery not processable", "error", err)
		}

		w.WriteHeader(http.StatusOK)
	}
}
