// internal/handlers/webhook.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/downpricer/marketplace-backend/internal/i18n"
	"github.com/downpricer/marketplace-backend/internal/services"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

// Stripe caps event payloads well below this.
const maxWebhookBodyBytes = int64(65536)

type webhookEngine interface {
	HandleEvent(ctx context.Context, payload []byte) (services.ReconcileOutcome, error)
}

type WebhookHandler struct {
	engine     webhookEngine
	archive    services.WebhookArchive
	secret     string
	production bool
}

func NewWebhookHandler(engine webhookEngine, archive services.WebhookArchive, secret string, production bool) *WebhookHandler {
	return &WebhookHandler{
		engine:     engine,
		archive:    archive,
		secret:     secret,
		production: production,
	}
}

// POST /webhooks/stripe
//
// 2xx acknowledges the event. Signature failures answer 400 and never reach
// the engine; validation failures answer 400 and processing failures 500, so
// the processor re-delivers both.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		utils.ErrorResponse(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", err.Error(), nil)
		return
	}

	switch {
	case h.secret != "":
		if err := webhook.ValidatePayload(payload, c.GetHeader("Stripe-Signature"), h.secret); err != nil {
			logrus.WithError(err).WithField("ip", c.ClientIP()).Warn("Rejected webhook with invalid signature")
			utils.ErrorResponse(c, http.StatusBadRequest, "INVALID_SIGNATURE", i18n.T(lang, i18n.KeyWebhookInvalidSignature), nil)
			return
		}
	case h.production:
		logrus.Error("Webhook secret not configured, refusing event")
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "WEBHOOK_UNCONFIGURED", "webhook secret not configured", nil)
		return
	default:
		logrus.Warn("Accepting unsigned webhook outside production")
	}

	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	_ = json.Unmarshal(payload, &envelope)
	entry := logrus.WithFields(logrus.Fields{
		"event_id":   envelope.ID,
		"event_type": envelope.Type,
	})

	if h.archive != nil && envelope.ID != "" {
		if _, err := h.archive.Archive(c.Request.Context(), "stripe", envelope.ID, payload); err != nil {
			entry.WithError(err).Warn("Webhook archive failed")
		}
	}

	outcome, err := h.engine.HandleEvent(c.Request.Context(), payload)
	if err != nil {
		var validationErr *services.ValidationError
		if errors.As(err, &validationErr) {
			entry.WithError(err).Warn("Webhook payload rejected")
			utils.BadRequestResponse(c, validationErr.Error(), nil)
			return
		}
		entry.WithError(err).Error("Webhook processing failed")
		utils.InternalErrorResponse(c, "")
		return
	}

	entry.WithField("outcome", outcome).Info("Webhook processed")
	utils.SuccessResponse(c, gin.H{
		"received": true,
		"outcome":  outcome,
	})
}
