// internal/handlers/subscriptions.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/downpricer/marketplace-backend/internal/models"
	"github.com/downpricer/marketplace-backend/internal/services"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

type SubscriptionHandler struct {
	subscriptions *services.SubscriptionService
}

func NewSubscriptionHandler(subscriptions *services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions}
}

// POST /subscriptions/checkout
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var input services.CheckoutInput
	if !bindJSON(c, &input) {
		return
	}

	result, err := h.subscriptions.Checkout(c.Request.Context(), userID, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.CreatedResponse(c, result)
}

// GET /subscriptions/me
func (h *SubscriptionHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	sub, err := h.subscriptions.Me(c.Request.Context(), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, sub)
}

// GET /subscriptions/plans
func (h *SubscriptionHandler) Plans(c *gin.Context) {
	utils.SuccessResponse(c, models.Plans())
}
