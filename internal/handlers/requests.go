// internal/handlers/requests.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/downpricer/marketplace-backend/internal/i18n"
	"github.com/downpricer/marketplace-backend/internal/services"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

// RequestHandler serves the client side of purchase requests. Admin
// operations live in AdminHandler.
type RequestHandler struct {
	requests *services.RequestService
}

func NewRequestHandler(requests *services.RequestService) *RequestHandler {
	return &RequestHandler{requests: requests}
}

// POST /requests
func (h *RequestHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var input services.CreateRequestInput
	if !bindJSON(c, &input) {
		return
	}

	request, err := h.requests.Create(c.Request.Context(), userID, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.CreatedResponse(c, request)
}

// GET /requests
func (h *RequestHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	params := utils.GetPaginationParams(c)

	requests, total, err := h.requests.List(c.Request.Context(), actor, services.RequestFilter{
		PaginationParams: params,
		Status:           c.Query("status"),
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(requests, total, params))
}

// GET /requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	request, err := h.requests.Get(c.Request.Context(), id, actor)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, request)
}

// POST /requests/:id/pay-deposit
func (h *RequestHandler) PayDeposit(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	outcome, err := h.requests.PayDeposit(c.Request.Context(), id, actor)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, outcome)
}

// POST /requests/:id/pay-balance
func (h *RequestHandler) PayBalance(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	outcome, err := h.requests.PayBalance(c.Request.Context(), id, actor)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, outcome)
}

// POST /requests/:id/cancel, also mounted under /admin.
func (h *RequestHandler) Cancel(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var input services.CancelInput
	if c.Request.ContentLength > 0 && !bindJSON(c, &input) {
		return
	}

	result, err := h.requests.Cancel(c.Request.Context(), id, actor, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"message":      i18n.T(lang, i18n.KeyRequestCancelled),
		"request":      result.Request,
		"side_effects": result.SideEffects,
	})
}
