// internal/handlers/sales.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/downpricer/marketplace-backend/internal/services"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

type SaleHandler struct {
	sales *services.SaleService
}

func NewSaleHandler(sales *services.SaleService) *SaleHandler {
	return &SaleHandler{sales: sales}
}

// POST /sales
func (h *SaleHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var input services.CreateSaleInput
	if !bindJSON(c, &input) {
		return
	}

	sale, err := h.sales.Create(c.Request.Context(), userID, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.CreatedResponse(c, sale)
}

// GET /sales
func (h *SaleHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	params := utils.GetPaginationParams(c)

	sales, total, err := h.sales.List(c.Request.Context(), actor, services.SaleFilter{
		PaginationParams: params,
		Status:           c.Query("status"),
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(sales, total, params))
}

// GET /sales/:id
func (h *SaleHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	sale, err := h.sales.Get(c.Request.Context(), id, actor)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, sale)
}

// POST /sales/:id/payment-proof
func (h *SaleHandler) SubmitProof(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.PaymentProofInput
	if !bindJSON(c, &input) {
		return
	}

	sale, err := h.sales.SubmitProof(c.Request.Context(), id, actor, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, sale)
}
