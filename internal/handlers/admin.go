// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/downpricer/marketplace-backend/internal/i18n"
	"github.com/downpricer/marketplace-backend/internal/services"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

// AdminHandler serves every /admin route. The router guards the group with
// AdminRequired.
type AdminHandler struct {
	adminService  *services.AdminService
	requests      *services.RequestService
	sales         *services.SaleService
	subscriptions *services.SubscriptionService
	settings      *services.SettingsService
}

func NewAdminHandler(
	adminService *services.AdminService,
	requests *services.RequestService,
	sales *services.SaleService,
	subscriptions *services.SubscriptionService,
	settings *services.SettingsService,
) *AdminHandler {
	return &AdminHandler{
		adminService:  adminService,
		requests:      requests,
		sales:         sales,
		subscriptions: subscriptions,
		settings:      settings,
	}
}

// GET /admin/dashboard/stats
func (h *AdminHandler) GetDashboardStats(c *gin.Context) {
	stats, err := h.adminService.GetDashboardStats(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"stats": stats,
	})
}

// GET /admin/users
func (h *AdminHandler) GetUsers(c *gin.Context) {
	params := utils.GetPaginationParams(c)
	users, total, err := h.adminService.GetUsers(c.Request.Context(), services.AdminUserFilter{
		PaginationParams: params,
		Tier:             c.Query("tier"),
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(users, total, params))
}

// PATCH /admin/requests/:id/status
func (h *AdminHandler) TransitionRequest(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.TransitionInput
	if !bindJSON(c, &input) {
		return
	}

	request, err := h.requests.AdminTransition(c.Request.Context(), id, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, request)
}

// POST /admin/requests/:id/request-deposit
func (h *AdminHandler) RequestDeposit(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.RequestDepositInput
	if c.Request.ContentLength > 0 && !bindJSON(c, &input) {
		return
	}

	request, err := h.requests.RequestDeposit(c.Request.Context(), id, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, request)
}

// POST /admin/requests/:id/request-balance
func (h *AdminHandler) RequestBalance(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.RequestBalanceInput
	if !bindJSON(c, &input) {
		return
	}

	request, err := h.requests.RequestBalance(c.Request.Context(), id, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, request)
}

// POST /admin/sales/:id/validate
func (h *AdminHandler) ValidateSale(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	sale, err := h.sales.Validate(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, sale)
}

// POST /admin/sales/:id/reject
func (h *AdminHandler) RejectSale(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.ReasonInput
	if !bindJSON(c, &input) {
		return
	}
	sale, err := h.sales.Reject(c.Request.Context(), id, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, sale)
}

// POST /admin/sales/:id/confirm-payment
func (h *AdminHandler) ConfirmSalePayment(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	sale, err := h.sales.ConfirmPayment(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, sale)
}

// POST /admin/sales/:id/reject-payment
func (h *AdminHandler) RejectSalePayment(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.ReasonInput
	if !bindJSON(c, &input) {
		return
	}
	sale, err := h.sales.RejectPayment(c.Request.Context(), id, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, sale)
}

// POST /admin/sales/:id/ship
func (h *AdminHandler) ShipSale(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.ShipInput
	if !bindJSON(c, &input) {
		return
	}
	sale, err := h.sales.MarkShipped(c.Request.Context(), id, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, sale)
}

// POST /admin/sales/:id/complete
func (h *AdminHandler) CompleteSale(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	sale, err := h.sales.Complete(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, sale)
}

// POST /admin/users/:id/plan/suspend
func (h *AdminHandler) SuspendPlan(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	roles, err := h.subscriptions.Suspend(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAdminActionSuccess),
		"roles":   roles,
	})
}

// PUT /admin/users/:id/plan
func (h *AdminHandler) SetPlanTier(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.SetTierInput
	if !bindJSON(c, &input) {
		return
	}
	roles, err := h.subscriptions.SetTier(c.Request.Context(), id, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"roles": roles,
		"tier":  roles.EffectiveTier(),
	})
}

// PUT /admin/users/:id/roles
func (h *AdminHandler) ReplaceRoles(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var input services.ReplaceRolesInput
	if !bindJSON(c, &input) {
		return
	}
	roles, err := h.subscriptions.ReplaceRoles(c.Request.Context(), id, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"roles": roles,
	})
}

// GET /admin/settings
func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.List(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, settings)
}

// PUT /admin/settings/:key
func (h *AdminHandler) UpdateSetting(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	adminID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req struct {
		Value interface{} `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationRequired, "value"), nil)
		return
	}

	setting, err := h.settings.Update(c.Request.Context(), c.Param("key"), req.Value, adminID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAdminSettingsUpdated),
		"setting": setting,
	})
}

// GET /admin/notifications
func (h *AdminHandler) GetNotifications(c *gin.Context) {
	params := utils.GetPaginationParams(c)
	notifications, total, err := h.adminService.GetNotifications(c.Request.Context(), services.NotificationFilter{
		PaginationParams: params,
		Status:           c.Query("status"),
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(notifications, total, params))
}

// POST /admin/notifications/:id/read
func (h *AdminHandler) MarkNotificationRead(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.adminService.MarkNotificationRead(c.Request.Context(), id); err != nil {
		HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAdminActionSuccess),
	})
}
