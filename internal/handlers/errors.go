// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/downpricer/marketplace-backend/internal/i18n"
	"github.com/downpricer/marketplace-backend/internal/models"
	"github.com/downpricer/marketplace-backend/internal/services"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

// HandleServiceError maps the service error taxonomy onto the response
// envelope. A wrong source state is a client error and answers 400 with a
// machine-readable code. OutOfStockError is checked before InvalidStateError
// because it unwraps to one.
func HandleServiceError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)

	var (
		validationErr *services.ValidationError
		notFoundErr   *services.NotFoundError
		forbiddenErr  *services.ForbiddenError
		outOfStockErr *services.OutOfStockError
		stateErr      *services.InvalidStateError
		conflictErr   *services.ConflictError
		providerErr   *services.ProviderError
	)

	switch {
	case errors.As(err, &validationErr):
		utils.BadRequestResponse(c, validationErr.Error(), []utils.ValidationError{{
			Field:   validationErr.Field,
			Message: validationErr.Message,
		}})
	case errors.As(err, &notFoundErr):
		utils.NotFoundResponse(c, notFoundErr.Resource)
	case errors.As(err, &forbiddenErr):
		utils.ForbiddenResponse(c, forbiddenErr.Message)
	case errors.As(err, &outOfStockErr):
		utils.ErrorResponse(c, http.StatusBadRequest, "OUT_OF_STOCK", outOfStockErr.Error(), gin.H{"item_id": outOfStockErr.ItemID})
	case errors.As(err, &stateErr):
		utils.ErrorResponse(c, http.StatusBadRequest, "INVALID_STATE", stateErr.Error(), gin.H{
			"current_status": stateErr.Current,
			"hint":           i18n.T(lang, i18n.KeyValidationInvalidState),
		})
	case errors.As(err, &conflictErr):
		utils.ConflictResponse(c, conflictErr.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidCredentials))
	case errors.As(err, &providerErr):
		logrus.WithError(err).WithFields(logrus.Fields{
			"provider":  providerErr.Provider,
			"operation": providerErr.Operation,
		}).Error("Payment provider call failed")
		utils.BadGatewayResponse(c, "PROVIDER_ERROR", i18n.T(lang, i18n.KeyPaymentFailed))
	default:
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Unhandled service error")
		utils.InternalErrorResponse(c, "")
	}
}

// bindJSON decodes and validates the body, writing the 400 itself on
// failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(dst); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(dst)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, name), nil)
		return uuid.Nil, false
	}
	return id, true
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}
	return id, true
}

func currentActor(c *gin.Context) (services.Actor, bool) {
	id, ok := currentUserID(c)
	if !ok {
		return services.Actor{}, false
	}
	return services.Actor{
		ID:    id,
		Admin: models.RoleSet(utils.GetRolesFromContext(c)).Has(models.RoleAdmin),
	}, true
}
