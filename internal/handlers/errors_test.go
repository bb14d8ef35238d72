// internal/handlers/errors_test.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downpricer/marketplace-backend/internal/services"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

func TestHandleServiceErrorStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Field: "name", Message: "required"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"not found", &services.NotFoundError{Resource: "request", ID: "x"}, http.StatusNotFound, ""},
		{"forbidden", &services.ForbiddenError{Message: "nope"}, http.StatusForbidden, ""},
		{"invalid state", &services.InvalidStateError{Resource: "request", Operation: "cancel", Current: "COMPLETED"}, http.StatusBadRequest, "INVALID_STATE"},
		{"wrapped invalid state", fmt.Errorf("cancel: %w", &services.InvalidStateError{Resource: "sale", Operation: "ship", Current: "PENDING"}), http.StatusBadRequest, "INVALID_STATE"},
		{"out of stock", &services.OutOfStockError{ItemID: uuid.New()}, http.StatusBadRequest, "OUT_OF_STOCK"},
		{"conflict", &services.ConflictError{Resource: "user", Message: "taken"}, http.StatusConflict, ""},
		{"credentials", services.ErrInvalidCredentials, http.StatusUnauthorized, ""},
		{"provider", &services.ProviderError{Provider: "stripe", Operation: "refund deposit", Err: errors.New("down")}, http.StatusBadGateway, "PROVIDER_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/v1/requests/x/cancel", nil)

			HandleServiceError(c, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var env utils.APIResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			if tc.code != "" {
				assert.Equal(t, tc.code, env.Error.Code)
			}
		})
	}
}

func TestInvalidStateCarriesCurrentStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/requests/x/cancel", nil)

	HandleServiceError(c, &services.InvalidStateError{Resource: "request", Operation: "cancel", Current: "PROPOSAL_FOUND"})

	var env struct {
		Error struct {
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "PROPOSAL_FOUND", env.Error.Details["current_status"])
}
