// internal/handlers/webhook_test.go
package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"

	"github.com/downpricer/marketplace-backend/internal/services"
)

const testWebhookSecret = "whsec_test"

type fakeEngine struct {
	calls   int
	outcome services.ReconcileOutcome
	err     error
}

func (e *fakeEngine) HandleEvent(_ context.Context, _ []byte) (services.ReconcileOutcome, error) {
	e.calls++
	return e.outcome, e.err
}

type fakeArchive struct {
	ids []string
}

func (a *fakeArchive) Archive(_ context.Context, _, eventID string, _ []byte) (*services.ArchiveResult, error) {
	a.ids = append(a.ids, eventID)
	return &services.ArchiveResult{}, nil
}

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

type WebhookHandlerTestSuite struct {
	suite.Suite
	engine  *fakeEngine
	archive *fakeArchive
	payload []byte
}

func (s *WebhookHandlerTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (s *WebhookHandlerTestSuite) SetupTest() {
	s.engine = &fakeEngine{outcome: services.OutcomeApplied}
	s.archive = &fakeArchive{}
	s.payload = []byte(`{"id":"evt_1","type":"customer.subscription.updated","created":1700000000,"data":{"object":{}}}`)
}

func (s *WebhookHandlerTestSuite) serve(h *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/v1/webhooks/stripe", h.Stripe)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func (s *WebhookHandlerTestSuite) TestValidSignatureIsProcessed() {
	h := NewWebhookHandler(s.engine, s.archive, testWebhookSecret, true)
	w := s.serve(h, s.payload, sign(s.payload, testWebhookSecret, time.Now()))

	s.Equal(http.StatusOK, w.Code)
	s.Equal(1, s.engine.calls)
	s.Equal([]string{"evt_1"}, s.archive.ids)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Received bool   `json:"received"`
			Outcome  string `json:"outcome"`
		} `json:"data"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.True(resp.Success)
	s.True(resp.Data.Received)
	s.Equal("applied", resp.Data.Outcome)
}

func (s *WebhookHandlerTestSuite) TestBadSignatureNeverReachesEngine() {
	h := NewWebhookHandler(s.engine, s.archive, testWebhookSecret, true)

	w := s.serve(h, s.payload, sign(s.payload, "whsec_other", time.Now()))
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "INVALID_SIGNATURE")

	w = s.serve(h, s.payload, "")
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.serve(h, s.payload, sign(s.payload, testWebhookSecret, time.Now().Add(-time.Hour)))
	s.Equal(http.StatusBadRequest, w.Code)

	s.Zero(s.engine.calls)
	s.Empty(s.archive.ids)
}

func (s *WebhookHandlerTestSuite) TestMissingSecretInProductionIsRefused() {
	h := NewWebhookHandler(s.engine, nil, "", true)
	w := s.serve(h, s.payload, "")

	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.Zero(s.engine.calls)
}

func (s *WebhookHandlerTestSuite) TestUnsignedAcceptedOutsideProduction() {
	h := NewWebhookHandler(s.engine, nil, "", false)
	w := s.serve(h, s.payload, "")

	s.Equal(http.StatusOK, w.Code)
	s.Equal(1, s.engine.calls)
}

func (s *WebhookHandlerTestSuite) TestOversizedBody() {
	h := NewWebhookHandler(s.engine, nil, "", false)
	body := []byte(`{"id":"` + strings.Repeat("x", int(maxWebhookBodyBytes)) + `"}`)
	w := s.serve(h, body, "")

	s.Equal(http.StatusRequestEntityTooLarge, w.Code)
	s.Zero(s.engine.calls)
}

func (s *WebhookHandlerTestSuite) TestValidationFailureIs400() {
	s.engine.err = &services.ValidationError{Field: "envelope", Message: "missing id"}
	h := NewWebhookHandler(s.engine, nil, "", false)
	w := s.serve(h, s.payload, "")

	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *WebhookHandlerTestSuite) TestProcessingFailureIs500() {
	s.engine.err = fmt.Errorf("database unavailable")
	h := NewWebhookHandler(s.engine, nil, "", false)
	w := s.serve(h, s.payload, "")

	s.Equal(http.StatusInternalServerError, w.Code)
}

func TestWebhookHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(WebhookHandlerTestSuite))
}
