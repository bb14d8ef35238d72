// internal/services/billing_stripe_test.go
package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v74"

	"github.com/downpricer/marketplace-backend/internal/config"
)

type stripeCall struct {
	Method string
	Path   string
	Form   map[string]string
}

// fakeStripe answers the handful of API routes the provider uses.
type fakeStripe struct {
	mu      sync.Mutex
	calls   []stripeCall
	decline bool
}

func (f *fakeStripe) routes() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		_ = c.Request.ParseForm()
		form := map[string]string{}
		for k := range c.Request.PostForm {
			form[k] = c.Request.PostForm.Get(k)
		}
		f.mu.Lock()
		f.calls = append(f.calls, stripeCall{Method: c.Request.Method, Path: c.Request.URL.Path, Form: form})
		f.mu.Unlock()
		c.Next()
	})

	r.POST("/v1/checkout/sessions", func(c *gin.Context) {
		if f.decline {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": gin.H{
				"type":    "card_error",
				"code":    "card_declined",
				"message": "Your card was declined.",
			}})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":     "cs_test_123",
			"object": "checkout.session",
			"mode":   c.PostForm("mode"),
			"url":    "https://checkout.stripe.test/c/pay/cs_test_123",
		})
	})
	r.GET("/v1/checkout/sessions/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"id":             c.Param("id"),
			"object":         "checkout.session",
			"payment_intent": "pi_123",
		})
	})
	r.POST("/v1/refunds", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": "re_123", "object": "refund", "status": "succeeded"})
	})
	r.GET("/v1/subscriptions/:id", func(c *gin.Context) {
		if c.Param("id") == "sub_missing" {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
				"type":    "invalid_request_error",
				"message": "No such subscription: 'sub_missing'",
			}})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":                 c.Param("id"),
			"object":             "subscription",
			"status":             "trialing",
			"customer":           "cus_1",
			"currency":           "eur",
			"created":            1700000000,
			"current_period_end": 1702592000,
			"metadata":           gin.H{"user_id": "u_1", "plan": "premium"},
			"items": gin.H{
				"object": "list",
				"data": []gin.H{
					{"id": "si_1", "object": "subscription_item", "price": gin.H{"id": "price_premium", "object": "price", "unit_amount": 1500}},
				},
			},
		})
	})
	return r
}

func (f *fakeStripe) last() stripeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type StripeProviderTestSuite struct {
	suite.Suite
	ctx      context.Context
	fake     *fakeStripe
	server   *httptest.Server
	provider *StripeProvider
}

func (s *StripeProviderTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.fake = &fakeStripe{}
	s.server = httptest.NewServer(s.fake.routes())

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(s.server.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	s.provider = newStripeProvider(config.PaymentConfig{
		StripeSecretKey: "sk_test_fake",
		Currency:        "eur",
		SuccessURL:      "https://downpricer.test/paid",
		CancelURL:       "https://downpricer.test/cancelled",
		PriceIDs:        map[string]string{"standard": "price_standard"},
	}, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func (s *StripeProviderTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *StripeProviderTestSuite) TestDepositOpensPendingCheckout() {
	result, err := s.provider.CreateDepositPayment(s.ctx, 180.5, map[string]string{
		"request_id": "req_1",
		"client_id":  "client_1",
		"kind":       PaymentKindDeposit,
	})
	s.Require().NoError(err)
	s.True(result.Success)
	s.True(result.Pending)
	s.Equal("cs_test_123", result.PaymentID)
	s.Equal("https://checkout.stripe.test/c/pay/cs_test_123", result.URL)
	s.Equal(PaymentTypeStripe, result.Type)
	s.Equal(180.5, result.Amount)

	call := s.fake.last()
	s.Equal(http.MethodPost, call.Method)
	s.Equal("/v1/checkout/sessions", call.Path)
	s.Equal("payment", call.Form["mode"])
	s.Equal("18050", call.Form["line_items[0][price_data][unit_amount]"])
	s.Equal("eur", call.Form["line_items[0][price_data][currency]"])
	s.Equal("req_1", call.Form["metadata[request_id]"])
	s.Equal("deposit", call.Form["metadata[kind]"])
	s.Equal("deposit", call.Form["payment_intent_data[metadata][kind]"])
	s.Equal("client_1", call.Form["client_reference_id"])
}

func (s *StripeProviderTestSuite) TestNonPositiveAmountNeverCallsStripe() {
	_, err := s.provider.CreateBalancePayment(s.ctx, 0, nil)
	var providerErr *ProviderError
	s.Require().ErrorAs(err, &providerErr)
	s.Equal("create balance payment", providerErr.Operation)
	s.Empty(s.fake.calls)
}

func (s *StripeProviderTestSuite) TestDeclineIsProviderError() {
	s.fake.decline = true

	_, err := s.provider.CreateDepositPayment(s.ctx, 50, nil)
	var providerErr *ProviderError
	s.Require().ErrorAs(err, &providerErr)
	s.Equal("stripe", providerErr.Provider)
	s.Equal("create deposit payment", providerErr.Operation)

	var stripeErr *stripe.Error
	s.Require().ErrorAs(err, &stripeErr)
	s.Equal(http.StatusPaymentRequired, stripeErr.HTTPStatusCode)
	s.Equal(stripe.ErrorCodeCardDeclined, stripeErr.Code)
}

func (s *StripeProviderTestSuite) TestSubscriptionCheckoutCarriesMetadata() {
	result, err := s.provider.CreateSubscription(s.ctx, "Standard", "user_1")
	s.Require().NoError(err)
	s.Equal("cs_test_123", result.SubscriptionID)
	s.Equal("standard", result.PlanID)
	s.NotEmpty(result.CheckoutURL)

	call := s.fake.last()
	s.Equal("subscription", call.Form["mode"])
	s.Equal("price_standard", call.Form["line_items[0][price]"])
	s.Equal("user_1", call.Form["subscription_data[metadata][user_id]"])
	s.Equal("standard", call.Form["subscription_data[metadata][plan]"])

	_, err = s.provider.CreateSubscription(s.ctx, "premium", "user_1")
	var providerErr *ProviderError
	s.ErrorAs(err, &providerErr)
}

func (s *StripeProviderTestSuite) TestRefundResolvesCheckoutSession() {
	result, err := s.provider.RefundDeposit(s.ctx, "cs_test_123", 180)
	s.Require().NoError(err)
	s.Equal("re_123", result.RefundID)

	s.Require().Len(s.fake.calls, 2)
	s.Equal(http.MethodGet, s.fake.calls[0].Method)
	s.Equal("/v1/checkout/sessions/cs_test_123", s.fake.calls[0].Path)

	refund := s.fake.calls[1]
	s.Equal("/v1/refunds", refund.Path)
	s.Equal("pi_123", refund.Form["payment_intent"])
	s.Equal("18000", refund.Form["amount"])
	s.Equal("requested_by_customer", refund.Form["reason"])
}

func (s *StripeProviderTestSuite) TestRefundByPaymentIntentSkipsLookup() {
	_, err := s.provider.RefundDeposit(s.ctx, "pi_live", 0)
	s.Require().NoError(err)
	s.Require().Len(s.fake.calls, 1)
	s.Equal("pi_live", s.fake.calls[0].Form["payment_intent"])
	s.NotContains(s.fake.calls[0].Form, "amount")
}

func (s *StripeProviderTestSuite) TestReadBackMapsSubscription() {
	ext, err := s.provider.GetSubscription(s.ctx, "sub_1")
	s.Require().NoError(err)
	s.Equal("sub_1", ext.ID)
	s.Equal("trialing", ext.Status)
	s.Equal("cus_1", ext.CustomerID)
	s.Equal("price_premium", ext.PriceID)
	s.Equal(int64(1500), ext.AmountCents)
	s.Equal("eur", ext.Currency)
	s.Equal(int64(1700000000), ext.Created.Unix())
	s.Require().NotNil(ext.CurrentPeriodEnd)
	s.Equal(int64(1702592000), ext.CurrentPeriodEnd.Unix())
	s.Equal("premium", ext.Metadata["plan"])

	_, err = s.provider.GetSubscription(s.ctx, "sub_missing")
	var providerErr *ProviderError
	s.Require().ErrorAs(err, &providerErr)
	s.Equal("get subscription", providerErr.Operation)
}

func TestStripeProviderTestSuite(t *testing.T) {
	suite.Run(t, new(StripeProviderTestSuite))
}
