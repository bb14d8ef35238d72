// internal/services/billing_stripe.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/models"
)

// StripeProvider is the real BillingProvider. It also serves subscription
// read-back for the reconciliation engine.
type StripeProvider struct {
	api *client.API
	cfg config.PaymentConfig
}

func NewStripeProvider(cfg config.PaymentConfig) *StripeProvider {
	return newStripeProvider(cfg, nil)
}

// newStripeProvider talks to the given backends, or to the live API when
// backends is nil.
func newStripeProvider(cfg config.PaymentConfig, backends *stripe.Backends) *StripeProvider {
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, backends)
	return &StripeProvider{api: api, cfg: cfg}
}

func (p *StripeProvider) fail(op string, err error) error {
	logrus.WithError(err).WithField("operation", op).Error("Stripe call failed")
	return &ProviderError{Provider: "stripe", Operation: op, Err: err}
}

func (p *StripeProvider) CreateDepositPayment(ctx context.Context, amount float64, metadata map[string]string) (*PaymentResult, error) {
	return p.createPaymentSession(ctx, "create deposit payment", "Acompte", amount, metadata)
}

func (p *StripeProvider) CreateBalancePayment(ctx context.Context, amount float64, metadata map[string]string) (*PaymentResult, error) {
	return p.createPaymentSession(ctx, "create balance payment", "Solde", amount, metadata)
}

// createPaymentSession mints a hosted payment page for a one-off amount.
func (p *StripeProvider) createPaymentSession(ctx context.Context, op, label string, amount float64, metadata map[string]string) (*PaymentResult, error) {
	if amount <= 0 {
		return nil, p.fail(op, fmt.Errorf("amount must be positive, got %.2f", amount))
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(p.cfg.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(label),
					},
					UnitAmount: stripe.Int64(toCents(amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.cfg.SuccessURL),
		CancelURL:  stripe.String(p.cfg.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if clientID := metadata["client_id"]; clientID != "" {
		params.ClientReferenceID = stripe.String(clientID)
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, p.fail(op, err)
	}

	// Funds move only once the client completes the hosted page.
	return &PaymentResult{
		Success:   true,
		Pending:   true,
		PaymentID: sess.ID,
		Amount:    amount,
		Type:      PaymentTypeStripe,
		URL:       sess.URL,
	}, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, planID string, userID string) (*SubscriptionResult, error) {
	plan, ok := models.PlanByCode(planID)
	if !ok {
		return nil, &ValidationError{Field: "plan", Message: fmt.Sprintf("unknown plan %q", planID)}
	}
	priceID := p.cfg.PriceIDs[plan.Code]
	if priceID == "" {
		return nil, p.fail("create subscription", fmt.Errorf("no stripe price configured for plan %s", plan.Code))
	}

	metadata := map[string]string{
		"user_id": userID,
		"plan":    plan.Code,
		"product": models.ProductMinisite,
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(p.cfg.SuccessURL),
		CancelURL:         stripe.String(p.cfg.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, p.fail("create subscription", err)
	}

	return &SubscriptionResult{
		Success:        true,
		SubscriptionID: sess.ID,
		PlanID:         plan.Code,
		Type:           PaymentTypeStripe,
		CheckoutURL:    sess.URL,
	}, nil
}

func (p *StripeProvider) RefundDeposit(ctx context.Context, paymentID string, amount float64) (*RefundResult, error) {
	intentID, err := p.resolvePaymentIntent(ctx, paymentID)
	if err != nil {
		return nil, p.fail("refund deposit", err)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(toCents(amount))
	}
	params.Context = ctx

	r, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, p.fail("refund deposit", err)
	}

	return &RefundResult{Success: true, RefundID: r.ID, Type: PaymentTypeStripe}, nil
}

// resolvePaymentIntent accepts either a payment intent id or the checkout
// session id stored at payment time.
func (p *StripeProvider) resolvePaymentIntent(ctx context.Context, paymentID string) (string, error) {
	if !strings.HasPrefix(paymentID, "cs_") {
		return paymentID, nil
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := p.api.CheckoutSessions.Get(paymentID, params)
	if err != nil {
		return "", err
	}
	if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
		return "", fmt.Errorf("checkout session %s has no payment intent", paymentID)
	}
	return sess.PaymentIntent.ID, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*ExternalSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, p.fail("get subscription", err)
	}

	ext := &ExternalSubscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Currency: string(sub.Currency),
		Created:  time.Unix(sub.Created, 0).UTC(),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		ext.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		ext.CurrentPeriodEnd = &end
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		ext.PriceID = sub.Items.Data[0].Price.ID
		ext.AmountCents = sub.Items.Data[0].Price.UnitAmount
	}
	return ext, nil
}
