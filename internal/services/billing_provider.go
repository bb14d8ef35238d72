// internal/services/billing_provider.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/downpricer/marketplace-backend/internal/config"
)

type BillingMode string

const (
	BillingModeFreeTest   BillingMode = "FREE_TEST"
	BillingModeStripeProd BillingMode = "STRIPE_PROD"
)

func ParseBillingMode(s string) (BillingMode, error) {
	switch m := BillingMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case BillingModeFreeTest, BillingModeStripeProd:
		return m, nil
	}
	return "", fmt.Errorf("unknown billing mode %q", s)
}

// Provenance tags carried by every provider result.
const (
	PaymentTypeFreeTest = "FREE_TEST"
	PaymentTypeStripe   = "STRIPE"
)

// PaymentResult describes a payment attempt. Pending means the client still
// has to pay at URL and the processor confirms settlement later by webhook.
type PaymentResult struct {
	Success   bool    `json:"success"`
	Pending   bool    `json:"pending"`
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
	Type      string  `json:"type"`
	URL       string  `json:"url,omitempty"`
}

type SubscriptionResult struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
	PlanID         string `json:"plan_id"`
	Type           string `json:"type"`
	CheckoutURL    string `json:"checkout_url,omitempty"`
}

type RefundResult struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refund_id"`
	Type     string `json:"type"`
}

// BillingProvider is the only path from the lifecycle controllers to the
// payment processor. Implementations return a *ProviderError on failure.
type BillingProvider interface {
	CreateDepositPayment(ctx context.Context, amount float64, metadata map[string]string) (*PaymentResult, error)
	CreateBalancePayment(ctx context.Context, amount float64, metadata map[string]string) (*PaymentResult, error)
	CreateSubscription(ctx context.Context, planID string, userID string) (*SubscriptionResult, error)
	RefundDeposit(ctx context.Context, paymentID string, amount float64) (*RefundResult, error)
}

// ExternalSubscription is the processor's view of a subscription, used for
// read-back during reconciliation.
type ExternalSubscription struct {
	ID               string
	Status           string
	CustomerID       string
	PriceID          string
	AmountCents      int64
	Currency         string
	CurrentPeriodEnd *time.Time
	Created          time.Time
	Metadata         map[string]string
}

type SubscriptionReader interface {
	GetSubscription(ctx context.Context, id string) (*ExternalSubscription, error)
}

// ProviderSelector picks the provider for the billing mode in effect.
type ProviderSelector interface {
	For(mode BillingMode) BillingProvider
}

type ProviderSelectorFunc func(mode BillingMode) BillingProvider

func (f ProviderSelectorFunc) For(mode BillingMode) BillingProvider { return f(mode) }

type BillingProviders struct {
	free   BillingProvider
	stripe BillingProvider
}

func NewBillingProviders(cfg *config.Config) *BillingProviders {
	p := &BillingProviders{free: NewFreeTestProvider()}
	if cfg.Payment.StripeSecretKey != "" {
		p.stripe = NewStripeProvider(cfg.Payment)
	} else {
		p.stripe = unconfiguredProvider{}
	}
	return p
}

func (p *BillingProviders) For(mode BillingMode) BillingProvider {
	if mode == BillingModeStripeProd {
		return p.stripe
	}
	return p.free
}

// SubscriptionReader returns the stripe read-back client, or nil when stripe
// is not configured.
func (p *BillingProviders) SubscriptionReader() SubscriptionReader {
	if r, ok := p.stripe.(SubscriptionReader); ok {
		return r
	}
	return nil
}

// FreeTestProvider succeeds deterministically at zero cost. It backs the
// FREE_TEST billing mode.
type FreeTestProvider struct{}

func NewFreeTestProvider() *FreeTestProvider {
	return &FreeTestProvider{}
}

func (FreeTestProvider) CreateDepositPayment(ctx context.Context, amount float64, metadata map[string]string) (*PaymentResult, error) {
	return &PaymentResult{Success: true, PaymentID: PaymentTypeFreeTest, Amount: 0, Type: PaymentTypeFreeTest}, nil
}

func (FreeTestProvider) CreateBalancePayment(ctx context.Context, amount float64, metadata map[string]string) (*PaymentResult, error) {
	return &PaymentResult{Success: true, PaymentID: PaymentTypeFreeTest, Amount: 0, Type: PaymentTypeFreeTest}, nil
}

func (FreeTestProvider) CreateSubscription(ctx context.Context, planID string, userID string) (*SubscriptionResult, error) {
	return &SubscriptionResult{Success: true, SubscriptionID: PaymentTypeFreeTest, PlanID: planID, Type: PaymentTypeFreeTest}, nil
}

func (FreeTestProvider) RefundDeposit(ctx context.Context, paymentID string, amount float64) (*RefundResult, error) {
	return &RefundResult{Success: true, RefundID: PaymentTypeFreeTest, Type: PaymentTypeFreeTest}, nil
}

var errStripeNotConfigured = errors.New("stripe is not configured, set STRIPE_SECRET_KEY or switch billing mode")

// unconfiguredProvider stands in for stripe in STRIPE_PROD mode without keys.
type unconfiguredProvider struct{}

func (unconfiguredProvider) fail(op string) error {
	return &ProviderError{Provider: "stripe", Operation: op, Err: errStripeNotConfigured}
}

func (u unconfiguredProvider) CreateDepositPayment(ctx context.Context, amount float64, metadata map[string]string) (*PaymentResult, error) {
	return nil, u.fail("create deposit payment")
}

func (u unconfiguredProvider) CreateBalancePayment(ctx context.Context, amount float64, metadata map[string]string) (*PaymentResult, error) {
	return nil, u.fail("create balance payment")
}

func (u unconfiguredProvider) CreateSubscription(ctx context.Context, planID string, userID string) (*SubscriptionResult, error) {
	return nil, u.fail("create subscription")
}

func (u unconfiguredProvider) RefundDeposit(ctx context.Context, paymentID string, amount float64) (*RefundResult, error) {
	return nil, u.fail("refund deposit")
}
