// internal/services/helpers_test.go
package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/models"
)

type sentNotification struct {
	Event     NotificationEvent
	Recipient string
	Payload   map[string]string
}

// recordingNotifier captures notifications instead of sending them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) NotifyAdmin(_ context.Context, event NotificationEvent, payload map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Event: event, Payload: payload})
}

func (n *recordingNotifier) NotifyUser(_ context.Context, event NotificationEvent, recipient string, payload map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Event: event, Recipient: recipient, Payload: payload})
}

func (n *recordingNotifier) events() []NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationEvent, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Event)
	}
	return out
}

func (n *recordingNotifier) last(event NotificationEvent) (sentNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Event == event {
			return n.sent[i], true
		}
	}
	return sentNotification{}, false
}

// stubProvider plays the processor in STRIPE_PROD tests. With pending set it
// answers like a hosted checkout that the client has yet to pay.
type stubProvider struct {
	depositErr error
	refundErr  error
	pending    bool

	depositCalls int
	refunds      []string
}

func (p *stubProvider) payment(kind string, amount float64) *PaymentResult {
	if p.pending {
		return &PaymentResult{
			Success:   true,
			Pending:   true,
			PaymentID: "cs_test_" + kind,
			Amount:    amount,
			Type:      PaymentTypeStripe,
			URL:       "https://checkout.test/cs_test_" + kind,
		}
	}
	return &PaymentResult{Success: true, PaymentID: "pi_test_" + kind, Amount: amount, Type: PaymentTypeStripe}
}

func (p *stubProvider) CreateDepositPayment(_ context.Context, amount float64, _ map[string]string) (*PaymentResult, error) {
	p.depositCalls++
	if p.depositErr != nil {
		return nil, &ProviderError{Provider: "stub", Operation: "create deposit payment", Err: p.depositErr}
	}
	return p.payment(PaymentKindDeposit, amount), nil
}

func (p *stubProvider) CreateBalancePayment(_ context.Context, amount float64, _ map[string]string) (*PaymentResult, error) {
	return p.payment(PaymentKindBalance, amount), nil
}

func (p *stubProvider) CreateSubscription(_ context.Context, planID string, _ string) (*SubscriptionResult, error) {
	return &SubscriptionResult{Success: true, SubscriptionID: "cs_test", PlanID: planID, Type: PaymentTypeStripe, CheckoutURL: "https://checkout.test/cs_test"}, nil
}

func (p *stubProvider) RefundDeposit(_ context.Context, paymentID string, _ float64) (*RefundResult, error) {
	p.refunds = append(p.refunds, paymentID)
	if p.refundErr != nil {
		return nil, &ProviderError{Provider: "stub", Operation: "refund deposit", Err: p.refundErr}
	}
	return &RefundResult{Success: true, RefundID: "re_test", Type: PaymentTypeStripe}, nil
}

// stubReader serves read-back subscriptions from a map.
type stubReader struct {
	subs map[string]*ExternalSubscription
}

func (r *stubReader) GetSubscription(_ context.Context, id string) (*ExternalSubscription, error) {
	sub, ok := r.subs[id]
	if !ok {
		return nil, &ProviderError{Provider: "stub", Operation: "get subscription", Err: errors.New("no such subscription")}
	}
	copied := *sub
	return &copied, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		JWT:         config.JWTConfig{SecretKey: "test-secret", AccessTokenTTL: 1},
		Billing: config.BillingConfig{
			DefaultMode:       string(BillingModeFreeTest),
			DepositPercentage: 40,
			RequestEntryMode:  EntryModeDepositFirst,
		},
		Notify: config.NotifyConfig{
			SupportEmail: "support@downpricer.test",
			AdminEmail:   "admin@downpricer.test",
			BrandName:    "DownPricer",
		},
		Email: config.EmailConfig{FromEmail: "noreply@downpricer.test", FromName: "DownPricer"},
	}
}

func fixedProvider(p BillingProvider) ProviderSelector {
	return ProviderSelectorFunc(func(BillingMode) BillingProvider { return p })
}

func createUser(t *testing.T, db *gorm.DB, email string, roles ...string) *models.User {
	t.Helper()
	user := &models.User{
		Email: email,
		Roles: models.NewRoleSet(roles...),
	}
	require.NoError(t, user.SetPassword("Secret123"))
	require.NoError(t, db.Create(user).Error)
	return user
}

func createItem(t *testing.T, db *gorm.DB, name string, price float64, stock int) *models.CatalogItem {
	t.Helper()
	item := &models.CatalogItem{Name: name, Price: price, Stock: stock}
	require.NoError(t, db.Create(item).Error)
	return item
}

func reloadUser(t *testing.T, db *gorm.DB, id interface{}) *models.User {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, "id = ?", id).Error)
	return &user
}
