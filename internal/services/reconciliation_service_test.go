// internal/services/reconciliation_service_test.go
package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/database/dbtest"
	"github.com/downpricer/marketplace-backend/internal/models"
)

type ReconciliationTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	reader   *stubReader
	notifier *recordingNotifier
	requests *RequestService
	engine   *ReconciliationService
	user     *models.User
}

func (s *ReconciliationTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = dbtest.New(s.T())
	s.reader = &stubReader{subs: map[string]*ExternalSubscription{}}
	s.notifier = &recordingNotifier{}
	s.requests = NewRequestService(s.db, NewSettingsService(s.db, testConfig()), fixedProvider(&stubProvider{}), s.notifier)
	s.engine = NewReconciliationService(s.db, NewRoleSyncService(), s.reader, s.requests, NewEventDeduplicator(nil, "webhook"), s.notifier,
		map[string]string{"standard": "price_standard", "premium": "price_premium"})
	s.user = createUser(s.T(), s.db, "subscriber@example.com", models.RoleClient)
}

func webhookPayload(id, eventType string, created int64, object map[string]interface{}) []byte {
	raw, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"type":    eventType,
		"created": created,
		"data":    map[string]interface{}{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return raw
}

func (s *ReconciliationTestSuite) subscriptionObject(id, status, plan string) map[string]interface{} {
	return map[string]interface{}{
		"id":       id,
		"status":   status,
		"customer": "cus_test",
		"metadata": map[string]string{"user_id": s.user.ID.String(), "plan": plan},
	}
}

func (s *ReconciliationTestSuite) handle(payload []byte) ReconcileOutcome {
	outcome, err := s.engine.HandleEvent(s.ctx, payload)
	s.Require().NoError(err)
	return outcome
}

func (s *ReconciliationTestSuite) subscription(id string) *models.Subscription {
	var sub models.Subscription
	s.Require().NoError(s.db.First(&sub, "id = ?", id).Error)
	return &sub
}

func (s *ReconciliationTestSuite) checkoutPayload(eventID string, created int64) []byte {
	s.reader.subs["sub_1"] = &ExternalSubscription{
		ID:          "sub_1",
		Status:      "active",
		CustomerID:  "cus_test",
		PriceID:     "price_standard",
		AmountCents: 1000,
		Currency:    "eur",
		Created:     time.Unix(1700000000, 0).UTC(),
	}
	return webhookPayload(eventID, EventCheckoutSessionCompleted, created, map[string]interface{}{
		"id":                  "cs_1",
		"mode":                "subscription",
		"subscription":        "sub_1",
		"client_reference_id": s.user.ID.String(),
		"metadata":            map[string]string{"product": models.ProductMinisite, "user_id": s.user.ID.String()},
	})
}

func (s *ReconciliationTestSuite) TestCheckoutCompletedGrantsTier() {
	s.Equal(OutcomeApplied, s.handle(s.checkoutPayload("evt_checkout", 1700000100)))

	sub := s.subscription("sub_1")
	s.Equal("standard", sub.PlanCode)
	s.Equal(models.TierStandard, sub.Tier)
	s.Equal(models.SubscriptionStatusActive, sub.Status)
	s.True(sub.Active)
	s.Equal(s.user.ID, sub.UserID)

	user := reloadUser(s.T(), s.db, s.user.ID)
	s.True(user.Roles.Equal(models.NewRoleSet(models.RoleClient, string(models.TierStandard))))
	s.Equal(models.TierStandard, user.PlanTier)
	s.True(user.MinisiteActive)

	s.Contains(s.notifier.events(), EventAdminNewSubscription)
	s.Contains(s.notifier.events(), EventUserSubscriptionActivated)
}

func (s *ReconciliationTestSuite) TestCheckoutReplayIsIdempotent() {
	payload := s.checkoutPayload("evt_checkout", 1700000100)
	s.handle(payload)
	first := s.subscription("sub_1")
	firstRoles := reloadUser(s.T(), s.db, s.user.ID).Roles

	s.Equal(OutcomeApplied, s.handle(payload))
	second := s.subscription("sub_1")
	secondRoles := reloadUser(s.T(), s.db, s.user.ID).Roles

	s.Equal(first.Status, second.Status)
	s.Equal(first.Tier, second.Tier)
	s.Equal(first.PlanCode, second.PlanCode)
	s.Equal(first.Active, second.Active)
	s.Equal(first.CustomerID, second.CustomerID)
	s.Equal(first.LastEventAt.Unix(), second.LastEventAt.Unix())
	s.Equal(first.CreatedAt.Unix(), second.CreatedAt.Unix())
	s.True(firstRoles.Equal(secondRoles))

	var count int64
	s.Require().NoError(s.db.Model(&models.Subscription{}).Count(&count).Error)
	s.Equal(int64(1), count)
}

func (s *ReconciliationTestSuite) TestCheckoutWithoutReadBackFails() {
	engine := NewReconciliationService(s.db, NewRoleSyncService(), nil, nil, NewEventDeduplicator(nil, "webhook"), s.notifier, nil)
	_, err := engine.HandleEvent(s.ctx, s.checkoutPayload("evt_checkout", 1700000100))
	var providerErr *ProviderError
	s.ErrorAs(err, &providerErr)
}

func (s *ReconciliationTestSuite) TestSubscriptionDeletedRemovesOnlyTier() {
	s.Require().NoError(s.db.Model(&models.User{}).Where("id = ?", s.user.ID).Updates(map[string]interface{}{
		"roles":           models.NewRoleSet(string(models.TierStandard), models.RoleSeller),
		"plan_tier":       models.TierStandard,
		"minisite_active": true,
	}).Error)

	payload := webhookPayload("evt_deleted", EventSubscriptionDeleted, 1700000500,
		s.subscriptionObject("sub_1", "canceled", "standard"))
	s.Equal(OutcomeApplied, s.handle(payload))

	user := reloadUser(s.T(), s.db, s.user.ID)
	s.True(user.Roles.Equal(models.NewRoleSet(models.RoleSeller)))
	s.Equal(models.TierNone, user.PlanTier)
	s.False(user.MinisiteActive)

	sub := s.subscription("sub_1")
	s.Equal(models.SubscriptionStatusCanceled, sub.Status)
	s.False(sub.Active)
}

func (s *ReconciliationTestSuite) TestDeletingOneOfTwoSubscriptionsKeepsTheOther() {
	s.handle(webhookPayload("evt_a", EventSubscriptionUpdated, 1700000100, s.subscriptionObject("sub_a", "active", "standard")))
	s.handle(webhookPayload("evt_b", EventSubscriptionUpdated, 1700000200, s.subscriptionObject("sub_b", "active", "premium")))
	s.Equal(models.TierPremium, reloadUser(s.T(), s.db, s.user.ID).PlanTier)

	s.handle(webhookPayload("evt_b_del", EventSubscriptionDeleted, 1700000300, s.subscriptionObject("sub_b", "canceled", "premium")))

	user := reloadUser(s.T(), s.db, s.user.ID)
	s.Equal(models.TierStandard, user.PlanTier)
	s.True(user.Roles.Equal(models.NewRoleSet(models.RoleClient, string(models.TierStandard))))
	s.True(user.MinisiteActive)
}

func (s *ReconciliationTestSuite) TestStaleEventIsSkipped() {
	s.handle(webhookPayload("evt_new", EventSubscriptionUpdated, 1700002000, s.subscriptionObject("sub_1", "active", "standard")))

	outcome := s.handle(webhookPayload("evt_old", EventSubscriptionUpdated, 1700001000, s.subscriptionObject("sub_1", "canceled", "standard")))
	s.Equal(OutcomeStale, outcome)

	sub := s.subscription("sub_1")
	s.Equal(models.SubscriptionStatusActive, sub.Status)
	s.Equal(int64(1700002000), sub.LastEventAt.Unix())
	s.Equal(models.TierStandard, reloadUser(s.T(), s.db, s.user.ID).PlanTier)
}

func (s *ReconciliationTestSuite) TestUnknownPlanIsRejected() {
	payload := webhookPayload("evt_unknown", EventSubscriptionUpdated, 1700000100, s.subscriptionObject("sub_1", "active", "platinum"))

	_, err := s.engine.HandleEvent(s.ctx, payload)
	var validation *ValidationError
	s.Require().ErrorAs(err, &validation)
	s.Equal("metadata.plan", validation.Field)

	user := reloadUser(s.T(), s.db, s.user.ID)
	s.True(user.Roles.Equal(models.NewRoleSet(models.RoleClient)))
	var count int64
	s.Require().NoError(s.db.Model(&models.Subscription{}).Count(&count).Error)
	s.Zero(count)
}

func (s *ReconciliationTestSuite) TestPlanResolvedFromPriceID() {
	object := s.subscriptionObject("sub_1", "active", "")
	object["metadata"] = map[string]string{"user_id": s.user.ID.String()}
	object["items"] = map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"price": map[string]interface{}{"id": "price_premium", "unit_amount": 1500, "currency": "eur"}},
		},
	}
	s.handle(webhookPayload("evt_price", EventSubscriptionUpdated, 1700000100, object))

	sub := s.subscription("sub_1")
	s.Equal("premium", sub.PlanCode)
	s.Equal(int64(1500), sub.AmountCents)
	s.Equal(models.TierPremium, reloadUser(s.T(), s.db, s.user.ID).PlanTier)
}

func (s *ReconciliationTestSuite) TestPastDueKeepsTier() {
	s.handle(webhookPayload("evt_1", EventSubscriptionUpdated, 1700000100, s.subscriptionObject("sub_1", "active", "standard")))
	s.handle(webhookPayload("evt_2", EventSubscriptionUpdated, 1700000200, s.subscriptionObject("sub_1", "past_due", "standard")))

	user := reloadUser(s.T(), s.db, s.user.ID)
	s.Equal(models.TierStandard, user.PlanTier)
	s.False(user.MinisiteActive)
	s.False(s.subscription("sub_1").Active)
}

func (s *ReconciliationTestSuite) TestInvoiceEventsNeverChangeTier() {
	s.handle(webhookPayload("evt_1", EventSubscriptionUpdated, 1700000100, s.subscriptionObject("sub_1", "active", "standard")))

	failed := webhookPayload("evt_inv_failed", EventInvoicePaymentFailed, 1700000200,
		map[string]interface{}{"id": "in_1", "subscription": "sub_1"})
	s.Equal(OutcomeApplied, s.handle(failed))
	sub := s.subscription("sub_1")
	s.False(sub.Active)
	s.Equal(models.SubscriptionStatusActive, sub.Status)
	s.Equal(models.TierStandard, reloadUser(s.T(), s.db, s.user.ID).PlanTier)

	paid := webhookPayload("evt_inv_paid", EventInvoicePaid, 1700000300,
		map[string]interface{}{"id": "in_2", "subscription": "sub_1"})
	s.Equal(OutcomeApplied, s.handle(paid))
	s.True(s.subscription("sub_1").Active)
	s.True(reloadUser(s.T(), s.db, s.user.ID).MinisiteActive)
}

func (s *ReconciliationTestSuite) TestInvoiceEventsKeepTrialingStatus() {
	s.handle(webhookPayload("evt_1", EventSubscriptionUpdated, 1700000100, s.subscriptionObject("sub_1", "trialing", "standard")))

	s.handle(webhookPayload("evt_inv_failed", EventInvoicePaymentFailed, 1700000200,
		map[string]interface{}{"id": "in_1", "subscription": "sub_1"}))
	sub := s.subscription("sub_1")
	s.Equal(models.SubscriptionStatusTrialing, sub.Status)
	s.False(sub.Active)
	s.False(reloadUser(s.T(), s.db, s.user.ID).MinisiteActive)

	s.handle(webhookPayload("evt_inv_paid", EventInvoicePaid, 1700000300,
		map[string]interface{}{"id": "in_2", "subscription": "sub_1"}))
	sub = s.subscription("sub_1")
	s.Equal(models.SubscriptionStatusTrialing, sub.Status)
	s.True(sub.Active)
	s.True(reloadUser(s.T(), s.db, s.user.ID).MinisiteActive)
}

func (s *ReconciliationTestSuite) createRequest(status models.RequestStatus) *models.PurchaseRequest {
	request := &models.PurchaseRequest{
		ClientID:      s.user.ID,
		Name:          "Vintage camera",
		MaxPrice:      450,
		DepositAmount: 180,
		BalanceAmount: 270,
		Status:        status,
		CanCancel:     status.CanCancel(),
	}
	s.Require().NoError(s.db.Create(request).Error)
	return request
}

func (s *ReconciliationTestSuite) paymentSession(request *models.PurchaseRequest, kind, paymentStatus string) map[string]interface{} {
	return map[string]interface{}{
		"id":             "cs_pay_" + kind,
		"mode":           "payment",
		"payment_status": paymentStatus,
		"payment_intent": "pi_" + kind,
		"metadata": map[string]string{
			"request_id": request.ID.String(),
			"client_id":  s.user.ID.String(),
			"kind":       kind,
		},
	}
}

func (s *ReconciliationTestSuite) reloadRequest(id uuid.UUID) *models.PurchaseRequest {
	var request models.PurchaseRequest
	s.Require().NoError(s.db.First(&request, "id = ?", id).Error)
	return &request
}

func (s *ReconciliationTestSuite) TestDepositCheckoutSettlesRequest() {
	request := s.createRequest(models.RequestStatusDepositPending)

	payload := webhookPayload("evt_dep", EventCheckoutSessionCompleted, 1700000100, s.paymentSession(request, PaymentKindDeposit, "paid"))
	s.Equal(OutcomeApplied, s.handle(payload))

	stored := s.reloadRequest(request.ID)
	s.Equal(models.RequestStatusDepositPaid, stored.Status)
	s.Equal("pi_deposit", stored.DepositPaymentID)
	s.Equal(PaymentTypeStripe, stored.PaymentType)
	s.Require().NotNil(stored.DepositPaidAt)
	s.Equal(int64(1700000100), stored.DepositPaidAt.Unix())
	s.Contains(s.notifier.events(), EventUserRequestStatusChanged)

	s.Equal(OutcomeDuplicate, s.handle(payload))

	redelivered := webhookPayload("evt_dep_again", EventCheckoutSessionCompleted, 1700000200, s.paymentSession(request, PaymentKindDeposit, "paid"))
	s.Equal(OutcomeStale, s.handle(redelivered))
	s.Equal(int64(1700000100), s.reloadRequest(request.ID).DepositPaidAt.Unix())

	var count int64
	s.Require().NoError(s.db.Model(&models.Subscription{}).Count(&count).Error)
	s.Zero(count)
}

func (s *ReconciliationTestSuite) TestDelayedDepositWaitsForFunds() {
	request := s.createRequest(models.RequestStatusDepositPending)

	unpaid := webhookPayload("evt_dep", EventCheckoutSessionCompleted, 1700000100, s.paymentSession(request, PaymentKindDeposit, "unpaid"))
	s.Equal(OutcomeIgnored, s.handle(unpaid))
	s.Equal(models.RequestStatusDepositPending, s.reloadRequest(request.ID).Status)

	cleared := webhookPayload("evt_dep_async", EventCheckoutAsyncPaymentPaid, 1700000900, s.paymentSession(request, PaymentKindDeposit, "paid"))
	s.Equal(OutcomeApplied, s.handle(cleared))
	s.Equal(models.RequestStatusDepositPaid, s.reloadRequest(request.ID).Status)
}

func (s *ReconciliationTestSuite) TestBalanceCheckoutCompletesRequest() {
	request := s.createRequest(models.RequestStatusAwaitingBalance)

	payload := webhookPayload("evt_bal", EventCheckoutSessionCompleted, 1700000100, s.paymentSession(request, PaymentKindBalance, "paid"))
	s.Equal(OutcomeApplied, s.handle(payload))

	stored := s.reloadRequest(request.ID)
	s.Equal(models.RequestStatusCompleted, stored.Status)
	s.False(stored.CanCancel)
	s.Equal("pi_balance", stored.BalancePaymentID)
	s.NotNil(stored.BalancePaidAt)
	s.NotNil(stored.CompletedAt)
}

func (s *ReconciliationTestSuite) TestPaymentCheckoutForCancelledRequestIsStale() {
	request := s.createRequest(models.RequestStatusCancelled)

	payload := webhookPayload("evt_dep", EventCheckoutSessionCompleted, 1700000100, s.paymentSession(request, PaymentKindDeposit, "paid"))
	s.Equal(OutcomeStale, s.handle(payload))

	stored := s.reloadRequest(request.ID)
	s.Equal(models.RequestStatusCancelled, stored.Status)
	s.Nil(stored.DepositPaidAt)
}

func (s *ReconciliationTestSuite) TestPaymentCheckoutRejectsUnknownRequest() {
	ghost := &models.PurchaseRequest{ClientID: s.user.ID}
	ghost.ID = uuid.New()
	payload := webhookPayload("evt_dep", EventCheckoutSessionCompleted, 1700000100, s.paymentSession(ghost, PaymentKindDeposit, "paid"))

	_, err := s.engine.HandleEvent(s.ctx, payload)
	var validation *ValidationError
	s.Require().ErrorAs(err, &validation)
	s.Equal("metadata.request_id", validation.Field)

	session := s.paymentSession(ghost, PaymentKindDeposit, "paid")
	session["metadata"] = map[string]string{"kind": "tip"}
	s.Equal(OutcomeIgnored, s.handle(webhookPayload("evt_tip", EventCheckoutSessionCompleted, 1700000100, session)))
}

func (s *ReconciliationTestSuite) TestUnhandledAndMalformedEvents() {
	ignored := webhookPayload("evt_charge", "charge.succeeded", 1700000100, map[string]interface{}{"id": "ch_1"})
	s.Equal(OutcomeIgnored, s.handle(ignored))

	_, err := s.engine.HandleEvent(s.ctx, []byte(`{"type":"customer.subscription.updated","created":1,"data":{"object":{}}}`))
	var validation *ValidationError
	s.ErrorAs(err, &validation)

	_, err = s.engine.HandleEvent(s.ctx, webhookPayload("evt_bad", EventSubscriptionUpdated, 1700000100,
		map[string]interface{}{"id": "sub_1", "status": "exploded"}))
	s.ErrorAs(err, &validation)

	_, err = s.engine.HandleEvent(s.ctx, []byte("not json"))
	s.ErrorAs(err, &validation)
}

func (s *ReconciliationTestSuite) TestUnknownUserFailsClosed() {
	object := s.subscriptionObject("sub_1", "active", "standard")
	object["metadata"] = map[string]string{"user_id": uuid.NewString(), "plan": "standard"}

	_, err := s.engine.HandleEvent(s.ctx, webhookPayload("evt_ghost", EventSubscriptionUpdated, 1700000100, object))
	var notFound *NotFoundError
	s.ErrorAs(err, &notFound)

	var count int64
	s.Require().NoError(s.db.Model(&models.Subscription{}).Count(&count).Error)
	s.Zero(count)
}

func (s *ReconciliationTestSuite) TestFreeActivation() {
	plan, ok := models.PlanByCode("premium")
	s.Require().True(ok)

	sub, err := s.engine.ActivateFreeSubscription(s.ctx, s.user.ID, plan)
	s.Require().NoError(err)
	s.Equal("free_"+s.user.ID.String(), sub.ID)
	s.True(sub.Active)
	s.Equal(models.TierPremium, reloadUser(s.T(), s.db, s.user.ID).PlanTier)
}

func TestReconciliationTestSuite(t *testing.T) {
	suite.Run(t, new(ReconciliationTestSuite))
}
