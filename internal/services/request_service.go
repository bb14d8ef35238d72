// internal/services/request_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/i18n"
	"github.com/downpricer/marketplace-backend/internal/models"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

type RequestService struct {
	db        *gorm.DB
	settings  *SettingsService
	providers ProviderSelector
	notifier  Notifier
}

func NewRequestService(db *gorm.DB, settings *SettingsService, providers ProviderSelector, notifier Notifier) *RequestService {
	return &RequestService{
		db:        db,
		settings:  settings,
		providers: providers,
		notifier:  notifier,
	}
}

type CreateRequestInput struct {
	Name                string                 `json:"name" validate:"required,min=2,max=255,single_line"`
	Description         string                 `json:"description" validate:"max=5000"`
	Photos              []string               `json:"photos" validate:"max=10,dive,url"`
	MaxPrice            float64                `json:"max_price" validate:"required,gt=0"`
	ReferencePrice      *float64               `json:"reference_price" validate:"omitempty,gte=0"`
	DeliveryPreferences map[string]interface{} `json:"delivery_preferences"`
}

type RequestDepositInput struct {
	PaymentURL string `json:"payment_url" validate:"omitempty,url"`
}

type RequestBalanceInput struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

type TransitionInput struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=2000"`
}

type CancelInput struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type RequestFilter struct {
	utils.PaginationParams
	Status string
}

// PaymentOutcome is a transition driven by a provider payment.
type PaymentOutcome struct {
	Request *models.PurchaseRequest `json:"request"`
	Payment *PaymentResult          `json:"payment"`
}

// CancelResult separates the cancellation itself from the refund attempt it
// may have triggered.
type CancelResult struct {
	Request     *models.PurchaseRequest `json:"request"`
	SideEffects []SideEffectOutcome     `json:"side_effects"`
}

const sideEffectRefund = "refund_deposit"

// Payment kinds carried in processor metadata.
const (
	PaymentKindDeposit = "deposit"
	PaymentKindBalance = "balance"
)

// Create records a new purchase request. The deposit is computed from the
// percentage in effect now and is never recomputed.
func (s *RequestService) Create(ctx context.Context, clientID uuid.UUID, input CreateRequestInput) (*models.PurchaseRequest, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}

	var client models.User
	if err := s.db.WithContext(ctx).First(&client, "id = ?", clientID).Error; err != nil {
		return nil, notFoundOr(err, "user", clientID.String())
	}

	percentage := s.settings.DepositPercentage(ctx)
	deposit := ComputeDepositAmount(input.MaxPrice, percentage)
	if s.settings.BillingMode(ctx) == BillingModeFreeTest {
		deposit = 0
	}

	status := models.RequestStatusAwaitingDeposit
	if s.settings.RequestEntryMode(ctx) == EntryModeAnalysisFirst {
		status = models.RequestStatusAnalysis
	}

	request := &models.PurchaseRequest{
		ClientID:            clientID,
		Name:                input.Name,
		Description:         input.Description,
		Photos:              models.StringList(input.Photos),
		MaxPrice:            input.MaxPrice,
		ReferencePrice:      input.ReferencePrice,
		DeliveryPreferences: models.JSONB(input.DeliveryPreferences),
		DepositAmount:       deposit,
		Status:              status,
		CanCancel:           status.CanCancel(),
	}
	if err := s.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"request_id": request.ID,
		"client_id":  clientID,
		"deposit":    deposit,
		"status":     status,
	}).Info("Purchase request created")

	payload := map[string]string{
		"request_id":     request.ID.String(),
		"request_name":   request.Name,
		"client_email":   client.Email,
		"max_price":      formatMoney(request.MaxPrice),
		"deposit_amount": formatMoney(request.DepositAmount),
		"status":         string(request.Status),
	}
	s.notifier.NotifyUser(ctx, EventUserRequestReceived, client.Email, payload)
	s.notifier.NotifyAdmin(ctx, EventAdminNewClientRequest, payload)

	return request, nil
}

func (s *RequestService) Get(ctx context.Context, id uuid.UUID, actor Actor) (*models.PurchaseRequest, error) {
	request, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && request.ClientID != actor.ID {
		return nil, &ForbiddenError{Message: "request belongs to another client"}
	}
	return request, nil
}

// List returns the caller's requests, or every request for an administrator.
func (s *RequestService) List(ctx context.Context, actor Actor, filter RequestFilter) ([]models.PurchaseRequest, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.PurchaseRequest{})
	if !actor.Admin {
		query = query.Where("client_id = ?", actor.ID)
	}
	if filter.Status != "" {
		status, err := models.ParseRequestStatus(filter.Status)
		if err != nil {
			return nil, 0, &ValidationError{Field: "status", Message: err.Error()}
		}
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	var requests []models.PurchaseRequest
	query = utils.ApplySort(query, filter.PaginationParams, []string{"created_at", "max_price", "status"})
	query = utils.ApplyPagination(query, filter.PaginationParams)
	if err := query.Find(&requests).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, total, nil
}

// RequestDeposit is the admin step of the analysis-first flow. Without a
// supplied link the billing provider mints one.
func (s *RequestService) RequestDeposit(ctx context.Context, id uuid.UUID, input RequestDepositInput) (*models.PurchaseRequest, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}

	request, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestStatusAnalysis {
		return nil, requestStateError("request deposit for", request.Status)
	}

	link, paymentID := input.PaymentURL, ""
	if link == "" {
		result, err := s.provider(ctx).CreateDepositPayment(ctx, request.DepositAmount, s.paymentMetadata(request, PaymentKindDeposit))
		if err != nil {
			return nil, err
		}
		link, paymentID = result.URL, result.PaymentID
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":               models.RequestStatusDepositPending,
		"can_cancel":           models.RequestStatusDepositPending.CanCancel(),
		"deposit_payment_url":  link,
		"deposit_requested_at": now,
	}
	if paymentID != "" {
		updates["deposit_payment_id"] = paymentID
	}
	request, err = s.transition(ctx, id, "request deposit for", []models.RequestStatus{models.RequestStatusAnalysis}, updates)
	if err != nil {
		return nil, err
	}

	s.notifyClient(ctx, request, EventUserDepositRequested, map[string]string{
		"payment_url": link,
	})
	return request, nil
}

// PayDeposit charges the deposit through the active provider. A provider
// failure leaves the request untouched. A hosted checkout leaves the request
// in DEPOSIT_PENDING until the processor confirms the payment.
func (s *RequestService) PayDeposit(ctx context.Context, id uuid.UUID, actor Actor) (*PaymentOutcome, error) {
	request, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	from := []models.RequestStatus{models.RequestStatusAwaitingDeposit, models.RequestStatusDepositPending}
	if !statusIn(request.Status, from) {
		return nil, requestStateError("pay deposit for", request.Status)
	}

	result, err := s.provider(ctx).CreateDepositPayment(ctx, request.DepositAmount, s.paymentMetadata(request, PaymentKindDeposit))
	if err != nil {
		logrus.WithError(err).WithField("request_id", id).Warn("Deposit payment failed")
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"payment_type":       result.Type,
		"deposit_payment_id": result.PaymentID,
	}
	if result.Pending {
		updates["status"] = models.RequestStatusDepositPending
		updates["can_cancel"] = models.RequestStatusDepositPending.CanCancel()
		updates["deposit_payment_url"] = result.URL
		if request.DepositRequestedAt == nil {
			updates["deposit_requested_at"] = now
		}
	} else {
		updates["status"] = models.RequestStatusDepositPaid
		updates["can_cancel"] = models.RequestStatusDepositPaid.CanCancel()
		updates["deposit_paid_at"] = now
	}

	request, err = s.transition(ctx, id, "pay deposit for", from, updates)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"request_id":   id,
		"payment_type": result.Type,
	})
	if result.Pending {
		log.WithField("payment_id", result.PaymentID).Info("Deposit checkout opened")
	} else {
		log.Info("Deposit paid")
	}
	return &PaymentOutcome{Request: request, Payment: result}, nil
}

// RequestBalance asks the client for the remainder once the purchase is
// under way.
func (s *RequestService) RequestBalance(ctx context.Context, id uuid.UUID, input RequestBalanceInput) (*models.PurchaseRequest, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}
	request, err := s.transition(ctx, id, "request balance for", []models.RequestStatus{models.RequestStatusPurchaseLaunched}, map[string]interface{}{
		"status":         models.RequestStatusAwaitingBalance,
		"can_cancel":     models.RequestStatusAwaitingBalance.CanCancel(),
		"balance_amount": input.Amount,
	})
	if err != nil {
		return nil, err
	}
	s.notifyStatusChange(ctx, request, "")
	return request, nil
}

// PayBalance settles the remainder. As with the deposit, a hosted checkout
// only records the session and the request completes on confirmation.
func (s *RequestService) PayBalance(ctx context.Context, id uuid.UUID, actor Actor) (*PaymentOutcome, error) {
	request, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	from := []models.RequestStatus{models.RequestStatusAwaitingBalance}
	if request.Status != models.RequestStatusAwaitingBalance {
		return nil, requestStateError("pay balance for", request.Status)
	}

	result, err := s.provider(ctx).CreateBalancePayment(ctx, request.BalanceAmount, s.paymentMetadata(request, PaymentKindBalance))
	if err != nil {
		return nil, err
	}

	if result.Pending {
		request, err = s.transition(ctx, id, "pay balance for", from, map[string]interface{}{
			"balance_payment_id": result.PaymentID,
		})
		if err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"request_id": id,
			"payment_id": result.PaymentID,
		}).Info("Balance checkout opened")
		return &PaymentOutcome{Request: request, Payment: result}, nil
	}

	now := time.Now().UTC()
	request, err = s.transition(ctx, id, "pay balance for", from, map[string]interface{}{
		"status":             models.RequestStatusCompleted,
		"can_cancel":         models.RequestStatusCompleted.CanCancel(),
		"balance_payment_id": result.PaymentID,
		"balance_paid_at":    now,
		"completed_at":       now,
	})
	if err != nil {
		return nil, err
	}
	s.notifyStatusChange(ctx, request, "")
	return &PaymentOutcome{Request: request, Payment: result}, nil
}

// SettlePayment applies a processor confirmation for a deposit or balance
// checkout. It reports false when the request already left the payable
// status, so a replayed or late confirmation changes nothing.
func (s *RequestService) SettlePayment(ctx context.Context, requestID uuid.UUID, kind, paymentID string, paidAt time.Time) (bool, error) {
	var from []models.RequestStatus
	var updates map[string]interface{}
	switch kind {
	case PaymentKindDeposit:
		from = []models.RequestStatus{models.RequestStatusAwaitingDeposit, models.RequestStatusDepositPending}
		updates = map[string]interface{}{
			"status":          models.RequestStatusDepositPaid,
			"can_cancel":      models.RequestStatusDepositPaid.CanCancel(),
			"payment_type":    PaymentTypeStripe,
			"deposit_paid_at": paidAt,
		}
		if paymentID != "" {
			updates["deposit_payment_id"] = paymentID
		}
	case PaymentKindBalance:
		from = []models.RequestStatus{models.RequestStatusAwaitingBalance}
		updates = map[string]interface{}{
			"status":          models.RequestStatusCompleted,
			"can_cancel":      models.RequestStatusCompleted.CanCancel(),
			"balance_paid_at": paidAt,
			"completed_at":    paidAt,
		}
		if paymentID != "" {
			updates["balance_payment_id"] = paymentID
		}
	default:
		return false, &ValidationError{Field: "metadata.kind", Message: fmt.Sprintf("unknown payment kind %q", kind)}
	}

	request, err := s.transition(ctx, requestID, "settle "+kind+" for", from, updates)
	if err != nil {
		var stateErr *InvalidStateError
		if errors.As(err, &stateErr) {
			logrus.WithFields(logrus.Fields{
				"request_id": requestID,
				"kind":       kind,
				"status":     stateErr.Current,
			}).Warn("Payment confirmed for a request that is no longer payable")
			return false, nil
		}
		return false, err
	}

	logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"kind":       kind,
		"payment_id": paymentID,
	}).Info("Request payment settled")
	s.notifyStatusChange(ctx, request, "")
	return true, nil
}

// Cancel moves the request to CANCELLED. Only the winner of the transition
// attempts the refund, and a failed refund is recorded rather than returned.
func (s *RequestService) Cancel(ctx context.Context, id uuid.UUID, actor Actor, input CancelInput) (*CancelResult, error) {
	request, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if request.Status.IsTerminal() {
		return nil, &InvalidStateError{
			Resource:  "request",
			Operation: "cancel",
			Current:   string(request.Status),
			Message:   fmt.Sprintf("request is already %s", strings.ToLower(string(request.Status))),
		}
	}
	if !actor.Admin && request.Status.BlocksClientCancel() {
		return nil, &InvalidStateError{
			Resource:  "request",
			Operation: "cancel",
			Current:   string(request.Status),
			Message: fmt.Sprintf("request can no longer be cancelled in status %s, please contact %s",
				request.Status, s.settings.SupportEmail(ctx)),
		}
	}

	previous := request.Status
	request, err = s.transition(ctx, id, "cancel", []models.RequestStatus{previous}, map[string]interface{}{
		"status":              models.RequestStatusCancelled,
		"can_cancel":          false,
		"cancelled_at":        time.Now().UTC(),
		"cancellation_reason": input.Reason,
	})
	if err != nil {
		return nil, err
	}

	refund := s.refundDeposit(ctx, request)
	s.notifyStatusChange(ctx, request, input.Reason)

	return &CancelResult{Request: request, SideEffects: []SideEffectOutcome{refund}}, nil
}

// refundDeposit is best effort. Its outcome is persisted on the request.
func (s *RequestService) refundDeposit(ctx context.Context, request *models.PurchaseRequest) SideEffectOutcome {
	mode := s.settings.BillingMode(ctx)
	if request.DepositPaidAt == nil || mode != BillingModeStripeProd || request.DepositPaymentID == "" {
		return skipped(sideEffectRefund)
	}

	outcome := succeeded(sideEffectRefund)
	updates := map[string]interface{}{}
	result, err := s.providers.For(mode).RefundDeposit(ctx, request.DepositPaymentID, request.DepositAmount)
	if err != nil {
		logrus.WithError(err).WithField("request_id", request.ID).Error("Deposit refund failed, cancellation kept")
		outcome = failed(sideEffectRefund, err)
		updates["refund_status"] = models.RefundStatusFailed
	} else {
		updates["refund_status"] = models.RefundStatusRefunded
		updates["refund_id"] = result.RefundID
	}

	if err := s.db.WithContext(ctx).Model(request).Updates(updates).Error; err != nil {
		logrus.WithError(err).WithField("request_id", request.ID).Error("Failed to record refund outcome")
		return outcome
	}
	request.RefundStatus = updates["refund_status"].(models.RefundStatus)
	if result != nil {
		request.RefundID = result.RefundID
	}
	return outcome
}

// AdminTransition forces any status onto the request. The target arrives as
// a raw string and is normalized here.
func (s *RequestService) AdminTransition(ctx context.Context, id uuid.UUID, input TransitionInput) (*models.PurchaseRequest, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}
	target, err := models.ParseRequestStatus(input.Status)
	if err != nil {
		return nil, &ValidationError{Field: "status", Message: err.Error()}
	}

	current, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"status":     target,
		"can_cancel": target.CanCancel(),
	}
	now := time.Now().UTC()
	switch target {
	case models.RequestStatusCancelled:
		updates["cancellation_reason"] = input.Reason
		if current.CancelledAt == nil {
			updates["cancelled_at"] = now
		}
	case models.RequestStatusCompleted:
		if current.CompletedAt == nil {
			updates["completed_at"] = now
		}
	}

	request, err := s.transition(ctx, id, "change status of", []models.RequestStatus{current.Status}, updates)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"request_id": id,
		"from":       current.Status,
		"to":         target,
	}).Info("Request status changed by admin")

	s.notifyStatusChange(ctx, request, input.Reason)
	return request, nil
}

func (s *RequestService) provider(ctx context.Context) BillingProvider {
	return s.providers.For(s.settings.BillingMode(ctx))
}

func (s *RequestService) paymentMetadata(request *models.PurchaseRequest, kind string) map[string]string {
	return map[string]string{
		"request_id": request.ID.String(),
		"client_id":  request.ClientID.String(),
		"kind":       kind,
	}
}

func (s *RequestService) load(ctx context.Context, db *gorm.DB, id uuid.UUID) (*models.PurchaseRequest, error) {
	var request models.PurchaseRequest
	if err := db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "request", id.String())
	}
	return &request, nil
}

// transition applies updates guarded by the expected source statuses and
// returns the fresh row. A lost race surfaces as InvalidStateError with the
// status the winner left behind.
func (s *RequestService) transition(ctx context.Context, id uuid.UUID, op string, from []models.RequestStatus, updates map[string]interface{}) (*models.PurchaseRequest, error) {
	expected := make([]string, len(from))
	for i, st := range from {
		expected[i] = string(st)
	}
	won, err := guardedUpdate(ctx, s.db, &models.PurchaseRequest{}, id, expected, updates)
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, requestStateError(op, request.Status)
	}
	return request, nil
}

func (s *RequestService) notifyClient(ctx context.Context, request *models.PurchaseRequest, event NotificationEvent, extra map[string]string) {
	var client models.User
	if err := s.db.WithContext(ctx).Select("id", "email").First(&client, "id = ?", request.ClientID).Error; err != nil {
		logrus.WithError(err).WithField("request_id", request.ID).Warn("Client not found for notification")
		return
	}
	payload := map[string]string{
		"request_id":     request.ID.String(),
		"request_name":   request.Name,
		"status":         string(request.Status),
		"deposit_amount": formatMoney(request.DepositAmount),
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.notifier.NotifyUser(ctx, event, client.Email, payload)
}

func (s *RequestService) notifyStatusChange(ctx context.Context, request *models.PurchaseRequest, reason string) {
	s.notifyClient(ctx, request, EventUserRequestStatusChanged, map[string]string{
		"status_label": i18n.StatusLabel(i18n.DefaultLanguage(), string(request.Status)),
		"reason":       reason,
	})
}

func requestStateError(op string, current models.RequestStatus) error {
	return &InvalidStateError{Resource: "request", Operation: op, Current: string(current)}
}

func statusIn(status models.RequestStatus, set []models.RequestStatus) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}
