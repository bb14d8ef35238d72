// internal/services/reconciliation_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/downpricer/marketplace-backend/internal/database"
	"github.com/downpricer/marketplace-backend/internal/models"
)

// ReconcileOutcome says what the engine did with one event.
type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeStale     ReconcileOutcome = "stale"
	OutcomeIgnored   ReconcileOutcome = "ignored"
)

var (
	errReadBackUnavailable = errors.New("subscription read-back is not configured")
	errPaymentsUnavailable = errors.New("request payments are not configured")
)

// PaymentSettler confirms the one-off deposit and balance payments opened
// through a hosted checkout.
type PaymentSettler interface {
	SettlePayment(ctx context.Context, requestID uuid.UUID, kind, paymentID string, paidAt time.Time) (bool, error)
}

// ReconciliationService applies payment processor events to subscriptions
// and to the tier part of user role sets. Every write is an upsert keyed by
// the processor's subscription id.
type ReconciliationService struct {
	db       *gorm.DB
	roles    *RoleSyncService
	reader   SubscriptionReader
	payments PaymentSettler
	dedup    EventDeduplicator
	notifier Notifier
	priceMap map[string]string // stripe price id -> plan code

	tracer    trace.Tracer
	processed metric.Int64Counter
}

func NewReconciliationService(db *gorm.DB, roles *RoleSyncService, reader SubscriptionReader, payments PaymentSettler, dedup EventDeduplicator, notifier Notifier, priceIDs map[string]string) *ReconciliationService {
	priceMap := make(map[string]string, len(priceIDs))
	for plan, price := range priceIDs {
		if price != "" {
			priceMap[price] = plan
		}
	}

	meter := otel.Meter("downpricer.reconciliation")
	processed, err := meter.Int64Counter("webhook.events.processed",
		metric.WithDescription("Payment processor events handled, by type and outcome"))
	if err != nil {
		logrus.WithError(err).Warn("Failed to create reconciliation counter")
	}

	return &ReconciliationService{
		db:        db,
		roles:     roles,
		reader:    reader,
		payments:  payments,
		dedup:     dedup,
		notifier:  notifier,
		priceMap:  priceMap,
		tracer:    otel.Tracer("downpricer.reconciliation"),
		processed: processed,
	}
}

// HandleEvent validates and applies one raw webhook payload. The event id is
// remembered only after success so failed deliveries are retried.
func (s *ReconciliationService) HandleEvent(ctx context.Context, payload []byte) (outcome ReconcileOutcome, err error) {
	event, err := ParseWebhookEvent(payload)
	if err != nil {
		return "", err
	}

	ctx, span := s.tracer.Start(ctx, "reconcile "+event.Type, trace.WithAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.event_type", event.Type),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
		}
		span.End()
		s.count(ctx, event.Type, outcome, err)
	}()

	log := logrus.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if !event.Handled() {
		log.Info("Ignoring unhandled webhook event")
		return OutcomeIgnored, nil
	}
	if s.dedup.Seen(ctx, event.ID) {
		log.Info("Duplicate webhook event")
		return OutcomeDuplicate, nil
	}

	switch event.Type {
	case EventCheckoutSessionCompleted:
		outcome, err = s.checkoutCompleted(ctx, event)
	case EventCheckoutAsyncPaymentPaid:
		outcome, err = s.asyncPaymentSucceeded(ctx, event)
	case EventSubscriptionUpdated:
		outcome, err = s.subscriptionUpdated(ctx, event)
	case EventSubscriptionDeleted:
		outcome, err = s.subscriptionDeleted(ctx, event)
	case EventInvoicePaid:
		outcome, err = s.invoiceSettled(ctx, event, true)
	case EventInvoicePaymentFailed:
		outcome, err = s.invoiceSettled(ctx, event, false)
	}
	if err != nil {
		log.WithError(err).Error("Failed to reconcile webhook event")
		return "", err
	}

	s.dedup.MarkProcessed(ctx, event.ID)
	log.WithField("outcome", outcome).Info("Webhook event reconciled")
	return outcome, nil
}

func (s *ReconciliationService) count(ctx context.Context, eventType string, outcome ReconcileOutcome, err error) {
	if s.processed == nil {
		return
	}
	result := string(outcome)
	if err != nil {
		result = "error"
	}
	s.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", result),
	))
}

// subscriptionState is everything one event tells us about a subscription,
// already resolved to a user and a plan.
type subscriptionState struct {
	ext      *ExternalSubscription
	userID   uuid.UUID
	plan     *models.Plan
	status   models.SubscriptionStatus
	active   bool
	tier     models.Tier
	syncTier bool
}

func (s *ReconciliationService) checkoutCompleted(ctx context.Context, event *WebhookEvent) (ReconcileOutcome, error) {
	var session checkoutSessionObject
	if err := decodeObject(event, &session); err != nil {
		return "", err
	}
	if session.Mode == "payment" {
		return s.paymentCompleted(ctx, event, &session)
	}
	product := session.Metadata["product"]
	if session.Mode != "subscription" || (product != "" && product != models.ProductMinisite) {
		return OutcomeIgnored, nil
	}
	if session.Subscription == "" {
		return "", &ValidationError{Field: "data.object.subscription", Message: "checkout session has no subscription"}
	}

	// The session payload may predate the subscription's real state.
	ext, err := s.readBack(ctx, session.Subscription)
	if err != nil {
		return "", err
	}

	metadata := mergeMetadata(session.Metadata, ext.Metadata)
	if metadata["user_id"] == "" {
		metadata["user_id"] = session.ClientReferenceID
	}
	if ext.CustomerID == "" {
		ext.CustomerID = session.Customer
	}

	state, err := s.resolve(ctx, s.db, ext, metadata, false)
	if err != nil {
		return "", err
	}
	state.syncTier = true

	outcome, err := s.apply(ctx, event, state)
	if err != nil || outcome != OutcomeApplied {
		return outcome, err
	}

	s.notifyActivated(ctx, state)
	return outcome, nil
}

func (s *ReconciliationService) asyncPaymentSucceeded(ctx context.Context, event *WebhookEvent) (ReconcileOutcome, error) {
	var session checkoutSessionObject
	if err := decodeObject(event, &session); err != nil {
		return "", err
	}
	if session.Mode != "payment" {
		return OutcomeIgnored, nil
	}
	return s.paymentCompleted(ctx, event, &session)
}

// paymentCompleted settles the deposit or balance behind a payment-mode
// session. Sessions paid by a delayed method arrive again as
// async_payment_succeeded once the funds clear.
func (s *ReconciliationService) paymentCompleted(ctx context.Context, event *WebhookEvent, session *checkoutSessionObject) (ReconcileOutcome, error) {
	kind := session.Metadata["kind"]
	if kind != PaymentKindDeposit && kind != PaymentKindBalance {
		return OutcomeIgnored, nil
	}
	if !session.settled() {
		logrus.WithFields(logrus.Fields{
			"session_id":     session.ID,
			"payment_status": session.PaymentStatus,
		}).Info("Checkout completed without captured funds")
		return OutcomeIgnored, nil
	}
	if s.payments == nil {
		return "", errPaymentsUnavailable
	}

	requestID, err := uuid.Parse(session.Metadata["request_id"])
	if err != nil {
		return "", &ValidationError{Field: "metadata.request_id", Message: fmt.Sprintf("checkout session %s names no request", session.ID)}
	}
	paymentID := session.PaymentIntent
	if paymentID == "" {
		paymentID = session.ID
	}

	settled, err := s.payments.SettlePayment(ctx, requestID, kind, paymentID, event.Created)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			return "", &ValidationError{Field: "metadata.request_id", Message: notFound.Error()}
		}
		return "", err
	}
	if !settled {
		return OutcomeStale, nil
	}
	return OutcomeApplied, nil
}

func (s *ReconciliationService) subscriptionUpdated(ctx context.Context, event *WebhookEvent) (ReconcileOutcome, error) {
	var object subscriptionObject
	if err := decodeObject(event, &object); err != nil {
		return "", err
	}
	ending := !models.SubscriptionStatus(object.Status).RetainsTier()
	state, err := s.resolve(ctx, s.db, object.external(), object.Metadata, ending)
	if err != nil {
		return "", err
	}
	state.syncTier = true
	return s.apply(ctx, event, state)
}

func (s *ReconciliationService) subscriptionDeleted(ctx context.Context, event *WebhookEvent) (ReconcileOutcome, error) {
	var object subscriptionObject
	if err := decodeObject(event, &object); err != nil {
		return "", err
	}
	ext := object.external()
	ext.Status = string(models.SubscriptionStatusCanceled)

	state, err := s.resolve(ctx, s.db, ext, object.Metadata, true)
	if err != nil {
		return "", err
	}
	state.syncTier = true
	return s.apply(ctx, event, state)
}

// invoiceSettled toggles the active flag. It never changes the tier or the
// subscription status.
func (s *ReconciliationService) invoiceSettled(ctx context.Context, event *WebhookEvent, paid bool) (ReconcileOutcome, error) {
	var invoice invoiceObject
	if err := decodeObject(event, &invoice); err != nil {
		return "", err
	}

	var ext *ExternalSubscription
	var existing models.Subscription
	err := s.db.WithContext(ctx).First(&existing, "id = ?", invoice.Subscription).Error
	switch {
	case err == nil:
		ext = externalFromRow(&existing)
	case errors.Is(err, gorm.ErrRecordNotFound):
		if ext, err = s.readBack(ctx, invoice.Subscription); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("failed to load subscription: %w", err)
	}

	// The status itself only moves on subscription events.
	state, err := s.resolve(ctx, s.db, ext, ext.Metadata, false)
	if err != nil {
		return "", err
	}
	state.active = paid && state.status.RetainsTier()
	return s.apply(ctx, event, state)
}

func (s *ReconciliationService) readBack(ctx context.Context, id string) (*ExternalSubscription, error) {
	if s.reader == nil {
		return nil, &ProviderError{Provider: "stripe", Operation: "get subscription", Err: errReadBackUnavailable}
	}
	return s.reader.GetSubscription(ctx, id)
}

// resolve pins down the user and plan from the event metadata, falling back
// to the price id and then to the stored row. An unmapped plan is rejected
// before anything is written unless the subscription is ending.
func (s *ReconciliationService) resolve(ctx context.Context, db *gorm.DB, ext *ExternalSubscription, metadata map[string]string, ending bool) (*subscriptionState, error) {
	var stored *models.Subscription
	var row models.Subscription
	if err := db.WithContext(ctx).First(&row, "id = ?", ext.ID).Error; err == nil {
		stored = &row
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	rawUser := metadata["user_id"]
	if rawUser == "" && stored != nil {
		rawUser = stored.UserID.String()
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return nil, &ValidationError{Field: "metadata.user_id", Message: fmt.Sprintf("cannot resolve user for subscription %s", ext.ID)}
	}

	planCode := metadata["plan"]
	if planCode == "" {
		planCode = s.priceMap[ext.PriceID]
	}
	if planCode == "" && stored != nil {
		planCode = stored.PlanCode
	}
	plan, ok := models.PlanByCode(planCode)
	if !ok {
		// Ending a subscription only ever removes a tier, so it does not need
		// to know which one it was.
		if !ending {
			return nil, &ValidationError{Field: "metadata.plan", Message: fmt.Sprintf("unknown plan %q", planCode)}
		}
		plan = models.Plan{Code: planCode}
	}

	status := models.SubscriptionStatus(ext.Status)
	state := &subscriptionState{
		ext:    ext,
		userID: userID,
		plan:   &plan,
		status: status,
		active: status.GrantsAccess(),
	}
	if status.RetainsTier() {
		state.tier = plan.Tier
	}
	return state, nil
}

// apply upserts the subscription row and, when asked, moves the user's tier.
// An event older than the last applied one is skipped; an equal timestamp is
// re-applied so a replay lands on the same state.
func (s *ReconciliationService) apply(ctx context.Context, event *WebhookEvent, state *subscriptionState) (ReconcileOutcome, error) {
	outcome := OutcomeApplied
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var existing models.Subscription
		found := true
		if err := tx.First(&existing, "id = ?", state.ext.ID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to load subscription: %w", err)
			}
			found = false
		}
		if found && existing.LastEventAt.After(event.Created) {
			outcome = OutcomeStale
			return nil
		}

		row := s.buildRow(state, event.Created)
		if found {
			row.CreatedAt = existing.CreatedAt
			if row.CustomerID == "" {
				row.CustomerID = existing.CustomerID
			}
			if row.CurrentPeriodEnd == nil {
				row.CurrentPeriodEnd = existing.CurrentPeriodEnd
			}
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(row).Error; err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		otherTier, otherActive, err := s.otherSubscriptions(ctx, tx, state)
		if err != nil {
			return err
		}
		if state.syncTier {
			target := state.tier
			if target.IsNone() {
				target = otherTier
			}
			if _, err := s.roles.SyncUserTier(ctx, tx, state.userID, target); err != nil {
				return err
			}
		}
		return s.setMinisiteActive(ctx, tx, state, state.active || otherActive)
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeStale {
		logrus.WithFields(logrus.Fields{
			"event_id":        event.ID,
			"subscription_id": state.ext.ID,
		}).Warn("Skipping stale subscription event")
	}
	return outcome, nil
}

// otherSubscriptions summarizes the user's other minisite subscriptions, so
// ending one subscription does not strip a tier another one still pays for.
func (s *ReconciliationService) otherSubscriptions(ctx context.Context, tx *gorm.DB, state *subscriptionState) (models.Tier, bool, error) {
	var others []models.Subscription
	err := tx.WithContext(ctx).
		Where("user_id = ? AND id <> ? AND product = ?", state.userID, state.ext.ID, models.ProductMinisite).
		Find(&others).Error
	if err != nil {
		return models.TierNone, false, fmt.Errorf("failed to load user subscriptions: %w", err)
	}
	best, active := models.TierNone, false
	for _, other := range others {
		if other.Status.RetainsTier() && other.Tier.Rank() > best.Rank() {
			best = other.Tier
		}
		active = active || other.Active
	}
	return best, active, nil
}

func (s *ReconciliationService) setMinisiteActive(ctx context.Context, tx *gorm.DB, state *subscriptionState, active bool) error {
	result := tx.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", state.userID).
		Update("minisite_active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update minisite flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "user", ID: state.userID.String()}
	}
	return nil
}

func (s *ReconciliationService) buildRow(state *subscriptionState, eventAt time.Time) *models.Subscription {
	ext := state.ext
	created := ext.Created
	if created.IsZero() {
		created = eventAt
	}
	return &models.Subscription{
		ID:               ext.ID,
		UserID:           state.userID,
		Product:          models.ProductMinisite,
		PlanCode:         state.plan.Code,
		Tier:             state.plan.Tier,
		PriceID:          ext.PriceID,
		AmountCents:      ext.AmountCents,
		Currency:         ext.Currency,
		CustomerID:       ext.CustomerID,
		Status:           state.status,
		Active:           state.active,
		CurrentPeriodEnd: ext.CurrentPeriodEnd,
		LastEventAt:      eventAt,
		CreatedAt:        created,
		UpdatedAt:        eventAt,
	}
}

func (s *ReconciliationService) notifyActivated(ctx context.Context, state *subscriptionState) {
	payload := map[string]string{
		"subscription_id": state.ext.ID,
		"user_id":         state.userID.String(),
		"plan":            state.plan.Name,
	}
	s.notifier.NotifyAdmin(ctx, EventAdminNewSubscription, payload)

	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "email").First(&user, "id = ?", state.userID).Error; err != nil {
		logrus.WithError(err).WithField("user_id", state.userID).Warn("Subscriber not found for notification")
		return
	}
	if state.active {
		s.notifier.NotifyUser(ctx, EventUserSubscriptionActivated, user.Email, payload)
	}
}

func externalFromRow(row *models.Subscription) *ExternalSubscription {
	return &ExternalSubscription{
		ID:               row.ID,
		Status:           string(row.Status),
		CustomerID:       row.CustomerID,
		PriceID:          row.PriceID,
		AmountCents:      row.AmountCents,
		Currency:         row.Currency,
		CurrentPeriodEnd: row.CurrentPeriodEnd,
		Created:          row.CreatedAt,
		Metadata: map[string]string{
			"user_id": row.UserID.String(),
			"plan":    row.PlanCode,
		},
	}
}

func mergeMetadata(primary, fallback map[string]string) map[string]string {
	out := make(map[string]string, len(primary)+len(fallback))
	for k, v := range fallback {
		out[k] = v
	}
	for k, v := range primary {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// ActivateFreeSubscription grants a plan without a processor round trip. It
// backs checkout in FREE_TEST mode and goes through the same upsert and role
// sync path as a processor event.
func (s *ReconciliationService) ActivateFreeSubscription(ctx context.Context, userID uuid.UUID, plan models.Plan) (*models.Subscription, error) {
	now := time.Now().UTC()
	state := &subscriptionState{
		ext: &ExternalSubscription{
			ID:       "free_" + userID.String(),
			Status:   string(models.SubscriptionStatusActive),
			Currency: "eur",
			Created:  now,
		},
		userID:   userID,
		plan:     &plan,
		status:   models.SubscriptionStatusActive,
		active:   true,
		tier:     plan.Tier,
		syncTier: true,
	}
	event := &WebhookEvent{ID: state.ext.ID, Type: EventCheckoutSessionCompleted, Created: now}
	if _, err := s.apply(ctx, event, state); err != nil {
		return nil, err
	}
	s.notifyActivated(ctx, state)

	var sub models.Subscription
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", state.ext.ID).Error; err != nil {
		return nil, notFoundOr(err, "subscription", state.ext.ID)
	}
	return &sub, nil
}
