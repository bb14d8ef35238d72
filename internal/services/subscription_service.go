// internal/services/subscription_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/database"
	"github.com/downpricer/marketplace-backend/internal/models"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

// SubscriptionService covers the user-facing checkout and the administrator
// plan overrides. Processor-driven changes live in ReconciliationService.
type SubscriptionService struct {
	db        *gorm.DB
	settings  *SettingsService
	providers ProviderSelector
	roles     *RoleSyncService
	engine    *ReconciliationService
}

func NewSubscriptionService(db *gorm.DB, settings *SettingsService, providers ProviderSelector, roles *RoleSyncService, engine *ReconciliationService) *SubscriptionService {
	return &SubscriptionService{
		db:        db,
		settings:  settings,
		providers: providers,
		roles:     roles,
		engine:    engine,
	}
}

type CheckoutInput struct {
	Plan string `json:"plan" validate:"required,plan_code"`
}

type CheckoutResult struct {
	Checkout     *SubscriptionResult  `json:"checkout"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

type SetTierInput struct {
	Tier string `json:"tier" validate:"required"`
}

type ReplaceRolesInput struct {
	Roles []string `json:"roles" validate:"required,min=1,dive,required"`
}

// MySubscription is the storefront view of a user's plan.
type MySubscription struct {
	Subscription   *models.Subscription `json:"subscription"`
	Tier           models.Tier          `json:"tier"`
	Plan           *models.Plan         `json:"plan,omitempty"`
	MinisiteActive bool                 `json:"minisite_active"`
	Roles          models.RoleSet       `json:"roles"`
}

// Checkout starts a minisite subscription. In FREE_TEST mode the plan is
// granted immediately; otherwise the tier arrives with the processor's
// checkout.session.completed event.
func (s *SubscriptionService) Checkout(ctx context.Context, userID uuid.UUID, input CheckoutInput) (*CheckoutResult, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}
	plan, ok := models.PlanByCode(input.Plan)
	if !ok {
		return nil, &ValidationError{Field: "plan", Message: fmt.Sprintf("unknown plan %q", input.Plan)}
	}

	var user models.User
	if err := s.db.WithContext(ctx).Select("id").First(&user, "id = ?", userID).Error; err != nil {
		return nil, notFoundOr(err, "user", userID.String())
	}

	result, err := s.providers.For(s.settings.BillingMode(ctx)).CreateSubscription(ctx, plan.Code, userID.String())
	if err != nil {
		return nil, err
	}

	out := &CheckoutResult{Checkout: result}
	if result.Type == PaymentTypeFreeTest {
		sub, err := s.engine.ActivateFreeSubscription(ctx, userID, plan)
		if err != nil {
			return nil, err
		}
		out.Subscription = sub
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"plan":    plan.Code,
		"type":    result.Type,
	}).Info("Subscription checkout created")
	return out, nil
}

func (s *SubscriptionService) Me(ctx context.Context, userID uuid.UUID) (*MySubscription, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, notFoundOr(err, "user", userID.String())
	}

	out := &MySubscription{
		Tier:           user.Roles.EffectiveTier(),
		MinisiteActive: user.MinisiteActive,
		Roles:          user.Roles,
	}
	if plan, ok := models.PlanByTier(out.Tier); ok {
		out.Plan = &plan
	}

	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND product = ?", userID, models.ProductMinisite).
		Order("last_event_at DESC").
		First(&sub).Error
	switch {
	case err == nil:
		out.Subscription = &sub
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return out, nil
}

// Suspend removes the user's tier and switches the minisite off. Stored
// subscriptions stay but stop counting as active.
func (s *SubscriptionService) Suspend(ctx context.Context, userID uuid.UUID) (models.RoleSet, error) {
	var roles models.RoleSet
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var err error
		if roles, err = s.roles.SyncUserTier(ctx, tx, userID, models.TierNone); err != nil {
			return err
		}
		if err := tx.Model(&models.Subscription{}).
			Where("user_id = ? AND product = ?", userID, models.ProductMinisite).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate subscriptions: %w", err)
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("minisite_active", false).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithField("user_id", userID).Info("Minisite plan suspended")
	return roles, nil
}

// SetTier is the administrator override. "NONE" or "" clears the tier.
func (s *SubscriptionService) SetTier(ctx context.Context, userID uuid.UUID, input SetTierInput) (models.RoleSet, error) {
	tier, err := models.ParseTier(input.Tier)
	if err != nil {
		return nil, &ValidationError{Field: "tier", Message: err.Error()}
	}

	var roles models.RoleSet
	err = database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var err error
		if roles, err = s.roles.SyncUserTier(ctx, tx, userID, tier); err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("minisite_active", !tier.IsNone()).Error
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"tier":    tier,
	}).Info("Plan tier set by admin")
	return roles, nil
}

func (s *SubscriptionService) ReplaceRoles(ctx context.Context, userID uuid.UUID, input ReplaceRolesInput) (models.RoleSet, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}
	return s.roles.ReplaceRoles(ctx, s.db, userID, input.Roles)
}
