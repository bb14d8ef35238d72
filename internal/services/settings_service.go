// internal/services/settings_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/models"
)

const (
	SettingDepositPercentage = "deposit_percentage"
	SettingBillingMode       = "billing_mode"
	SettingRequestEntryMode  = "request_entry_mode"
	SettingBrandName         = "brand_name"
	SettingSupportEmail      = "support_email"
	SettingAdminNotifEmail   = "admin_notif_email"
	SettingEmailNotifEnabled = "email_notif_enabled"
)

const (
	EntryModeDepositFirst  = "deposit_first"
	EntryModeAnalysisFirst = "analysis_first"
)

// SettingsService reads runtime settings, falling back to the configured
// defaults when a row is missing.
type SettingsService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewSettingsService(db *gorm.DB, cfg *config.Config) *SettingsService {
	return &SettingsService{db: db, cfg: cfg}
}

func (s *SettingsService) raw(ctx context.Context, key string) (interface{}, bool) {
	var setting models.Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		return nil, false
	}
	v, ok := setting.Value["value"]
	return v, ok
}

func (s *SettingsService) String(ctx context.Context, key, fallback string) string {
	if v, ok := s.raw(ctx, key); ok {
		if str, ok := v.(string); ok && str != "" {
			return str
		}
	}
	return fallback
}

func (s *SettingsService) Bool(ctx context.Context, key string, fallback bool) bool {
	if v, ok := s.raw(ctx, key); ok {
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed
			}
		}
	}
	return fallback
}

func (s *SettingsService) Float(ctx context.Context, key string, fallback float64) float64 {
	if v, ok := s.raw(ctx, key); ok {
		switch f := v.(type) {
		case float64:
			return f
		case string:
			if parsed, err := strconv.ParseFloat(f, 64); err == nil {
				return parsed
			}
		}
	}
	return fallback
}

func (s *SettingsService) DepositPercentage(ctx context.Context) float64 {
	return s.Float(ctx, SettingDepositPercentage, s.cfg.Billing.DepositPercentage)
}

func (s *SettingsService) BillingMode(ctx context.Context) BillingMode {
	mode, err := ParseBillingMode(s.String(ctx, SettingBillingMode, s.cfg.Billing.DefaultMode))
	if err != nil {
		return BillingModeFreeTest
	}
	return mode
}

func (s *SettingsService) RequestEntryMode(ctx context.Context) string {
	if s.String(ctx, SettingRequestEntryMode, s.cfg.Billing.RequestEntryMode) == EntryModeAnalysisFirst {
		return EntryModeAnalysisFirst
	}
	return EntryModeDepositFirst
}

func (s *SettingsService) SupportEmail(ctx context.Context) string {
	return s.String(ctx, SettingSupportEmail, s.cfg.Notify.SupportEmail)
}

func (s *SettingsService) List(ctx context.Context) ([]models.Setting, error) {
	var settings []models.Setting
	if err := s.db.WithContext(ctx).Order("category, key").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}

type settingRule struct {
	category string
	dataType string
	check    func(interface{}) error
}

var settingRules = map[string]settingRule{
	SettingDepositPercentage: {"billing", "float", func(v interface{}) error {
		f, ok := v.(float64)
		if !ok || f < 0 || f > 100 {
			return errors.New("must be a number between 0 and 100")
		}
		return nil
	}},
	SettingBillingMode: {"billing", "string", func(v interface{}) error {
		str, _ := v.(string)
		_, err := ParseBillingMode(str)
		return err
	}},
	SettingRequestEntryMode: {"requests", "string", func(v interface{}) error {
		if str, _ := v.(string); str != EntryModeDepositFirst && str != EntryModeAnalysisFirst {
			return fmt.Errorf("must be %s or %s", EntryModeDepositFirst, EntryModeAnalysisFirst)
		}
		return nil
	}},
	SettingBrandName:       {"general", "string", nonEmptyString},
	SettingSupportEmail:    {"general", "string", emailString},
	SettingAdminNotifEmail: {"notifications", "string", emailString},
	SettingEmailNotifEnabled: {"notifications", "boolean", func(v interface{}) error {
		if _, ok := v.(bool); !ok {
			return errors.New("must be a boolean")
		}
		return nil
	}},
}

func nonEmptyString(v interface{}) error {
	if str, ok := v.(string); !ok || str == "" {
		return errors.New("must be a non-empty string")
	}
	return nil
}

func emailString(v interface{}) error {
	str, ok := v.(string)
	if !ok {
		return errors.New("must be an e-mail address")
	}
	if _, err := mail.ParseAddress(str); err != nil {
		return fmt.Errorf("must be an e-mail address: %w", err)
	}
	return nil
}

// Update writes one known setting. Values are normalized before storage so
// readers never see an invalid billing mode or percentage.
func (s *SettingsService) Update(ctx context.Context, key string, value interface{}, adminID uuid.UUID) (*models.Setting, error) {
	rule, ok := settingRules[key]
	if !ok {
		return nil, &NotFoundError{Resource: "setting", ID: key}
	}
	if key == SettingBillingMode {
		if str, ok := value.(string); ok {
			if mode, err := ParseBillingMode(str); err == nil {
				value = string(mode)
			}
		}
	}
	if err := rule.check(value); err != nil {
		return nil, &ValidationError{Field: key, Message: err.Error()}
	}

	setting := models.Setting{
		Category: rule.category,
		Key:      key,
		DataType: rule.dataType,
		Value:    models.JSONB{"value": value},
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ?", key).FirstOrCreate(&setting).Error; err != nil {
			return err
		}
		return tx.Model(&setting).Updates(map[string]interface{}{
			"value":      models.JSONB{"value": value},
			"updated_by": adminID,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update setting %s: %w", key, err)
	}

	setting.Value = models.JSONB{"value": value}
	setting.UpdatedBy = &adminID
	return &setting, nil
}
