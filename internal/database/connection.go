// internal/database/connection.go
package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/models"
)

var logLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	level, ok := logLevels[cfg.LogLevel]
	if !ok {
		level = logger.Warn
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established")
	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed")
	}
}

// AllModels is the migration set, shared with the test database helper.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.PurchaseRequest{},
		&models.ConsignmentSale{},
		&models.CatalogItem{},
		&models.Subscription{},
		&models.Setting{},
		&models.AuditLog{},
		&models.AdminNotification{},
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_purchase_requests_client_status ON purchase_requests(client_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_purchase_requests_created_at ON purchase_requests(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_consignment_sales_seller_status ON consignment_sales(seller_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_consignment_sales_created_at ON consignment_sales(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_subscriptions_user_status ON subscriptions(user_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_user_action ON audit_logs(user_id, action)",
		"CREATE INDEX IF NOT EXISTS idx_admin_notifications_status ON admin_notifications(status, priority)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
		}
	}

	return nil
}

// seedAdmin creates the bootstrap admin, or grants ADMIN to an existing
// account registered under the same e-mail. The password of an existing
// account is left alone.
func seedAdmin(db *gorm.DB, email, password string) error {
	var existing models.User
	err := db.Where("email = ?", email).First(&existing).Error
	switch {
	case err == nil:
		if existing.IsAdmin() {
			return nil
		}
		roles := append(models.RoleSet{}, existing.Roles...)
		roles = append(roles, models.RoleAdmin)
		if err := db.Model(&existing).Update("roles", roles.Dedup()).Error; err != nil {
			return fmt.Errorf("failed to promote admin user: %w", err)
		}
		logrus.WithField("email", email).Warn("Existing account promoted to admin")
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("failed to look up admin user: %w", err)
	}

	admin := &models.User{
		Email:     email,
		FirstName: "System",
		LastName:  "Administrator",
		Roles:     models.NewRoleSet(models.RoleAdmin),
	}
	if err := admin.SetPassword(password); err != nil {
		return fmt.Errorf("failed to set admin password: %w", err)
	}
	if err := db.Create(admin).Error; err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	logrus.WithField("email", email).Info("Default admin user created")
	return nil
}

type defaultSetting struct {
	category    string
	key         string
	value       interface{}
	dataType    string
	description string
}

// SeedInitialData creates the bootstrap admin and any missing settings rows.
func SeedInitialData(db *gorm.DB, cfg *config.Config, adminEmail, adminPassword string) error {
	logrus.Info("Seeding initial data...")

	if adminEmail != "" && adminPassword != "" {
		if err := seedAdmin(db, adminEmail, adminPassword); err != nil {
			return err
		}
	}

	defaults := []defaultSetting{
		{"billing", "deposit_percentage", cfg.Billing.DepositPercentage, "float", "Deposit charged on purchase requests, in percent of the max price"},
		{"billing", "billing_mode", cfg.Billing.DefaultMode, "string", "FREE_TEST or STRIPE_PROD"},
		{"requests", "request_entry_mode", cfg.Billing.RequestEntryMode, "string", "deposit_first or analysis_first"},
		{"general", "brand_name", cfg.Notify.BrandName, "string", "Brand shown in notifications"},
		{"general", "support_email", cfg.Notify.SupportEmail, "string", "Support contact shown to clients"},
		{"notifications", "admin_notif_email", cfg.Notify.AdminEmail, "string", "Recipient of admin alerts"},
		{"notifications", "email_notif_enabled", true, "boolean", "Master switch for e-mail notifications"},
	}

	for _, d := range defaults {
		setting := models.Setting{
			Category:    d.category,
			Key:         d.key,
			Value:       models.JSONB{"value": d.value},
			DataType:    d.dataType,
			Description: d.description,
		}
		if err := db.Where(models.Setting{Key: d.key}).FirstOrCreate(&setting).Error; err != nil {
			logrus.WithError(err).WithField("key", d.key).Warn("Failed to seed setting")
		}
	}

	logrus.Info("Initial data seeding completed")
	return nil
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
