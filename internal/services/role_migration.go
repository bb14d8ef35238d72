// internal/services/role_migration.go
package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/models"
)

const roleMigrationBatchSize = 200

// RoleMigrationReport summarizes a legacy tier sweep.
type RoleMigrationReport struct {
	Scanned  int  `json:"scanned"`
	Migrated int  `json:"migrated"`
	Failed   int  `json:"failed"`
	DryRun   bool `json:"dry_run"`
}

// RoleMigrationService rewrites retired tier identifiers (SITE_PLAN_10,
// SITE_PLAN_15) in stored role sets and plan-tier markers.
type RoleMigrationService struct {
	db    *gorm.DB
	roles *RoleSyncService
}

func NewRoleMigrationService(db *gorm.DB, roles *RoleSyncService) *RoleMigrationService {
	return &RoleMigrationService{db: db, roles: roles}
}

// needsMigration reports whether a stored user still carries a legacy tier.
func needsMigration(user *models.User) bool {
	if user.Roles.HasLegacyTier() {
		return true
	}
	return models.IsLegacyTierRole(string(user.PlanTier))
}

// Run sweeps every user in batches. Each rewrite goes through role sync, so
// a user edited concurrently is retried rather than overwritten. With dryRun
// set nothing is written.
func (s *RoleMigrationService) Run(ctx context.Context, dryRun bool) (*RoleMigrationReport, error) {
	report := &RoleMigrationReport{DryRun: dryRun}

	var batch []models.User
	result := s.db.WithContext(ctx).
		Select("id", "email", "roles", "plan_tier").
		Order("id").
		FindInBatches(&batch, roleMigrationBatchSize, func(tx *gorm.DB, n int) error {
			for i := range batch {
				user := &batch[i]
				report.Scanned++
				if !needsMigration(user) {
					continue
				}

				target := user.Roles.EffectiveTier()
				if target.IsNone() {
					target, _ = models.ParseTier(string(user.PlanTier))
				}
				entry := logrus.WithFields(logrus.Fields{
					"user_id": user.ID,
					"from":    user.Roles,
					"tier":    target,
				})
				if dryRun {
					entry.WithField("to", ApplyTier(user.Roles, target)).Info("Would migrate legacy tier")
					report.Migrated++
					continue
				}

				roles, err := s.roles.SyncUserTier(ctx, s.db, user.ID, target)
				if err != nil {
					entry.WithError(err).Error("Legacy tier migration failed")
					report.Failed++
					continue
				}
				entry.WithField("to", roles).Info("Legacy tier migrated")
				report.Migrated++
			}
			return nil
		})
	if result.Error != nil {
		return report, fmt.Errorf("role migration sweep failed: %w", result.Error)
	}

	logrus.WithFields(logrus.Fields{
		"scanned":  report.Scanned,
		"migrated": report.Migrated,
		"failed":   report.Failed,
		"dry_run":  dryRun,
	}).Info("Legacy tier sweep finished")
	return report, nil
}
