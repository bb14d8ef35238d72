// internal/services/role_sync.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/models"
)

// ApplyTier is the one place tier roles are computed: every tier role,
// current or legacy, is removed and target is added unless it is TierNone.
// Non-tier roles pass through.
func ApplyTier(current models.RoleSet, target models.Tier) models.RoleSet {
	out := make(models.RoleSet, 0, len(current)+1)
	for _, role := range current {
		if models.IsTierRole(role) {
			continue
		}
		out = append(out, role)
	}
	if !target.IsNone() {
		out = append(out, string(target))
	}
	return out.Dedup()
}

var errStaleRoles = errors.New("role set changed concurrently")

// RoleStore persists a user's role set behind a version guard.
type RoleStore interface {
	GetRoles(ctx context.Context, userID uuid.UUID) (models.RoleSet, int, error)
	SetRoles(ctx context.Context, userID uuid.UUID, roles models.RoleSet, tier models.Tier, expectedVersion int) error
}

type gormRoleStore struct {
	db *gorm.DB
}

// NewRoleStore binds a RoleStore to db, which may be a transaction.
func NewRoleStore(db *gorm.DB) RoleStore {
	return &gormRoleStore{db: db}
}

func (s *gormRoleStore) GetRoles(ctx context.Context, userID uuid.UUID) (models.RoleSet, int, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("id", "roles", "roles_version").First(&user, "id = ?", userID).Error
	if err != nil {
		return nil, 0, notFoundOr(err, "user", userID.String())
	}
	return user.Roles, user.RolesVersion, nil
}

func (s *gormRoleStore) SetRoles(ctx context.Context, userID uuid.UUID, roles models.RoleSet, tier models.Tier, expectedVersion int) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND roles_version = ?", userID, expectedVersion).
		Updates(map[string]interface{}{
			"roles":         roles,
			"plan_tier":     tier,
			"roles_version": gorm.Expr("roles_version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update roles: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errStaleRoles
	}
	return nil
}

const maxRoleSyncAttempts = 3

// RoleSyncService writes tier changes through a RoleStore, retrying when a
// concurrent writer bumped the version first.
type RoleSyncService struct {
	newStore func(db *gorm.DB) RoleStore
}

func NewRoleSyncService() *RoleSyncService {
	return &RoleSyncService{newStore: NewRoleStore}
}

// SyncUserTier moves userID to target and sets the plan-tier marker. db may
// be a transaction.
func (s *RoleSyncService) SyncUserTier(ctx context.Context, db *gorm.DB, userID uuid.UUID, target models.Tier) (models.RoleSet, error) {
	return s.update(ctx, db, userID, func(current models.RoleSet) (models.RoleSet, models.Tier, error) {
		return ApplyTier(current, target), target, nil
	})
}

// ReplaceRoles installs an administrator-edited role set. The tier part still
// goes through ApplyTier so the at-most-one invariant holds.
func (s *RoleSyncService) ReplaceRoles(ctx context.Context, db *gorm.DB, userID uuid.UUID, requested []string) (models.RoleSet, error) {
	var base models.RoleSet
	target := models.TierNone
	for _, raw := range requested {
		role, err := models.NormalizeRole(raw)
		if err != nil {
			return nil, &ValidationError{Field: "roles", Message: err.Error()}
		}
		if models.IsTierRole(role) {
			if !target.IsNone() && models.Tier(role) != target {
				return nil, &ValidationError{Field: "roles", Message: "at most one plan tier role may be assigned"}
			}
			target = models.Tier(role)
			continue
		}
		base = append(base, role)
	}

	return s.update(ctx, db, userID, func(models.RoleSet) (models.RoleSet, models.Tier, error) {
		return ApplyTier(base, target), target, nil
	})
}

func (s *RoleSyncService) update(ctx context.Context, db *gorm.DB, userID uuid.UUID, next func(models.RoleSet) (models.RoleSet, models.Tier, error)) (models.RoleSet, error) {
	store := s.newStore(db)
	for attempt := 1; attempt <= maxRoleSyncAttempts; attempt++ {
		current, version, err := store.GetRoles(ctx, userID)
		if err != nil {
			return nil, err
		}
		roles, tier, err := next(current)
		if err != nil {
			return nil, err
		}
		err = store.SetRoles(ctx, userID, roles, tier, version)
		if err == nil {
			return roles, nil
		}
		if !errors.Is(err, errStaleRoles) {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"attempt": attempt,
		}).Warn("Role set changed during sync, retrying")
	}
	return nil, fmt.Errorf("failed to sync roles for user %s: %w", userID, errStaleRoles)
}
