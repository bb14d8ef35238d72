// internal/services/role_sync_test.go
package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/database/dbtest"
	"github.com/downpricer/marketplace-backend/internal/models"
)

var roleVocabulary = []string{
	models.RoleVisitor, models.RoleClient, models.RoleSeller, models.RoleAdmin,
	models.RoleSellerPlan5, models.RoleSellerPlan10, models.RoleSellerPlan15,
	string(models.TierStarter), string(models.TierStandard), string(models.TierPremium),
	"SITE_PLAN_10", "SITE_PLAN_15",
}

func genRoleSet() gopter.Gen {
	vocab := make([]interface{}, len(roleVocabulary))
	for i, r := range roleVocabulary {
		vocab[i] = r
	}
	return gen.SliceOf(gen.OneConstOf(vocab...)).Map(func(roles []string) models.RoleSet {
		return models.RoleSet(roles)
	})
}

func genTier() gopter.Gen {
	return gen.OneConstOf(models.TierNone, models.TierStarter, models.TierStandard, models.TierPremium)
}

func TestApplyTierProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one tier role, and it is the target", prop.ForAll(
		func(current models.RoleSet, target models.Tier) bool {
			out := ApplyTier(current, target)
			tiers := out.TierRoles()
			if target.IsNone() {
				return len(tiers) == 0
			}
			return len(tiers) == 1 && tiers[0] == string(target)
		},
		genRoleSet(), genTier(),
	))

	properties.Property("non-tier roles pass through", prop.ForAll(
		func(current models.RoleSet, target models.Tier) bool {
			out := ApplyTier(current, target)
			for _, role := range current {
				if !models.IsTierRole(role) && !out.Has(role) {
					return false
				}
			}
			for _, role := range out {
				if !models.IsTierRole(role) && !current.Has(role) {
					return false
				}
			}
			return true
		},
		genRoleSet(), genTier(),
	))

	properties.Property("idempotent", prop.ForAll(
		func(current models.RoleSet, target models.Tier) bool {
			once := ApplyTier(current, target)
			return ApplyTier(once, target).Equal(once)
		},
		genRoleSet(), genTier(),
	))

	properties.Property("no legacy identifiers survive", prop.ForAll(
		func(current models.RoleSet, target models.Tier) bool {
			return !ApplyTier(current, target).HasLegacyTier()
		},
		genRoleSet(), genTier(),
	))

	properties.TestingRun(t)
}

func TestDepositProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("deposit never exceeds max price and scales linearly", prop.ForAll(
		func(cents int64, pct int) bool {
			maxPrice := fromCents(cents)
			deposit := ComputeDepositAmount(maxPrice, float64(pct))
			if deposit < 0 || deposit > maxPrice {
				return false
			}
			if pct == 100 && deposit != maxPrice {
				return false
			}
			return pct != 0 || deposit == 0
		},
		gen.Int64Range(1, 10_000_000), gen.IntRange(0, 100),
	))

	properties.Property("profit plus cost is the sale price", prop.ForAll(
		func(saleCents, costCents int64) bool {
			profit := ComputeProfit(fromCents(saleCents), fromCents(costCents))
			return toCents(profit)+costCents == saleCents
		},
		gen.Int64Range(0, 10_000_000), gen.Int64Range(0, 10_000_000),
	))

	properties.TestingRun(t)
}

func TestSyncUserTier(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	user := createUser(t, db, "tiered@example.com", models.RoleSeller, "SITE_PLAN_10")
	sync := NewRoleSyncService()

	roles, err := sync.SyncUserTier(ctx, db, user.ID, models.TierPremium)
	require.NoError(t, err)
	assert.True(t, roles.Equal(models.NewRoleSet(models.RoleSeller, string(models.TierPremium))))

	stored := reloadUser(t, db, user.ID)
	assert.Equal(t, models.TierPremium, stored.PlanTier)
	assert.Equal(t, 1, stored.RolesVersion)

	_, err = sync.SyncUserTier(ctx, db, uuid.New(), models.TierPremium)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

// racingStore bumps the version behind the caller's back a fixed number of
// times before letting writes through.
type racingStore struct {
	RoleStore
	db        *gorm.DB
	interfere int
}

func (s *racingStore) SetRoles(ctx context.Context, userID uuid.UUID, roles models.RoleSet, tier models.Tier, expectedVersion int) error {
	if s.interfere > 0 {
		s.interfere--
		s.db.Model(&models.User{}).Where("id = ?", userID).Update("roles_version", gorm.Expr("roles_version + 1"))
	}
	return s.RoleStore.SetRoles(ctx, userID, roles, tier, expectedVersion)
}

func TestSyncUserTierRetriesOnConcurrentWrite(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	user := createUser(t, db, "racer@example.com", models.RoleClient)

	store := &racingStore{RoleStore: NewRoleStore(db), db: db, interfere: 2}
	sync := &RoleSyncService{newStore: func(*gorm.DB) RoleStore { return store }}

	roles, err := sync.SyncUserTier(ctx, db, user.ID, models.TierStarter)
	require.NoError(t, err)
	assert.True(t, roles.Has(string(models.TierStarter)))

	store.interfere = maxRoleSyncAttempts
	_, err = sync.SyncUserTier(ctx, db, user.ID, models.TierNone)
	assert.ErrorIs(t, err, errStaleRoles)
}

func TestReplaceRoles(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	user := createUser(t, db, "admin-edit@example.com", models.RoleClient)
	sync := NewRoleSyncService()

	roles, err := sync.ReplaceRoles(ctx, db, user.ID, []string{"seller", "site_plan_15", "client"})
	require.NoError(t, err)
	assert.True(t, roles.Equal(models.NewRoleSet(models.RoleSeller, models.RoleClient, string(models.TierPremium))))
	assert.Equal(t, models.TierPremium, reloadUser(t, db, user.ID).PlanTier)

	_, err = sync.ReplaceRoles(ctx, db, user.ID, []string{"SITE_PLAN_1", "SITE_PLAN_2"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = sync.ReplaceRoles(ctx, db, user.ID, []string{"WIZARD"})
	require.ErrorAs(t, err, &validation)

	roles, err = sync.ReplaceRoles(ctx, db, user.ID, []string{"SITE_PLAN_2", "site_plan_10"})
	require.NoError(t, err)
	assert.True(t, roles.Equal(models.NewRoleSet(string(models.TierStandard))))
}

func TestRoleMigration(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	legacy := createUser(t, db, "legacy@example.com", models.RoleSeller, "SITE_PLAN_10")
	require.NoError(t, db.Model(legacy).Update("plan_tier", "SITE_PLAN_10").Error)
	markerOnly := createUser(t, db, "marker@example.com", models.RoleClient)
	require.NoError(t, db.Model(markerOnly).Update("plan_tier", "SITE_PLAN_15").Error)
	current := createUser(t, db, "current@example.com", models.RoleClient, string(models.TierStarter))

	migration := NewRoleMigrationService(db, NewRoleSyncService())

	report, err := migration.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Migrated)
	assert.True(t, reloadUser(t, db, legacy.ID).Roles.Has("SITE_PLAN_10"))

	report, err = migration.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)
	assert.Zero(t, report.Failed)

	migrated := reloadUser(t, db, legacy.ID)
	assert.True(t, migrated.Roles.Equal(models.NewRoleSet(models.RoleSeller, string(models.TierStandard))))
	assert.Equal(t, models.TierStandard, migrated.PlanTier)

	marker := reloadUser(t, db, markerOnly.ID)
	assert.True(t, marker.Roles.Equal(models.NewRoleSet(models.RoleClient, string(models.TierPremium))))
	assert.Equal(t, models.TierPremium, marker.PlanTier)

	assert.True(t, reloadUser(t, db, current.ID).Roles.Equal(models.NewRoleSet(models.RoleClient, string(models.TierStarter))))

	report, err = migration.Run(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, report.Migrated)
}
