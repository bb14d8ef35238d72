// internal/database/seed_test.go
package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/database"
	"github.com/downpricer/marketplace-backend/internal/database/dbtest"
	"github.com/downpricer/marketplace-backend/internal/models"
)

func seedConfig() *config.Config {
	return &config.Config{
		Billing: config.BillingConfig{DefaultMode: "FREE_TEST", DepositPercentage: 40, RequestEntryMode: "deposit_first"},
		Notify:  config.NotifyConfig{BrandName: "DownPricer", SupportEmail: "support@downpricer.test"},
	}
}

func TestSeedCreatesAdminAndSettings(t *testing.T) {
	db := dbtest.New(t)
	require.NoError(t, database.SeedInitialData(db, seedConfig(), "root@downpricer.test", "Secret123"))
	require.NoError(t, database.SeedInitialData(db, seedConfig(), "root@downpricer.test", "Secret123"))

	var admins []models.User
	require.NoError(t, db.Where("email = ?", "root@downpricer.test").Find(&admins).Error)
	require.Len(t, admins, 1)
	assert.True(t, admins[0].IsAdmin())
	assert.Equal(t, "System Administrator", admins[0].DisplayName())
	assert.NoError(t, admins[0].CheckPassword("Secret123"))

	var setting models.Setting
	require.NoError(t, db.First(&setting, "key = ?", "deposit_percentage").Error)
	assert.Equal(t, 40.0, setting.Value["value"])
}

func TestSeedPromotesExistingAccount(t *testing.T) {
	db := dbtest.New(t)
	user := &models.User{Email: "root@downpricer.test", Roles: models.NewRoleSet(models.RoleClient)}
	require.NoError(t, user.SetPassword("Mine1234"))
	require.NoError(t, db.Create(user).Error)
	assert.False(t, user.IsAdmin())

	require.NoError(t, database.SeedInitialData(db, seedConfig(), "root@downpricer.test", "Secret123"))

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	assert.True(t, stored.IsAdmin())
	assert.True(t, stored.Roles.Has(models.RoleClient))
	assert.NoError(t, stored.CheckPassword("Mine1234"))
	assert.Equal(t, "root@downpricer.test", stored.DisplayName())
}
