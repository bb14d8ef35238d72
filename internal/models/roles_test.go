// internal/models/roles_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	cases := map[string]Tier{
		"":             TierNone,
		"none":         TierNone,
		"SITE_PLAN_1":  TierStarter,
		" site_plan_2": TierStandard,
		"SITE_PLAN_10": TierStandard,
		"SITE_PLAN_15": TierPremium,
	}
	for in, want := range cases {
		got, err := ParseTier(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTier("SITE_PLAN_4")
	assert.Error(t, err)
}

func TestNormalizeRole(t *testing.T) {
	role, err := NormalizeRole("seller")
	require.NoError(t, err)
	assert.Equal(t, RoleSeller, role)

	role, err = NormalizeRole("SITE_PLAN_15")
	require.NoError(t, err)
	assert.Equal(t, string(TierPremium), role)

	_, err = NormalizeRole("SUPERUSER")
	assert.Error(t, err)
}

func TestRoleSetTiers(t *testing.T) {
	roles := NewRoleSet(RoleSeller, RoleClient, RoleSeller, "SITE_PLAN_10")
	assert.Equal(t, RoleSet{RoleClient, RoleSeller, "SITE_PLAN_10"}, roles)
	assert.True(t, roles.HasLegacyTier())
	assert.Equal(t, TierStandard, roles.EffectiveTier())
	assert.True(t, roles.HasTierAtLeast(TierStarter))
	assert.False(t, roles.HasTierAtLeast(TierPremium))

	corrupted := RoleSet{string(TierStarter), string(TierPremium)}
	assert.Equal(t, TierPremium, corrupted.EffectiveTier())

	assert.Equal(t, TierNone, RoleSet{RoleClient}.EffectiveTier())
	assert.False(t, RoleSet{RoleClient}.HasTierAtLeast(TierStarter))
	assert.True(t, RoleSet{"B", "A"}.Equal(RoleSet{"A", "B", "A"}))
}

func TestRoleSetColumn(t *testing.T) {
	v, err := RoleSet(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	var roles RoleSet
	require.NoError(t, roles.Scan([]byte(`{CLIENT,SITE_PLAN_2}`)))
	assert.Equal(t, RoleSet{RoleClient, string(TierStandard)}, roles)
}

func TestParseRequestStatus(t *testing.T) {
	cases := map[string]RequestStatus{
		"deposit_paid":   RequestStatusDepositPaid,
		"proposal-found": RequestStatusProposalFound,
		"canceled":       RequestStatusCancelled,
		"in analysis":    RequestStatusAnalysis,
		" COMPLETED ":    RequestStatusCompleted,
	}
	for in, want := range cases {
		got, err := ParseRequestStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRequestStatus("LOST")
	assert.Error(t, err)

	assert.True(t, RequestStatusCancelled.IsTerminal())
	assert.False(t, RequestStatusDepositPaid.IsTerminal())
	assert.True(t, RequestStatusProposalFound.BlocksClientCancel())
	assert.False(t, RequestStatusAwaitingDeposit.BlocksClientCancel())
}

func TestPlans(t *testing.T) {
	plan, ok := PlanByCode("premium")
	require.True(t, ok)
	assert.Equal(t, TierPremium, plan.Tier)

	byTier, ok := PlanByTier(TierStarter)
	require.True(t, ok)
	assert.Equal(t, "starter", byTier.Code)

	_, ok = PlanByCode("gold")
	assert.False(t, ok)
	assert.Len(t, Plans(), 3)
}
