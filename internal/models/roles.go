// internal/models/roles.go
package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	RoleVisitor = "VISITOR"
	RoleClient  = "CLIENT"
	RoleSeller  = "SELLER"
	RoleAdmin   = "ADMIN"

	// Seller commission plans. They are not storefront tiers and are never
	// touched by tier synchronization.
	RoleSellerPlan5  = "S_PLAN_5"
	RoleSellerPlan10 = "S_PLAN_10"
	RoleSellerPlan15 = "S_PLAN_15"
)

// Tier is a storefront subscription tier. The zero value means no tier.
type Tier string

const (
	TierNone     Tier = ""
	TierStarter  Tier = "SITE_PLAN_1"
	TierStandard Tier = "SITE_PLAN_2"
	TierPremium  Tier = "SITE_PLAN_3"
)

// Retired identifiers still found in stored role sets.
var legacyTierAliases = map[string]Tier{
	"SITE_PLAN_10": TierStandard,
	"SITE_PLAN_15": TierPremium,
}

var tierRank = map[Tier]int{
	TierNone:     0,
	TierStarter:  1,
	TierStandard: 2,
	TierPremium:  3,
}

var nonTierRoles = map[string]bool{
	RoleVisitor:      true,
	RoleClient:       true,
	RoleSeller:       true,
	RoleAdmin:        true,
	RoleSellerPlan5:  true,
	RoleSellerPlan10: true,
	RoleSellerPlan15: true,
}

// ParseTier normalizes a tier identifier at the boundary. Legacy identifiers
// resolve to their current tier; "" and "NONE" resolve to TierNone.
func ParseTier(s string) (Tier, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" || v == "NONE" {
		return TierNone, nil
	}
	if t, ok := legacyTierAliases[v]; ok {
		return t, nil
	}
	t := Tier(v)
	if _, ok := tierRank[t]; ok {
		return t, nil
	}
	return TierNone, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) IsNone() bool { return t == TierNone }

func (t Tier) Rank() int { return tierRank[t] }

// IsTierRole reports whether role belongs to the tier vocabulary, current or
// legacy.
func IsTierRole(role string) bool {
	if _, ok := legacyTierAliases[role]; ok {
		return true
	}
	t := Tier(role)
	return t != TierNone && tierRank[t] > 0
}

// IsLegacyTierRole reports whether role is a retired tier identifier.
func IsLegacyTierRole(role string) bool {
	_, ok := legacyTierAliases[role]
	return ok
}

// NormalizeRole upper-cases a role and maps legacy tiers to current ones. It
// fails on anything outside the known vocabulary.
func NormalizeRole(role string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(role))
	if nonTierRoles[v] {
		return v, nil
	}
	if IsTierRole(v) {
		t, _ := ParseTier(v)
		return string(t), nil
	}
	return "", fmt.Errorf("unknown role %q", role)
}

// RoleSet is an unordered set of roles persisted as an array column.
type RoleSet []string

func NewRoleSet(roles ...string) RoleSet {
	return RoleSet(roles).Dedup()
}

func (r RoleSet) Value() (driver.Value, error) {
	return arrayValue(r)
}

func (r *RoleSet) Scan(src interface{}) error {
	return arrayScan((*[]string)(r), src)
}

func (RoleSet) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return arrayDataType(db)
}

func (r RoleSet) Has(role string) bool {
	for _, v := range r {
		if v == role {
			return true
		}
	}
	return false
}

// Dedup returns a sorted copy without duplicates.
func (r RoleSet) Dedup() RoleSet {
	seen := make(map[string]bool, len(r))
	out := make(RoleSet, 0, len(r))
	for _, v := range r {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Equal compares with set semantics.
func (r RoleSet) Equal(other RoleSet) bool {
	a, b := r.Dedup(), other.Dedup()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TierRoles lists the tier roles present, legacy identifiers included.
func (r RoleSet) TierRoles() []string {
	var out []string
	for _, v := range r {
		if IsTierRole(v) {
			out = append(out, v)
		}
	}
	return out
}

// HasLegacyTier reports whether any stored role is a retired tier identifier.
func (r RoleSet) HasLegacyTier() bool {
	for _, v := range r {
		if IsLegacyTierRole(v) {
			return true
		}
	}
	return false
}

// EffectiveTier resolves the tier granted by the role set, reading legacy
// identifiers as their aliases. If a corrupted set holds several tiers the
// highest one wins.
func (r RoleSet) EffectiveTier() Tier {
	best := TierNone
	for _, v := range r.TierRoles() {
		t, err := ParseTier(v)
		if err == nil && t.Rank() > best.Rank() {
			best = t
		}
	}
	return best
}

// HasTierAtLeast is the authorization check for storefront features.
func (r RoleSet) HasTierAtLeast(min Tier) bool {
	eff := r.EffectiveTier()
	return !eff.IsNone() && eff.Rank() >= min.Rank()
}

// Plan maps an external plan code to an internal tier and its price.
type Plan struct {
	Code       string `json:"code"`
	Tier       Tier   `json:"tier"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

const ProductMinisite = "minisite"

var plans = map[string]Plan{
	"starter":  {Code: "starter", Tier: TierStarter, Name: "Starter", PriceCents: 100},
	"standard": {Code: "standard", Tier: TierStandard, Name: "Standard", PriceCents: 1000},
	"premium":  {Code: "premium", Tier: TierPremium, Name: "Premium", PriceCents: 1500},
}

// PlanByCode looks up the fixed plan table. Codes are case-insensitive.
func PlanByCode(code string) (Plan, bool) {
	p, ok := plans[strings.ToLower(strings.TrimSpace(code))]
	return p, ok
}

func PlanByTier(t Tier) (Plan, bool) {
	for _, p := range plans {
		if p.Tier == t {
			return p, true
		}
	}
	return Plan{}, false
}

// Plans returns the plan table ordered by price.
func Plans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out
}
