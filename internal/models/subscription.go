// internal/models/subscription.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus mirrors the payment processor's vocabulary.
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

func (s SubscriptionStatus) GrantsAccess() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// RetainsTier is true while the tier role should stay on the user. A past_due
// subscription keeps its tier during the processor's retry window.
func (s SubscriptionStatus) RetainsTier() bool {
	return s.GrantsAccess() || s == SubscriptionStatusPastDue
}

// Subscription is keyed by the processor's subscription id; every write is an
// upsert on that key.
type Subscription struct {
	ID               string             `json:"id" gorm:"primaryKey;size:255"`
	UserID           uuid.UUID          `json:"user_id" gorm:"type:uuid;not null;index"`
	Product          string             `json:"product" gorm:"size:50;not null"`
	PlanCode         string             `json:"plan" gorm:"size:50"`
	Tier             Tier               `json:"tier" gorm:"size:20"`
	PriceID          string             `json:"price_id" gorm:"size:255"`
	AmountCents      int64              `json:"amount_cents"`
	Currency         string             `json:"currency" gorm:"size:10"`
	CustomerID       string             `json:"customer_id" gorm:"size:255;index"`
	Status           SubscriptionStatus `json:"status" gorm:"size:30;not null"`
	Active           bool               `json:"active" gorm:"not null;default:false"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end"`
	LastEventAt      time.Time          `json:"last_event_at"`
	CreatedAt        time.Time          `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt        time.Time          `json:"updated_at" gorm:"autoUpdateTime:false"`
}
