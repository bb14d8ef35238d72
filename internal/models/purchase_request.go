// internal/models/purchase_request.go
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestStatusAwaitingDeposit      RequestStatus = "AWAITING_DEPOSIT"
	RequestStatusAnalysis             RequestStatus = "ANALYSIS"
	RequestStatusDepositPending       RequestStatus = "DEPOSIT_PENDING"
	RequestStatusDepositPaid          RequestStatus = "DEPOSIT_PAID"
	RequestStatusAnalysisAfterDeposit RequestStatus = "ANALYSIS_AFTER_DEPOSIT"
	RequestStatusAccepted             RequestStatus = "ACCEPTED"
	RequestStatusProposalFound        RequestStatus = "PROPOSAL_FOUND"
	RequestStatusPurchaseLaunched     RequestStatus = "PURCHASE_LAUNCHED"
	RequestStatusAwaitingBalance      RequestStatus = "AWAITING_BALANCE"
	RequestStatusCompleted            RequestStatus = "COMPLETED"
	RequestStatusCancelled            RequestStatus = "CANCELLED"
)

var requestStatuses = map[RequestStatus]bool{
	RequestStatusAwaitingDeposit:      true,
	RequestStatusAnalysis:             true,
	RequestStatusDepositPending:       true,
	RequestStatusDepositPaid:          true,
	RequestStatusAnalysisAfterDeposit: true,
	RequestStatusAccepted:             true,
	RequestStatusProposalFound:        true,
	RequestStatusPurchaseLaunched:     true,
	RequestStatusAwaitingBalance:      true,
	RequestStatusCompleted:            true,
	RequestStatusCancelled:            true,
}

// Older clients sent these spellings.
var requestStatusAliases = map[string]RequestStatus{
	"CANCELED":    RequestStatusCancelled,
	"IN_ANALYSIS": RequestStatusAnalysis,
}

// ParseRequestStatus normalizes case, separators and legacy spellings.
func ParseRequestStatus(s string) (RequestStatus, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	if st, ok := requestStatusAliases[v]; ok {
		return st, nil
	}
	st := RequestStatus(v)
	if !requestStatuses[st] {
		return "", fmt.Errorf("unknown request status %q", s)
	}
	return st, nil
}

func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusCancelled
}

// BlocksClientCancel lists the in-flight purchase statuses a client can no
// longer back out of on their own.
func (s RequestStatus) BlocksClientCancel() bool {
	switch s {
	case RequestStatusProposalFound, RequestStatusPurchaseLaunched,
		RequestStatusAwaitingBalance, RequestStatusCompleted:
		return true
	}
	return false
}

// CanCancel is the value of the can_cancel flag for a request in status s.
func (s RequestStatus) CanCancel() bool {
	switch s {
	case RequestStatusPurchaseLaunched, RequestStatusCompleted, RequestStatusCancelled:
		return false
	}
	return true
}

type RefundStatus string

const (
	RefundStatusNone     RefundStatus = ""
	RefundStatusRefunded RefundStatus = "refunded"
	RefundStatusFailed   RefundStatus = "refund_failed"
)

type PurchaseRequest struct {
	BaseModel
	ClientID            uuid.UUID     `json:"client_id" gorm:"type:uuid;not null;index"`
	Name                string        `json:"name" gorm:"size:255;not null"`
	Description         string        `json:"description" gorm:"type:text"`
	Photos              StringList    `json:"photos"`
	MaxPrice            float64       `json:"max_price" gorm:"type:decimal(10,2);not null"`
	ReferencePrice      *float64      `json:"reference_price" gorm:"type:decimal(10,2)"`
	DeliveryPreferences JSONB         `json:"delivery_preferences"`
	DepositAmount       float64       `json:"deposit_amount" gorm:"type:decimal(10,2);not null;default:0"`
	Status              RequestStatus `json:"status" gorm:"type:varchar(30);not null;index"`
	CanCancel           bool          `json:"can_cancel" gorm:"not null;default:true"`
	PaymentType         string        `json:"payment_type,omitempty" gorm:"size:20"`
	DepositPaymentURL   string        `json:"deposit_payment_url,omitempty" gorm:"type:text"`
	DepositPaymentID    string        `json:"deposit_payment_id,omitempty" gorm:"size:255"`
	RefundStatus        RefundStatus  `json:"refund_status,omitempty" gorm:"size:20"`
	RefundID            string        `json:"refund_id,omitempty" gorm:"size:255"`
	CancellationReason  string        `json:"cancellation_reason,omitempty" gorm:"type:text"`
	BalanceAmount       float64       `json:"balance_amount" gorm:"type:decimal(10,2);not null;default:0"`
	BalancePaymentID    string        `json:"balance_payment_id,omitempty" gorm:"size:255"`
	DepositRequestedAt  *time.Time    `json:"deposit_requested_at"`
	DepositPaidAt       *time.Time    `json:"deposit_paid_at"`
	BalancePaidAt       *time.Time    `json:"balance_paid_at"`
	CancelledAt         *time.Time    `json:"cancelled_at"`
	CompletedAt         *time.Time    `json:"completed_at"`
}
