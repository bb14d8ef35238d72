// internal/models/consignment_sale.go
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SaleStatus string

const (
	SaleStatusWaitingAdminApproval SaleStatus = "WAITING_ADMIN_APPROVAL"
	SaleStatusPaymentPending       SaleStatus = "PAYMENT_PENDING"
	SaleStatusPaymentSubmitted     SaleStatus = "PAYMENT_SUBMITTED"
	SaleStatusShippingPending      SaleStatus = "SHIPPING_PENDING"
	SaleStatusShipped              SaleStatus = "SHIPPED"
	SaleStatusCompleted            SaleStatus = "COMPLETED"
	SaleStatusRejected             SaleStatus = "REJECTED"
)

var saleStatuses = map[SaleStatus]bool{
	SaleStatusWaitingAdminApproval: true,
	SaleStatusPaymentPending:       true,
	SaleStatusPaymentSubmitted:     true,
	SaleStatusShippingPending:      true,
	SaleStatusShipped:              true,
	SaleStatusCompleted:            true,
	SaleStatusRejected:             true,
}

func ParseSaleStatus(s string) (SaleStatus, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	st := SaleStatus(v)
	if !saleStatuses[st] {
		return "", fmt.Errorf("unknown sale status %q", s)
	}
	return st, nil
}

type ConsignmentSale struct {
	BaseModel
	SellerID         uuid.UUID  `json:"seller_id" gorm:"type:uuid;not null;index"`
	ItemID           uuid.UUID  `json:"item_id" gorm:"type:uuid;not null;index"`
	ItemName         string     `json:"item_name" gorm:"size:255;not null"`
	SalePrice        float64    `json:"sale_price" gorm:"type:decimal(10,2);not null"`
	SellerCost       float64    `json:"seller_cost" gorm:"type:decimal(10,2);not null"`
	Profit           float64    `json:"profit" gorm:"type:decimal(10,2);not null"`
	Status           SaleStatus `json:"status" gorm:"type:varchar(30);not null;index"`
	PaymentMethod    string     `json:"payment_method,omitempty" gorm:"size:50"`
	PaymentReference string     `json:"payment_reference,omitempty" gorm:"size:255"`
	PaymentNote      string     `json:"payment_note,omitempty" gorm:"type:text"`
	ProofSubmittedAt *time.Time `json:"proof_submitted_at"`
	RejectionReason  string     `json:"rejection_reason,omitempty" gorm:"type:text"`
	TrackingNumber   string     `json:"tracking_number,omitempty" gorm:"size:100"`
	ShippingLabel    string     `json:"shipping_label,omitempty" gorm:"type:text"`
	ApprovedAt       *time.Time `json:"approved_at"`
	ConfirmedAt      *time.Time `json:"confirmed_at"`
	ShippedAt        *time.Time `json:"shipped_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	RejectedAt       *time.Time `json:"rejected_at"`
}

type CatalogItem struct {
	BaseModel
	Name        string  `json:"name" gorm:"size:255;not null"`
	Description string  `json:"description" gorm:"type:text"`
	Category    string  `json:"category" gorm:"size:100;index"`
	Price       float64 `json:"price" gorm:"type:decimal(10,2);not null"`
	Stock       int     `json:"stock" gorm:"not null;default:0"`
}
