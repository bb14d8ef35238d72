// internal/services/sale_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/database"
	"github.com/downpricer/marketplace-backend/internal/models"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

type SaleService struct {
	db       *gorm.DB
	notifier Notifier
	catalog  func(db *gorm.DB) CatalogStore
}

func NewSaleService(db *gorm.DB, notifier Notifier) *SaleService {
	return &SaleService{
		db:       db,
		notifier: notifier,
		catalog:  NewCatalogStore,
	}
}

type CreateSaleInput struct {
	ItemID    uuid.UUID `json:"item_id" validate:"required"`
	SalePrice float64   `json:"sale_price" validate:"required,gt=0"`
}

type PaymentProofInput struct {
	Method    string `json:"payment_method" validate:"required,max=50"`
	Reference string `json:"payment_reference" validate:"max=255"`
	Note      string `json:"payment_note" validate:"max=2000"`
}

type ReasonInput struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

type ShipInput struct {
	TrackingNumber string `json:"tracking_number" validate:"required,max=100"`
	ShippingLabel  string `json:"shipping_label" validate:"max=2000"`
}

type SaleFilter struct {
	utils.PaginationParams
	Status string
}

// Create records a sale and takes one unit of stock in the same transaction,
// so a failed insert leaves the stock untouched.
func (s *SaleService) Create(ctx context.Context, sellerID uuid.UUID, input CreateSaleInput) (*models.ConsignmentSale, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}

	var seller models.User
	if err := s.db.WithContext(ctx).Select("id", "email").First(&seller, "id = ?", sellerID).Error; err != nil {
		return nil, notFoundOr(err, "user", sellerID.String())
	}

	var sale *models.ConsignmentSale
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		catalog := s.catalog(tx)
		item, err := catalog.GetItem(ctx, input.ItemID)
		if err != nil {
			return err
		}
		if item.Stock <= 0 {
			return &OutOfStockError{ItemID: item.ID}
		}
		if _, err := catalog.DecrementStock(ctx, item.ID); err != nil {
			return err
		}

		sale = &models.ConsignmentSale{
			SellerID:   sellerID,
			ItemID:     item.ID,
			ItemName:   item.Name,
			SalePrice:  input.SalePrice,
			SellerCost: item.Price,
			Profit:     ComputeProfit(input.SalePrice, item.Price),
			Status:     models.SaleStatusWaitingAdminApproval,
		}
		if err := tx.Create(sale).Error; err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"sale_id":   sale.ID,
		"seller_id": sellerID,
		"item_id":   sale.ItemID,
		"profit":    sale.Profit,
	}).Info("Consignment sale created")

	s.notifier.NotifyAdmin(ctx, EventAdminNewSale, map[string]string{
		"sale_id":      sale.ID.String(),
		"item_name":    sale.ItemName,
		"seller_email": seller.Email,
		"sale_price":   formatMoney(sale.SalePrice),
		"profit":       formatMoney(sale.Profit),
	})
	return sale, nil
}

func (s *SaleService) Get(ctx context.Context, id uuid.UUID, actor Actor) (*models.ConsignmentSale, error) {
	sale, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && sale.SellerID != actor.ID {
		return nil, &ForbiddenError{Message: "sale belongs to another seller"}
	}
	return sale, nil
}

func (s *SaleService) List(ctx context.Context, actor Actor, filter SaleFilter) ([]models.ConsignmentSale, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ConsignmentSale{})
	if !actor.Admin {
		query = query.Where("seller_id = ?", actor.ID)
	}
	if filter.Status != "" {
		status, err := models.ParseSaleStatus(filter.Status)
		if err != nil {
			return nil, 0, &ValidationError{Field: "status", Message: err.Error()}
		}
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sales: %w", err)
	}

	var sales []models.ConsignmentSale
	query = utils.ApplySort(query, filter.PaginationParams, []string{"created_at", "sale_price", "profit", "status"})
	query = utils.ApplyPagination(query, filter.PaginationParams)
	if err := query.Find(&sales).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list sales: %w", err)
	}
	return sales, total, nil
}

// SubmitProof is the seller's declaration of payment. It is also the
// resubmission path after a rejected proof.
func (s *SaleService) SubmitProof(ctx context.Context, id uuid.UUID, actor Actor, input PaymentProofInput) (*models.ConsignmentSale, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}

	sale, err := s.transition(ctx, id, "submit payment proof for", models.SaleStatusPaymentPending, map[string]interface{}{
		"status":             models.SaleStatusPaymentSubmitted,
		"payment_method":     input.Method,
		"payment_reference":  input.Reference,
		"payment_note":       input.Note,
		"proof_submitted_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyAdmin(ctx, EventAdminPaymentProofSubmitted, map[string]string{
		"sale_id":           sale.ID.String(),
		"item_name":         sale.ItemName,
		"payment_method":    sale.PaymentMethod,
		"payment_reference": sale.PaymentReference,
	})
	return sale, nil
}

func (s *SaleService) Validate(ctx context.Context, id uuid.UUID) (*models.ConsignmentSale, error) {
	sale, err := s.transition(ctx, id, "validate", models.SaleStatusWaitingAdminApproval, map[string]interface{}{
		"status":      models.SaleStatusPaymentPending,
		"approved_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.notifySeller(ctx, sale, EventUserPaymentRequired, map[string]string{
		"seller_cost": formatMoney(sale.SellerCost),
	})
	return sale, nil
}

// Reject refuses a sale awaiting approval. The unit taken at creation is
// not returned to stock.
func (s *SaleService) Reject(ctx context.Context, id uuid.UUID, input ReasonInput) (*models.ConsignmentSale, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}
	sale, err := s.transition(ctx, id, "reject", models.SaleStatusWaitingAdminApproval, map[string]interface{}{
		"status":           models.SaleStatusRejected,
		"rejection_reason": input.Reason,
		"rejected_at":      time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.notifySeller(ctx, sale, EventUserSaleRejected, map[string]string{"reason": input.Reason})
	return sale, nil
}

func (s *SaleService) ConfirmPayment(ctx context.Context, id uuid.UUID) (*models.ConsignmentSale, error) {
	sale, err := s.transition(ctx, id, "confirm payment for", models.SaleStatusPaymentSubmitted, map[string]interface{}{
		"status":       models.SaleStatusShippingPending,
		"confirmed_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.notifySeller(ctx, sale, EventUserPaymentValidated, nil)
	s.notifier.NotifyAdmin(ctx, EventAdminShipmentPending, map[string]string{
		"sale_id":   sale.ID.String(),
		"item_name": sale.ItemName,
	})
	return sale, nil
}

// RejectPayment sends the sale back to PAYMENT_PENDING with the proof
// cleared so the seller can submit a new one.
func (s *SaleService) RejectPayment(ctx context.Context, id uuid.UUID, input ReasonInput) (*models.ConsignmentSale, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}
	sale, err := s.transition(ctx, id, "reject payment for", models.SaleStatusPaymentSubmitted, map[string]interface{}{
		"status":             models.SaleStatusPaymentPending,
		"payment_method":     "",
		"payment_reference":  "",
		"payment_note":       "",
		"proof_submitted_at": nil,
		"rejection_reason":   input.Reason,
	})
	if err != nil {
		return nil, err
	}
	s.notifySeller(ctx, sale, EventUserPaymentRejected, map[string]string{"reason": input.Reason})
	return sale, nil
}

func (s *SaleService) MarkShipped(ctx context.Context, id uuid.UUID, input ShipInput) (*models.ConsignmentSale, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, validationFailed(err)
	}
	sale, err := s.transition(ctx, id, "ship", models.SaleStatusShippingPending, map[string]interface{}{
		"status":          models.SaleStatusShipped,
		"tracking_number": input.TrackingNumber,
		"shipping_label":  input.ShippingLabel,
		"shipped_at":      time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.notifySeller(ctx, sale, EventUserShipped, map[string]string{"tracking_number": sale.TrackingNumber})
	return sale, nil
}

func (s *SaleService) Complete(ctx context.Context, id uuid.UUID) (*models.ConsignmentSale, error) {
	return s.transition(ctx, id, "complete", models.SaleStatusShipped, map[string]interface{}{
		"status":       models.SaleStatusCompleted,
		"completed_at": time.Now().UTC(),
	})
}

func (s *SaleService) load(ctx context.Context, id uuid.UUID) (*models.ConsignmentSale, error) {
	var sale models.ConsignmentSale
	if err := s.db.WithContext(ctx).First(&sale, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "sale", id.String())
	}
	return &sale, nil
}

func (s *SaleService) transition(ctx context.Context, id uuid.UUID, op string, from models.SaleStatus, updates map[string]interface{}) (*models.ConsignmentSale, error) {
	won, err := guardedUpdate(ctx, s.db, &models.ConsignmentSale{}, id, []string{string(from)}, updates)
	if err != nil {
		return nil, err
	}
	sale, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, &InvalidStateError{Resource: "sale", Operation: op, Current: string(sale.Status)}
	}

	logrus.WithFields(logrus.Fields{
		"sale_id": id,
		"from":    from,
		"to":      sale.Status,
	}).Info("Sale status changed")
	return sale, nil
}

func (s *SaleService) notifySeller(ctx context.Context, sale *models.ConsignmentSale, event NotificationEvent, extra map[string]string) {
	var seller models.User
	if err := s.db.WithContext(ctx).Select("id", "email").First(&seller, "id = ?", sale.SellerID).Error; err != nil {
		logrus.WithError(err).WithField("sale_id", sale.ID).Warn("Seller not found for notification")
		return
	}
	payload := map[string]string{
		"sale_id":   sale.ID.String(),
		"item_name": sale.ItemName,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.notifier.NotifyUser(ctx, event, seller.Email, payload)
}
