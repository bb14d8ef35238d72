// internal/services/admin_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/models"
	"github.com/downpricer/marketplace-backend/internal/utils"
)

// AdminService backs the back-office read side: dashboard counters, the
// user directory and the in-app notification inbox.
type AdminService struct {
	db *gorm.DB
}

type AdminDashboardStats struct {
	TotalUsers          int64            `json:"total_users"`
	NewUsersThisMonth   int64            `json:"new_users_this_month"`
	RequestsByStatus    map[string]int64 `json:"requests_by_status"`
	SalesByStatus       map[string]int64 `json:"sales_by_status"`
	ActiveSubscriptions int64            `json:"active_subscriptions"`
	DepositsCollected   float64          `json:"deposits_collected"`
	MonthlyProfit       float64          `json:"monthly_profit"`
	UnreadNotifications int64            `json:"unread_notifications"`
}

type AdminUserFilter struct {
	utils.PaginationParams
	Tier string
}

type NotificationFilter struct {
	utils.PaginationParams
	Status string
}

func NewAdminService(db *gorm.DB) *AdminService {
	return &AdminService{db: db}
}

type statusCount struct {
	Status string
	Count  int64
}

func (s *AdminService) GetDashboardStats(ctx context.Context) (*AdminDashboardStats, error) {
	db := s.db.WithContext(ctx)
	stats := &AdminDashboardStats{
		RequestsByStatus: map[string]int64{},
		SalesByStatus:    map[string]int64{},
	}
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	if err := db.Model(&models.User{}).Count(&stats.TotalUsers).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if err := db.Model(&models.User{}).Where("created_at >= ?", monthStart).Count(&stats.NewUsersThisMonth).Error; err != nil {
		return nil, fmt.Errorf("failed to count new users: %w", err)
	}

	var counts []statusCount
	if err := db.Model(&models.PurchaseRequest{}).Select("status, COUNT(*) AS count").Group("status").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	for _, c := range counts {
		stats.RequestsByStatus[c.Status] = c.Count
	}

	counts = nil
	if err := db.Model(&models.ConsignmentSale{}).Select("status, COUNT(*) AS count").Group("status").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count sales: %w", err)
	}
	for _, c := range counts {
		stats.SalesByStatus[c.Status] = c.Count
	}

	if err := db.Model(&models.Subscription{}).Where("active = ?", true).Count(&stats.ActiveSubscriptions).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	// Refunded deposits are not counted as collected.
	if err := db.Model(&models.PurchaseRequest{}).
		Where("deposit_paid_at IS NOT NULL AND (refund_status IS NULL OR refund_status <> ?)", models.RefundStatusRefunded).
		Select("COALESCE(SUM(deposit_amount), 0)").Scan(&stats.DepositsCollected).Error; err != nil {
		return nil, fmt.Errorf("failed to sum deposits: %w", err)
	}
	if err := db.Model(&models.ConsignmentSale{}).
		Where("status <> ? AND created_at >= ?", models.SaleStatusRejected, monthStart).
		Select("COALESCE(SUM(profit), 0)").Scan(&stats.MonthlyProfit).Error; err != nil {
		return nil, fmt.Errorf("failed to sum profit: %w", err)
	}

	if err := db.Model(&models.AdminNotification{}).Where("status = ?", "unread").Count(&stats.UnreadNotifications).Error; err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	return stats, nil
}

func (s *AdminService) GetUsers(ctx context.Context, filter AdminUserFilter) ([]models.User, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.User{})

	if filter.Tier != "" {
		tier, err := models.ParseTier(filter.Tier)
		if err != nil {
			return nil, 0, &ValidationError{Field: "tier", Message: err.Error()}
		}
		query = query.Where("plan_tier = ?", tier)
	}
	if filter.Search != "" {
		searchTerm := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", searchTerm, searchTerm, searchTerm)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "email", "last_login_at"}
	query = utils.ApplySort(query, filter.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, filter.PaginationParams)

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch users: %w", err)
	}
	return users, total, nil
}

func (s *AdminService) GetNotifications(ctx context.Context, filter NotificationFilter) ([]models.AdminNotification, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AdminNotification{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query = utils.ApplySort(query, filter.PaginationParams, []string{"created_at", "priority"})
	query = utils.ApplyPagination(query, filter.PaginationParams)

	var notifications []models.AdminNotification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	return notifications, total, nil
}

func (s *AdminService) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&models.AdminNotification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  "read",
			"read_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "notification", ID: id.String()}
	}
	return nil
}
