// internal/services/lifecycle.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID    uuid.UUID
	Admin bool
}

// SideEffectOutcome records a best-effort action attached to a transition.
// A failed side effect never rolls back the transition itself.
type SideEffectOutcome struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

func succeeded(name string) SideEffectOutcome {
	return SideEffectOutcome{Name: name, Success: true}
}

func skipped(name string) SideEffectOutcome {
	return SideEffectOutcome{Name: name, Skipped: true}
}

func failed(name string, err error) SideEffectOutcome {
	return SideEffectOutcome{Name: name, Error: err.Error()}
}

// guardedUpdate applies updates to the row with id only while its status is
// still one of from. It reports whether this caller won the transition.
func guardedUpdate(ctx context.Context, db *gorm.DB, model interface{}, id uuid.UUID, from []string, updates map[string]interface{}) (bool, error) {
	result := db.WithContext(ctx).Model(model).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update status: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
