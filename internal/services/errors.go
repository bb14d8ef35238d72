// internal/services/errors.go
package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/utils"
)

// ValidationError rejects input before any state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// ForbiddenError is returned when the actor does not own the record.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

// InvalidStateError means the operation is not allowed from the record's
// current status.
type InvalidStateError struct {
	Resource  string
	Operation string
	Current   string
	Message   string
}

func (e *InvalidStateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("cannot %s %s in status %s", e.Operation, e.Resource, e.Current)
}

type OutOfStockError struct {
	ItemID uuid.UUID
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("item %s is out of stock", e.ItemID)
}

func (e *OutOfStockError) Unwrap() error {
	return &InvalidStateError{Resource: "item", Operation: "sell", Current: "OUT_OF_STOCK"}
}

// ProviderError wraps a failed payment provider call.
type ProviderError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return fmt.Errorf("failed to load %s: %w", resource, err)
}

// validationFailed turns a validator error into a ValidationError naming the
// first offending field.
func validationFailed(err error) error {
	if details := utils.GetValidationErrors(err); len(details) > 0 {
		return &ValidationError{Field: details[0].Field, Message: details[0].Message}
	}
	return &ValidationError{Message: err.Error()}
}

// ConflictError reports a uniqueness clash such as a registered e-mail.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ErrInvalidCredentials is returned by Login for an unknown e-mail or a bad
// password alike.
var ErrInvalidCredentials = errors.New("invalid email or password")
