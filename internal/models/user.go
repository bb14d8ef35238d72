// internal/models/user.go
package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type User struct {
	BaseModel
	Email            string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash     string     `json:"-" gorm:"size:255;not null"`
	FirstName        string     `json:"first_name" gorm:"size:100"`
	LastName         string     `json:"last_name" gorm:"size:100"`
	Roles            RoleSet    `json:"roles"`
	PlanTier         Tier       `json:"plan_tier" gorm:"size:20;index"`
	RolesVersion     int        `json:"-" gorm:"not null;default:0"`
	MinisiteActive   bool       `json:"minisite_active" gorm:"not null;default:false"`
	StripeCustomerID string     `json:"-" gorm:"size:255;index"`
	LastLoginAt      *time.Time `json:"last_login_at"`
}

func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

func (u *User) IsAdmin() bool {
	return u.Roles.Has(RoleAdmin)
}

func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}
