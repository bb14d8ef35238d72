// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate assigns the primary key client side so inserts do not depend
// on a database uuid extension.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	return json.Unmarshal(bytes, j)
}

func (JSONB) GormDataType() string {
	return "json"
}

func (JSONB) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

// StringList is stored as a postgres text[] and as the same array literal in
// a text column elsewhere.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return arrayValue(l)
}

func (l *StringList) Scan(src interface{}) error {
	return arrayScan((*[]string)(l), src)
}

func (StringList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return arrayDataType(db)
}

func arrayValue(values []string) (driver.Value, error) {
	if values == nil {
		return "{}", nil
	}
	return pq.StringArray(values).Value()
}

func arrayScan(dst *[]string, src interface{}) error {
	var a pq.StringArray
	if err := a.Scan(src); err != nil {
		return err
	}
	*dst = []string(a)
	return nil
}

func arrayDataType(db *gorm.DB) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}
