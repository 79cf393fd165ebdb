package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProfileType is the role a profile routes by
type ProfileType string

const (
	ProfileAdmin   ProfileType = "admin"
	ProfilePatient ProfileType = "patient"
	ProfileGuest   ProfileType = "guest"
)

// Valid reports whether t is a known profile type
func (t ProfileType) Valid() bool {
	switch t {
	case ProfileAdmin, ProfilePatient, ProfileGuest:
		return true
	}
	return false
}

// Metadata is a custom type for JSONB fields
type Metadata map[string]interface{}

// Scan implements the sql.Scanner interface for Metadata
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported metadata type")
	}
	return json.Unmarshal(raw, m)
}

// Value implements the driver.Valuer interface for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(make(map[string]interface{}))
	}
	return json.Marshal(m)
}

// User is the identity a verified phone number resolves to
type User struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Phone       string         `gorm:"not null;size:20;uniqueIndex" json:"phone"`
	Name        *string        `gorm:"size:255" json:"name,omitempty"`
	ProfileType ProfileType    `gorm:"not null;size:32;default:'guest';index" json:"profile_type"`
	Metadata    Metadata       `gorm:"type:jsonb;not null;default:'{}';" json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName sets the table name to 'user_profiles'
func (User) TableName() string { return "user_profiles" }

// BeforeCreate hook to generate UUID before creating record
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// ResolveUserRequest is the body of POST /api/v1/users/resolve.
// SessionID is the id returned by a successful verify for PhoneNumber.
type ResolveUserRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	SessionID   string `json:"session_id" binding:"required"`
}

// UpdateUserRequest represents the request body for updating a user
type UpdateUserRequest struct {
	Name        *string      `json:"name,omitempty"`
	ProfileType *ProfileType `json:"profile_type,omitempty"`
	Metadata    Metadata     `json:"metadata,omitempty"`
}

// UserResponse represents the response payload for user operations
type UserResponse struct {
	ID          uuid.UUID   `json:"id"`
	Phone       string      `json:"phone"`
	Name        *string     `json:"name,omitempty"`
	ProfileType ProfileType `json:"profile_type"`
	Metadata    Metadata    `json:"metadata"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ListUsersResponse is one page of profiles
type ListUsersResponse struct {
	Users    []UserResponse `json:"users"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// ToResponse converts User model to UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:          u.ID,
		Phone:       u.Phone,
		Name:        u.Name,
		ProfileType: u.ProfileType,
		Metadata:    u.Metadata,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
