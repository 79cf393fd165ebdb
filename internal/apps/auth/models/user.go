package models

import (
	usermodels "portal-auth/internal/apps/user/models"
)

// User is the profile the client routes on after login. IDs are strings so
// the developer-mode placeholder ("dev-user-id-<uuid>") fits alongside real ones.
type User struct {
	ID          string                 `json:"id"`
	Phone       string                 `json:"phone"`
	Name        *string                `json:"name,omitempty"`
	ProfileType usermodels.ProfileType `json:"profile_type"`
}
