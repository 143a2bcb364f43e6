package models

import "time"

// ModelRoute overrides the built-in prefix routing for one client model
// id. TargetModel optionally rewrites the model id sent upstream, so a
// client asking for a familiar name can be served by a differently-named
// backend model.
type ModelRoute struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ClientModel string    `gorm:"uniqueIndex;not null" json:"client_model"`
	Provider    string    `gorm:"not null" json:"provider"`
	TargetModel string    `json:"target_model,omitempty"`
	// Set explicitly on create; a gorm column default would swallow a
	// false value on insert.
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
