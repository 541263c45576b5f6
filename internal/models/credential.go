package models

import (
	"time"

	"gorm.io/datatypes"
)

// AccessCredential is a platform token owned by the credential subsystem.
// This service only reads it and stamps LastUsedAt.
type AccessCredential struct {
	ID         uint                        `gorm:"primaryKey" json:"id"`
	Name       string                      `gorm:"size:100" json:"name"`
	Token      string                      `gorm:"type:text;not null" json:"-"`
	Scopes     datatypes.JSONSlice[string] `json:"scopes"`
	Active     bool                        `gorm:"index" json:"active"`
	ExpiresAt  *time.Time                  `json:"expires_at"`
	LastUsedAt *time.Time                  `json:"last_used_at"`
	CreatedAt  time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *AccessCredential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}
