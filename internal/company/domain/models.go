package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Company is an invoice counterparty.
type Company struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	DisplayName string       `gorm:"type:text" json:"displayName,omitempty"`
	Email       string       `gorm:"type:text" json:"email,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (Company) TableName() string { return "companies" }

// Label is the name used when a company appears in file names.
func (c *Company) Label() string {
	if c == nil {
		return ""
	}
	if name := strings.TrimSpace(c.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(c.Name)
}
