package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EmailSender is a from-address an operator has approved for outbound mail.
type EmailSender struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Email     string       `gorm:"type:text;not null;uniqueIndex" json:"email"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (EmailSender) TableName() string { return "email_senders" }
