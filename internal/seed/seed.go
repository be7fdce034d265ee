package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	companydomain "github.com/smallbiznis/invoicedesk/internal/company/domain"
	emailsenderdomain "github.com/smallbiznis/invoicedesk/internal/emailsender/domain"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"gorm.io/gorm"
)

// Options lists what a fresh install needs before the first invoice can be sent.
type Options struct {
	CompanyName  string
	CompanyEmail string
	EmailSenders []string
}

type Result struct {
	Company      *companydomain.Company
	EmailSenders []emailsenderdomain.EmailSender
}

// EnsureDefaults creates the issuing company and registered senders when missing.
// Running it twice leaves the database unchanged.
func EnsureDefaults(ctx context.Context, db *gorm.DB, node *snowflake.Node, opts Options) (Result, error) {
	if db == nil {
		return Result{}, errors.New("seed database handle is required")
	}
	if node == nil {
		return Result{}, errors.New("seed id generator is required")
	}

	var result Result
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if name := strings.TrimSpace(opts.CompanyName); name != "" {
			company, err := ensureCompanyTx(ctx, tx, node, name, strings.TrimSpace(opts.CompanyEmail))
			if err != nil {
				return err
			}
			result.Company = &company
		}

		for _, raw := range opts.EmailSenders {
			email := mailer.NormalizeAddress(raw)
			if email == "" {
				continue
			}
			if !mailer.IsValidAddress(email) {
				return emailsenderdomain.ErrInvalidEmail
			}
			sender, err := ensureEmailSenderTx(ctx, tx, node, email)
			if err != nil {
				return err
			}
			result.EmailSenders = append(result.EmailSenders, sender)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func ensureCompanyTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, name, email string) (companydomain.Company, error) {
	var company companydomain.Company
	err := tx.WithContext(ctx).Where("name = ?", name).First(&company).Error
	if err == nil {
		return company, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return company, err
	}
	now := time.Now().UTC()
	company = companydomain.Company{
		ID:        node.Generate(),
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&company).Error; err != nil {
		return company, err
	}
	return company, nil
}

func ensureEmailSenderTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, email string) (emailsenderdomain.EmailSender, error) {
	var sender emailsenderdomain.EmailSender
	err := tx.WithContext(ctx).Where("email = ?", email).First(&sender).Error
	if err == nil {
		return sender, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return sender, err
	}
	now := time.Now().UTC()
	sender = emailsenderdomain.EmailSender{
		ID:        node.Generate(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&sender).Error; err != nil {
		return sender, err
	}
	return sender, nil
}
