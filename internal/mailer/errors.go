package mailer

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured       = errors.New("email_not_configured")
	ErrNoRecipients        = errors.New("no_recipients")
	ErrMissingFields       = errors.New("missing_email_fields")
	ErrSenderNotRegistered = errors.New("sender_not_registered")
	ErrInvalidAddress      = errors.New("invalid_address")
)

// SenderError names the unregistered from-address.
type SenderError struct {
	Address string
}

func (e *SenderError) Error() string {
	return fmt.Sprintf("Email sender %s not found in database. Please add it first.", e.Address)
}

func (e *SenderError) Unwrap() error { return ErrSenderNotRegistered }

// AddressError names the offending field and address.
type AddressError struct {
	Field   string
	Address string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("Invalid email format in %s: %s", e.Field, e.Address)
}

func (e *AddressError) Unwrap() error { return ErrInvalidAddress }
