package domain

import (
	"context"
	"errors"
)

type Service interface {
	List(ctx context.Context) ([]EmailSender, error)
	Get(ctx context.Context, id string) (EmailSender, error)
	Create(ctx context.Context, email string) (EmailSender, error)
	Update(ctx context.Context, id string, email string) (EmailSender, error)
	Delete(ctx context.Context, id string) error
	IsRegistered(ctx context.Context, email string) (bool, error)
}

var (
	ErrInvalidID     = errors.New("invalid_id")
	ErrEmailRequired = errors.New("email_required")
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrAlreadyExists = errors.New("email_already_exists")
	ErrNotFound      = errors.New("not_found")
)
