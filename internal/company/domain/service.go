package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
)

type ListCompanyRequest struct {
	PageToken string
	PageSize  int
	Name      string
}

type ListCompanyFilter struct {
	Name string
}

type ListCompanyResponse struct {
	pagination.PageInfo
	Companies []Company `json:"companies"`
}

type CreateCompanyRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type Service interface {
	Create(context.Context, CreateCompanyRequest) (Company, error)
	List(context.Context, ListCompanyRequest) (ListCompanyResponse, error)
	GetByID(ctx context.Context, id string) (Company, error)
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrInvalidID    = errors.New("invalid_id")
	ErrNotFound     = errors.New("not_found")
)
