package documentstore

import (
	"context"
	"errors"
)

const ContentTypePDF = "application/pdf"

var (
	ErrNotFound      = errors.New("document_not_found")
	ErrNotConfigured = errors.New("storage_not_configured")
	ErrInvalidKey    = errors.New("invalid_document_key")
)

// Store is a flat key/blob store for rendered invoice documents.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (Object, error)
	// Delete succeeds when the key is already absent.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Object is a stored blob.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
}

// ConfigError explains which settings the storage backend is missing.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

func (e *ConfigError) Unwrap() error { return ErrNotConfigured }

type unconfiguredStore struct {
	err error
}

// NewUnconfigured returns a store that fails every call with reason.
func NewUnconfigured(reason string) Store {
	return unconfiguredStore{err: &ConfigError{Reason: reason}}
}

func (s unconfiguredStore) Put(context.Context, string, []byte, string) error { return s.err }

func (s unconfiguredStore) Get(context.Context, string) (Object, error) { return Object{}, s.err }

func (s unconfiguredStore) Delete(context.Context, string) error { return s.err }

func (s unconfiguredStore) Exists(context.Context, string) (bool, error) { return false, s.err }
