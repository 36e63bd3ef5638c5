package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict - record was modified by another request")
)

// Store groups the repositories so they can be rebound to one transaction
type Store struct {
	db         *gorm.DB
	Products   *ProductsRepository
	Passports  *PassportsRepository
	Imports    *ImportsRepository
	References *ReferencesRepository
}

// NewStore creates a Store over db
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:         db,
		Products:   NewProductsRepository(db),
		Passports:  NewPassportsRepository(db),
		Imports:    NewImportsRepository(db),
		References: NewReferencesRepository(db),
	}
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTransaction runs fn with a Store bound to a single database transaction.
// Returning an error from fn rolls the transaction back.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// IsUniqueViolation reports whether err came from a unique constraint.
// Postgres errors arrive translated to gorm.ErrDuplicatedKey; sqlite keeps its message.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
