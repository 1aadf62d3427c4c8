package db

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNoDatabase is returned when a Provider has no database to hand out.
var ErrNoDatabase = errors.New("database is not configured")

// Querier is satisfied by both Database and Transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Provider hands out the database repositories should use right now.
type Provider interface {
	Current() Database
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() Database

func (f ProviderFunc) Current() Database { return f() }

// NewStaticProvider always provides database.
func NewStaticProvider(database Database) Provider {
	return ProviderFunc(func() Database { return database })
}

// CurrentDatabase resolves provider, failing with ErrNoDatabase when either
// side is missing.
func CurrentDatabase(provider Provider) (Database, error) {
	if provider == nil {
		return nil, ErrNoDatabase
	}
	if database := provider.Current(); database != nil {
		return database, nil
	}
	return nil, ErrNoDatabase
}

// GetQuerier prefers tx so callers can join an outer transaction.
func GetQuerier(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}

func IsNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
