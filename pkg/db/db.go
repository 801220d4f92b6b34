package db

import (
	"context"

	"github.com/go-pg/pg/v10"
)

// DB is a wrapper around pg.DB.
type DB struct {
	*pg.DB
}

func New(dbc *pg.DB) DB {
	return DB{DB: dbc}
}

// Ping checks the database connection.
func (d DB) Ping(ctx context.Context) error {
	_, err := d.DB.ExecContext(ctx, "SELECT 1")
	return err
}

// RunInTransaction wraps fn in a transaction committed on nil error.
func (d DB) RunInTransaction(ctx context.Context, fn func(*pg.Tx) error) error {
	return d.DB.RunInTransaction(ctx, fn)
}
