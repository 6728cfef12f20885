package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx both *pgxpool.Pool and pgx.Tx satisfy.
// Repositories run against a Querier so the fulfillment service can put
// every read and write of one operation inside a single transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is a transaction handle. pgx.Tx satisfies it.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner starts transactions. Satisfied by Postgres below and mocked in
// service tests.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Begin adapts pgxpool's Begin to the Beginner interface.
func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	return p.Pool.Begin(ctx)
}

var _ Querier = (*pgxpool.Pool)(nil)
var _ Tx = (pgx.Tx)(nil)
