// Package store provides the shared database access primitives used by
// every domain service: plain queries, single-row queries, and a
// transaction helper that serializes updates via row-level locking.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting Store methods
// and package-level Store types (user.Store, environment.Store, ...) run
// unchanged whether they hold a pool connection or a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a connection pool and exposes the transaction primitive C4/C5
// use to serialize row updates under SELECT ... FOR UPDATE.
type Store struct {
	Pool *pgxpool.Pool
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Transaction runs fn inside a BEGIN/COMMIT block, rolling back on any
// error fn returns (including a panic, which is re-raised after rollback).
func (s *Store) Transaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}
