package resilience

import (
	"context"
	"database/sql"

	"clinic-backend/internal/resilience/circuitbreaker"
	"clinic-backend/internal/resilience/retry"
)

// DatabaseOperation is the operation name database calls are tracked under.
const DatabaseOperation = "database"

// DBGuard wraps a database connection with retry and circuit breaker
// protection. It prevents cascading failures when the database becomes
// unavailable or slow.
type DBGuard struct {
	db   *sql.DB
	ex   *Executor
	opts []Option
}

// NewDBGuard creates a guard over db that runs every call through ex.
// Unless ex carries its own defaults for DatabaseOperation, calls use
// retry.DatabasePolicy and circuitbreaker.DatabaseConfig.
func NewDBGuard(db *sql.DB, ex *Executor) *DBGuard {
	if ex == nil {
		ex = Default()
	}
	return &DBGuard{
		db:   db,
		ex:   ex,
		opts: ex.Presets(DatabaseOperation, retry.DatabasePolicy(), circuitbreaker.DatabaseConfig()),
	}
}

// QueryContext executes a query with resilience protection.
// If the circuit is open, it returns a *circuitbreaker.CircuitOpenError
// immediately without hitting the database.
func (g *DBGuard) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return Execute(ctx, g.ex, DatabaseOperation, func(ctx context.Context) (*sql.Rows, error) {
		return g.db.QueryContext(ctx, query, args...)
	}, g.opts...)
}

// ExecContext executes a statement with resilience protection.
// Statements are retried, so only idempotent statements should go through here.
func (g *DBGuard) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return Execute(ctx, g.ex, DatabaseOperation, func(ctx context.Context) (sql.Result, error) {
		return g.db.ExecContext(ctx, query, args...)
	}, g.opts...)
}

// QueryRowContext executes a query that returns at most one row.
// sql.Row defers its error until Scan, so this call is not protected.
func (g *DBGuard) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return g.db.QueryRowContext(ctx, query, args...)
}

// PingContext verifies the connection with resilience protection.
func (g *DBGuard) PingContext(ctx context.Context) error {
	return ExecuteErr(ctx, g.ex, DatabaseOperation, g.db.PingContext, g.opts...)
}

// State returns the state of the database breaker. A breaker that has not
// seen a call yet reports closed.
func (g *DBGuard) State() circuitbreaker.State {
	if s, ok := g.ex.Breakers.Status(DatabaseOperation); ok {
		return s.State
	}
	return circuitbreaker.StateClosed
}

// IsOpen returns true if the database breaker is open.
func (g *DBGuard) IsOpen() bool {
	return g.State() == circuitbreaker.StateOpen
}

// DB returns the underlying database connection.
// This should only be used for operations that don't need protection.
func (g *DBGuard) DB() *sql.DB {
	return g.db
}
