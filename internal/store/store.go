// Package store owns the relational schema and all SQL touching it: the
// DDL, the loader's insert paths, and the read-side listing and
// aggregation queries.
//
// All monetary math runs inside Postgres on NUMERIC values and crosses
// into Go as decimal.Decimal; nothing on either side converts through a
// float, so aggregate totals are exact to the cent.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/assadlabs/ansflow/internal/schema"
)

// ErrNotFound signals a detail lookup that matched nothing. It is a
// normal outcome, not a failure.
var ErrNotFound = errors.New("not found")

// ErrQueryTimeout reports a query that exceeded its deadline, including
// time spent waiting on the shared run lock while an ingestion run holds
// the exclusive one.
var ErrQueryTimeout = errors.New("query timed out")

// runLockKey is the advisory lock key shared by the ingestion run
// (exclusive) and every query (shared). Arbitrary but stable.
const runLockKey = int64(0x414E53464C4F)

// Execer is the write-side database interface.
// Satisfied by *pgxpool.Pool, pgx.Tx, and test fakes.
type Execer interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
}

// Store provides access to the operators and expenses relations.
type Store struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	maxPageSize  int
}

// New creates a Store. queryTimeout bounds every read operation;
// maxPageSize caps caller-supplied page sizes.
func New(pool *pgxpool.Pool, queryTimeout time.Duration, maxPageSize int) *Store {
	return &Store{
		pool:         pool,
		queryTimeout: queryTimeout,
		maxPageSize:  maxPageSize,
	}
}

// Pool exposes the underlying pool for the loader's transaction control.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

const ddl = `
CREATE TABLE IF NOT EXISTS operators (
	registro_ans TEXT PRIMARY KEY,
	cnpj         TEXT NOT NULL UNIQUE,
	legal_name   TEXT NOT NULL,
	modality     TEXT NOT NULL DEFAULT '',
	uf           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS expenses (
	id           BIGSERIAL PRIMARY KEY,
	registro_ans TEXT NOT NULL REFERENCES operators (registro_ans) ON DELETE CASCADE,
	amount       NUMERIC(18,2) NOT NULL CHECK (amount >= 0),
	quarter      TEXT NOT NULL,
	year         INT NOT NULL,
	description  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_expenses_registro_ans ON expenses (registro_ans);
CREATE INDEX IF NOT EXISTS idx_expenses_period ON expenses (year, quarter);
CREATE INDEX IF NOT EXISTS idx_operators_legal_name ON operators (LOWER(legal_name));
`

// EnsureSchema creates the two relations and their indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Reset clears both relations. Each ingestion run is a full drop-and-
// reload of the snapshot files; expenses truncate first via CASCADE.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE TABLE expenses, operators RESTART IDENTITY CASCADE"); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	return nil
}

// AcquireRunLock takes the exclusive ingestion lock on a dedicated
// connection and returns a release function. While held, readers block on
// their shared lock, so they observe either the pre-run or the fully
// loaded post-run state, never a partial one.
func (s *Store) AcquireRunLock(ctx context.Context) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", runLockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}

	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", runLockKey); err != nil {
			// Releasing the connection drops the session lock anyway.
			_ = err
		}
		conn.Release()
	}
	return release, nil
}

// withSharedLock runs f on a pooled connection holding the shared form of
// the run lock, under the store's query timeout. Deadline errors surface
// as ErrQueryTimeout.
func (s *Store) withSharedLock(ctx context.Context, f func(ctx context.Context, conn *pgxpool.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return wrapTimeout(err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock_shared($1)", runLockKey); err != nil {
		return wrapTimeout(err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.Exec(unlockCtx, "SELECT pg_advisory_unlock_shared($1)", runLockKey)
	}()

	return wrapTimeout(f(ctx, conn))
}

// wrapTimeout converts deadline errors into ErrQueryTimeout so callers can
// report them without inspecting pg internals.
func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrQueryTimeout, err)
	}
	return err
}

// OperatorColumns lists the operators columns in insert order, shared by
// the COPY fast path and the INSERT fallback.
var OperatorColumns = []string{"registro_ans", "cnpj", "legal_name", "modality", "uf"}

// ExpenseColumns lists the expenses columns in insert order.
var ExpenseColumns = []string{"registro_ans", "amount", "quarter", "year", "description"}

// OperatorRow converts an operator record to a COPY row.
func OperatorRow(op *schema.Operator) []any {
	return []any{op.RegistroANS, op.CNPJ, op.LegalName, op.Modality, op.UF}
}

// ExpenseRow converts an expense record to a COPY row.
func ExpenseRow(e *schema.Expense) []any {
	return []any{e.RegistroANS, NumericFromDecimal(e.Amount), e.Quarter, e.Year, e.Description}
}

// InsertOperator inserts a single operator row. Used on the loader's
// retry path where rows need individual savepoint isolation.
func InsertOperator(ctx context.Context, db Execer, op *schema.Operator) error {
	_, err := db.Exec(ctx,
		`INSERT INTO operators (registro_ans, cnpj, legal_name, modality, uf)
		 VALUES ($1, $2, $3, $4, $5)`,
		op.RegistroANS, op.CNPJ, op.LegalName, op.Modality, op.UF)
	return err
}

// InsertExpense inserts a single expense row.
func InsertExpense(ctx context.Context, db Execer, e *schema.Expense) error {
	_, err := db.Exec(ctx,
		`INSERT INTO expenses (registro_ans, amount, quarter, year, description)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.RegistroANS, NumericFromDecimal(e.Amount), e.Quarter, e.Year, e.Description)
	return err
}

// NumericFromDecimal converts a fixed-point decimal to pgtype.Numeric
// without passing through a float.
func NumericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// DecimalFromNumeric converts a scanned NUMERIC back to decimal form.
func DecimalFromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Decimal{}
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
