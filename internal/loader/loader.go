// Package loader persists parsed records into the relational store in
// bounded transactional chunks.
//
// A run loads the registry stream first, then the expense stream; an
// expense row whose registro_ans was not committed during the registry
// phase is rejected as an orphan reference, never inserted. Each chunk is
// one transaction: the fast path is the COPY protocol, and a failed chunk
// is retried once at half size with per-row savepoint isolation so a
// single bad row degrades to a row rejection instead of poisoning its
// chunk. A retry whose commit still fails aborts the run; chunks already
// committed stay committed.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/assadlabs/ansflow/internal/parser"
	"github.com/assadlabs/ansflow/internal/schema"
	"github.com/assadlabs/ansflow/internal/store"
)

// ErrRunAborted reports a chunk whose retry also failed; the run stops
// and the summary carries status Aborted.
var ErrRunAborted = errors.New("ingestion run aborted")

// ErrRegistryNotLoaded reports an expense load attempted before the
// registry phase completed. Referential ordering is strict.
var ErrRegistryNotLoaded = errors.New("registry must be fully loaded before expenses")

// Schema tags which of the two record streams a summary describes.
type Schema string

const (
	SchemaRegistry Schema = "registry"
	SchemaExpenses Schema = "expenses"
)

// ChunkState is the per-chunk loading state.
type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkCommitting
	ChunkCommitted
	ChunkRolledBack
	ChunkFailed
)

func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkCommitting:
		return "committing"
	case ChunkCommitted:
		return "committed"
	case ChunkRolledBack:
		return "rolled_back"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tx is the slice of pgx.Tx the loader drives.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB begins chunk transactions. Satisfied by PoolDB in production and by
// fakes in tests.
type DB interface {
	Begin(ctx context.Context) (Tx, error)
}

// Progress is emitted after every committed chunk — the loader's only
// externally visible side effect besides store mutation.
type Progress struct {
	Schema   Schema
	Chunk    int // 1-based index of the committed chunk
	Accepted int64
	Rejected int64
}

// ProgressFunc consumes progress updates. May be nil.
type ProgressFunc func(Progress)

// Summary is the end-of-run accounting for one schema.
type Summary struct {
	Schema           Schema
	RecordsSeen      int64
	Accepted         int64
	Rejected         int64
	ChunksCommitted  int
	ChunksFailed     int
	RejectionReasons map[parser.Reason]int64
}

func newSummary(s Schema) Summary {
	return Summary{Schema: s, RejectionReasons: make(map[parser.Reason]int64)}
}

func (s *Summary) reject(reason parser.Reason) {
	s.Rejected++
	s.RejectionReasons[reason]++
}

// RunStatus distinguishes the three terminal run outcomes operators care
// about when deciding whether to re-run.
type RunStatus string

const (
	StatusFullyLoaded          RunStatus = "fully_loaded"
	StatusLoadedWithRejections RunStatus = "loaded_with_rejections"
	StatusAborted              RunStatus = "aborted"
)

// Report is the run-end summary handed to the logging/monitoring caller.
type Report struct {
	RunID    string
	Registry Summary
	Expenses Summary
	Status   RunStatus
}

// OperatorSource yields registry records or rejections until io.EOF.
type OperatorSource interface {
	Next() (*schema.Operator, *parser.Rejection, error)
}

// ExpenseSource yields expense records or rejections until io.EOF.
type ExpenseSource interface {
	Next() (*schema.Expense, *parser.Rejection, error)
}

// Options configures a Loader.
type Options struct {
	// ChunkSize is the target records per transaction (default 50000).
	ChunkSize int

	// CommitTimeout bounds each chunk transaction (default 60s).
	CommitTimeout time.Duration

	// Progress receives an update after each committed chunk. Optional.
	Progress ProgressFunc

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Loader drives one ingestion run. Not safe for concurrent use; a run is
// a single logical sequence of LoadRegistry then LoadExpenses.
type Loader struct {
	db            DB
	chunkSize     int
	commitTimeout time.Duration
	progress      ProgressFunc
	log           *slog.Logger

	report         Report
	registryIDs    map[string]struct{}
	registryLoaded bool
	aborted        bool
}

// New creates a Loader for one run.
func New(db DB, opts Options) *Loader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 50000
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Loader{
		db:            db,
		chunkSize:     opts.ChunkSize,
		commitTimeout: opts.CommitTimeout,
		progress:      opts.Progress,
		log:           opts.Logger,
		report: Report{
			RunID:    uuid.New().String(),
			Registry: newSummary(SchemaRegistry),
			Expenses: newSummary(SchemaExpenses),
		},
		registryIDs: make(map[string]struct{}),
	}
}

// Abort marks the run aborted for fatal failures outside the loader's
// control, such as an undecodable source file or a header missing a
// required column. The report then resolves to StatusAborted instead of
// claiming the run completed.
func (l *Loader) Abort() {
	l.aborted = true
}

// Report returns the run report. Status is resolved from what has been
// loaded so far, so it is valid after an aborted run too.
func (l *Loader) Report() *Report {
	r := l.report
	switch {
	case l.aborted:
		r.Status = StatusAborted
	case r.Registry.Rejected == 0 && r.Expenses.Rejected == 0:
		r.Status = StatusFullyLoaded
	default:
		r.Status = StatusLoadedWithRejections
	}
	return &r
}

// chunkRow is one buffered record ready to insert. seq is the record's
// 1-based ordinal in the source stream, kept for row-range diagnostics.
type chunkRow struct {
	seq      int64
	values   []any
	insert   func(ctx context.Context, db store.Execer) error
	onCommit func()
}

// chunkAttempt tracks one chunk through the loading state machine:
// pending -> committing -> committed, or rolled_back and then, after the
// halved retry, committed or failed.
type chunkAttempt struct {
	state       ChunkState
	first, last int64
}

// LoadRegistry streams operator records into the store in chunks.
// It must complete before LoadExpenses may run.
func (l *Loader) LoadRegistry(ctx context.Context, src OperatorSource) error {
	sum := &l.report.Registry

	chunk := make([]chunkRow, 0, l.chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := l.commitChunk(ctx, sum, "operators", store.OperatorColumns, chunk)
		chunk = chunk[:0]
		return err
	}

	for {
		op, rej, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			l.aborted = true
			return fmt.Errorf("registry stream: %w", err)
		}
		if rej != nil {
			sum.RecordsSeen++
			sum.reject(rej.Reason)
			continue
		}

		sum.RecordsSeen++
		chunk = append(chunk, chunkRow{
			seq:    sum.RecordsSeen,
			values: store.OperatorRow(op),
			insert: func(ctx context.Context, db store.Execer) error {
				return store.InsertOperator(ctx, db, op)
			},
			onCommit: func() {
				l.registryIDs[op.RegistroANS] = struct{}{}
			},
		})

		if len(chunk) >= l.chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}

	l.registryLoaded = true
	return nil
}

// LoadExpenses streams expense records into the store in chunks.
// Rows referencing an identifier that was not committed during the
// registry phase are rejected as orphan references before buffering.
func (l *Loader) LoadExpenses(ctx context.Context, src ExpenseSource) error {
	if !l.registryLoaded {
		return ErrRegistryNotLoaded
	}
	sum := &l.report.Expenses

	chunk := make([]chunkRow, 0, l.chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := l.commitChunk(ctx, sum, "expenses", store.ExpenseColumns, chunk)
		chunk = chunk[:0]
		return err
	}

	for {
		e, rej, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			l.aborted = true
			return fmt.Errorf("expense stream: %w", err)
		}
		if rej != nil {
			sum.RecordsSeen++
			sum.reject(rej.Reason)
			continue
		}

		sum.RecordsSeen++
		if _, ok := l.registryIDs[e.RegistroANS]; !ok {
			sum.reject(parser.ReasonOrphanReference)
			continue
		}

		chunk = append(chunk, chunkRow{
			seq:    sum.RecordsSeen,
			values: store.ExpenseRow(e),
			insert: func(ctx context.Context, db store.Execer) error {
				return store.InsertExpense(ctx, db, e)
			},
		})

		if len(chunk) >= l.chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}

// commitChunk commits one chunk: COPY fast path first, then on failure a
// single retry as two half-size transactions with per-row savepoint
// isolation. Cancellation is honored between chunks, never mid-chunk.
func (l *Loader) commitChunk(ctx context.Context, sum *Summary, table string, columns []string, chunk []chunkRow) error {
	if err := ctx.Err(); err != nil {
		l.aborted = true
		return fmt.Errorf("%w: cancelled between chunks: %v", ErrRunAborted, err)
	}

	attempt := chunkAttempt{
		state: ChunkPending,
		first: chunk[0].seq,
		last:  chunk[len(chunk)-1].seq,
	}

	attempt.state = ChunkCommitting
	copyErr := l.copyChunk(ctx, table, columns, chunk)
	if copyErr == nil {
		attempt.state = ChunkCommitted
		l.chunkCommitted(sum, chunk)
		return nil
	}

	attempt.state = ChunkRolledBack
	l.log.Warn("chunk rolled back, retrying at half size",
		"schema", sum.Schema,
		"state", attempt.state.String(),
		"rows", len(chunk),
		"first_record", attempt.first,
		"last_record", attempt.last,
		"error", copyErr,
	)

	half := (len(chunk) + 1) / 2
	for _, sub := range [][]chunkRow{chunk[:half], chunk[half:]} {
		if len(sub) == 0 {
			continue
		}
		if err := l.insertChunkIsolated(ctx, sum, sub); err != nil {
			attempt.state = ChunkFailed
			sum.ChunksFailed++
			l.aborted = true
			l.log.Error("chunk failed after retry",
				"schema", sum.Schema,
				"state", attempt.state.String(),
				"rows", len(sub),
				"first_record", sub[0].seq,
				"last_record", sub[len(sub)-1].seq,
				"error", err,
			)
			return fmt.Errorf("%w: %s chunk failed after retry: %v", ErrRunAborted, sum.Schema, err)
		}
	}
	attempt.state = ChunkCommitted
	return nil
}

// copyChunk loads the whole chunk through the COPY protocol in one
// transaction bounded by the commit timeout.
func (l *Loader) copyChunk(ctx context.Context, table string, columns []string, chunk []chunkRow) error {
	ctx, cancel := context.WithTimeout(ctx, l.commitTimeout)
	defer cancel()

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	rows := make([][]any, len(chunk))
	for i, r := range chunk {
		rows[i] = r.values
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	return tx.Commit(ctx)
}

// insertChunkIsolated loads a chunk row by row, isolating each insert in
// a savepoint. Postgres aborts the whole transaction on any error, so a
// failed insert rolls back to its savepoint and becomes a row rejection
// while the rest of the chunk survives.
func (l *Loader) insertChunkIsolated(ctx context.Context, sum *Summary, chunk []chunkRow) error {
	ctx, cancel := context.WithTimeout(ctx, l.commitTimeout)
	defer cancel()

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := make([]chunkRow, 0, len(chunk))
	rejected := 0

	for i, row := range chunk {
		sp := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+sp); err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}

		if err := row.insert(ctx, tx); err != nil {
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
				return fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			rejected++
			sum.reject(parser.ReasonConstraintViolation)
			l.log.Debug("row rejected by store", "schema", sum.Schema, "error", err)
			continue
		}

		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
			return fmt.Errorf("release savepoint: %w", err)
		}
		inserted = append(inserted, row)
	}

	if err := tx.Commit(ctx); err != nil {
		// The rejections counted above never happened; undo them.
		sum.Rejected -= int64(rejected)
		sum.RejectionReasons[parser.ReasonConstraintViolation] -= int64(rejected)
		return fmt.Errorf("commit: %w", err)
	}

	l.chunkCommitted(sum, inserted)
	return nil
}

// chunkCommitted records a committed chunk and notifies the caller.
func (l *Loader) chunkCommitted(sum *Summary, rows []chunkRow) {
	for _, r := range rows {
		if r.onCommit != nil {
			r.onCommit()
		}
	}
	sum.Accepted += int64(len(rows))
	sum.ChunksCommitted++

	l.log.Info("chunk committed",
		"schema", sum.Schema,
		"chunk", sum.ChunksCommitted,
		"rows", len(rows),
		"accepted", sum.Accepted,
		"rejected", sum.Rejected,
	)

	if l.progress != nil {
		l.progress(Progress{
			Schema:   sum.Schema,
			Chunk:    sum.ChunksCommitted,
			Accepted: sum.Accepted,
			Rejected: sum.Rejected,
		})
	}
}

// PoolDB adapts a pgx connection pool to the loader's DB interface.
type PoolDB struct {
	Pool interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	}
}

// Begin starts a chunk transaction.
func (p PoolDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
