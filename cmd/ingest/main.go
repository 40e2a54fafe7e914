// Command ingest loads one quarterly snapshot into the database: the
// operator registry file first, then any number of expense ledger files.
//
//	ingest -registry Relatorio_cadop.csv 1T2023.csv 2T2023.csv
//
// The run holds the exclusive ingestion lock for its whole duration, so
// API queries block (and eventually time out) rather than observe a
// partially loaded snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/assadlabs/ansflow/internal/config"
	"github.com/assadlabs/ansflow/internal/encoding"
	"github.com/assadlabs/ansflow/internal/loader"
	"github.com/assadlabs/ansflow/internal/logging"
	"github.com/assadlabs/ansflow/internal/parser"
	"github.com/assadlabs/ansflow/internal/store"
)

func main() {
	registryPath := flag.String("registry", "", "path to the operator registry CSV (required)")
	flag.Parse()
	expensePaths := flag.Args()

	if *registryPath == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -registry <registry.csv> [expense.csv ...]")
		os.Exit(2)
	}

	// Real environment variables take precedence over .env entries.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *registryPath, expensePaths); err != nil {
		slog.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, registryPath string, expensePaths []string) error {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	st := store.New(pool, cfg.Query.Timeout, cfg.Query.MaxPageSize)
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, cfg.Ingest.LockTimeout)
	release, err := st.AcquireRunLock(lockCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("another ingestion run may be active: %w", err)
	}
	defer release()

	// Each run is a full drop-and-reload of the snapshot.
	if err := st.Reset(ctx); err != nil {
		return err
	}

	l := loader.New(loader.PoolDB{Pool: pool}, loader.Options{
		ChunkSize:     cfg.Ingest.ChunkSize,
		CommitTimeout: cfg.Ingest.CommitTimeout,
	})
	runLog := logging.WithRun(l.Report().RunID)
	runLog.Info("ingestion run started",
		"registry", registryPath,
		"expense_files", len(expensePaths),
		"chunk_size", cfg.Ingest.ChunkSize,
	)
	start := time.Now()

	err = loadFile(ctx, runLog, registryPath, func(r io.Reader) error {
		s, err := parser.NewRegistryScanner(r)
		if err != nil {
			return err
		}
		return l.LoadRegistry(ctx, s)
	})
	if err != nil {
		l.Abort()
		report(runLog, l, start)
		return fmt.Errorf("registry %s: %w", registryPath, err)
	}

	for _, path := range expensePaths {
		err := loadFile(ctx, runLog, path, func(r io.Reader) error {
			s, err := parser.NewExpenseScanner(r)
			if err != nil {
				return err
			}
			return l.LoadExpenses(ctx, s)
		})
		if err != nil {
			l.Abort()
			report(runLog, l, start)
			return fmt.Errorf("expenses %s: %w", path, err)
		}
	}

	report(runLog, l, start)
	if l.Report().Status == loader.StatusAborted {
		return errors.New("run aborted")
	}
	return nil
}

// loadFile opens path, normalizes its encoding and hands the decoded
// stream to load.
func loadFile(ctx context.Context, log *slog.Logger, path string, load func(io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, enc, err := encoding.Normalize(f)
	if err != nil {
		return fmt.Errorf("normalize encoding: %w", err)
	}
	log.Info("loading file", "path", path, "encoding", enc)

	return load(r)
}

// report logs the end-of-run summaries.
func report(log *slog.Logger, l *loader.Loader, start time.Time) {
	rep := l.Report()
	for _, sum := range []loader.Summary{rep.Registry, rep.Expenses} {
		reasons := make(map[string]int64, len(sum.RejectionReasons))
		for reason, n := range sum.RejectionReasons {
			reasons[string(reason)] = n
		}
		log.Info("load summary",
			"schema", sum.Schema,
			"records_seen", sum.RecordsSeen,
			"accepted", sum.Accepted,
			"rejected", sum.Rejected,
			"chunks_committed", sum.ChunksCommitted,
			"chunks_failed", sum.ChunksFailed,
			"rejection_reasons", reasons,
		)
	}
	log.Info("ingestion run finished", "status", rep.Status, "duration", time.Since(start).Round(time.Millisecond))
}

// connect builds the connection pool from config and verifies it.
func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
