// Package executor runs guarded SQL inside a read-only, timeout-bounded
// transaction and materializes the result set with truncation detection.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/apperrors"
	"github.com/lexitau/lexitau-engine/pkg/sqlast"
)

// Result is one materialized query result.
type Result struct {
	Columns     []string
	Rows        [][]any
	RowCount    int
	Truncated   bool
	ExecutionMS int64

	// FieldDescriptions is the driver's column metadata (names and type
	// OIDs), kept for the serializer's db_type resolution. Nil when the
	// driver gave none.
	FieldDescriptions []pgconn.FieldDescription
}

// Options bound one execution.
type Options struct {
	TimeoutS int
	WorkMem  string // empty = no working-memory cap
	RowLimit int    // 0 = no truncation check
}

// DB is the subset of a pgx pool the executor needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Executor runs one statement per call, each inside its own transaction.
type Executor interface {
	// Run executes named-parameter SQL with the given bind values. Timeouts
	// surface as apperrors.ErrQueryTimeout; other database failures as
	// *apperrors.ExecutionError.
	Run(ctx context.Context, sql string, values map[string]any, opts Options) (*Result, error)
}

type executor struct {
	db     DB
	logger *zap.Logger
}

// NewExecutor creates a guarded executor.
func NewExecutor(db DB, logger *zap.Logger) Executor {
	return &executor{
		db:     db,
		logger: logger,
	}
}

func (e *executor) Run(ctx context.Context, sql string, values map[string]any, opts Options) (*Result, error) {
	positional, params := sqlast.ToPositional(sql)
	args, err := params.Bind(values)
	if err != nil {
		return nil, &apperrors.ExecutionError{Err: err}
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, &apperrors.ExecutionError{Err: fmt.Errorf("begin transaction: %w", err)}
	}
	// Read-only single-statement transaction; nothing to commit.
	defer tx.Rollback(ctx)

	for _, stmt := range sessionStatements(opts) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, classifyError(fmt.Errorf("configure session: %w", err))
		}
	}

	start := time.Now()
	rows, err := tx.Query(ctx, positional, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	fields := append([]pgconn.FieldDescription(nil), rows.FieldDescriptions()...)
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = string(fd.Name)
	}

	var data [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classifyError(err)
		}
		data = append(data, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	elapsed := time.Since(start).Milliseconds()

	data, truncated := applyRowLimit(data, opts.RowLimit)

	e.logger.Debug("query executed",
		zap.Int("row_count", len(data)),
		zap.Bool("truncated", truncated),
		zap.Int64("execution_ms", elapsed))

	return &Result{
		Columns:           columns,
		Rows:              data,
		RowCount:          len(data),
		Truncated:         truncated,
		ExecutionMS:       elapsed,
		FieldDescriptions: fields,
	}, nil
}

// sessionStatements returns the safety parameters issued before the caller's
// statement, in fixed order: read-only mode, pinned search path, lock
// timeout, idle timeout, statement timeout, optional work_mem.
func sessionStatements(opts Options) []string {
	stmts := []string{
		"SET TRANSACTION READ ONLY",
		"SET LOCAL search_path = 'public'",
		"SET LOCAL lock_timeout = '1s'",
		"SET LOCAL idle_in_transaction_session_timeout = '5s'",
		fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.TimeoutS*1000),
	}
	if opts.WorkMem != "" {
		stmts = append(stmts, fmt.Sprintf("SET LOCAL work_mem = '%s'", sanitizeGUCValue(opts.WorkMem)))
	}
	return stmts
}

// sanitizeGUCValue strips anything outside [A-Za-z0-9 ] from a session
// parameter value. GUC settings cannot use bind parameters.
func sanitizeGUCValue(v string) string {
	var b strings.Builder
	for _, c := range v {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ' ' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// applyRowLimit trims rows to limit when they exceed it, reporting whether
// truncation happened. A fetch of exactly limit rows is not truncation.
func applyRowLimit(rows [][]any, limit int) ([][]any, bool) {
	if limit <= 0 || len(rows) <= limit {
		return rows, false
	}
	return rows[:limit], true
}

// Timeout-class SQLSTATE codes: query_canceled (statement_timeout),
// lock_not_available (lock_timeout), idle_in_transaction_session_timeout.
var timeoutCodes = map[string]bool{
	"57014": true,
	"55P03": true,
	"25P03": true,
}

// classifyError maps a database failure to the gateway's error taxonomy.
func classifyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && timeoutCodes[pgErr.Code] {
		return fmt.Errorf("%s: %w", pgErr.Message, apperrors.ErrQueryTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("deadline exceeded: %w", apperrors.ErrQueryTimeout)
	}
	return &apperrors.ExecutionError{Err: err}
}
