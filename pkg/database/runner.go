package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-insights/pkg/logging"
	"github.com/ekaya-inc/ekaya-insights/pkg/metrics"
	"github.com/ekaya-inc/ekaya-insights/pkg/requestctx"
)

// TxBeginner starts transactions. *pgxpool.Pool and *DB satisfy it.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// QueryError is a failed report query, carrying the query text and
// parameters for diagnosis.
type QueryError struct {
	Query  string
	Params []any
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v (query: %s, params: %d)",
		e.Err, logging.SanitizeQuery(e.Query), len(e.Params))
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the statement was cancelled by statement_timeout.
func (e *QueryError) Timeout() bool {
	return isQueryCanceled(e.Err)
}

// Is lets errors.Is match apperrors.ErrQueryTimeout for cancelled statements.
func (e *QueryError) Is(target error) bool {
	return target == apperrors.ErrQueryTimeout && e.Timeout()
}

func isQueryCanceled(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.QueryCanceled
}

// Runner executes rendered report queries against PostgreSQL.
type Runner struct {
	db     TxBeginner
	logger *zap.Logger
}

// NewRunner creates a Runner over db.
func NewRunner(db TxBeginner, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		db:     db,
		logger: logger.Named("runner"),
	}
}

// Run executes query in a read-only transaction with the session timezone
// set from the request scope in ctx, and returns every row keyed by column
// name. Failures are returned as *QueryError.
func (r *Runner) Run(ctx context.Context, query string, params ...any) ([]map[string]any, error) {
	start := time.Now()
	rows, err := r.run(ctx, query, params)
	if err != nil {
		qerr := &QueryError{Query: query, Params: params, Err: err}
		errorType := "other"
		if qerr.Timeout() {
			errorType = "timeout"
		}
		metrics.RecordDBQuery(time.Since(start), errorType)
		r.logger.Error("Report query failed",
			zap.String("query", logging.SanitizeQuery(query)),
			zap.String("error_type", errorType),
			zap.String("error", logging.SanitizeError(err)))
		return nil, qerr
	}
	metrics.RecordDBQuery(time.Since(start), "")
	return rows, nil
}

func (r *Runner) run(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Timezone is whitelisted by requestctx and passed as a parameter.
	if _, err := tx.Exec(ctx, "SELECT set_config('TimeZone', $1, true)", requestctx.Timezone(ctx)); err != nil {
		return nil, fmt.Errorf("failed to set timezone: %w", err)
	}

	rows, err := tx.Query(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}
