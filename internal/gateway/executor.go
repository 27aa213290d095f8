package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fittalk-gateway/internal/database"
	"fittalk-gateway/internal/errs"
)

// Executor runs rewritten statements inside a read-only transaction with a
// hard timeout. It returns everything the statement selects; row caps are a
// display-layer concern.
type Executor struct {
	db      *database.DB
	timeout time.Duration
}

// NewExecutor creates a new query executor
func NewExecutor(db *database.DB, timeout time.Duration) *Executor {
	return &Executor{
		db:      db,
		timeout: timeout,
	}
}

// Result is the typed tabular output of a query
type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// Execute runs a rewritten statement with its bound parameters. On deadline
// it cancels and returns a TimeoutError, distinct from DatabaseError, so
// callers can decide to retry with a narrower scope.
func (e *Executor) Execute(ctx context.Context, safeSQL string, params []any) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.Conn().BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, e.classifyErr(ctx, fmt.Errorf("failed to begin transaction: %w", err))
	}
	// Nothing to commit past validation; always roll back
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, safeSQL, params...)
	if err != nil {
		return nil, e.classifyErr(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, e.classifyErr(ctx, fmt.Errorf("failed to read columns: %w", err))
	}

	result := &Result{
		Columns: columns,
		Rows:    []map[string]any{},
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.classifyErr(ctx, fmt.Errorf("failed to scan row: %w", err))
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, e.classifyErr(ctx, fmt.Errorf("error iterating rows: %w", err))
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// classifyErr separates deadline cancellation from driver failures
func (e *Executor) classifyErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &errs.TimeoutError{Op: "query execution"}
	}
	return &errs.DatabaseError{Err: err}
}

// normalizeValue converts driver values into JSON-friendly types
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}
