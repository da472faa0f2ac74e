package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/runward-io/runward/internal/types"
)

// maxRows bounds how many rows a query step captures as output.
const maxRows = 1000

// SQLExecutor opens a connection via the step's connection string and
// runs the query. Output is row data for reads, the affected-row
// count for writes. Connection and query errors are failures.
type SQLExecutor struct{}

// NewSQLExecutor creates a SQLExecutor.
func NewSQLExecutor() *SQLExecutor {
	return &SQLExecutor{}
}

func (e *SQLExecutor) Type() types.StepType { return types.StepSQL }

func (e *SQLExecutor) Execute(ctx context.Context, step *types.Step, ec *Context) Result {
	cfg := step.SQL
	if cfg == nil {
		return Failure(fmt.Errorf("sql step %s missing config", step.ID))
	}

	dsn, err := ec.Substitute(cfg.ConnectionString)
	if err != nil {
		return Failure(fmt.Errorf("resolving connection string: %w", err))
	}
	query, err := ec.Substitute(cfg.Query)
	if err != nil {
		return Failure(fmt.Errorf("resolving query: %w", err))
	}

	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return Failure(fmt.Errorf("connecting: %w", err))
	}
	defer conn.Close(ctx)

	if isQuery(query) {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return Failure(fmt.Errorf("query failed: %w", err))
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		cols := make([]string, len(fields))
		for i, f := range fields {
			cols[i] = f.Name
		}

		var out []map[string]any
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				return Failure(fmt.Errorf("reading row: %w", err))
			}
			row := make(map[string]any, len(cols))
			for i, col := range cols {
				row[col] = vals[i]
			}
			out = append(out, row)
			if len(out) >= maxRows {
				break
			}
		}
		if err := rows.Err(); err != nil {
			return Failure(fmt.Errorf("iterating rows: %w", err))
		}
		return Success(map[string]any{
			"rows":      out,
			"row_count": len(out),
		})
	}

	tag, err := conn.Exec(ctx, query)
	if err != nil {
		return Failure(fmt.Errorf("exec failed: %w", err))
	}
	return Success(map[string]any{
		"rows_affected": tag.RowsAffected(),
	})
}

// isQuery reports whether the statement returns a row set.
func isQuery(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH") ||
		strings.HasPrefix(q, "SHOW") || strings.Contains(q, "RETURNING")
}
