package source

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/bluejazz822/networkdb-sub008/export/format"
)

// SQLAdapter fetches records through database/sql. It works with any
// driver using "?" placeholders; the CLI wires it to the MySQL and
// SQLite drivers. Resource types map to table names through an explicit
// allow-list so callers can never name arbitrary tables.
type SQLAdapter struct {
	db     *sql.DB
	tables map[string]string // resource type -> table
}

// NewSQLAdapter creates an adapter over an open connection pool.
func NewSQLAdapter(db *sql.DB, tables map[string]string) (*SQLAdapter, error) {
	for resource, table := range tables {
		if err := validIdent(table); err != nil {
			return nil, fmt.Errorf("resource %q: %w", resource, err)
		}
	}
	return &SQLAdapter{db: db, tables: tables}, nil
}

// Fetch opens a server-side cursor over the filtered table.
func (a *SQLAdapter) Fetch(ctx context.Context, q Query) (Cursor, error) {
	table, ok := a.tables[q.ResourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, q.ResourceType)
	}

	query, args, err := buildSelect(table, q, "?")
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}

	return &sqlCursor{rows: rows, columns: columns}, nil
}

// buildSelect renders a filtered SELECT. Filter keys are validated as
// identifiers and sorted so the statement is deterministic.
func buildSelect(table string, q Query, placeholder string) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", table)

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		if err := validIdent(k); err != nil {
			return "", nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		if placeholder == "?" {
			fmt.Fprintf(&b, "%s = ?", k)
		} else {
			fmt.Fprintf(&b, "%s = $%d", k, i+1)
		}
		args = append(args, q.Filters[k])
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	return b.String(), args, nil
}

type sqlCursor struct {
	rows    *sql.Rows
	columns []string
	closed  bool
}

func (c *sqlCursor) Next(ctx context.Context, batchSize int) ([]format.Record, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	var batch []format.Record
	for len(batch) < batchSize && c.rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values := make([]any, len(c.columns))
		ptrs := make([]any, len(c.columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := c.rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(format.Record, len(c.columns))
		for i, col := range c.columns {
			record[col] = normalizeSQLValue(values[i])
		}
		batch = append(batch, record)
	}

	if err := c.rows.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

// Total is unknown without a second COUNT query; the pipeline treats -1
// as "count as you go".
func (c *sqlCursor) Total() int { return -1 }

func (c *sqlCursor) Close() error {
	c.closed = true
	return c.rows.Close()
}

// normalizeSQLValue converts driver byte slices to strings so records
// render the same across drivers.
func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
