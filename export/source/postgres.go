package source

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bluejazz822/networkdb-sub008/export/format"
)

// PostgresAdapter fetches records through a pgx connection pool using
// native $n placeholders.
type PostgresAdapter struct {
	pool   *pgxpool.Pool
	tables map[string]string
}

// NewPostgresAdapter creates an adapter over an open pool.
func NewPostgresAdapter(pool *pgxpool.Pool, tables map[string]string) (*PostgresAdapter, error) {
	for resource, table := range tables {
		if err := validIdent(table); err != nil {
			return nil, fmt.Errorf("resource %q: %w", resource, err)
		}
	}
	return &PostgresAdapter{pool: pool, tables: tables}, nil
}

// Fetch opens a cursor over the filtered table.
func (a *PostgresAdapter) Fetch(ctx context.Context, q Query) (Cursor, error) {
	table, ok := a.tables[q.ResourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, q.ResourceType)
	}

	query, args, err := buildSelect(table, q, "$")
	if err != nil {
		return nil, err
	}

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}

	columns := make([]string, len(rows.FieldDescriptions()))
	for i, fd := range rows.FieldDescriptions() {
		columns[i] = fd.Name
	}

	return &pgxCursor{rows: rows, columns: columns}, nil
}

type pgxCursor struct {
	rows    pgx.Rows
	columns []string
	closed  bool
}

func (c *pgxCursor) Next(ctx context.Context, batchSize int) ([]format.Record, error) {
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

		values, err := c.rows.Values()
		if err != nil {
			return nil, err
		}

		record := make(format.Record, len(c.columns))
		for i, col := range c.columns {
			record[col] = values[i]
		}
		batch = append(batch, record)
	}

	if err := c.rows.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *pgxCursor) Total() int { return -1 }

func (c *pgxCursor) Close() error {
	c.closed = true
	c.rows.Close()
	return nil
}
