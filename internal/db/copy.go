package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Identifier splits a possibly schema-qualified table name ("gis.cells").
func Identifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.SplitN(table, ".", 2))
}

// CopyStream bulk-inserts rows into table using the PostgreSQL COPY
// protocol without materialising them. next returns the following row, or
// nil when exhausted.
func CopyStream(ctx context.Context, dst Copier, table string, columns []string, next func() ([]any, error)) (int64, error) {
	n, err := dst.CopyFrom(ctx, Identifier(table), columns, pgx.CopyFromFunc(next))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}
