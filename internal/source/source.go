// Package source provides read access to the database being mirrored.
// A Pool hands out lazily consumed row streams for extraction queries;
// implementations exist for PostgreSQL (pgx) and SQL Server.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/johndauphine/pg-rest-mirror/internal/config"
	"github.com/johndauphine/pg-rest-mirror/internal/stats"
)

// Pool is the read side of a sync run.
type Pool interface {
	// Query runs an extraction query and returns its rows as a stream.
	Query(ctx context.Context, query string) (RowStream, error)

	// CountRows returns the number of rows the query would produce.
	CountRows(ctx context.Context, query string) (int64, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Type returns the database type ("postgres" or "mssql").
	Type() string

	// Stats reports connection pool usage counters.
	Stats() stats.PoolStats

	Close()
}

// RowStream is a lazily consumed query result. Column names are exactly
// those produced by the query, in declared order. Values are plain Go
// scalars ready for JSON encoding (see convert.go).
type RowStream interface {
	Columns() []string
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// Open connects to the configured source database.
func Open(ctx context.Context, cfg *config.Config) (Pool, error) {
	switch cfg.Source.Type {
	case "mssql":
		return NewMSSQLPool(ctx, cfg)
	case "postgres":
		return NewPostgresPool(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Source.Type)
	}
}

// countQuery wraps an extraction query in SELECT COUNT(*). Trailing
// semicolons would break the subquery, so they are stripped.
func countQuery(query string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS src", trimmed)
}
