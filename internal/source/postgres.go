package source

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/johndauphine/pg-rest-mirror/internal/config"
	"github.com/johndauphine/pg-rest-mirror/internal/logging"
	"github.com/johndauphine/pg-rest-mirror/internal/stats"
)

// PostgresPool manages a pool of PostgreSQL source connections using pgx.
// The native protocol is used (not database/sql) so arrays and numeric
// types arrive as decoded Go values rather than raw driver bytes.
type PostgresPool struct {
	pool     *pgxpool.Pool
	config   *config.SourceConfig
	maxConns int
}

// NewPostgresPool creates a new PostgreSQL source connection pool.
func NewPostgresPool(ctx context.Context, cfg *config.Config) (*PostgresPool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.SourceDSN())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	maxConns := cfg.Sync.MaxSourceConns
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = int32(maxConns / 4)
	if poolConfig.MinConns < 1 {
		poolConfig.MinConns = 1
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Info("Connected to PostgreSQL source: %s:%d/%s",
		cfg.Source.Host, cfg.Source.Port, cfg.Source.Database)

	return &PostgresPool{pool: pool, config: &cfg.Source, maxConns: maxConns}, nil
}

// Query runs an extraction query and streams its rows.
func (p *PostgresPool) Query(ctx context.Context, query string) (RowStream, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("source query: %w", err)
	}

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, fd := range fields {
		cols[i] = fd.Name
	}

	return &pgxStream{rows: rows, cols: cols}, nil
}

// CountRows returns the number of rows the query would produce.
func (p *PostgresPool) CountRows(ctx context.Context, query string) (int64, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, countQuery(query)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting source rows: %w", err)
	}
	return count, nil
}

// Ping verifies connectivity.
func (p *PostgresPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Type returns the database type.
func (p *PostgresPool) Type() string {
	return "postgres"
}

// Stats reports pool usage counters.
func (p *PostgresPool) Stats() stats.PoolStats {
	st := p.pool.Stat()
	return stats.PoolStats{
		DBType:      "postgres",
		MaxConns:    int(st.MaxConns()),
		ActiveConns: int(st.AcquiredConns()),
		IdleConns:   int(st.IdleConns()),
		WaitCount:   st.EmptyAcquireCount(),
		WaitTimeMs:  st.AcquireDuration().Milliseconds(),
	}
}

// Close closes all connections in the pool.
func (p *PostgresPool) Close() {
	p.pool.Close()
}

type pgxStream struct {
	rows pgx.Rows
	cols []string
}

func (s *pgxStream) Columns() []string {
	return s.cols
}

func (s *pgxStream) Next() bool {
	return s.rows.Next()
}

func (s *pgxStream) Values() ([]any, error) {
	vals, err := s.rows.Values()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		vals[i] = normalizePostgresValue(v)
	}
	return vals, nil
}

func (s *pgxStream) Err() error {
	return s.rows.Err()
}

func (s *pgxStream) Close() {
	s.rows.Close()
}
