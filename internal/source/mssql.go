package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/config"
	"github.com/johndauphine/pg-rest-mirror/internal/logging"
	"github.com/johndauphine/pg-rest-mirror/internal/stats"
	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
)

// MSSQLPool manages a pool of SQL Server source connections.
type MSSQLPool struct {
	db       *sql.DB
	config   *config.SourceConfig
	maxConns int
}

// NewMSSQLPool creates a new SQL Server source connection pool.
func NewMSSQLPool(ctx context.Context, cfg *config.Config) (*MSSQLPool, error) {
	db, err := sql.Open("sqlserver", cfg.SourceDSN())
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	// Configure connection pool
	maxConns := cfg.Sync.MaxSourceConns
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 4)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Info("Connected to SQL Server source: %s:%d/%s",
		cfg.Source.Host, cfg.Source.Port, cfg.Source.Database)

	return &MSSQLPool{db: db, config: &cfg.Source, maxConns: maxConns}, nil
}

// Query runs an extraction query and streams its rows.
func (p *MSSQLPool) Query(ctx context.Context, query string) (RowStream, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("source query: %w", err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	// Column type names drive SQL Server specific value conversions
	// such as GUID byte order and decimal bytes.
	colTypes := make([]string, len(cols))
	if cts, err := rows.ColumnTypes(); err == nil {
		for i, ct := range cts {
			colTypes[i] = strings.ToLower(ct.DatabaseTypeName())
		}
	}

	return &mssqlStream{rows: rows, cols: cols, colTypes: colTypes}, nil
}

// CountRows returns the number of rows the query would produce.
func (p *MSSQLPool) CountRows(ctx context.Context, query string) (int64, error) {
	var count int64
	if err := p.db.QueryRowContext(ctx, countQuery(query)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting source rows: %w", err)
	}
	return count, nil
}

// Ping verifies connectivity.
func (p *MSSQLPool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Type returns the database type.
func (p *MSSQLPool) Type() string {
	return "mssql"
}

// Stats reports pool usage counters.
func (p *MSSQLPool) Stats() stats.PoolStats {
	st := p.db.Stats()
	return stats.PoolStats{
		DBType:      "mssql",
		MaxConns:    st.MaxOpenConnections,
		ActiveConns: st.InUse,
		IdleConns:   st.Idle,
		WaitCount:   st.WaitCount,
		WaitTimeMs:  st.WaitDuration.Milliseconds(),
	}
}

// Close closes all connections in the pool.
func (p *MSSQLPool) Close() {
	_ = p.db.Close()
}

type mssqlStream struct {
	rows     *sql.Rows
	cols     []string
	colTypes []string
	scanErr  error
}

func (s *mssqlStream) Columns() []string {
	return s.cols
}

func (s *mssqlStream) Next() bool {
	return s.rows.Next()
}

func (s *mssqlStream) Values() ([]any, error) {
	row := make([]any, len(s.cols))
	ptrs := make([]any, len(s.cols))
	for i := range row {
		ptrs[i] = &row[i]
	}

	if err := s.rows.Scan(ptrs...); err != nil {
		s.scanErr = err
		return nil, err
	}

	for i, val := range row {
		row[i] = normalizeMSSQLValue(val, s.colTypes[i])
	}
	return row, nil
}

func (s *mssqlStream) Err() error {
	if s.scanErr != nil {
		return s.scanErr
	}
	return s.rows.Err()
}

func (s *mssqlStream) Close() {
	_ = s.rows.Close()
}
