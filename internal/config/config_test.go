package config

import (
	"os"
	"strings"
	"testing"
)

const minimalYAML = `
source:
  host: db.internal
  database: ops
  user: sync
  password: secret
sink:
  url: https://example.supabase.co
  key: service-key
tables:
  - name: orders
    query: SELECT * FROM orders
    conflict_keys: [order_id]
`

func TestLoadBytesDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	if cfg.Source.Type != "postgres" {
		t.Errorf("Source.Type = %q, want postgres", cfg.Source.Type)
	}
	if cfg.Source.Port != 5432 {
		t.Errorf("Source.Port = %d, want 5432", cfg.Source.Port)
	}
	if cfg.Source.SSLMode != "require" {
		t.Errorf("Source.SSLMode = %q, want require", cfg.Source.SSLMode)
	}
	if cfg.Sync.BatchSize != 1000 {
		t.Errorf("Sync.BatchSize = %d, want 1000", cfg.Sync.BatchSize)
	}
	if cfg.Sync.Workers != 1 {
		t.Errorf("Sync.Workers = %d, want 1", cfg.Sync.Workers)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("Sync.MaxRetries = %d, want 3", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.RequestTimeoutSecs != 30 {
		t.Errorf("Sync.RequestTimeoutSecs = %d, want 30", cfg.Sync.RequestTimeoutSecs)
	}
	if cfg.History.Backend != "sqlite" {
		t.Errorf("History.Backend = %q, want sqlite", cfg.History.Backend)
	}
	if !strings.HasSuffix(cfg.History.Path, "history.db") {
		t.Errorf("History.Path = %q, want a history.db path", cfg.History.Path)
	}
}

func TestKeyColumnsDefaultToConflictKeys(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
source:
  host: db.internal
  database: ops
sink:
  url: https://example.supabase.co
  key: k
tables:
  - name: orders
    query: SELECT * FROM orders
    conflict_keys: [order_id, line_no]
    delete_orphans: true
  - name: products
    query: SELECT * FROM products
    conflict_keys: [sku]
    key_columns: [product_code]
`))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	orders := cfg.Tables[0]
	if len(orders.KeyColumns) != 2 || orders.KeyColumns[0] != "order_id" || orders.KeyColumns[1] != "line_no" {
		t.Errorf("orders.KeyColumns = %v, want [order_id line_no]", orders.KeyColumns)
	}

	products := cfg.Tables[1]
	if len(products.KeyColumns) != 1 || products.KeyColumns[0] != "product_code" {
		t.Errorf("products.KeyColumns = %v, want [product_code]", products.KeyColumns)
	}
}

func TestEnvExpansion(t *testing.T) {
	os.Setenv("TEST_MIRROR_DB_PASSWORD", "s3cret")
	os.Setenv("TEST_MIRROR_SUPABASE_KEY", "anon-key")
	defer os.Unsetenv("TEST_MIRROR_DB_PASSWORD")
	defer os.Unsetenv("TEST_MIRROR_SUPABASE_KEY")

	cfg, err := LoadBytes([]byte(`
source:
  host: db.internal
  database: ops
  password: ${TEST_MIRROR_DB_PASSWORD}
sink:
  url: https://example.supabase.co
  key: ${TEST_MIRROR_SUPABASE_KEY}
tables:
  - name: orders
    query: SELECT 1
`))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	if cfg.Source.Password != "s3cret" {
		t.Errorf("Source.Password = %q, want expanded env value", cfg.Source.Password)
	}
	if cfg.Sink.Key != "anon-key" {
		t.Errorf("Sink.Key = %q, want expanded env value", cfg.Sink.Key)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing source host",
			yaml: `
source:
  database: ops
sink: {url: "https://x.supabase.co", key: k}
tables: [{name: t, query: SELECT 1}]
`,
			wantErr: "source.host is required",
		},
		{
			name: "missing sink url",
			yaml: `
source: {host: h, database: d}
sink: {key: k}
tables: [{name: t, query: SELECT 1}]
`,
			wantErr: "sink.url is required",
		},
		{
			name: "relative sink url",
			yaml: `
source: {host: h, database: d}
sink: {url: "example.supabase.co", key: k}
tables: [{name: t, query: SELECT 1}]
`,
			wantErr: "absolute URL",
		},
		{
			name: "bad sink scheme",
			yaml: `
source: {host: h, database: d}
sink: {url: "ftp://example.com", key: k}
tables: [{name: t, query: SELECT 1}]
`,
			wantErr: "scheme must be http or https",
		},
		{
			name: "missing sink key",
			yaml: `
source: {host: h, database: d}
sink: {url: "https://x.supabase.co"}
tables: [{name: t, query: SELECT 1}]
`,
			wantErr: "sink.key is required",
		},
		{
			name: "bad source type",
			yaml: `
source: {host: h, database: d, type: oracle}
sink: {url: "https://x.supabase.co", key: k}
tables: [{name: t, query: SELECT 1}]
`,
			wantErr: "source.type must be 'postgres' or 'mssql'",
		},
		{
			name: "no tables",
			yaml: `
source: {host: h, database: d}
sink: {url: "https://x.supabase.co", key: k}
`,
			wantErr: "at least one table",
		},
		{
			name: "duplicate table",
			yaml: `
source: {host: h, database: d}
sink: {url: "https://x.supabase.co", key: k}
tables:
  - {name: t, query: SELECT 1}
  - {name: t, query: SELECT 2}
`,
			wantErr: "duplicate table 't'",
		},
		{
			name: "missing query",
			yaml: `
source: {host: h, database: d}
sink: {url: "https://x.supabase.co", key: k}
tables: [{name: t}]
`,
			wantErr: "query is required",
		},
		{
			name: "delete_orphans without keys",
			yaml: `
source: {host: h, database: d}
sink: {url: "https://x.supabase.co", key: k}
tables: [{name: t, query: SELECT 1, delete_orphans: true}]
`,
			wantErr: "delete_orphans requires key_columns or conflict_keys",
		},
		{
			name: "negative batch size",
			yaml: `
source: {host: h, database: d}
sink: {url: "https://x.supabase.co", key: k}
sync: {batch_size: -5}
tables: [{name: t, query: SELECT 1}]
`,
			wantErr: "sync.batch_size must be >= 1",
		},
		{
			name: "bad history backend",
			yaml: `
source: {host: h, database: d}
sink: {url: "https://x.supabase.co", key: k}
history: {backend: redis}
tables: [{name: t, query: SELECT 1}]
`,
			wantErr: "history.backend must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPostgresDSNURLEncoding(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		database string
		wantUser string
		wantPass string
		wantDB   string
	}{
		{
			name:     "plain credentials",
			user:     "admin",
			password: "secret",
			database: "mydb",
			wantUser: "admin",
			wantPass: "secret",
			wantDB:   "mydb",
		},
		{
			name:     "password with @",
			user:     "admin",
			password: "pass@word",
			database: "mydb",
			wantUser: "admin",
			wantPass: "pass%40word",
			wantDB:   "mydb",
		},
		{
			name:     "password with colon",
			user:     "admin",
			password: "pass:word",
			database: "mydb",
			wantUser: "admin",
			wantPass: "pass%3Aword",
			wantDB:   "mydb",
		},
		{
			name:     "database with spaces",
			user:     "admin",
			password: "secret",
			database: "my database",
			wantUser: "admin",
			wantPass: "secret",
			wantDB:   "my%20database", // PathEscape uses %20 for spaces
		},
		{
			name:     "complex password",
			user:     "admin",
			password: "P@ss:w/rd?123",
			database: "mydb",
			wantUser: "admin",
			wantPass: "P%40ss%3Aw%2Frd%3F123",
			wantDB:   "mydb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			dsn := cfg.buildPostgresDSN("localhost", 5432, tt.database, tt.user, tt.password, "disable")

			if !strings.Contains(dsn, tt.wantUser+":") {
				t.Errorf("Postgres DSN missing encoded user %q in %q", tt.wantUser, dsn)
			}
			if !strings.Contains(dsn, ":"+tt.wantPass+"@") {
				t.Errorf("Postgres DSN missing encoded password %q in %q", tt.wantPass, dsn)
			}
			if !strings.Contains(dsn, "/"+tt.wantDB+"?") {
				t.Errorf("Postgres DSN missing encoded database %q in %q", tt.wantDB, dsn)
			}
		})
	}
}

func TestMSSQLDSNURLEncoding(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		database string
		wantUser string
		wantPass string
		wantDB   string
	}{
		{
			name:     "plain credentials",
			user:     "admin",
			password: "secret",
			database: "mydb",
			wantUser: "admin",
			wantPass: "secret",
			wantDB:   "mydb",
		},
		{
			name:     "password with @",
			user:     "admin",
			password: "pass@word",
			database: "mydb",
			wantUser: "admin",
			wantPass: "pass%40word",
			wantDB:   "mydb",
		},
		{
			name:     "database with spaces",
			user:     "admin",
			password: "secret",
			database: "my database",
			wantUser: "admin",
			wantPass: "secret",
			wantDB:   "my+database", // QueryEscape uses + for spaces
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			dsn := cfg.buildMSSQLDSN("localhost", 1433, tt.database, tt.user, tt.password, "true", false)

			if !strings.Contains(dsn, tt.wantUser+":") {
				t.Errorf("MSSQL DSN missing encoded user %q in %q", tt.wantUser, dsn)
			}
			if !strings.Contains(dsn, ":"+tt.wantPass+"@") {
				t.Errorf("MSSQL DSN missing encoded password %q in %q", tt.wantPass, dsn)
			}
			if !strings.Contains(dsn, "database="+tt.wantDB) {
				t.Errorf("MSSQL DSN missing encoded database %q in %q", tt.wantDB, dsn)
			}
		})
	}
}

func TestSanitized(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
source:
  host: db.internal
  database: ops
  password: topsecret
sink:
  url: https://example.supabase.co
  key: service-key
slack:
  webhook_url: https://hooks.slack.com/services/XXX
  enabled: true
tables:
  - name: orders
    query: SELECT 1
`))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	s := cfg.Sanitized()
	if s.Source.Password != "[REDACTED]" {
		t.Errorf("Source.Password = %q, want [REDACTED]", s.Source.Password)
	}
	if s.Sink.Key != "[REDACTED]" {
		t.Errorf("Sink.Key = %q, want [REDACTED]", s.Sink.Key)
	}
	if s.Slack.WebhookURL != "[REDACTED]" {
		t.Errorf("Slack.WebhookURL = %q, want [REDACTED]", s.Slack.WebhookURL)
	}

	// Original must be untouched
	if cfg.Source.Password != "topsecret" {
		t.Errorf("Sanitized mutated the original config")
	}
}

func TestSourceDSNByType(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
source:
  host: db.internal
  database: ops
  user: sync
  password: pw
sink: {url: "https://x.supabase.co", key: k}
tables: [{name: t, query: SELECT 1}]
`))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	dsn := cfg.SourceDSN()
	if !strings.HasPrefix(dsn, "postgres://") {
		t.Errorf("SourceDSN = %q, want postgres:// prefix", dsn)
	}
	if !strings.Contains(dsn, "sslmode=require") {
		t.Errorf("SourceDSN = %q, want sslmode=require", dsn)
	}

	cfg.Source.Type = "mssql"
	cfg.Source.Port = 1433
	dsn = cfg.SourceDSN()
	if !strings.HasPrefix(dsn, "sqlserver://") {
		t.Errorf("SourceDSN = %q, want sqlserver:// prefix", dsn)
	}
	if !strings.Contains(dsn, "TrustServerCertificate=false") {
		t.Errorf("SourceDSN = %q, want TrustServerCertificate=false", dsn)
	}
}
