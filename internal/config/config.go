package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the mirror tool
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Sink    SinkConfig    `yaml:"sink"`
	Sync    SyncConfig    `yaml:"sync"`
	Slack   SlackConfig   `yaml:"slack"`
	History HistoryConfig `yaml:"history"`
	Tables  []TableSpec   `yaml:"tables"`
	Profile ProfileConfig `yaml:"profile,omitempty"`
}

// ProfileConfig holds optional profile metadata.
type ProfileConfig struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// SourceConfig holds source database connection settings
type SourceConfig struct {
	Type            string `yaml:"type"` // "postgres" or "mssql" (default: postgres)
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`          // PostgreSQL: disable, require, verify-ca, verify-full (default: require)
	TrustServerCert bool   `yaml:"trust_server_cert"` // MSSQL: trust server certificate (default: false)
	Encrypt         string `yaml:"encrypt"`           // MSSQL: disable, false, true (default: true)
}

// SinkConfig holds the REST sink settings. The sink speaks PostgREST as
// exposed by Supabase: requests go to <url>/rest/v1/<table> with the key
// sent as both apikey and bearer token.
type SinkConfig struct {
	URL    string `yaml:"url"`    // Project base URL, e.g. https://xyz.supabase.co
	Key    string `yaml:"key"`    // Service key used for apikey + Authorization headers
	Schema string `yaml:"schema"` // Optional Accept-Profile/Content-Profile schema
}

// SyncConfig holds run behavior settings
type SyncConfig struct {
	BatchSize          int      `yaml:"batch_size"`           // Rows per upsert request (default: 1000)
	Workers            int      `yaml:"workers"`              // Concurrent tables; 1 = sequential in declared order (default: 1)
	MaxRetries         int      `yaml:"max_retries"`          // Re-attempts for retryable sink errors (default: 3)
	RetryBackoffSecs   int      `yaml:"retry_backoff_secs"`   // Base backoff, doubles per attempt (default: 1)
	QueryTimeoutSecs   int      `yaml:"query_timeout_secs"`   // Source extraction query timeout (default: 300)
	RequestTimeoutSecs int      `yaml:"request_timeout_secs"` // Per sink HTTP request timeout (default: 30)
	MaxSourceConns     int      `yaml:"max_source_conns"`     // Source pool size (default: workers+2)
	DataDir            string   `yaml:"data_dir"`
	IncludeTables      []string `yaml:"include_tables"` // Only sync these tables (glob patterns)
	ExcludeTables      []string `yaml:"exclude_tables"` // Skip these tables (glob patterns)
}

// HistoryConfig holds run-history store settings. History is reporting
// only; no run ever reads it to decide what to sync.
type HistoryConfig struct {
	Backend string `yaml:"backend"` // "sqlite" (default), "file", or "off"
	Path    string `yaml:"path"`    // Defaults to <data_dir>/history.db or history.yaml
}

// TableSpec describes one table to mirror from the source query into the
// sink table of the same name.
type TableSpec struct {
	Name          string   `yaml:"name"`
	Query         string   `yaml:"query"`
	ConflictKeys  []string `yaml:"conflict_keys"`  // Upsert uniqueness basis; empty = append-only insert
	DeleteOrphans bool     `yaml:"delete_orphans"` // Delete sink rows absent from the source
	KeyColumns    []string `yaml:"key_columns"`    // Reconciliation identity; defaults to conflict_keys
}

// RetryBackoff returns the base backoff duration between sink retries.
func (s SyncConfig) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffSecs) * time.Second
}

// QueryTimeout returns the source query timeout.
func (s SyncConfig) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutSecs) * time.Second
}

// RequestTimeout returns the per-request sink timeout.
func (s SyncConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables so secrets can stay out of the file
	// (password: ${DB_PASSWORD}, key: ${SUPABASE_KEY}, url: ${SUPABASE_URL})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for history storage.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".pg-rest-mirror")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	// Source defaults
	if c.Source.Type == "" {
		c.Source.Type = "postgres"
	}
	if c.Source.Port == 0 {
		if c.Source.Type == "mssql" {
			c.Source.Port = 1433
		} else {
			c.Source.Port = 5432
		}
	}
	if c.Source.SSLMode == "" {
		c.Source.SSLMode = "require" // Secure default for PostgreSQL
	}
	if c.Source.Encrypt == "" {
		c.Source.Encrypt = "true" // Secure default for MSSQL
	}

	// Sync defaults
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 1000
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 1 // Sequential, declared order
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.RetryBackoffSecs == 0 {
		c.Sync.RetryBackoffSecs = 1
	}
	if c.Sync.QueryTimeoutSecs == 0 {
		c.Sync.QueryTimeoutSecs = 300
	}
	if c.Sync.RequestTimeoutSecs == 0 {
		c.Sync.RequestTimeoutSecs = 30
	}
	if c.Sync.MaxSourceConns == 0 {
		c.Sync.MaxSourceConns = c.Sync.Workers + 2
	}
	if c.Sync.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Sync.DataDir = filepath.Join(home, ".pg-rest-mirror")
	} else {
		c.Sync.DataDir = expandTilde(c.Sync.DataDir)
	}

	// History defaults
	if c.History.Backend == "" {
		c.History.Backend = "sqlite"
	}
	if c.History.Path == "" {
		switch c.History.Backend {
		case "file":
			c.History.Path = filepath.Join(c.Sync.DataDir, "history.yaml")
		default:
			c.History.Path = filepath.Join(c.Sync.DataDir, "history.db")
		}
	} else {
		c.History.Path = expandTilde(c.History.Path)
	}

	// Table defaults: reconciliation identity falls back to the upsert keys
	for i := range c.Tables {
		if len(c.Tables[i].KeyColumns) == 0 {
			c.Tables[i].KeyColumns = append([]string(nil), c.Tables[i].ConflictKeys...)
		}
	}
}

func (c *Config) validate() error {
	// Validate source
	if c.Source.Host == "" {
		return fmt.Errorf("source.host is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("source.database is required")
	}
	if c.Source.Type != "postgres" && c.Source.Type != "mssql" {
		return fmt.Errorf("source.type must be 'postgres' or 'mssql', got '%s'", c.Source.Type)
	}

	// Validate sink
	if c.Sink.URL == "" {
		return fmt.Errorf("sink.url is required")
	}
	u, err := url.Parse(c.Sink.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("sink.url must be an absolute URL, got '%s'", c.Sink.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("sink.url scheme must be http or https, got '%s'", u.Scheme)
	}
	if c.Sink.Key == "" {
		return fmt.Errorf("sink.key is required")
	}

	// Validate sync settings
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be >= 1, got %d", c.Sync.BatchSize)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be >= 1, got %d", c.Sync.Workers)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be >= 0, got %d", c.Sync.MaxRetries)
	}

	// Validate history settings
	switch c.History.Backend {
	case "sqlite", "file", "off":
	default:
		return fmt.Errorf("history.backend must be 'sqlite', 'file', or 'off', got '%s'", c.History.Backend)
	}

	// Validate tables
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}
	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.Name == "" {
			return fmt.Errorf("tables[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tables[%d]: duplicate table '%s'", i, t.Name)
		}
		seen[t.Name] = true
		if strings.TrimSpace(t.Query) == "" {
			return fmt.Errorf("table '%s': query is required", t.Name)
		}
		if t.DeleteOrphans && len(t.KeyColumns) == 0 {
			return fmt.Errorf("table '%s': delete_orphans requires key_columns or conflict_keys", t.Name)
		}
	}
	return nil
}

// SourceDSN returns the source database connection string
func (c *Config) SourceDSN() string {
	if c.Source.Type == "mssql" {
		return c.buildMSSQLDSN(c.Source.Host, c.Source.Port, c.Source.Database,
			c.Source.User, c.Source.Password, c.Source.Encrypt, c.Source.TrustServerCert)
	}
	// Default: PostgreSQL
	return c.buildPostgresDSN(c.Source.Host, c.Source.Port, c.Source.Database,
		c.Source.User, c.Source.Password, c.Source.SSLMode)
}

// buildMSSQLDSN builds an MSSQL connection string. Credentials and the
// database name are query-escaped so passwords with @ : / ? survive.
func (c *Config) buildMSSQLDSN(host string, port int, database, user, password, encrypt string,
	trustServerCert bool) string {

	trustCert := "false"
	if trustServerCert {
		trustCert = "true"
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s&TrustServerCertificate=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port,
		url.QueryEscape(database), encrypt, trustCert)
}

// buildPostgresDSN builds a PostgreSQL connection string. Userinfo is
// query-escaped, the database name path-escaped.
func (c *Config) buildPostgresDSN(host string, port int, database, user, password, sslMode string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port,
		url.PathEscape(database), sslMode)
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	// Redact source credentials
	sanitized.Source.Password = "[REDACTED]"

	// Redact the sink service key
	if sanitized.Sink.Key != "" {
		sanitized.Sink.Key = "[REDACTED]"
	}

	// Redact Slack webhook
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}
