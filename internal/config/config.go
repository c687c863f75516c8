package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
)

// Config holds every option the daemon recognizes. Values come from the TOML
// file first, then environment variables override (ETL_* prefix).
type Config struct {
	// DataDir holds the dedup database, the document store and logs.
	DataDir string `toml:"data_dir" env:"ETL_DATA_DIR"`

	// ScraperURL is the base URL of the browser-automation sidecar.
	ScraperURL string `toml:"scraper_url" env:"ETL_SCRAPER_URL"`

	SalesGroup    string `toml:"sales_group" env:"ETL_SALES_GROUP"`
	StudentsGroup string `toml:"students_group" env:"ETL_STUDENTS_GROUP"`

	SalesSheetID    string `toml:"sales_sheet_id" env:"ETL_SALES_SHEET_ID"`
	StudentsSheetID string `toml:"students_sheet_id" env:"ETL_STUDENTS_SHEET_ID"`

	// CredentialsFile is the path to the Google service-account JSON key.
	CredentialsFile string `toml:"credentials_file" env:"ETL_CREDENTIALS_FILE"`

	// MessageCount bounds how many messages a single fetch may return.
	MessageCount int `toml:"message_count" env:"ETL_MESSAGE_COUNT"`

	// IntervalSeconds is the pause between cycles.
	IntervalSeconds int `toml:"interval_seconds" env:"ETL_INTERVAL"`

	// RequestTimeoutSeconds bounds every external call (scraper, sheets, store).
	RequestTimeoutSeconds int `toml:"request_timeout_seconds" env:"ETL_REQUEST_TIMEOUT"`

	// RetentionDays bounds dedup state growth. Entries older than this are
	// pruned; must exceed the window of history the scraper can re-read.
	RetentionDays int `toml:"retention_days" env:"ETL_RETENTION_DAYS"`

	// PracticeWords classify a students-group message as a practice report.
	PracticeWords []string `toml:"practice_words" env:"ETL_PRACTICE_WORDS" envSeparator:","`

	// MessageWords classify a students-group message as a general check-in.
	MessageWords []string `toml:"message_words" env:"ETL_MESSAGE_WORDS" envSeparator:","`

	// HTTPAddr is the listen address for the health/stats endpoint.
	// Empty disables the endpoint.
	HTTPAddr string `toml:"http_addr" env:"ETL_HTTP_ADDR"`
}

// Default returns a config with the defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:               filepath.Join(home, ".wa-etl"),
		MessageCount:          200,
		IntervalSeconds:       7200,
		RequestTimeoutSeconds: 30,
		RetentionDays:         30,
		HTTPAddr:              "127.0.0.1:8377",
	}
}

// Read loads the TOML file at path (if it exists) and applies environment
// overrides, without validating. A missing file is fine; env alone may be
// enough. Read-only tooling uses this to reach settings like the HTTP
// address without requiring a fully set up daemon config.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

// Load is Read plus validation; the daemon refuses to start on an incomplete
// config.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks required values once at startup. A validation failure is
// fatal: the daemon exits before entering the cycle loop.
func (c *Config) Validate() error {
	var problems []error

	if c.ScraperURL == "" {
		problems = append(problems, errors.New("scraper_url is required"))
	}
	if c.SalesGroup == "" && c.StudentsGroup == "" {
		problems = append(problems, errors.New("at least one of sales_group or students_group is required"))
	}
	if c.SalesGroup != "" && c.SalesSheetID == "" {
		problems = append(problems, errors.New("sales_sheet_id is required when sales_group is set"))
	}
	if c.StudentsGroup != "" && c.StudentsSheetID == "" {
		problems = append(problems, errors.New("students_sheet_id is required when students_group is set"))
	}
	// Without any keywords every students-group message classifies as
	// unrecognized and the pipeline silently does nothing.
	if c.StudentsGroup != "" && len(c.PracticeWords) == 0 && len(c.MessageWords) == 0 {
		problems = append(problems, errors.New("practice_words or message_words is required when students_group is set"))
	}
	if c.CredentialsFile == "" {
		problems = append(problems, errors.New("credentials_file is required"))
	}
	if c.MessageCount <= 0 {
		problems = append(problems, errors.New("message_count must be positive"))
	}
	if c.IntervalSeconds <= 0 {
		problems = append(problems, errors.New("interval_seconds must be positive"))
	}
	if c.RetentionDays <= 0 {
		problems = append(problems, errors.New("retention_days must be positive"))
	}

	return errors.Join(problems...)
}

// Interval returns the cycle interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RequestTimeout returns the per-call timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Retention returns the dedup retention horizon as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// DedupDBPath returns the dedup sqlite database path.
func (c *Config) DedupDBPath() string {
	return filepath.Join(c.DataDir, "dedup.db")
}

// DocStorePath returns the badger document store directory.
func (c *Config) DocStorePath() string {
	return filepath.Join(c.DataDir, "docs")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "etld.log")
}
