package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackzampolin/folio-import/internal/api"
	"github.com/jackzampolin/folio-import/internal/folio"
	"github.com/jackzampolin/folio-import/internal/marc"
	"github.com/jackzampolin/folio-import/internal/marcjob"
	"github.com/jackzampolin/folio-import/internal/poster"
)

// Config holds folio-import configuration.
// Loaded from config.yaml, FOLIO_* environment variables and defaults.
type Config struct {
	GatewayURL     string `mapstructure:"gateway_url" yaml:"gateway_url"`
	TenantID       string `mapstructure:"tenant_id" yaml:"tenant_id"`
	MemberTenantID string `mapstructure:"member_tenant_id" yaml:"member_tenant_id"`
	Username       string `mapstructure:"username" yaml:"username"`
	Password       string `mapstructure:"password" yaml:"password"` // supports ${ENV_VAR} syntax

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`   // debug, info, warn, error
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // text, json

	HTTP    HTTPCfg    `mapstructure:"http" yaml:"http"`
	MARC    MARCCfg    `mapstructure:"marc" yaml:"marc"`
	Records RecordsCfg `mapstructure:"records" yaml:"records"`
	Retry   RetryCfg   `mapstructure:"retry" yaml:"retry"`
}

// HTTPCfg configures the gateway client.
type HTTPCfg struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MARCCfg configures MARC imports through the job lifecycle.
type MARCCfg struct {
	BatchSize          int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchDelay         time.Duration `mapstructure:"batch_delay" yaml:"batch_delay"` // hot-reloaded
	SplitFiles         bool          `mapstructure:"split_files" yaml:"split_files"`
	SplitSize          int           `mapstructure:"split_size" yaml:"split_size"`
	SplitOffset        int           `mapstructure:"split_offset" yaml:"split_offset"`
	ImportProfile      string        `mapstructure:"import_profile" yaml:"import_profile"`
	NoSummary          bool          `mapstructure:"no_summary" yaml:"no_summary"`
	LetSummaryFail     bool          `mapstructure:"let_summary_fail" yaml:"let_summary_fail"`
	JobIDsFile         string        `mapstructure:"job_ids_file" yaml:"job_ids_file"`
	FileNamesInLogs    bool          `mapstructure:"file_names_in_logs" yaml:"file_names_in_logs"`
	AcceptServerErrors bool          `mapstructure:"accept_server_errors" yaml:"accept_server_errors"`
	SummaryWait        time.Duration `mapstructure:"summary_wait" yaml:"summary_wait"`
	MoveCompleted      bool          `mapstructure:"move_completed" yaml:"move_completed"`
	// Preprocessors run in order on every record; see marc.PreprocessorNames.
	Preprocessors    []string                     `mapstructure:"preprocessors" yaml:"preprocessors"`
	PreprocessorArgs map[string]map[string]string `mapstructure:"preprocessor_args" yaml:"preprocessor_args"`
}

// RecordsCfg configures JSON batch posting.
type RecordsCfg struct {
	ObjectType                  string   `mapstructure:"object_type" yaml:"object_type"`
	BatchSize                   int      `mapstructure:"batch_size" yaml:"batch_size"`
	Upsert                      bool     `mapstructure:"upsert" yaml:"upsert"`
	PreserveStatisticalCodes    bool     `mapstructure:"preserve_statistical_codes" yaml:"preserve_statistical_codes"`
	PreserveAdministrativeNotes bool     `mapstructure:"preserve_administrative_notes" yaml:"preserve_administrative_notes"`
	PreserveTemporaryLocations  bool     `mapstructure:"preserve_temporary_locations" yaml:"preserve_temporary_locations"`
	PreserveItemStatus          bool     `mapstructure:"preserve_item_status" yaml:"preserve_item_status"`
	PatchExistingRecords        bool     `mapstructure:"patch_existing_records" yaml:"patch_existing_records"`
	PatchPaths                  []string `mapstructure:"patch_paths" yaml:"patch_paths"`
	FailedRecordsFile           string   `mapstructure:"failed_records_file" yaml:"failed_records_file"`
	SchemaFile                  string   `mapstructure:"schema_file" yaml:"schema_file"`
}

// RetryCfg configures timeouts and retry budgets against the gateway.
type RetryCfg struct {
	InitialTimeout    time.Duration `mapstructure:"initial_timeout" yaml:"initial_timeout"`
	Factor            float64       `mapstructure:"factor" yaml:"factor"`
	MaxTimeout        time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
	CancelDelay       time.Duration `mapstructure:"cancel_delay" yaml:"cancel_delay"`
	MaxJobRetries     int           `mapstructure:"max_job_retries" yaml:"max_job_retries"`
	MaxSummaryRetries int           `mapstructure:"max_summary_retries" yaml:"max_summary_retries"`
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.GatewayURL == "" {
		errs = append(errs, errors.New("gateway_url is required"))
	} else if u, err := url.Parse(c.GatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("gateway_url %q is not an absolute URL", c.GatewayURL))
	}
	if c.TenantID == "" {
		errs = append(errs, errors.New("tenant_id is required"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, errors.New("http.timeout must not be negative"))
	}

	if c.MARC.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("marc.batch_size must be positive, got %d", c.MARC.BatchSize))
	}
	if c.MARC.BatchDelay < 0 {
		errs = append(errs, errors.New("marc.batch_delay must not be negative"))
	}
	if c.MARC.SplitFiles && c.MARC.SplitSize < 1 {
		errs = append(errs, fmt.Errorf("marc.split_size must be positive when splitting, got %d", c.MARC.SplitSize))
	}
	if c.MARC.SplitOffset < 0 {
		errs = append(errs, errors.New("marc.split_offset must not be negative"))
	}
	if _, err := c.Pipeline(); err != nil {
		errs = append(errs, fmt.Errorf("marc.preprocessors: %w", err))
	}

	if c.Records.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("records.batch_size must be positive, got %d", c.Records.BatchSize))
	}
	if c.Records.ObjectType != "" {
		if _, err := c.PosterConfig(); err != nil {
			errs = append(errs, fmt.Errorf("records: %w", err))
		}
	}

	if c.Retry.Factor < 1 {
		errs = append(errs, fmt.Errorf("retry.factor must be at least 1, got %v", c.Retry.Factor))
	}
	if c.Retry.InitialTimeout <= 0 || c.Retry.MaxTimeout < c.Retry.InitialTimeout {
		errs = append(errs, errors.New("retry timeouts must satisfy 0 < initial_timeout <= max_timeout"))
	}
	if c.Retry.MaxJobRetries < 0 || c.Retry.MaxSummaryRetries < 0 {
		errs = append(errs, errors.New("retry budgets must not be negative"))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel. An empty level is info.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}

// ClientConfig returns the gateway client settings with ${ENV_VAR}
// references in credentials resolved.
func (c *Config) ClientConfig(logger *slog.Logger) api.Config {
	tenant := c.TenantID
	if c.MemberTenantID != "" {
		tenant = c.MemberTenantID
	}
	return api.Config{
		BaseURL:  strings.TrimRight(c.GatewayURL, "/"),
		Tenant:   tenant,
		Username: ResolveEnvVars(c.Username),
		Password: ResolveEnvVars(c.Password),
		Timeout:  c.HTTP.Timeout,
		Logger:   logger,
	}
}

// RetryPolicy converts the retry section for the job controller.
func (c *Config) RetryPolicy() marcjob.RetryPolicy {
	return marcjob.RetryPolicy{
		InitialTimeout:    c.Retry.InitialTimeout,
		Factor:            c.Retry.Factor,
		MaxTimeout:        c.Retry.MaxTimeout,
		FixedDelay:        c.Retry.CancelDelay,
		MaxSummaryRetries: c.Retry.MaxSummaryRetries,
	}
}

// Pipeline resolves the configured MARC preprocessors.
func (c *Config) Pipeline() (marc.Pipeline, error) {
	return marc.NewPipeline(c.MARC.Preprocessors, c.MARC.PreprocessorArgs)
}

// PosterConfig converts the records section, rejecting unknown object types
// and inconsistent patch settings.
func (c *Config) PosterConfig() (poster.Config, error) {
	ot, err := folio.ParseObjectType(c.Records.ObjectType)
	if err != nil {
		return poster.Config{}, err
	}
	pc := poster.Config{
		ObjectType:                  ot,
		BatchSize:                   c.Records.BatchSize,
		Upsert:                      c.Records.Upsert,
		PreserveStatisticalCodes:    c.Records.PreserveStatisticalCodes,
		PreserveAdministrativeNotes: c.Records.PreserveAdministrativeNotes,
		PreserveTemporaryLocations:  c.Records.PreserveTemporaryLocations,
		PreserveItemStatus:          c.Records.PreserveItemStatus,
		PatchExistingRecords:        c.Records.PatchExistingRecords,
		PatchPaths:                  c.Records.PatchPaths,
	}
	if err := pc.Validate(); err != nil {
		return poster.Config{}, err
	}
	return pc, nil
}

type setting struct {
	key   string
	value any
}

// defaults is the ordered list of every key and its default value. It seeds
// viper and is the content of the file written by WriteDefault.
var defaults = []setting{
	{"gateway_url", ""},
	{"tenant_id", ""},
	{"member_tenant_id", ""},
	{"username", ""},
	{"password", "${FOLIO_PASSWORD}"},
	{"log_level", "info"},
	{"log_format", "text"},

	{"http.timeout", 60 * time.Second},

	{"marc.batch_size", 10},
	{"marc.batch_delay", time.Duration(0)},
	{"marc.split_files", false},
	{"marc.split_size", 1000},
	{"marc.split_offset", 0},
	{"marc.import_profile", ""},
	{"marc.no_summary", false},
	{"marc.let_summary_fail", false},
	{"marc.job_ids_file", "marc_import_job_ids.txt"},
	{"marc.file_names_in_logs", false},
	{"marc.accept_server_errors", true},
	{"marc.summary_wait", 5 * time.Second},
	{"marc.move_completed", true},
	{"marc.preprocessors", []string{}},
	{"marc.preprocessor_args", map[string]any{}},

	{"records.object_type", ""},
	{"records.batch_size", 1},
	{"records.upsert", false},
	{"records.preserve_statistical_codes", false},
	{"records.preserve_administrative_notes", false},
	{"records.preserve_temporary_locations", false},
	{"records.preserve_item_status", false},
	{"records.patch_existing_records", false},
	{"records.patch_paths", []string{}},
	{"records.failed_records_file", ""},
	{"records.schema_file", ""},

	{"retry.initial_timeout", 5 * time.Second},
	{"retry.factor", 1.5},
	{"retry.max_timeout", 25320 * time.Millisecond},
	{"retry.cancel_delay", 250 * time.Millisecond},
	{"retry.max_job_retries", 2},
	{"retry.max_summary_retries", 2},
}
