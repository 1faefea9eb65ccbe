// Package config loads orgphotos settings from flags, environment and an
// optional options file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// ErrCodeMissing: a required key is empty or the named config file does not exist.
	ErrCodeMissing = "config_missing"
	// ErrCodeInvalid: a key holds an unusable value or the file cannot be parsed.
	ErrCodeInvalid = "config_invalid"
)

// DefaultFile is read when present and no file was named explicitly.
const DefaultFile = "/data/options.json"

const (
	BackendGraph = "graph"
	BackendS3    = "s3"
)

// Error is a configuration failure carrying a machine readable code.
type Error struct {
	Code string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Key != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Key, e.Err)
	case e.Key != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Key)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code extracts the error code, or "" when err is not an *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

type Config struct {
	SourceDir    string `mapstructure:"source_dir"`
	TargetDir    string `mapstructure:"target_dir"`
	DebounceSecs int    `mapstructure:"debounce_secs"`
	Backend      string `mapstructure:"backend"`

	OneDriveClientID    string `mapstructure:"onedrive_client_id"`
	OneDriveTenantID    string `mapstructure:"onedrive_tenant_id"`
	OneDriveRefreshFile string `mapstructure:"onedrive_refresh_file"`
	GraphBaseURL        string `mapstructure:"graph_base_url"`
	TokenURL            string `mapstructure:"token_url"`

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Secure    bool   `mapstructure:"s3_secure"`
	S3ProbeExif bool   `mapstructure:"s3_probe_exif"`

	JournalPath string `mapstructure:"journal_path"`

	LogLevel  string `mapstructure:"log_level"`
	LogFile   string `mapstructure:"log_file"`
	LogFormat string `mapstructure:"log_format"`
}

// Interval is the Idle duration between passes.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.DebounceSecs) * time.Second
}

var defaults = map[string]any{
	"source_dir":            "Inbox",
	"target_dir":            "OrgPhotos",
	"debounce_secs":         20,
	"backend":               BackendGraph,
	"onedrive_client_id":    "",
	"onedrive_tenant_id":    "common",
	"onedrive_refresh_file": "",
	"graph_base_url":        "",
	"token_url":             "",
	"s3_endpoint":           "",
	"s3_bucket":             "",
	"s3_access_key":         "",
	"s3_secret_key":         "",
	"s3_secure":             true,
	"s3_probe_exif":         true,
	"journal_path":          "",
	"log_level":             "info",
	"log_file":              "",
	"log_format":            "console",
}

// Options for Load.
type Options struct {
	// File is the options file; empty means DefaultFile if it exists.
	File string
	// Overrides win over every other source, typically flags the user set.
	Overrides map[string]any
}

// Load merges defaults, the options file, environment and overrides, in
// increasing priority, and validates the result.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, &Error{Code: ErrCodeInvalid, Key: k, Err: err}
		}
	}

	file := opts.File
	if file == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			file = DefaultFile
		}
	}
	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, &Error{Code: ErrCodeMissing, Key: "config", Err: err}
		}
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Code: ErrCodeInvalid, Key: "config", Err: err}
		}
	}

	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Code: ErrCodeInvalid, Err: err}
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required keys for the selected backend.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SourceDir) == "" {
		return &Error{Code: ErrCodeMissing, Key: "source_dir"}
	}
	if strings.TrimSpace(c.TargetDir) == "" {
		return &Error{Code: ErrCodeMissing, Key: "target_dir"}
	}
	if c.DebounceSecs < 1 {
		return &Error{Code: ErrCodeInvalid, Key: "debounce_secs", Err: fmt.Errorf("must be >= 1, got %d", c.DebounceSecs)}
	}

	switch c.Backend {
	case BackendGraph:
		if c.OneDriveClientID == "" {
			return &Error{Code: ErrCodeMissing, Key: "onedrive_client_id"}
		}
		if c.OneDriveRefreshFile == "" {
			return &Error{Code: ErrCodeMissing, Key: "onedrive_refresh_file"}
		}
	case BackendS3:
		for _, kv := range [][2]string{
			{"s3_endpoint", c.S3Endpoint},
			{"s3_bucket", c.S3Bucket},
			{"s3_access_key", c.S3AccessKey},
			{"s3_secret_key", c.S3SecretKey},
		} {
			if kv[1] == "" {
				return &Error{Code: ErrCodeMissing, Key: kv[0]}
			}
		}
	default:
		return &Error{Code: ErrCodeInvalid, Key: "backend", Err: fmt.Errorf("unknown backend %q", c.Backend)}
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return &Error{Code: ErrCodeInvalid, Key: "log_format", Err: fmt.Errorf("unknown format %q", c.LogFormat)}
	}
	return nil
}
