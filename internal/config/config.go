// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/jeranaias/broadcast-console/internal/api"
	"github.com/jeranaias/broadcast-console/internal/logging"
	"github.com/jeranaias/broadcast-console/internal/storage"
	"github.com/jeranaias/broadcast-console/internal/util"
)

// CurrentVersion is written into new config files.
const CurrentVersion = "1"

// Testing mode timings.
const (
	TestingTTLSecs           = 60
	TestingWarningWindowSecs = 15
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete console configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	API     APIConfig     `toml:"api" json:"api"`
	Session SessionConfig `toml:"session" json:"session"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
}

// APIConfig describes the backend API.
type APIConfig struct {
	// BaseURL is the API root, e.g. https://broadcast.example.com/api
	BaseURL string `toml:"base_url" json:"base_url" validate:"required,url"`
	// TimeoutSecs bounds each request
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" validate:"min=1,max=300"`
	// RequestsPerSecond paces outgoing requests (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	// Burst is the number of requests allowed at once
	Burst int `toml:"burst" json:"burst" validate:"gte=0"`
	// UserAgent overrides the default User-Agent header
	UserAgent string `toml:"user_agent" json:"user_agent"`
}

// SessionConfig holds the lifecycle timings.
type SessionConfig struct {
	// WarningWindowSecs is how long before expiry the countdown opens
	WarningWindowSecs int `toml:"warning_window_secs" json:"warning_window_secs" validate:"gte=0"`
	// DefaultTTLSecs is the session length when the server gives none
	DefaultTTLSecs int `toml:"default_ttl_secs" json:"default_ttl_secs" validate:"gt=0"`
	// TestingMode shortens sessions to one minute with a 15 second warning
	// and shows the timer notice.
	TestingMode bool `toml:"testing_mode" json:"testing_mode"`
}

// StorageConfig selects where the session is persisted.
type StorageConfig struct {
	// Backend is one of: file, sqlite, bolt, memory
	Backend string `toml:"backend" json:"backend" validate:"oneof=file sqlite bolt memory"`
	// Path is the store location (empty = default under the config dir)
	Path string `toml:"path" json:"path"`
	// Encrypt stores values with AES-256-GCM
	Encrypt bool `toml:"encrypt" json:"encrypt"`
	// KeyFile holds the encryption key (empty = default under the config dir)
	KeyFile string `toml:"key_file" json:"key_file"`
	// Passphrase derives the key instead of KeyFile. Only read from
	// BROADCAST_STORAGE_PASSPHRASE; never written to disk.
	Passphrase string `toml:"-" json:"-"`
}

// LoggingConfig controls the logrus setup.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	File       string `toml:"file" json:"file"`
	JSON       bool   `toml:"json" json:"json"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" validate:"gte=0"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" json:"enabled"`
	Addr      string `toml:"addr" json:"addr" validate:"omitempty,hostname_port"`
	Namespace string `toml:"namespace" json:"namespace"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a new Config with default values.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		API: APIConfig{
			BaseURL:           "http://localhost:8000",
			TimeoutSecs:       15,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Session: SessionConfig{
			WarningWindowSecs: 300,
			DefaultTTLSecs:    3600,
		},
		Storage: StorageConfig{
			Backend: storage.BackendFile,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Addr:      "127.0.0.1:9464",
			Namespace: "broadcast",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory. BROADCAST_HOME overrides
// the default ~/.broadcast.
func ConfigDir() (string, error) {
	if dir := os.Getenv("BROADCAST_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".broadcast"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config directory.
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file. The format is
// chosen by extension; anything but .json is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// SetDefaults fills zero values a config file may have left empty.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if c.Session.DefaultTTLSecs == 0 {
		c.Session.DefaultTTLSecs = d.Session.DefaultTTLSecs
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = d.Metrics.Addr
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# broadcast console configuration\n")
	b.WriteString("# Environment variables (BROADCAST_*) override these values.\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, []byte(b.String()))
}

// SaveJSON writes cfg as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, data)
}

func writeConfig(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their file names, e.g. session.default_ttl_secs.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Field:   fieldPath(fe),
				Message: validationMessage(fe),
			})
		}
	}

	if !c.Session.TestingMode && c.Session.DefaultTTLSecs > 0 &&
		c.Session.WarningWindowSecs >= c.Session.DefaultTTLSecs {
		errs = append(errs, ValidationError{
			Field:   "session.warning_window_secs",
			Message: fmt.Sprintf("must be shorter than session.default_ttl_secs (%d)", c.Session.DefaultTTLSecs),
		})
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, ValidationError{Field: "metrics.addr", Message: "is required when metrics are enabled"})
	}

	if c.Storage.Backend == storage.BackendMemory && c.Storage.Encrypt {
		errs = append(errs, ValidationError{
			Field:   "storage.encrypt",
			Message: "has no effect with the memory backend",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fieldPath strips the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return fmt.Sprintf("invalid URL '%v'", fe.Value())
	case "oneof":
		return fmt.Sprintf("invalid value '%v', must be one of: %s",
			fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "hostname_port":
		return fmt.Sprintf("invalid address '%v', expected host:port", fe.Value())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - BROADCAST_API_URL: overrides api.base_url
//   - BROADCAST_WARNING_WINDOW_SECS: overrides session.warning_window_secs
//   - BROADCAST_SESSION_TTL_SECS: overrides session.default_ttl_secs
//   - BROADCAST_TESTING_MODE: "1" or "true" enables testing mode
//   - BROADCAST_STORAGE_BACKEND: overrides storage.backend
//   - BROADCAST_STORAGE_PATH: overrides storage.path
//   - BROADCAST_STORAGE_PASSPHRASE: derives the storage key, enables encryption
//   - BROADCAST_LOG_LEVEL: overrides logging.level
//   - BROADCAST_METRICS_ADDR: overrides metrics.addr and enables metrics
//
// Malformed numbers are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("BROADCAST_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if n, ok := envInt("BROADCAST_WARNING_WINDOW_SECS"); ok {
		c.Session.WarningWindowSecs = n
	}
	if n, ok := envInt("BROADCAST_SESSION_TTL_SECS"); ok {
		c.Session.DefaultTTLSecs = n
	}
	if v := os.Getenv("BROADCAST_TESTING_MODE"); v != "" {
		c.Session.TestingMode = envBool(v)
	}
	if v := os.Getenv("BROADCAST_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("BROADCAST_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("BROADCAST_STORAGE_PASSPHRASE"); v != "" {
		c.Storage.Passphrase = v
		c.Storage.Encrypt = true
	}
	if v := os.Getenv("BROADCAST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BROADCAST_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

// =============================================================================
// GET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its file key, e.g. "session.warning_window_secs".
func (c *Config) Get(key string) (interface{}, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// GetAllKeys returns every file key in dot notation.
func GetAllKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			name := t.Field(i).Tag.Get("toml")
			if name == "" || name == "-" {
				continue
			}
			if t.Field(i).Type.Kind() == reflect.Struct {
				walk(t.Field(i).Type, prefix+name+".")
				continue
			}
			keys = append(keys, prefix+name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// SessionTimings returns the warning window and default TTL, honouring
// testing mode.
func (c *Config) SessionTimings() (warning, ttl time.Duration) {
	if c.Session.TestingMode {
		return TestingWarningWindowSecs * time.Second, TestingTTLSecs * time.Second
	}
	return time.Duration(c.Session.WarningWindowSecs) * time.Second,
		time.Duration(c.Session.DefaultTTLSecs) * time.Second
}

// APIClientConfig converts the api section.
func (c *Config) APIClientConfig() api.Config {
	return api.Config{
		BaseURL:           c.API.BaseURL,
		Timeout:           time.Duration(c.API.TimeoutSecs) * time.Second,
		RequestsPerSecond: c.API.RequestsPerSecond,
		Burst:             c.API.Burst,
		UserAgent:         c.API.UserAgent,
	}
}

// StorageOptions converts the storage section, filling default paths under
// the config directory.
func (c *Config) StorageOptions() (storage.Options, error) {
	opts := storage.Options{
		Backend:    c.Storage.Backend,
		Path:       c.Storage.Path,
		Encrypt:    c.Storage.Encrypt,
		KeyFile:    c.Storage.KeyFile,
		Passphrase: c.Storage.Passphrase,
	}
	if opts.Path != "" && (opts.KeyFile != "" || !opts.Encrypt) {
		return opts, nil
	}

	dir, err := ConfigDir()
	if err != nil {
		return opts, err
	}
	if opts.Path == "" {
		switch opts.Backend {
		case storage.BackendSQLite:
			opts.Path = filepath.Join(dir, "session.db")
		case storage.BackendBolt:
			opts.Path = filepath.Join(dir, "session.bolt")
		default:
			opts.Path = filepath.Join(dir, "session.json")
		}
	}
	if opts.Encrypt && opts.KeyFile == "" {
		opts.KeyFile = filepath.Join(dir, "session.key")
	}
	return opts, nil
}

// LoggerParams converts the logging section. quiet is set for the TUI.
func (c *Config) LoggerParams(quiet bool) logging.LoggerSetupParams {
	return logging.LoggerSetupParams{
		LogFileName:   c.Logging.File,
		LogLevel:      c.Logging.Level,
		LogFormatJSON: c.Logging.JSON,
		MaxSizeMB:     c.Logging.MaxSizeMB,
		MaxBackups:    c.Logging.MaxBackups,
		Quiet:         quiet,
	}
}

// String renders the config as JSON. The passphrase never appears because it
// is excluded from serialisation.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
