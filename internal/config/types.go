// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	// DefaultConcurrency is the default number of parallel downloads.
	DefaultConcurrency = 4
	// DefaultTimeout is the default per-request download timeout.
	DefaultTimeout = 60 * time.Second
	// DefaultManifestName is the manifest file looked up in the workspace
	// config folder when none is configured.
	DefaultManifestName = "archetype.properties"
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// LogLevel is the minimum level written by the logger.
	LogLevel string

	// InvalidValueError reports one rejected field value. It wraps the
	// field's sentinel for errors.Is().
	InvalidValueError struct {
		Field string
		Value string
		Err   error
	}

	// InvalidConfigError collects the field errors of a Config.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Workspace is the workspace root; empty means the default root.
		Workspace string `json:"workspace,omitempty" mapstructure:"workspace"`
		// Manifest is the provisioning manifest path; empty means
		// <workspace>/conf/archetype.properties.
		Manifest string `json:"manifest,omitempty" mapstructure:"manifest"`
		// Repositories are catalog URLs registered at start.
		Repositories []string `json:"repositories,omitempty" mapstructure:"repositories"`
		// Download configures artifact retrieval
		Download DownloadConfig `json:"download" mapstructure:"download"`
		// Log configures logging
		Log LogConfig `json:"log" mapstructure:"log"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// DownloadConfig configures artifact and catalog retrieval.
	DownloadConfig struct {
		Concurrency int           `json:"concurrency" mapstructure:"concurrency"`
		Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
		UserAgent   string        `json:"user_agent,omitempty" mapstructure:"user_agent"`
	}

	// LogConfig configures the logger.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
		// File overrides the workspace log file.
		File string `json:"file,omitempty" mapstructure:"file"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Download: DownloadConfig{
			Concurrency: DefaultConcurrency,
			Timeout:     DefaultTimeout,
		},
		Log: LogConfig{Level: LogLevelInfo},
		UI:  UIConfig{ColorScheme: ColorSchemeAuto},
	}
}

// Validate checks the constraints the schema cannot see once environment
// overrides have been applied.
func (c *Config) Validate() error {
	var errs []error
	if err := c.UI.ColorScheme.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Level.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Download.Concurrency < 1 {
		errs = append(errs, &InvalidValueError{
			Field: "download.concurrency",
			Value: fmt.Sprint(c.Download.Concurrency),
			Err:   errors.New("must be at least 1"),
		})
	}
	if c.Download.Timeout < 0 {
		errs = append(errs, &InvalidValueError{
			Field: "download.timeout",
			Value: c.Download.Timeout.String(),
			Err:   errors.New("must not be negative"),
		})
	}
	for i, repo := range c.Repositories {
		if _, err := url.Parse(repo); err != nil || strings.TrimSpace(repo) == "" {
			errs = append(errs, &InvalidValueError{
				Field: fmt.Sprintf("repositories[%d]", i),
				Value: repo,
				Err:   errors.New("not a URL"),
			})
		}
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Validate rejects unknown color schemes.
func (cs ColorScheme) Validate() error {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidValueError{Field: "ui.color_scheme", Value: string(cs), Err: ErrInvalidColorScheme}
	}
}

// Validate rejects unknown log levels.
func (l LogLevel) Validate() error {
	_, err := log.ParseLevel(string(l))
	if err != nil || l == "" {
		return &InvalidValueError{Field: "log.level", Value: string(l), Err: ErrInvalidLogLevel}
	}
	return nil
}

// Level returns the logger level, info for unknown values.
func (l LogLevel) Level() log.Level {
	lvl, err := log.ParseLevel(string(l))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Error implements the error interface.
func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: %q: %v", e.Field, e.Value, e.Err)
}

// Unwrap returns the field sentinel.
func (e *InvalidValueError) Unwrap() error { return e.Err }

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap exposes ErrInvalidConfig and every field error.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
