// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/orbisgis/framework/internal/fetch"
)

// DefaultConcurrency is the number of parallel downloads.
const DefaultConcurrency = 4

type (
	// Downloader streams a source into a destination file.
	Downloader interface {
		Download(ctx context.Context, source, dest string) error
	}

	// Config holds the settings of a provisioning Driver.
	Config struct {
		// Concurrency bounds the number of parallel downloads. Values below 1
		// mean DefaultConcurrency.
		Concurrency int

		// ForceDownload fetches every artifact even when it is already cached.
		ForceDownload bool

		// Downloader fetches artifacts. Default: a fetch.Client.
		Downloader Downloader

		// Logger receives per-entry progress and failures.
		Logger *log.Logger
	}

	// Option is a functional option for configuring a Config.
	Option func(*Config)
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Concurrency: DefaultConcurrency,
		Downloader:  fetch.NewClient(),
		Logger:      log.New(io.Discard),
	}
}

// WithConcurrency returns an Option that sets Concurrency on the config.
func WithConcurrency(n int) Option {
	return func(c *Config) {
		c.Concurrency = n
	}
}

// WithForceDownload returns an Option that sets ForceDownload on the config.
func WithForceDownload(force bool) Option {
	return func(c *Config) {
		c.ForceDownload = force
	}
}

// WithDownloader returns an Option that sets Downloader on the config.
func WithDownloader(d Downloader) Option {
	return func(c *Config) {
		c.Downloader = d
	}
}

// WithLogger returns an Option that sets Logger on the config.
func WithLogger(logger *log.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Apply applies the given options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// normalize fills unset fields with defaults.
func (c *Config) normalize() {
	if c.Concurrency < 1 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Downloader == nil {
		c.Downloader = fetch.NewClient()
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard)
	}
}
