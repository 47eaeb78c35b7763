// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/orbisgis/config.cue (or the XDG equivalent on Linux,
// ~/Library/Application Support/orbisgis/config.cue on macOS, %APPDATA%\orbisgis\config.cue
// on Windows). Values are validated against the embedded #Config schema (config_schema.cue)
// and can be overridden with ORBISGIS_* environment variables, e.g.
// ORBISGIS_DOWNLOAD_CONCURRENCY=8.
package config
