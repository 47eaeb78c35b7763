// SPDX-License-Identifier: MPL-2.0

// Package workspace describes the on-disk layout of a workspace: the root
// directory, its well-known sub-folders and the log file.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvWorkspace overrides the default workspace root.
	EnvWorkspace = "ORBISGIS_WORKSPACE"

	TempDirName        = "tmp"
	AppDirName         = "app"
	ModuleCacheDirName = "modules"
	CacheDirName       = "cache"
	ConfigDirName      = "conf"
	LogFileName        = "orbisgis.log"

	// PlacementRoot is the manifest placement hint for the workspace root.
	PlacementRoot = ".."
)

var (
	// ErrInvalidPlacement is returned when a placement hint would leave the workspace.
	ErrInvalidPlacement = errors.New("invalid placement")
	// ErrCreateFailed is returned by EnsureCreated when a folder cannot be
	// cleared or created.
	ErrCreateFailed = errors.New("workspace creation failed")
)

// Layout is the resolved set of workspace paths. It is created once per
// process; all paths are absolute.
type Layout struct {
	root string
}

// New returns the layout rooted at root. Nothing is created on disk.
func New(root string) (*Layout, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Layout{root: abs}, nil
}

// DefaultRoot returns the workspace root from the given getenv function,
// falling back to ~/.orbisgis/workspace.
func DefaultRoot(getenv func(string) string) (string, error) {
	if dir := getenv(EnvWorkspace); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".orbisgis", "workspace"), nil
}

func (l *Layout) Root() string           { return l.root }
func (l *Layout) TempDir() string        { return filepath.Join(l.root, TempDirName) }
func (l *Layout) AppDir() string         { return filepath.Join(l.root, AppDirName) }
func (l *Layout) ModuleCacheDir() string { return filepath.Join(l.root, ModuleCacheDirName) }
func (l *Layout) CacheDir() string       { return filepath.Join(l.root, CacheDirName) }
func (l *Layout) ConfigDir() string      { return filepath.Join(l.root, ConfigDirName) }
func (l *Layout) LogFilePath() string    { return filepath.Join(l.root, LogFileName) }

// Dirs returns every directory EnsureCreated manages, root first.
func (l *Layout) Dirs() []string {
	return []string{l.root, l.TempDir(), l.AppDir(), l.ModuleCacheDir(), l.CacheDir(), l.ConfigDir()}
}

// EnsureCreated creates the workspace directories. With clear set, the
// contents of the root are removed first; the root itself is kept.
func (l *Layout) EnsureCreated(clear bool) error {
	if clear {
		entries, err := os.ReadDir(l.root)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: clear %s: %w", ErrCreateFailed, l.root, err)
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(l.root, e.Name())); err != nil {
				return fmt.Errorf("%w: clear %s: %w", ErrCreateFailed, l.root, err)
			}
		}
	}
	for _, dir := range l.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCreateFailed, dir, err)
		}
	}
	return nil
}

// Placement maps a manifest placement hint to a directory: "" is the module
// cache, ".." is the root and anything else is a folder under the root.
func (l *Layout) Placement(hint string) (string, error) {
	if err := ValidatePlacement(hint); err != nil {
		return "", err
	}
	switch hint {
	case "":
		return l.ModuleCacheDir(), nil
	case PlacementRoot:
		return l.root, nil
	default:
		return filepath.Join(l.root, filepath.FromSlash(hint)), nil
	}
}

// ValidatePlacement rejects absolute hints, hints that escape the root and
// hints naming a reserved device.
func ValidatePlacement(hint string) error {
	if hint == "" || hint == PlacementRoot {
		return nil
	}
	if filepath.IsAbs(hint) || strings.HasPrefix(hint, "/") || strings.HasPrefix(hint, `\`) {
		return fmt.Errorf("%w %q: must be relative to the workspace root", ErrInvalidPlacement, hint)
	}
	clean := filepath.Clean(filepath.FromSlash(hint))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w %q: escapes the workspace root", ErrInvalidPlacement, hint)
	}
	for _, elem := range strings.Split(filepath.ToSlash(clean), "/") {
		if IsReservedName(elem) {
			return fmt.Errorf("%w %q: %s is a reserved name", ErrInvalidPlacement, hint, elem)
		}
	}
	return nil
}
