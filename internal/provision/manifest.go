// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/magiconair/properties"

	"github.com/orbisgis/framework/internal/workspace"
	"github.com/orbisgis/framework/pkg/module"
)

const (
	sourceKeyPrefix    = "bundle."
	placementKeyPrefix = "location."
)

// fileNameParam is the query parameter that names the artifact in download
// links such as "download?a=core.pkg".
const fileNameParam = "a"

type (
	// Manifest is the parsed list of modules to provision.
	Manifest struct {
		// Path is the file the manifest was read from, if any.
		Path    string
		Entries []Entry
	}

	// Entry is one manifest line pair.
	Entry struct {
		// Index is the numeric suffix n of "bundle.<n>".
		Index int
		// Source is the artifact URL or path.
		Source string
		// Placement is the "location.<n>" hint: empty for the module cache,
		// ".." for the workspace root, otherwise a folder under the root.
		Placement string
	}
)

// ParseManifest reads a manifest. Entries are returned ordered by index.
// Keys other than "bundle.<n>" and "location.<n>" are ignored. The older
// "location.bundle.<n>" spelling is accepted as well.
func ParseManifest(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &module.ManifestInvalidError{Err: err}
	}
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, &module.ManifestInvalidError{Err: err}
	}

	entries := make(map[int]*Entry)
	placements := make(map[int]string)
	placementKeys := make(map[int]string)

	for _, key := range p.Keys() {
		value, _ := p.Get(key)
		value = strings.TrimSpace(value)

		switch {
		case strings.HasPrefix(key, placementKeyPrefix):
			suffix := strings.TrimPrefix(strings.TrimPrefix(key, placementKeyPrefix), sourceKeyPrefix)
			n, err := parseIndex(suffix)
			if err != nil {
				return nil, &module.ManifestInvalidError{Key: key, Err: err}
			}
			if err := workspace.ValidatePlacement(value); err != nil {
				return nil, &module.ManifestInvalidError{Key: key, Err: err}
			}
			placements[n] = value
			placementKeys[n] = key
		case strings.HasPrefix(key, sourceKeyPrefix):
			n, err := parseIndex(strings.TrimPrefix(key, sourceKeyPrefix))
			if err != nil {
				return nil, &module.ManifestInvalidError{Key: key, Err: err}
			}
			if value == "" {
				return nil, &module.ManifestInvalidError{Key: key, Err: errors.New("empty source")}
			}
			if _, err := url.Parse(value); err != nil {
				return nil, &module.ManifestInvalidError{Key: key, Err: err}
			}
			entries[n] = &Entry{Index: n, Source: value}
		}
	}

	m := &Manifest{Entries: make([]Entry, 0, len(entries))}
	for n, placement := range placements {
		e, ok := entries[n]
		if !ok {
			return nil, &module.ManifestInvalidError{Key: placementKeys[n], Err: fmt.Errorf("no %s%d entry", sourceKeyPrefix, n)}
		}
		e.Placement = placement
	}
	for _, e := range entries {
		m.Entries = append(m.Entries, *e)
	}
	slices.SortFunc(m.Entries, func(a, b Entry) int { return cmp.Compare(a.Index, b.Index) })
	return m, nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("index %q is not a non-negative number", s)
	}
	return n, nil
}

// ArtifactFileName returns the file name an entry's artifact is stored
// under: the value of the "a" query parameter when present, otherwise the
// last path element.
func ArtifactFileName(source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", err
	}
	name := u.Query().Get(fileNameParam)
	if name == "" {
		name = u.Path
		if name == "" {
			name = u.Opaque
		}
	}
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("cannot derive a file name from %q", source)
	}
	if workspace.IsReservedName(name) {
		return "", fmt.Errorf("%q: file name %s is reserved", source, name)
	}
	return name, nil
}

// HasCacheBuster reports whether the source carries a query string, which
// forces a fresh download even when the artifact is cached.
func HasCacheBuster(source string) bool {
	u, err := url.Parse(source)
	return err == nil && u.RawQuery != ""
}
