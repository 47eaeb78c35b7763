// SPDX-License-Identifier: MPL-2.0

package repository

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/orbisgis/framework/pkg/module"
)

// Format is the document format of a catalog.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

type (
	catalogDoc struct {
		Name    string     `toml:"name,omitempty" yaml:"name,omitempty"`
		Modules []entryDoc `toml:"module" yaml:"modules"`
	}

	entryDoc struct {
		ID          string               `toml:"id" yaml:"id"`
		Version     string               `toml:"version" yaml:"version"`
		Name        string               `toml:"name,omitempty" yaml:"name,omitempty"`
		Description string               `toml:"description,omitempty" yaml:"description,omitempty"`
		Category    string               `toml:"category,omitempty" yaml:"category,omitempty"`
		Location    string               `toml:"location" yaml:"location"`
		Requires    []module.Requirement `toml:"requires,omitempty" yaml:"requires,omitempty"`
		Properties  map[string]string    `toml:"properties,omitempty" yaml:"properties,omitempty"`
	}
)

// DetectFormat picks the catalog format from the URL's path extension. The
// second result is false when the extension is not recognised and TOML is
// assumed.
func DetectFormat(rawURL string) (Format, bool) {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml", ".json":
		// JSON documents decode as YAML flow syntax.
		return FormatYAML, true
	case ".toml", "":
		return FormatTOML, true
	default:
		return FormatTOML, false
	}
}

// ParseCatalog decodes a catalog document and returns its descriptors in
// document order. Each descriptor records catalogURL as its Source, and
// relative locations are resolved against it.
func ParseCatalog(data []byte, format Format, catalogURL string) ([]module.Descriptor, error) {
	var doc catalogDoc
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml catalog: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode toml catalog: %w", err)
		}
	}

	out := make([]module.Descriptor, 0, len(doc.Modules))
	for i, e := range doc.Modules {
		d, err := e.descriptor(catalogURL)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i+1, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (e entryDoc) descriptor(catalogURL string) (module.Descriptor, error) {
	name := module.SymbolicName(e.ID)
	if err := name.Validate(); err != nil {
		return module.Descriptor{}, err
	}
	v, err := module.ParseVersion(e.Version)
	if err != nil {
		return module.Descriptor{}, err
	}
	if v.IsZero() {
		return module.Descriptor{}, fmt.Errorf("%s: missing version", name)
	}
	if e.Location == "" {
		return module.Descriptor{}, fmt.Errorf("%s: missing location", name)
	}
	for _, r := range e.Requires {
		if err := r.Name.Validate(); err != nil {
			return module.Descriptor{}, fmt.Errorf("%s requires: %w", name, err)
		}
	}
	loc, err := resolveLocation(catalogURL, e.Location)
	if err != nil {
		return module.Descriptor{}, fmt.Errorf("%s: %w", name, err)
	}
	return module.Descriptor{
		Name:        name,
		Version:     v,
		DisplayName: e.Name,
		Description: e.Description,
		Categories:  module.ParseCategories(e.Category),
		Properties:  e.Properties,
		Location:    loc,
		Requires:    e.Requires,
		Source:      catalogURL,
	}, nil
}

// resolveLocation makes location absolute relative to the catalog. Catalogs
// given as plain filesystem paths resolve against their directory.
func resolveLocation(catalogURL, location string) (string, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid location %q: %w", location, err)
	}
	if ref.IsAbs() || filepath.IsAbs(location) {
		return location, nil
	}
	base, err := url.Parse(catalogURL)
	if err != nil || base.Scheme == "" {
		return filepath.Join(filepath.Dir(catalogURL), filepath.FromSlash(location)), nil
	}
	return base.ResolveReference(ref).String(), nil
}
