// SPDX-License-Identifier: MPL-2.0

package module

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	// IdentityFile is the path of the identity document inside an artifact.
	IdentityFile = "module.toml"

	maxIdentityBytes = 1 << 20
)

var errNoIdentity = errors.New(IdentityFile + " not found in archive")

// identityDoc is the TOML wire format of an artifact identity document.
type identityDoc struct {
	ID          SymbolicName      `toml:"id"`
	Version     string            `toml:"version"`
	Name        string            `toml:"name,omitempty"`
	Description string            `toml:"description,omitempty"`
	Category    string            `toml:"category,omitempty"`
	Requires    []Requirement     `toml:"requires,omitempty"`
	Properties  map[string]string `toml:"properties,omitempty"`
}

// ReadArtifactFile opens the artifact at path and returns its embedded identity.
// Any failure, including a missing file, is reported as *ArtifactCorruptError.
func ReadArtifactFile(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, &ArtifactCorruptError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }() // read-only handle

	info, err := f.Stat()
	if err != nil {
		return Descriptor{}, &ArtifactCorruptError{Path: path, Err: err}
	}
	d, err := readArtifact(f, info.Size())
	if err != nil {
		return Descriptor{}, &ArtifactCorruptError{Path: path, Err: err}
	}
	return d, nil
}

// ReadArtifact returns the identity embedded in the zip archive read from r.
func ReadArtifact(r io.ReaderAt, size int64) (Descriptor, error) {
	d, err := readArtifact(r, size)
	if err != nil {
		return Descriptor{}, &ArtifactCorruptError{Err: err}
	}
	return d, nil
}

// ReadArtifactBytes is a convenience wrapper around ReadArtifact.
func ReadArtifactBytes(data []byte) (Descriptor, error) {
	return ReadArtifact(bytes.NewReader(data), int64(len(data)))
}

func readArtifact(r io.ReaderAt, size int64) (Descriptor, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Descriptor{}, fmt.Errorf("open archive: %w", err)
	}

	for _, f := range zr.File {
		if strings.TrimPrefix(f.Name, "/") != IdentityFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Descriptor{}, fmt.Errorf("open %s: %w", IdentityFile, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxIdentityBytes+1))
		_ = rc.Close()
		if err != nil {
			return Descriptor{}, fmt.Errorf("read %s: %w", IdentityFile, err)
		}
		if len(data) > maxIdentityBytes {
			return Descriptor{}, fmt.Errorf("%s exceeds %d bytes", IdentityFile, maxIdentityBytes)
		}
		return DecodeIdentity(data)
	}
	return Descriptor{}, errNoIdentity
}

// DecodeIdentity parses an identity document.
func DecodeIdentity(data []byte) (Descriptor, error) {
	var doc identityDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Descriptor{}, fmt.Errorf("decode %s: %w", IdentityFile, err)
	}
	if err := doc.ID.Validate(); err != nil {
		return Descriptor{}, err
	}
	v, err := ParseVersion(doc.Version)
	if err != nil {
		return Descriptor{}, err
	}
	for _, req := range doc.Requires {
		if err := req.Name.Validate(); err != nil {
			return Descriptor{}, fmt.Errorf("requirement: %w", err)
		}
	}
	return Descriptor{
		Name:        doc.ID,
		Version:     v,
		DisplayName: doc.Name,
		Description: doc.Description,
		Categories:  ParseCategories(doc.Category),
		Properties:  doc.Properties,
		Requires:    doc.Requires,
	}, nil
}

// EncodeIdentity renders d as an identity document.
func EncodeIdentity(d Descriptor) ([]byte, error) {
	doc := identityDoc{
		ID:          d.Name,
		Version:     d.Version.String(),
		Name:        d.DisplayName,
		Description: d.Description,
		Category:    strings.Join(d.Categories, ","),
		Requires:    d.Requires,
		Properties:  maps.Clone(d.Properties),
	}
	return toml.Marshal(doc)
}

// WriteArtifact writes a zip archive carrying the identity of d followed by
// the given payload files.
func WriteArtifact(w io.Writer, d Descriptor, payload map[string][]byte) error {
	identity, err := EncodeIdentity(d)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	if err := writeZipEntry(zw, IdentityFile, identity); err != nil {
		return err
	}
	for name, data := range payload {
		if err := writeZipEntry(zw, name, data); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
