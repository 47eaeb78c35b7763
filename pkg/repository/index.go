// SPDX-License-Identifier: MPL-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/orbisgis/framework/internal/fetch"
	"github.com/orbisgis/framework/pkg/module"
)

// defaultMaxCatalogBytes bounds a single catalog document.
const defaultMaxCatalogBytes = 16 << 20

type (
	// Fetcher opens a catalog document by URL.
	Fetcher interface {
		Open(ctx context.Context, source string) (io.ReadCloser, error)
	}

	// Index is the Repository Index. Sources keep their registration order
	// and Descriptors lists them in that order. It is safe for concurrent use.
	Index struct {
		mu      sync.RWMutex
		sources []*source
		fetcher Fetcher
		logger  *log.Logger
		pending sync.WaitGroup
	}

	// Option configures an Index.
	Option func(*Index)

	// source is one registered catalog. A source reserved by AddSourceAsync
	// has loaded == false until its first fetch completes.
	source struct {
		url    string
		descs  []module.Descriptor
		loaded bool
	}
)

// WithFetcher sets how catalogs are retrieved. The default is a fetch.Client.
func WithFetcher(f Fetcher) Option {
	return func(ix *Index) {
		if f != nil {
			ix.fetcher = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// New creates an empty Index.
func New(opts ...Option) *Index {
	ix := &Index{
		fetcher: fetch.NewClient(fetch.WithMaxBytes(defaultMaxCatalogBytes)),
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// AddSource fetches the catalog at url and registers it. On failure it
// returns *module.SourceUnreachableError and leaves every registered source,
// including an earlier listing of the same url, untouched. Adding a url that
// is already registered refreshes it in place.
func (ix *Index) AddSource(ctx context.Context, url string) error {
	descs, err := ix.load(ctx, url)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if s := ix.findLocked(url); s != nil {
		s.descs, s.loaded = descs, true
	} else {
		ix.sources = append(ix.sources, &source{url: url, descs: descs, loaded: true})
	}
	ix.logger.Debug("repository source added", "url", url, "modules", len(descs))
	return nil
}

// AddSourceAsync registers url immediately and fetches its catalog in the
// background. Until the fetch completes the source contributes no
// descriptors. If the first fetch fails the registration is dropped and a
// warning is logged. The returned channel receives the outcome and is closed.
func (ix *Index) AddSourceAsync(ctx context.Context, url string) <-chan error {
	done := make(chan error, 1)

	ix.mu.Lock()
	s := ix.findLocked(url)
	if s == nil {
		s = &source{url: url}
		ix.sources = append(ix.sources, s)
	}
	ix.mu.Unlock()

	ix.pending.Add(1)
	go func() {
		defer ix.pending.Done()
		defer close(done)

		descs, err := ix.load(ctx, url)

		ix.mu.Lock()
		if err != nil {
			if !s.loaded {
				ix.sources = slices.DeleteFunc(ix.sources, func(o *source) bool { return o == s })
			}
			ix.mu.Unlock()
			ix.logger.Warn("repository source unavailable", "url", url, "err", err)
			done <- err
			return
		}
		if slices.Contains(ix.sources, s) {
			s.descs, s.loaded = descs, true
		}
		ix.mu.Unlock()
		ix.logger.Debug("repository source added", "url", url, "modules", len(descs))
	}()
	return done
}

// Wait blocks until every pending AddSourceAsync has finished.
func (ix *Index) Wait() {
	ix.pending.Wait()
}

// RemoveSource unregisters url and reports whether it was registered.
func (ix *Index) RemoveSource(url string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := len(ix.sources)
	ix.sources = slices.DeleteFunc(ix.sources, func(s *source) bool { return s.url == url })
	return len(ix.sources) != n
}

// Sources returns the registered catalog URLs in registration order.
func (ix *Index) Sources() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, len(ix.sources))
	for i, s := range ix.sources {
		out[i] = s.url
	}
	return out
}

// Refresh re-fetches every registered source. Sources that fail keep their
// last good listing; the failures are joined into the returned error.
func (ix *Index) Refresh(ctx context.Context) error {
	var errs []error
	for _, url := range ix.Sources() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		descs, err := ix.load(ctx, url)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ix.mu.Lock()
		if s := ix.findLocked(url); s != nil {
			s.descs, s.loaded = descs, true
		}
		ix.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Descriptors returns every descriptor in source-registration order, then
// catalog order. Each iteration works on a snapshot taken when it starts, so
// the sequence can be ranged over repeatedly and sees sources added since.
func (ix *Index) Descriptors() iter.Seq[module.Descriptor] {
	return func(yield func(module.Descriptor) bool) {
		for _, d := range ix.snapshot() {
			if !yield(d.Clone()) {
				return
			}
		}
	}
}

func (ix *Index) snapshot() []module.Descriptor {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []module.Descriptor
	for _, s := range ix.sources {
		out = append(out, s.descs...)
	}
	return out
}

func (ix *Index) findLocked(url string) *source {
	for _, s := range ix.sources {
		if s.url == url {
			return s
		}
	}
	return nil
}

// load fetches and parses one catalog.
func (ix *Index) load(ctx context.Context, url string) ([]module.Descriptor, error) {
	rc, err := ix.fetcher.Open(ctx, url)
	if err != nil {
		return nil, &module.SourceUnreachableError{URL: url, Err: err}
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, &module.SourceUnreachableError{URL: url, Err: fmt.Errorf("read catalog: %w", err)}
	}

	format, known := DetectFormat(url)
	if !known {
		ix.logger.Warn("unrecognised catalog extension, assuming toml", "url", url)
	}
	descs, err := ParseCatalog(data, format, url)
	if err != nil {
		return nil, &module.SourceUnreachableError{URL: url, Err: err}
	}
	return descs, nil
}
