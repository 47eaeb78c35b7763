// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FileServer is an HTTP server over an in-memory file set. It records how
// often each path was requested so tests can assert download counts.
type FileServer struct {
	*httptest.Server

	mu     sync.Mutex
	files  map[string][]byte
	failed map[string]int
	hits   map[string]int
}

// NewFileServer starts a server that is closed when the test ends.
func NewFileServer(t testing.TB) *FileServer {
	t.Helper()
	fs := &FileServer{
		files:  make(map[string][]byte),
		failed: make(map[string]int),
		hits:   make(map[string]int),
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(fs.Close)
	return fs
}

// Put publishes data at path (e.g. "/repo/a.pkg").
func (fs *FileServer) Put(path string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path] = data
}

// Fail makes requests for path answer with the given status code.
func (fs *FileServer) Fail(path string, code int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failed[path] = code
}

// Hits returns how many requests reached path.
func (fs *FileServer) Hits(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hits[path]
}

// TotalHits returns the number of requests whose path starts with prefix.
func (fs *FileServer) TotalHits(prefix string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for p, c := range fs.hits {
		if strings.HasPrefix(p, prefix) {
			n += c
		}
	}
	return n
}

// URL returns the absolute URL of path.
func (fs *FileServer) URL(path string) string {
	return fs.Server.URL + path
}

func (fs *FileServer) serve(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	fs.hits[r.URL.Path]++
	code, failing := fs.failed[r.URL.Path]
	data, ok := fs.files[r.URL.Path]
	fs.mu.Unlock()

	switch {
	case failing:
		http.Error(w, http.StatusText(code), code)
	case !ok:
		http.NotFound(w, r)
	default:
		_, _ = w.Write(data)
	}
}
