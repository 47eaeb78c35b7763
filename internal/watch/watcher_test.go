// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"testing"
	"time"
)

func isIgnoredByDefaults(rel string) bool {
	return matchAny(defaultIgnores, rel)
}

// start runs w in the background and returns a stop function that cancels
// it and reports Run's error.
func start(t *testing.T, w *Watcher) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	// Give the event loop time to start.
	time.Sleep(50 * time.Millisecond)
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			return errors.New("Run did not return after cancellation")
		}
	}
}

func write(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcherDebounce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var (
		mu        sync.Mutex
		calls     int
		collected []string
	)
	done := make(chan struct{})

	w, err := New(Config{
		BaseDir:  dir,
		Debounce: 100 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			collected = append(collected, changed...)
			if calls == 1 {
				close(done)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := start(t, w)

	for _, name := range []string{"a.properties", "b.properties", "c.properties"} {
		write(t, filepath.Join(dir, name), "bundle.1=x")
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	// Wait past another debounce window to catch a second firing.
	time.Sleep(300 * time.Millisecond)

	if err := stop(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("callback fired %d times, want 1", calls)
	}
	for _, name := range []string{"a.properties", "b.properties", "c.properties"} {
		if !slices.Contains(collected, name) {
			t.Errorf("changed set %v is missing %s", collected, name)
		}
	}
}

func TestWatcherPatternAndIgnore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fired := make(chan []string, 10)

	w, err := New(Config{
		BaseDir:  dir,
		Patterns: []string{"archetype.properties", "**/*.properties"},
		Ignore:   []string{"**/draft-*"},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := start(t, w)

	write(t, filepath.Join(dir, "notes.txt"), "x")
	write(t, filepath.Join(dir, "draft-archetype.properties"), "x")
	write(t, filepath.Join(dir, ".core.pkg.123.part"), "x")
	time.Sleep(200 * time.Millisecond)
	write(t, filepath.Join(dir, "archetype.properties"), "bundle.1=x")

	select {
	case changed := <-fired:
		if !slices.Equal(changed, []string{"archetype.properties"}) {
			t.Errorf("changed = %v, want only the manifest", changed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback on the manifest")
	}

	if err := stop(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestWatcherNewDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fired := make(chan []string, 10)

	w, err := New(Config{
		BaseDir:  dir,
		Patterns: []string{"**/*.properties"},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := start(t, w)

	sub := filepath.Join(dir, "conf")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	write(t, filepath.Join(sub, "archetype.properties"), "bundle.1=x")

	want := filepath.Join("conf", "archetype.properties")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case changed := <-fired:
			if slices.Contains(changed, want) {
				if err := stop(); err != nil {
					t.Fatalf("Run() error: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatalf("no callback for %s in a directory created after start", want)
		}
	}
}

func TestWatcherSkipIfBusy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var (
		mu      sync.Mutex
		calls   int
		active  int
		overlap bool
	)
	firstDone := make(chan struct{})

	w, err := New(Config{
		BaseDir:  dir,
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, _ []string) error {
			mu.Lock()
			calls++
			n := calls
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()

			if n == 1 {
				time.Sleep(300 * time.Millisecond)
				close(firstDone)
			}

			mu.Lock()
			active--
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := start(t, w)

	write(t, filepath.Join(dir, "first.properties"), "1")
	time.Sleep(100 * time.Millisecond)
	write(t, filepath.Join(dir, "second.properties"), "2")

	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first callback")
	}
	// The deferred event is retried once the first callback returns.
	time.Sleep(300 * time.Millisecond)

	if err := stop(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("callbacks ran concurrently")
	}
	if calls != 2 {
		t.Errorf("callback ran %d times, want 2 (the deferred change must not be lost)", calls)
	}
}

func TestWatcherCallbackErrorKeepsRunning(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fired := make(chan struct{}, 10)

	w, err := New(Config{
		BaseDir:  dir,
		Debounce: 30 * time.Millisecond,
		OnChange: func(context.Context, []string) error {
			fired <- struct{}{}
			return errors.New("provisioning failed")
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := start(t, w)

	for i := range 2 {
		write(t, filepath.Join(dir, "archetype.properties"), fmt.Sprint(i))
		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatalf("callback %d did not fire", i+1)
		}
	}

	if err := stop(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestWatcherDoubleRunError(t *testing.T) {
	t.Parallel()

	w, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := start(t, w)

	if err := w.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("first Run() returned error: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantValid bool
		wantErrs  int
	}{
		{"zero value", Config{}, true, 0},
		{"valid patterns", Config{Patterns: []string{"*.properties"}, Ignore: []string{"**/.git/**"}}, true, 0},
		{"invalid watch pattern", Config{Patterns: []string{"[invalid"}}, false, 1},
		{"empty ignore pattern", Config{Ignore: []string{""}}, false, 1},
		{"negative debounce", Config{Debounce: -time.Second}, false, 1},
		{"several fields", Config{Patterns: []string{"["}, Ignore: []string{"{"}, Debounce: -1}, false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantValid {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			var ice *InvalidConfigError
			if !errors.As(err, &ice) || !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want *InvalidConfigError", err)
			}
			if len(ice.FieldErrors) != tt.wantErrs {
				t.Errorf("got %d field errors, want %d: %v", len(ice.FieldErrors), tt.wantErrs, ice.FieldErrors)
			}
		})
	}

	if _, err := New(Config{BaseDir: t.TempDir(), Patterns: []string{"[invalid"}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() with an invalid pattern = %v", err)
	}
}

func TestDefaultIgnores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		ignored bool
	}{
		{".git/config", true},
		{"archetype.properties.swp", true},
		{"archetype.properties~", true},
		{"sub/.DS_Store", true},
		{".core-5.1.0.pkg.4711.part", true},
		{"modules/.view.pkg.1.part", true},
		{"archetype.properties", false},
		{"modules/core-5.1.0.pkg", false},
		{".gitignore", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := isIgnoredByDefaults(tt.path); got != tt.ignored {
				t.Errorf("isIgnoredByDefaults(%q) = %v, want %v", tt.path, got, tt.ignored)
			}
		})
	}

	ignores := DefaultIgnores()
	ignores[0] = "changed"
	if DefaultIgnores()[0] == "changed" {
		t.Error("DefaultIgnores() should return a copy")
	}
}

func TestIsFatalFsnotifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{syscall.ENOSPC, true},
		{syscall.EMFILE, true},
		{fmt.Errorf("fsnotify: %w", syscall.ENFILE), true},
		{syscall.EACCES, false},
		{errors.New("something went wrong"), false},
	}

	for _, tt := range tests {
		if got := isFatalFsnotifyError(tt.err); got != tt.want {
			t.Errorf("isFatalFsnotifyError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
