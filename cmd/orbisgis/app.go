// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/orbisgis/framework/internal/config"
	"github.com/orbisgis/framework/internal/fetch"
	"github.com/orbisgis/framework/internal/provision"
	"github.com/orbisgis/framework/internal/workspace"
	"github.com/orbisgis/framework/pkg/host"
	"github.com/orbisgis/framework/pkg/lifecycle"
	"github.com/orbisgis/framework/pkg/repository"
	"github.com/orbisgis/framework/pkg/resolver"
)

// runtimeDirName is the folder under the workspace cache that holds the
// persisted runtime state.
const runtimeDirName = "runtime"

var errNotLoaded = errors.New("configuration not loaded")

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root of the CLI layer: every command handler receives the App and
	// reaches the engine through it. Services are built lazily so commands
	// such as `config path` never touch the workspace.
	App struct {
		flags     rootFlagValues
		stdout    io.Writer
		stderr    io.Writer
		getenv    func(string) string
		configDir string

		cfg     *config.Config
		cfgPath string
		layout  *workspace.Layout
		logger  *log.Logger

		mu      sync.Mutex
		opened  bool
		logFile *os.File
		eng     *engine
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Stdout io.Writer
		Stderr io.Writer
		// Getenv looks up environment variables. Default: os.Getenv.
		Getenv func(string) string
		// ConfigDir overrides the platform config directory.
		ConfigDir string
	}

	// engine holds the module services of one invocation.
	engine struct {
		runtime  *host.Local
		fetcher  *fetch.Client
		index    *repository.Index
		resolver *resolver.Resolver
		manager  *lifecycle.Manager
	}

	rootFlagValues struct {
		configPath string
		workspace  string
		verbose    bool
	}
)

// NewApp creates an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
		getenv:    deps.Getenv,
		configDir: deps.ConfigDir,
		logger:    log.New(io.Discard),
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	if app.getenv == nil {
		app.getenv = os.Getenv
	}
	return app
}

// load resolves the configuration and the workspace layout. Flags take
// precedence over the config file and the environment.
func (a *App) load(ctx context.Context) error {
	cfg, cfgPath, err := config.Resolve(ctx, config.LoadOptions{
		ConfigFilePath: a.flags.configPath,
		ConfigDirPath:  a.configDir,
	})
	if err != nil {
		return err
	}
	if a.flags.verbose {
		cfg.UI.Verbose = true
	}

	root := a.flags.workspace
	if root == "" {
		root = cfg.Workspace
	}
	if root == "" {
		if root, err = workspace.DefaultRoot(a.getenv); err != nil {
			return err
		}
	}
	layout, err := workspace.New(root)
	if err != nil {
		return err
	}

	level := cfg.Log.Level.Level()
	if cfg.UI.Verbose {
		level = log.DebugLevel
	}
	a.logger = log.NewWithOptions(a.stderr, log.Options{Level: level})
	a.cfg, a.cfgPath, a.layout = cfg, cfgPath, layout
	return nil
}

// openWorkspace creates the workspace folders, wiping them first when clear
// is set, and tees the log to the workspace log file. Only the first call
// has an effect.
func (a *App) openWorkspace(clear bool) error {
	if a.layout == nil {
		return errNotLoaded
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}
	if err := a.layout.EnsureCreated(clear); err != nil {
		return err
	}

	logPath := a.cfg.Log.File
	if logPath == "" {
		logPath = a.layout.LogFilePath()
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		a.logger.Warn("workspace log unavailable", "path", logPath, "err", err)
	} else {
		a.logFile = f
		a.logger.SetOutput(io.MultiWriter(a.stderr, f))
	}
	a.opened = true
	return nil
}

// engine builds the module services on first use. Configured repositories
// are registered in the background; callers that need the catalog wait on
// the index.
func (a *App) engine(ctx context.Context) (*engine, error) {
	if err := a.openWorkspace(false); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng != nil {
		return a.eng, nil
	}

	fetcher := fetch.NewClient(
		fetch.WithTimeout(a.cfg.Download.Timeout),
		fetch.WithUserAgent(a.cfg.Download.UserAgent),
	)
	rt, err := host.NewLocal(
		host.WithStorageDir(filepath.Join(a.layout.CacheDir(), runtimeDirName)),
		host.WithOpener(fetcher),
		host.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("open runtime: %w", err)
	}

	ix := repository.New(repository.WithFetcher(fetcher), repository.WithLogger(a.logger))
	for _, url := range a.cfg.Repositories {
		ix.AddSourceAsync(ctx, url)
	}
	r := resolver.New(ix, rt, fetcher, resolver.WithLogger(a.logger))

	a.eng = &engine{
		runtime:  rt,
		fetcher:  fetcher,
		index:    ix,
		resolver: r,
		manager:  lifecycle.NewManager(ix, rt, r, lifecycle.WithLogger(a.logger)),
	}
	return a.eng, nil
}

// catalog returns the engine once every configured repository has been
// fetched or dropped.
func (a *App) catalog(ctx context.Context) (*engine, error) {
	eng, err := a.engine(ctx)
	if err != nil {
		return nil, err
	}
	eng.index.Wait()
	return eng, nil
}

// driver returns a provisioning driver sharing the engine's runtime.
func (a *App) driver(ctx context.Context, opts ...provision.Option) (*provision.Driver, error) {
	eng, err := a.engine(ctx)
	if err != nil {
		return nil, err
	}
	cfg := provision.DefaultConfig()
	cfg.Apply(
		provision.WithConcurrency(a.cfg.Download.Concurrency),
		provision.WithDownloader(eng.fetcher),
		provision.WithLogger(a.logger),
	)
	cfg.Apply(opts...)
	return provision.NewDriver(a.layout, eng.runtime, cfg), nil
}

// manifestPath picks the manifest from the argument, the config, or the
// workspace config folder, in that order.
func (a *App) manifestPath(args []string) string {
	switch {
	case len(args) > 0:
		return args[0]
	case a.cfg.Manifest != "":
		return a.cfg.Manifest
	default:
		return filepath.Join(a.layout.ConfigDir(), config.DefaultManifestName)
	}
}

// configWritePath is where config changes are saved: the file that was
// loaded, else the --config path, else the default location.
func (a *App) configWritePath() (string, error) {
	if a.cfgPath != "" {
		return a.cfgPath, nil
	}
	if a.flags.configPath != "" {
		return a.flags.configPath, nil
	}
	if a.configDir != "" {
		return filepath.Join(a.configDir, config.ConfigFileName+"."+config.ConfigFileExt), nil
	}
	return config.ConfigFilePath()
}

// Close closes the workspace log.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logFile == nil {
		return nil
	}
	a.logger.SetOutput(a.stderr)
	err := a.logFile.Close()
	a.logFile = nil
	return err
}
