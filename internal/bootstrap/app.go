// Package bootstrap wires configuration, discovery, conversion and history
// into the desktop shell.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"encore-converter/internal/config"
	"encore-converter/internal/convert"
	"encore-converter/internal/diagnostics"
	"encore-converter/internal/domain"
	"encore-converter/internal/history"
	"encore-converter/internal/jobs"
	"encore-converter/internal/logger"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// BatchEventName is the runtime event carrying jobs.Event payloads.
const BatchEventName = "batch:event"

var scoreDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Encore scores",
		Pattern:     "*.enc;*.ENC",
	},
}

// environmentChecker isolates tool discovery for tests.
type environmentChecker interface {
	Run(ctx context.Context, outputDir string) domain.DiagnosticReport
	CheckEnvironment(ctx context.Context) domain.ToolEnvironment
}

// historyStore is the read side of the conversion history.
type historyStore interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Close() error
}

// App wires configuration, the batch runner, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Runner      *jobs.BatchRunner
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     environmentChecker
	history     historyStore
	log         *logger.Logger

	mu         sync.Mutex
	runtimeCtx context.Context
}

// New builds the application from the default config locations.
func New() (*App, error) {
	return NewWithAssets(nil, "")
}

// NewWithAssets builds the application and optionally configures embedded
// frontend assets. An empty configPath uses the default search paths.
func NewWithAssets(assets fs.FS, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		File:        cfg.Log.File,
		MaxSizeMB:   10,
		MaxBackups:  3,
		ServiceName: "encore-converter",
	})
	logger.SetDefaultLogger(log)

	store := config.NewJSONStore(config.SettingsPath())
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker(cfg.Tools.SearchDirs,
		diagnostics.WithTools(diagnostics.Tools{
			Enc2Ly:  cfg.Tools.Enc2Ly,
			Python:  cfg.Tools.Python,
			Library: cfg.Tools.Library,
		}),
		diagnostics.WithShell(cfg.Tools.Shell),
		diagnostics.WithProbes(cfg.Tools.ExtraDirs...),
	)
	pipeline := convert.NewPipeline(nil,
		convert.WithLibrary(cfg.Tools.Library, cfg.Tools.Subcommand),
		convert.WithEnc2LyName(cfg.Tools.Enc2Ly),
	)

	runnerOpts := []jobs.Option{jobs.WithEventBus(jobs.NewEventBus(cfg.Events.Max))}
	var hist historyStore
	if cfg.History.Enabled {
		sqliteStore, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			log.WithError(err).Warn("conversion history disabled")
		} else {
			hist = sqliteStore
			if cutoff, ok := cfg.History.PruneCutoff(time.Now()); ok {
				if removed, err := sqliteStore.Prune(context.Background(), cutoff); err != nil {
					log.WithError(err).Warn("cannot prune conversion history")
				} else if removed > 0 {
					log.WithField(logger.FieldCount, removed).Info("pruned conversion history")
				}
			}
			runnerOpts = append(runnerOpts, jobs.WithRecorder(sqliteStore))
		}
	}

	app := newApp(store, settings, checker, jobs.NewBatchRunner(pipeline, runnerOpts...), hist, log)
	app.assets = assets
	app.Diagnostics = checker.Run(app.baseContext(), settings.OutputDir)
	return app, nil
}

// newApp assembles an App and subscribes it to runner events.
func newApp(store config.Store, settings domain.Settings, checker environmentChecker, runner *jobs.BatchRunner, hist historyStore, log *logger.Logger) *App {
	if log == nil {
		log = logger.GetDefault()
	}
	app := &App{
		Settings: settings,
		Store:    store,
		Runner:   runner,
		checker:  checker,
		history:  hist,
		log:      log,
	}
	runner.Subscribe(app.emit)
	return app
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Encore Converter",
		Width:       960,
		Height:      680,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown stops any active batch at the next file and releases resources.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	if err := a.Runner.Cancel(); err == nil {
		a.Runner.Wait()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.WithError(err).Warn("close history")
		}
	}
	_ = logger.Sync()
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.NormalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// AddFiles queues .enc paths and returns the full list.
func (a *App) AddFiles(paths []string) ([]domain.JobView, error) {
	added, err := a.Runner.AddJobs(paths)
	if err != nil {
		return nil, err
	}
	a.log.WithField(logger.FieldCount, added).Debug("files queued")
	return a.Runner.Views(), nil
}

// RemoveFile drops one queued file.
func (a *App) RemoveFile(id string) ([]domain.JobView, error) {
	if err := a.Runner.Remove(id); err != nil {
		return nil, err
	}
	return a.Runner.Views(), nil
}

// ClearFiles empties the queue.
func (a *App) ClearFiles() error {
	return a.Runner.Clear()
}

// Files returns the queued files with their statuses.
func (a *App) Files() []domain.JobView {
	return a.Runner.Views()
}

// Counters returns batch progress.
func (a *App) Counters() domain.Counters {
	return a.Runner.Counters()
}

// BatchEvents returns all events with sequence greater than sinceSeq.
func (a *App) BatchEvents(sinceSeq int64) []jobs.Event {
	return a.Runner.Events(sinceSeq)
}

// StartConversion re-checks the tools and starts the batch in the background.
func (a *App) StartConversion() (domain.Counters, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Counters{}, fmt.Errorf("load settings: %w", err)
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if !report.Ready {
		return a.Runner.Counters(), jobs.ErrToolsNotReady
	}

	if err := a.Runner.Start(a.baseContext(), settings.OutputDir, report.Environment); err != nil {
		return a.Runner.Counters(), err
	}
	return a.Runner.Counters(), nil
}

// CancelConversion stops the batch after the file being converted.
func (a *App) CancelConversion() error {
	return a.Runner.Cancel()
}

// RecentConversions lists finished jobs from previous and current runs.
func (a *App) RecentConversions(limit int) ([]history.Entry, error) {
	if a.history == nil {
		return nil, nil
	}
	return a.history.Recent(a.baseContext(), limit)
}

// PickInputFiles opens a native multi-select dialog for Encore scores and
// remembers the chosen directory.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defaultDir := a.Settings.InputDir
	a.mu.Unlock()

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:            "Select Encore files",
		DefaultDirectory: defaultDir,
		Filters:          scoreDialogFilter,
	})
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		a.rememberInputDir(filepath.Dir(paths[0]))
	}
	return paths, nil
}

// PickOutputDirectory opens a native directory picker for MusicXML exports.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:                "Select output directory",
		CanCreateDirectories: true,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

func (a *App) rememberInputDir(dir string) {
	settings, err := a.Store.Load()
	if err != nil {
		a.log.WithError(err).Warn("load settings")
		return
	}
	settings.InputDir = dir
	settings = config.NormalizeSettings(settings)
	if err := a.Store.Save(settings); err != nil {
		a.log.WithError(err).Warn("save input directory")
		return
	}
	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	report := a.checker.Run(a.baseContext(), settings.OutputDir)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	a.Diagnostics = report
	return report
}

// emit forwards runner events to the frontend.
func (a *App) emit(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, BatchEventName, event)
	}
	if event.Type == jobs.EventTypeStatus && event.Status == domain.JobStatusFailed {
		a.log.WithFields(logger.Fields{
			logger.FieldJobID: event.JobID,
			logger.FieldKind:  event.Kind,
		}).Debug(event.Message)
	}
}

// baseContext carries the app logger into core calls.
func (a *App) baseContext() context.Context {
	return a.log.WithContext(context.Background())
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, errors.New("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
