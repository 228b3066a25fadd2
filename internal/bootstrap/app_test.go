package bootstrap

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"encore-converter/internal/domain"
	"encore-converter/internal/history"
	"encore-converter/internal/jobs"
	"encore-converter/internal/logger"
)

// fakeStore keeps settings in memory.
type fakeStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saves    int
}

func (s *fakeStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *fakeStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.saves++
	return nil
}

// fakeChecker returns a fixed environment and records the output dirs it saw.
type fakeChecker struct {
	mu         sync.Mutex
	env        domain.ToolEnvironment
	outputDirs []string
}

func (c *fakeChecker) Run(_ context.Context, outputDir string) domain.DiagnosticReport {
	c.mu.Lock()
	c.outputDirs = append(c.outputDirs, outputDir)
	env := c.env
	c.mu.Unlock()
	return domain.DiagnosticReport{
		Ready:       env.AllReady(),
		HasFailures: !env.AllReady(),
		Environment: env,
	}
}

func (c *fakeChecker) CheckEnvironment(context.Context) domain.ToolEnvironment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.env
}

// fakeConverter writes nothing and reports a derived output path.
type fakeConverter struct{}

func (fakeConverter) Convert(_ context.Context, sourcePath, outputDir string, _ domain.ToolEnvironment) (string, error) {
	return filepath.Join(outputDir, filepath.Base(sourcePath)+".musicxml"), nil
}

// fakeHistory returns canned entries.
type fakeHistory struct {
	entries []history.Entry
	closed  bool
}

func (h *fakeHistory) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	if limit < len(h.entries) {
		return h.entries[:limit], nil
	}
	return h.entries, nil
}

func (h *fakeHistory) Close() error {
	h.closed = true
	return nil
}

var readyEnv = domain.ToolEnvironment{
	Enc2LyPath:       "/opt/bin/go-enc2ly",
	PythonPath:       "/usr/bin/python3",
	LibraryInstalled: true,
}

func newTestApp(t *testing.T, env domain.ToolEnvironment) (*App, *fakeStore, *fakeChecker) {
	t.Helper()
	store := &fakeStore{settings: domain.Settings{OutputDir: t.TempDir()}}
	checker := &fakeChecker{env: env}
	app := newApp(store, store.settings, checker, jobs.NewBatchRunner(fakeConverter{}), nil, logger.GetDefault())
	return app, store, checker
}

func TestStartConversionRequiresReadyTools(t *testing.T) {
	env := readyEnv
	env.LibraryInstalled = false
	app, _, checker := newTestApp(t, env)

	_, err := app.AddFiles([]string{"/scores/a.enc"})
	require.NoError(t, err)

	_, err = app.StartConversion()
	require.ErrorIs(t, err, jobs.ErrToolsNotReady)
	assert.False(t, app.GetDiagnostics().Ready)
	assert.Len(t, checker.outputDirs, 1, "every start re-checks the environment")
	assert.Equal(t, domain.JobStatusPending, app.Files()[0].Status)
}

func TestStartConversionRunsBatch(t *testing.T) {
	app, store, _ := newTestApp(t, readyEnv)

	files, err := app.AddFiles([]string{"/scores/a.enc", "/scores/b.enc", "/scores/readme.txt"})
	require.NoError(t, err)
	require.Len(t, files, 2)

	var mu sync.Mutex
	var seen []jobs.Event
	app.Runner.Subscribe(func(event jobs.Event) {
		mu.Lock()
		seen = append(seen, event)
		mu.Unlock()
	})

	_, err = app.StartConversion()
	require.NoError(t, err)
	app.Runner.Wait()

	counters := app.Counters()
	assert.Equal(t, 2, counters.Completed)
	assert.False(t, counters.Running)
	for _, file := range app.Files() {
		assert.Equal(t, domain.JobStatusDone, file.Status)
		assert.Equal(t, store.settings.OutputDir, filepath.Dir(file.OutputPath))
	}

	events := app.BatchEvents(0)
	require.NotEmpty(t, events)
	assert.Equal(t, "batch finished", events[len(events)-1].Message)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1].Message == "batch finished"
	}, time.Second, 10*time.Millisecond)
}

func TestCancelConversionWhenIdle(t *testing.T) {
	app, _, _ := newTestApp(t, readyEnv)
	assert.ErrorIs(t, app.CancelConversion(), jobs.ErrNotRunning)
}

func TestRemoveAndClearFiles(t *testing.T) {
	app, _, _ := newTestApp(t, readyEnv)

	files, err := app.AddFiles([]string{"/scores/a.enc", "/scores/b.enc"})
	require.NoError(t, err)

	files, err = app.RemoveFile(files[0].ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.enc", files[0].Name)

	require.NoError(t, app.ClearFiles())
	assert.Empty(t, app.Files())

	_, err = app.StartConversion()
	assert.ErrorIs(t, err, jobs.ErrNoJobs)
}

func TestSaveSettingsNormalizesAndRefreshesDiagnostics(t *testing.T) {
	app, store, checker := newTestApp(t, readyEnv)
	dir := t.TempDir()

	saved, err := app.SaveSettings(domain.Settings{OutputDir: "  " + dir + "  "})
	require.NoError(t, err)
	assert.Equal(t, dir, saved.OutputDir)
	assert.Equal(t, dir, store.settings.OutputDir)
	assert.Equal(t, []string{dir}, checker.outputDirs)
	assert.True(t, app.GetDiagnostics().Ready)

	loaded, err := app.GetSettings()
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestRefreshDiagnosticsPicksUpNewTools(t *testing.T) {
	app, _, checker := newTestApp(t, domain.ToolEnvironment{})

	report, err := app.RefreshDiagnostics()
	require.NoError(t, err)
	assert.False(t, report.Ready)

	checker.mu.Lock()
	checker.env = readyEnv
	checker.mu.Unlock()

	report, err = app.RefreshDiagnostics()
	require.NoError(t, err)
	assert.True(t, report.Ready)
}

func TestDialogsRequireRuntimeContext(t *testing.T) {
	app, _, _ := newTestApp(t, readyEnv)

	_, err := app.PickInputFiles()
	assert.Error(t, err)
	_, err = app.PickOutputDirectory()
	assert.Error(t, err)
}

func TestOpenOutputFolderValidatesPath(t *testing.T) {
	app, _, _ := newTestApp(t, readyEnv)
	app.Settings.OutputDir = ""

	assert.Error(t, app.OpenOutputFolder(""))
	assert.Error(t, app.OpenOutputFolder(filepath.Join(t.TempDir(), "missing")))
}

func TestRecentConversions(t *testing.T) {
	app, _, _ := newTestApp(t, readyEnv)

	entries, err := app.RecentConversions(10)
	require.NoError(t, err)
	assert.Nil(t, entries)

	hist := &fakeHistory{entries: []history.Entry{{JobID: "a"}, {JobID: "b"}}}
	app.history = hist
	entries, err = app.RecentConversions(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].JobID)

	app.Shutdown(context.Background())
	assert.True(t, hist.closed)
}
