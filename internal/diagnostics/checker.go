// Package diagnostics locates the external converters and reports whether a
// batch can run.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"encore-converter/internal/domain"
	"encore-converter/internal/logger"
	"encore-converter/internal/process"
)

// Install hints shown next to failed checks.
const (
	Enc2LyInstallHint  = "Install with: go install github.com/hanwen/go-enc2ly@latest"
	PythonInstallHint  = "Install Python 3 and make sure python3 is on PATH."
	LibraryInstallHint = "Install with: pip3 install python-ly"
)

// Tools names the executables and library the converter depends on.
type Tools struct {
	Enc2Ly  string
	Python  string
	Library string
}

// DefaultTools returns the stock tool names.
func DefaultTools() Tools {
	return Tools{Enc2Ly: "go-enc2ly", Python: "python3", Library: "ly"}
}

// Probe reports whether a candidate path is a usable executable.
type Probe func(path string) bool

// Checker discovers tools through ordered directory probes and a shell
// fallback, and validates the output directory.
type Checker struct {
	tools      Tools
	searchDirs []string
	shell      string
	probe      Probe
	runner     process.Runner
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// Option customizes a Checker.
type Option func(*Checker)

// WithTools overrides the tool names.
func WithTools(tools Tools) Option {
	return func(c *Checker) {
		c.tools = tools
	}
}

// WithProbes appends extra directories after the configured ones.
func WithProbes(dirs ...string) Option {
	return func(c *Checker) {
		c.searchDirs = append(c.searchDirs, dirs...)
	}
}

// WithShell sets the shell used for the "which" fallback.
func WithShell(shell string) Option {
	return func(c *Checker) {
		if strings.TrimSpace(shell) != "" {
			c.shell = shell
		}
	}
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(searchDirs []string, opts ...Option) *Checker {
	c := &Checker{
		tools:      DefaultTools(),
		searchDirs: append([]string(nil), searchDirs...),
		shell:      "/bin/sh",
		probe:      IsExecutableFile,
		runner:     process.NewExecRunner(),
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run probes the tools and validates outputDir, returning a combined report.
func (c *Checker) Run(ctx context.Context, outputDir string) domain.DiagnosticReport {
	env := c.CheckEnvironment(ctx)
	report := c.Report(env)
	if outputDir != "" {
		item := c.checkOutputDir(outputDir)
		report.Items = append(report.Items, item)
		if item.Status == domain.DiagnosticStatusFail {
			report.HasFailures = true
		}
	}
	return report
}

// CheckEnvironment takes a fresh snapshot of the tool environment. Nothing is
// cached, so tools installed since the last call are picked up.
func (c *Checker) CheckEnvironment(ctx context.Context) domain.ToolEnvironment {
	var env domain.ToolEnvironment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		env.Enc2LyPath, _ = c.Locate(gctx, c.tools.Enc2Ly)
		return nil
	})
	g.Go(func() error {
		env.PythonPath, _ = c.Locate(gctx, c.tools.Python)
		return nil
	})
	_ = g.Wait()

	if env.PythonPath != "" {
		env.LibraryInstalled = c.VerifyLibrary(ctx, env.PythonPath)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldComponent: "diagnostics",
		"enc2ly":              env.Enc2LyPath,
		"python":              env.PythonPath,
		"library":             env.LibraryInstalled,
	}).Debug("tool environment checked")

	return env
}

// Locate returns the first well-known path holding an executable named name,
// then falls back to asking the shell.
func (c *Checker) Locate(ctx context.Context, name string) (string, bool) {
	if strings.TrimSpace(name) == "" {
		return "", false
	}
	for _, dir := range c.searchDirs {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if c.probe(candidate) {
			return candidate, true
		}
	}
	return c.which(ctx, name)
}

// which runs `<shell> -l -c "which <name>"` and parses one trimmed line.
func (c *Checker) which(ctx context.Context, name string) (string, bool) {
	result, err := c.runner.Run(ctx, c.shell, "-l", "-c", "which "+shellQuote(name))
	if err != nil || result.ExitCode != 0 {
		return "", false
	}
	path := strings.TrimSpace(result.Stdout)
	if idx := strings.IndexByte(path, '\n'); idx >= 0 {
		path = strings.TrimSpace(path[:idx])
	}
	if path == "" {
		return "", false
	}
	return path, true
}

// VerifyLibrary runs `<interpreter> -m <library> --version`. Any spawn
// failure or nonzero exit means the library is not available.
func (c *Checker) VerifyLibrary(ctx context.Context, interpreter string) bool {
	if interpreter == "" {
		return false
	}
	result, err := c.runner.Run(ctx, interpreter, "-m", c.tools.Library, "--version")
	if err != nil {
		return false
	}
	return result.ExitCode == 0
}

// Report turns an environment snapshot into banner items with install hints.
func (c *Checker) Report(env domain.ToolEnvironment) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		toolItem(domain.DiagnosticEnc2Ly, c.tools.Enc2Ly, env.Enc2LyPath, Enc2LyInstallHint),
		toolItem(domain.DiagnosticPython, c.tools.Python, env.PythonPath, PythonInstallHint),
		c.libraryItem(env),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Ready:       env.AllReady(),
		Environment: env,
		Items:       items,
	}
}

func toolItem(id, name, path, hint string) domain.DiagnosticItem {
	if path == "" {
		return domain.DiagnosticItem{
			ID:      id,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("%s not found", name),
			Hint:    hint,
		}
	}
	return domain.DiagnosticItem{
		ID:      id,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

func (c *Checker) libraryItem(env domain.ToolEnvironment) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticLibrary,
		Name: "python-" + c.tools.Library,
	}
	switch {
	case env.PythonPath == "":
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot check python-%s without %s", c.tools.Library, c.tools.Python)
		item.Hint = PythonInstallHint
	case !env.LibraryInstalled:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("python-%s not found", c.tools.Library)
		item.Hint = LibraryInstallHint
	default:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("%s -m %s is available", env.PythonPath, c.tools.Library)
	}
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticOutput,
		Name: "Output directory",
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for MusicXML export."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// IsExecutableFile reports whether path is a regular file with an execute bit.
func IsExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	tools Tools,
	searchDirs []string,
	probe Probe,
	runner process.Runner,
) *Checker {
	c := NewChecker(searchDirs, WithTools(tools))
	c.probe = probe
	c.runner = runner
	return c
}
