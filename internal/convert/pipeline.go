// Package convert runs the two-stage Encore → LilyPond → MusicXML conversion
// for a single file.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"encore-converter/internal/domain"
	"encore-converter/internal/logger"
	"encore-converter/internal/process"
)

const (
	InputExt        = ".enc"
	IntermediateExt = ".ly"
	FinalExt        = ".musicxml"
)

// HasInputExt reports whether path carries the Encore extension, ignoring case.
func HasInputExt(path string) bool {
	return strings.EqualFold(filepath.Ext(path), InputExt)
}

// Paths are the artifact locations derived for one source file.
type Paths struct {
	Intermediate string
	Final        string
}

// ArtifactPaths derives <outputDir>/<base>.ly and <outputDir>/<base>.musicxml.
func ArtifactPaths(sourcePath, outputDir string) Paths {
	name := filepath.Base(sourcePath)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return Paths{
		Intermediate: filepath.Join(outputDir, base+IntermediateExt),
		Final:        filepath.Join(outputDir, base+FinalExt),
	}
}

// Pipeline converts one file by chaining go-enc2ly and python-ly.
type Pipeline struct {
	runner     process.Runner
	enc2lyName string
	library    string
	subcommand string
	writeFile  func(name string, data []byte, perm os.FileMode) error
	stat       func(name string) (os.FileInfo, error)
	remove     func(name string) error
	mkdirAll   func(path string, perm os.FileMode) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLibrary sets the python module and its conversion subcommand.
func WithLibrary(library, subcommand string) Option {
	return func(p *Pipeline) {
		if library != "" {
			p.library = library
		}
		if subcommand != "" {
			p.subcommand = subcommand
		}
	}
}

// WithEnc2LyName sets the tool name used in stage 1 failure messages.
func WithEnc2LyName(name string) Option {
	return func(p *Pipeline) {
		if name != "" {
			p.enc2lyName = name
		}
	}
}

// NewPipeline constructs the production pipeline with OS dependencies.
func NewPipeline(runner process.Runner, opts ...Option) *Pipeline {
	if runner == nil {
		runner = process.NewExecRunner()
	}
	p := &Pipeline{
		runner:     runner,
		enc2lyName: "go-enc2ly",
		library:    "ly",
		subcommand: "musicxml",
		writeFile:  os.WriteFile,
		stat:       os.Stat,
		remove:     os.Remove,
		mkdirAll:   os.MkdirAll,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Convert runs both stages for sourcePath and returns the MusicXML path.
// The intermediate .ly file is removed before returning, whatever the outcome
// of stage 2; removal errors are ignored.
func (p *Pipeline) Convert(ctx context.Context, sourcePath, outputDir string, env domain.ToolEnvironment) (string, error) {
	paths := ArtifactPaths(sourcePath, outputDir)
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldComponent: "convert",
		logger.FieldSource:    sourcePath,
	})

	if err := p.mkdirAll(outputDir, 0o755); err != nil {
		return "", &ConversionError{
			Kind:    KindOutputDir,
			Message: fmt.Sprintf("cannot create output directory %s: %v", outputDir, err),
			Err:     err,
		}
	}

	start := time.Now()
	if err := p.runStage1(ctx, env.Enc2LyPath, sourcePath, paths.Intermediate); err != nil {
		failureEntry(log, err).WithField(logger.FieldStage, "enc2ly").Warn("stage 1 failed")
		return "", err
	}
	defer func() {
		_ = p.remove(paths.Intermediate)
	}()

	if err := p.runStage2(ctx, env.PythonPath, paths.Intermediate, paths.Final); err != nil {
		failureEntry(log, err).WithField(logger.FieldStage, "musicxml").Warn("stage 2 failed")
		return "", err
	}

	log.WithFields(logger.Fields{
		logger.FieldOutput:     paths.Final,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("file converted")
	return paths.Final, nil
}

// runStage1 saves the LilyPond go-enc2ly writes to stdout at the
// intermediate path.
func (p *Pipeline) runStage1(ctx context.Context, toolPath, sourcePath, intermediatePath string) error {
	args := []string{sourcePath}
	result, err := p.runner.Run(ctx, toolPath, args...)
	if err != nil {
		return unreachable(toolPath, args, err)
	}

	if result.ExitCode != 0 {
		return &ConversionError{
			Kind:     KindStage1Failed,
			Message:  fmt.Sprintf("%s error: %s", p.enc2lyName, diagnostic(result.ExitCode, result.Stderr)),
			Command:  toolPath,
			Args:     args,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}

	if result.Stdout == "" {
		info := result.Stderr
		if info == "" {
			info = "no output produced"
		}
		return &ConversionError{
			Kind:     KindStage1Empty,
			Message:  fmt.Sprintf("%s produced no output: %s", p.enc2lyName, info),
			Command:  toolPath,
			Args:     args,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}

	if err := p.writeFile(intermediatePath, []byte(result.Stdout), 0o644); err != nil {
		_ = p.remove(intermediatePath)
		return &ConversionError{
			Kind:    KindStage1Failed,
			Message: fmt.Sprintf("cannot write %s: %v", intermediatePath, err),
			Command: toolPath,
			Args:    args,
			Err:     err,
		}
	}
	return nil
}

// runStage2 runs python -m ly musicxml <in> -o <out>. A zero exit is not
// enough; the output file must exist afterwards. A file left by an earlier
// run is removed first so it cannot pass for fresh output.
func (p *Pipeline) runStage2(ctx context.Context, pythonPath, intermediatePath, finalPath string) error {
	args := []string{"-m", p.library, p.subcommand, intermediatePath, "-o", finalPath}
	label := p.library + " " + p.subcommand

	if err := p.remove(finalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &ConversionError{
			Kind:    KindStage2Failed,
			Message: fmt.Sprintf("cannot replace existing %s: %v", finalPath, err),
			Command: pythonPath,
			Args:    args,
			Err:     err,
		}
	}

	result, err := p.runner.Run(ctx, pythonPath, args...)
	if err != nil {
		return unreachable(pythonPath, args, err)
	}

	if result.ExitCode != 0 {
		return &ConversionError{
			Kind:     KindStage2Failed,
			Message:  fmt.Sprintf("%s error: %s", label, diagnostic(result.ExitCode, result.Stderr, result.Stdout)),
			Command:  pythonPath,
			Args:     args,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}

	if _, err := p.stat(finalPath); err != nil {
		info := result.Stdout
		if info == "" {
			info = "output file was not generated"
		}
		return &ConversionError{
			Kind:     KindStage2NoOutput,
			Message:  fmt.Sprintf("%s: %s", label, info),
			Command:  pythonPath,
			Args:     args,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			Err:      err,
		}
	}
	return nil
}

func failureEntry(log *logger.Logger, err error) *logger.Logger {
	entry := log.WithError(err)
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		entry = entry.WithFields(logger.Fields{
			logger.FieldKind:     string(convErr.Kind),
			logger.FieldExitCode: convErr.ExitCode,
		})
	}
	return entry
}

func unreachable(toolPath string, args []string, err error) *ConversionError {
	var unreachableErr *process.UnreachableError
	message := fmt.Sprintf("could not run %s: %v", toolPath, err)
	if errors.As(err, &unreachableErr) {
		message = unreachableErr.Error()
	}
	return &ConversionError{
		Kind:     KindToolUnreachable,
		Message:  message,
		Command:  toolPath,
		Args:     args,
		ExitCode: -1,
		Err:      err,
	}
}

// NewPipelineForTests constructs a pipeline with injectable filesystem hooks.
func NewPipelineForTests(
	runner process.Runner,
	stat func(name string) (os.FileInfo, error),
	remove func(name string) error,
) *Pipeline {
	p := NewPipeline(runner)
	p.stat = stat
	p.remove = remove
	return p
}
