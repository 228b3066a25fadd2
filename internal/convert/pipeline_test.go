package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"encore-converter/internal/domain"
	"encore-converter/internal/process"
)

// fakeRunner answers each call through an injected function.
type fakeRunner struct {
	calls int
	run   func(call int, name string, args ...string) (process.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (process.Result, error) {
	f.calls++
	if f.run == nil {
		return process.Result{}, nil
	}
	return f.run(f.calls, name, args...)
}

var testEnv = domain.ToolEnvironment{
	Enc2LyPath:       "/opt/bin/go-enc2ly",
	PythonPath:       "/usr/bin/python3",
	LibraryInstalled: true,
}

func TestArtifactPaths(t *testing.T) {
	paths := ArtifactPaths("/in/Sonata No. 1.enc", "/out")
	assert.Equal(t, "/out/Sonata No. 1.ly", paths.Intermediate)
	assert.Equal(t, "/out/Sonata No. 1.musicxml", paths.Final)

	assert.True(t, HasInputExt("/in/a.ENC"))
	assert.False(t, HasInputExt("/in/a.ly"))
}

func TestConvertSuccessRemovesIntermediate(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "out")
	var stage2Args []string
	var intermediateBody string

	runner := &fakeRunner{run: func(call int, name string, args ...string) (process.Result, error) {
		switch call {
		case 1:
			require.Equal(t, testEnv.Enc2LyPath, name)
			require.Equal(t, []string{"/in/song.enc"}, args)
			return process.Result{Stdout: "\\version \"2.24\"\n{ c'4 }", ExitCode: 0}, nil
		case 2:
			require.Equal(t, testEnv.PythonPath, name)
			stage2Args = append([]string(nil), args...)
			data, err := os.ReadFile(args[3])
			require.NoError(t, err)
			intermediateBody = string(data)
			require.NoError(t, os.WriteFile(args[5], []byte("<score-partwise/>"), 0o644))
			return process.Result{ExitCode: 0}, nil
		default:
			t.Fatalf("unexpected call %d", call)
			return process.Result{}, nil
		}
	}}

	pipeline := NewPipeline(runner)
	finalPath, err := pipeline.Convert(context.Background(), "/in/song.enc", outputDir, testEnv)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outputDir, "song.musicxml"), finalPath)
	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, []string{"-m", "ly", "musicxml",
		filepath.Join(outputDir, "song.ly"), "-o", finalPath}, stage2Args)
	assert.Equal(t, "\\version \"2.24\"\n{ c'4 }", intermediateBody)
	assert.FileExists(t, finalPath)
	assert.NoFileExists(t, filepath.Join(outputDir, "song.ly"))
}

func TestConvertStage1Failures(t *testing.T) {
	tests := []struct {
		name    string
		result  process.Result
		kind    Kind
		message string
	}{
		{
			name:    "stderr preferred",
			result:  process.Result{Stderr: "parse error", ExitCode: 1},
			kind:    KindStage1Failed,
			message: "go-enc2ly error: parse error",
		},
		{
			name:    "exit code fallback",
			result:  process.Result{ExitCode: 3},
			kind:    KindStage1Failed,
			message: "go-enc2ly error: exit code 3",
		},
		{
			name:    "empty stdout",
			result:  process.Result{ExitCode: 0},
			kind:    KindStage1Empty,
			message: "go-enc2ly produced no output: no output produced",
		},
		{
			name:    "empty stdout with stderr",
			result:  process.Result{Stderr: "unsupported version", ExitCode: 0},
			kind:    KindStage1Empty,
			message: "go-enc2ly produced no output: unsupported version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputDir := t.TempDir()
			runner := &fakeRunner{run: func(call int, _ string, _ ...string) (process.Result, error) {
				require.Equal(t, 1, call, "stage 2 must not run")
				return tt.result, nil
			}}

			_, err := NewPipeline(runner).Convert(context.Background(), "/in/song.enc", outputDir, testEnv)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.message, err.Error())

			var convErr *ConversionError
			require.ErrorAs(t, err, &convErr)
			assert.Equal(t, tt.result.Stderr, convErr.Stderr)
			assert.NoFileExists(t, filepath.Join(outputDir, "song.ly"))
		})
	}
}

func TestConvertStage2Failures(t *testing.T) {
	tests := []struct {
		name    string
		result  process.Result
		message string
	}{
		{
			name:    "stderr preferred",
			result:  process.Result{Stdout: "progress", Stderr: "bad token", ExitCode: 1},
			message: "ly musicxml error: bad token",
		},
		{
			name:    "stdout fallback",
			result:  process.Result{Stdout: "Traceback", ExitCode: 1},
			message: "ly musicxml error: Traceback",
		},
		{
			name:    "exit code fallback",
			result:  process.Result{ExitCode: 2},
			message: "ly musicxml error: exit code 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputDir := t.TempDir()
			runner := &fakeRunner{run: func(call int, _ string, _ ...string) (process.Result, error) {
				if call == 1 {
					return process.Result{Stdout: "{ c }"}, nil
				}
				return tt.result, nil
			}}

			_, err := NewPipeline(runner).Convert(context.Background(), "/in/song.enc", outputDir, testEnv)
			require.Error(t, err)
			assert.Equal(t, KindStage2Failed, KindOf(err))
			assert.Equal(t, tt.message, err.Error())

			var convErr *ConversionError
			require.ErrorAs(t, err, &convErr)
			assert.Equal(t, tt.result.Stdout, convErr.Stdout)
			assert.Equal(t, tt.result.Stderr, convErr.Stderr)
			assert.NoFileExists(t, filepath.Join(outputDir, "song.ly"))
		})
	}
}

func TestConvertZeroExitWithoutFileIsNoOutput(t *testing.T) {
	outputDir := t.TempDir()
	runner := &fakeRunner{run: func(call int, _ string, _ ...string) (process.Result, error) {
		if call == 1 {
			return process.Result{Stdout: "{ c }"}, nil
		}
		return process.Result{Stdout: "warning: unsupported grob", ExitCode: 0}, nil
	}}

	_, err := NewPipeline(runner).Convert(context.Background(), "/in/song.enc", outputDir, testEnv)
	require.Error(t, err)
	assert.Equal(t, KindStage2NoOutput, KindOf(err))
	assert.Equal(t, "ly musicxml: warning: unsupported grob", err.Error())
	assert.NoFileExists(t, filepath.Join(outputDir, "song.ly"))
}

func TestConvertNoOutputDefaultMessage(t *testing.T) {
	var removed []string
	runner := &fakeRunner{run: func(call int, _ string, _ ...string) (process.Result, error) {
		if call == 1 {
			return process.Result{Stdout: "{ c }"}, nil
		}
		return process.Result{}, nil
	}}
	stat := func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
	remove := func(name string) error {
		removed = append(removed, name)
		return os.Remove(name)
	}

	outputDir := t.TempDir()
	_, err := NewPipelineForTests(runner, stat, remove).Convert(context.Background(), "/in/song.enc", outputDir, testEnv)
	require.Error(t, err)
	assert.Equal(t, "ly musicxml: output file was not generated", err.Error())
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, []string{
		filepath.Join(outputDir, "song.musicxml"),
		filepath.Join(outputDir, "song.ly"),
	}, removed)
}

func TestConvertLeftoverOutputIsNotSuccess(t *testing.T) {
	outputDir := t.TempDir()
	stale := filepath.Join(outputDir, "song.musicxml")
	require.NoError(t, os.WriteFile(stale, []byte("<old/>"), 0o644))

	runner := &fakeRunner{run: func(call int, _ string, _ ...string) (process.Result, error) {
		if call == 1 {
			return process.Result{Stdout: "{ c }"}, nil
		}
		return process.Result{Stdout: "warning: nothing converted", ExitCode: 0}, nil
	}}

	_, err := NewPipeline(runner).Convert(context.Background(), "/in/song.enc", outputDir, testEnv)
	require.Error(t, err)
	assert.Equal(t, KindStage2NoOutput, KindOf(err))
	assert.Equal(t, "ly musicxml: warning: nothing converted", err.Error())
	assert.NoFileExists(t, stale)
}

func TestConvertLeftoverOutputIsReplaced(t *testing.T) {
	outputDir := t.TempDir()
	final := filepath.Join(outputDir, "song.musicxml")
	require.NoError(t, os.WriteFile(final, []byte("<old/>"), 0o644))

	runner := &fakeRunner{run: func(call int, _ string, args ...string) (process.Result, error) {
		if call == 1 {
			return process.Result{Stdout: "{ c }"}, nil
		}
		require.NoFileExists(t, args[5])
		require.NoError(t, os.WriteFile(args[5], []byte("<new/>"), 0o644))
		return process.Result{}, nil
	}}

	path, err := NewPipeline(runner).Convert(context.Background(), "/in/song.enc", outputDir, testEnv)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<new/>", string(data))
}

func TestConvertOutputDirFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	runner := &fakeRunner{}

	_, err := NewPipeline(runner).Convert(context.Background(), "/in/song.enc", filepath.Join(blocker, "out"), testEnv)
	require.Error(t, err)
	assert.Equal(t, KindOutputDir, KindOf(err))
	assert.Contains(t, err.Error(), "cannot create output directory")
	assert.Zero(t, runner.calls)
}

func TestConvertToolUnreachable(t *testing.T) {
	cause := &process.UnreachableError{Path: testEnv.Enc2LyPath, Err: os.ErrNotExist}
	runner := &fakeRunner{run: func(int, string, ...string) (process.Result, error) {
		return process.Result{}, cause
	}}

	_, err := NewPipeline(runner).Convert(context.Background(), "/in/song.enc", t.TempDir(), testEnv)
	require.Error(t, err)
	assert.Equal(t, KindToolUnreachable, KindOf(err))
	assert.ErrorIs(t, err, process.ErrToolUnreachable)
	assert.Equal(t, 1, runner.calls)
}

func TestCancelledError(t *testing.T) {
	err := Cancelled(context.Canceled)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Equal(t, CancelledMessage, err.Error())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
