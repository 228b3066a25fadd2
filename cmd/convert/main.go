// Command convert is the headless batch converter: it queues .enc files,
// checks the external tools and converts them to MusicXML.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"encore-converter/internal/config"
	"encore-converter/internal/convert"
	"encore-converter/internal/diagnostics"
	"encore-converter/internal/domain"
	"encore-converter/internal/history"
	"encore-converter/internal/jobs"
	"encore-converter/internal/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0-dev"

const (
	exitOK       = 0
	exitFailures = 1
	exitUsage    = 2
	exitNotReady = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, errHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "convert: %v\n", err)
		return exitUsage
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, "convert v"+version)
		return exitOK
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "convert: %v\n", err)
		return exitUsage
	}

	level := cfg.Log.Level
	if opts.verbose {
		level = "debug"
	}
	log := logger.New(&logger.Config{
		Level:       level,
		Format:      cfg.Log.Format,
		Output:      stderr,
		ServiceName: "encore-converter",
	})
	logger.SetDefaultLogger(log)
	defer func() { _ = logger.Sync() }()

	ctx := log.WithContext(context.Background())

	checker := diagnostics.NewChecker(cfg.Tools.SearchDirs,
		diagnostics.WithTools(diagnostics.Tools{
			Enc2Ly:  cfg.Tools.Enc2Ly,
			Python:  cfg.Tools.Python,
			Library: cfg.Tools.Library,
		}),
		diagnostics.WithShell(cfg.Tools.Shell),
		diagnostics.WithProbes(cfg.Tools.ExtraDirs...),
	)
	report := checker.Run(ctx, opts.outputDir)
	ready := readyToConvert(report)
	if opts.checkOnly || !ready {
		printReport(stdout, report)
		if !ready {
			return exitNotReady
		}
		return exitOK
	}

	paths, err := expandInputs(opts.inputs, opts.recursive)
	if err != nil {
		fmt.Fprintf(stderr, "convert: %v\n", err)
		return exitUsage
	}

	runnerOpts := []jobs.Option{jobs.WithEventBus(jobs.NewEventBus(cfg.Events.Max))}
	if cfg.History.Enabled && !opts.noHistory {
		store, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			log.WithError(err).Warn("conversion history disabled")
		} else {
			defer store.Close()
			if cutoff, ok := cfg.History.PruneCutoff(time.Now()); ok {
				if _, err := store.Prune(ctx, cutoff); err != nil {
					log.WithError(err).Warn("cannot prune conversion history")
				}
			}
			runnerOpts = append(runnerOpts, jobs.WithRecorder(store))
		}
	}

	pipeline := convert.NewPipeline(nil,
		convert.WithLibrary(cfg.Tools.Library, cfg.Tools.Subcommand),
		convert.WithEnc2LyName(cfg.Tools.Enc2Ly),
	)
	runner := jobs.NewBatchRunner(pipeline, runnerOpts...)
	runner.Subscribe(func(event jobs.Event) {
		if event.Type == jobs.EventTypeStatus && event.Status.IsTerminal() {
			printEvent(stdout, runner, event)
		}
	})

	added, err := runner.AddJobs(paths)
	if err != nil {
		fmt.Fprintf(stderr, "convert: %v\n", err)
		return exitFailures
	}
	if added == 0 {
		fmt.Fprintln(stderr, "convert: no .enc files given")
		return exitUsage
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		if _, ok := <-signals; ok {
			fmt.Fprintln(stderr, "convert: cancelling after the current file")
			_ = runner.Cancel()
		}
	}()

	if err := runner.Run(ctx, opts.outputDir, report.Environment); err != nil {
		fmt.Fprintf(stderr, "convert: %v\n", err)
		return exitFailures
	}

	counters := runner.Counters()
	fmt.Fprintf(stdout, "%d of %d converted, %d processed\n", counters.Completed, counters.Total, counters.Processed)
	if counters.HasErrors || counters.Processed < counters.Total {
		return exitFailures
	}
	return exitOK
}

// readyToConvert requires the tools and, when one was checked, a writable
// output directory.
func readyToConvert(report domain.DiagnosticReport) bool {
	if !report.Ready {
		return false
	}
	for _, item := range report.Items {
		if item.ID == domain.DiagnosticOutput && item.Status == domain.DiagnosticStatusFail {
			return false
		}
	}
	return true
}

func printEvent(w io.Writer, runner *jobs.BatchRunner, event jobs.Event) {
	name := event.JobID
	for _, job := range runner.Jobs() {
		if job.ID == event.JobID {
			name = job.Name()
			break
		}
	}
	switch event.Status {
	case domain.JobStatusDone:
		fmt.Fprintf(w, "done    %s -> %s\n", name, event.OutputPath)
	case domain.JobStatusFailed:
		fmt.Fprintf(w, "failed  %s: %s\n", name, event.Message)
	}
}

func printReport(w io.Writer, report domain.DiagnosticReport) {
	for _, item := range report.Items {
		fmt.Fprintf(w, "[%s] %s: %s\n", item.Status, item.Name, item.Message)
		if item.Hint != "" {
			fmt.Fprintf(w, "       %s\n", item.Hint)
		}
	}
}
