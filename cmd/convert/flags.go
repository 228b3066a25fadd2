package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"encore-converter/internal/config"
	"encore-converter/internal/convert"
)

var errHelp = errors.New("help requested")

type options struct {
	outputDir   string
	configPath  string
	recursive   bool
	checkOnly   bool
	noHistory   bool
	verbose     bool
	showVersion bool
	inputs      []string
}

// parseFlags parses args into options. Positional arguments are .enc files
// or directories holding them.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(fs, stderr) }

	defaultOut := config.DefaultSettings().OutputDir
	fs.StringVar(&opts.outputDir, "output", defaultOut, "Directory for .musicxml files")
	fs.StringVar(&opts.outputDir, "o", defaultOut, "Same as --output")
	fs.StringVar(&opts.configPath, "config", "", "Config file (default ./config.yaml or ~/.encore-converter/config.yaml)")
	fs.BoolVar(&opts.recursive, "recursive", false, "Search directories recursively")
	fs.BoolVar(&opts.recursive, "r", false, "Same as --recursive")
	fs.BoolVar(&opts.checkOnly, "check", false, "Only check the external tools and exit")
	fs.BoolVar(&opts.noHistory, "no-history", false, "Do not record outcomes in the history database")
	fs.BoolVar(&opts.verbose, "verbose", false, "Debug logging")
	fs.BoolVar(&opts.verbose, "v", false, "Same as --verbose")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, errHelp
		}
		return opts, err
	}

	opts.outputDir = strings.TrimSpace(opts.outputDir)
	opts.inputs = fs.Args()
	if opts.showVersion || opts.checkOnly {
		return opts, nil
	}
	if opts.outputDir == "" {
		return opts, fmt.Errorf("output directory is required")
	}
	if len(opts.inputs) == 0 {
		return opts, fmt.Errorf("at least one .enc file or directory is required")
	}
	return opts, nil
}

// expandInputs replaces directories with the .enc files they contain, in
// lexical order. Plain files pass through unchanged.
func expandInputs(inputs []string, recursive bool) ([]string, error) {
	var out []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", input, err)
		}
		if !info.IsDir() {
			out = append(out, input)
			continue
		}

		var found []string
		err = filepath.WalkDir(input, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != input && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if convert.HasInputExt(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", input, err)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "Usage: convert [options] <file.enc|dir>...")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Converts Encore scores to MusicXML via go-enc2ly and python-ly.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.PrintDefaults()
}
