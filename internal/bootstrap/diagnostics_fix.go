package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	goruntime "runtime"
	"strings"
	"time"

	"encore-converter/internal/config"
	"encore-converter/internal/domain"
	"encore-converter/internal/logger"
	"encore-converter/internal/process"
)

const (
	enc2lyModule        = "github.com/hanwen/go-enc2ly@latest"
	pythonLibraryPkg    = "python-ly"
	installCommandLimit = 15 * time.Minute
	maxCommandOutput    = 500
)

type installOption struct {
	manager  string
	commands [][]string
}

// installer runs remediation commands through injectable hooks.
type installer struct {
	runner    process.Runner
	available func(name string) bool
	timeout   time.Duration
}

func newInstaller() *installer {
	return &installer{
		runner:    process.NewExecRunner(),
		available: commandAvailable,
		timeout:   installCommandLimit,
	}
}

// InstallOrFixDiagnostic applies a remediation for one failed diagnostic item
// and returns the refreshed report.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	return a.installOrFix(newInstaller(), itemID)
}

func (a *App) installOrFix(inst *installer, itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.NormalizeSettings(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case domain.DiagnosticEnc2Ly:
		fixErr = inst.installEnc2Ly()
	case domain.DiagnosticPython:
		fixErr = inst.installPythonForCurrentOS()
	case domain.DiagnosticLibrary:
		env := a.checker.CheckEnvironment(a.baseContext())
		fixErr = inst.installLibrary(env.PythonPath)
	case domain.DiagnosticOutput:
		settings, settingsChanged, fixErr = installOrFixOutputDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	log := a.log.WithField(logger.FieldTool, id)
	if fixErr != nil {
		log.WithError(fixErr).Warn("install or fix failed")
	} else {
		log.Info("install or fix applied")
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

// installEnc2Ly builds the converter with the Go toolchain into GOBIN or ~/go/bin.
func (i *installer) installEnc2Ly() error {
	if !i.available("go") {
		return fmt.Errorf("install go-enc2ly: the Go toolchain is not on PATH")
	}
	if err := i.run("go", "install", enc2lyModule); err != nil {
		return fmt.Errorf("install go-enc2ly: %w", err)
	}
	return nil
}

// installLibrary installs python-ly for the located interpreter, falling back to pip3.
func (i *installer) installLibrary(pythonPath string) error {
	interpreter := strings.TrimSpace(pythonPath)
	if interpreter == "" {
		interpreter = "python3"
	}

	options := []installOption{
		{
			manager: interpreter,
			commands: [][]string{
				{interpreter, "-m", "pip", "install", "--user", pythonLibraryPkg},
			},
		},
		{
			manager: "pip3",
			commands: [][]string{
				{"pip3", "install", "--user", pythonLibraryPkg},
			},
		},
	}

	if err := i.runFirstSuccessfulInstall(options); err != nil {
		return fmt.Errorf("install %s: %w", pythonLibraryPkg, err)
	}
	return nil
}

func (i *installer) installPythonForCurrentOS() error {
	var options []installOption

	switch goruntime.GOOS {
	case "windows":
		options = []installOption{
			{
				manager: "winget",
				commands: [][]string{
					{"winget", "install", "--id", "Python.Python.3.12", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
				},
			},
			{
				manager: "choco",
				commands: [][]string{
					{"choco", "install", "python", "-y"},
				},
			},
			{
				manager: "scoop",
				commands: [][]string{
					{"scoop", "install", "python"},
				},
			},
		}
	case "darwin":
		options = []installOption{
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "python"},
				},
			},
		}
	default:
		options = []installOption{
			{
				manager: "apt-get",
				commands: [][]string{
					{"apt-get", "update"},
					{"apt-get", "install", "-y", "python3", "python3-pip"},
				},
			},
			{
				manager: "dnf",
				commands: [][]string{
					{"dnf", "install", "-y", "python3", "python3-pip"},
				},
			},
			{
				manager: "pacman",
				commands: [][]string{
					{"pacman", "-Sy", "--noconfirm", "python", "python-pip"},
				},
			},
			{
				manager: "zypper",
				commands: [][]string{
					{"zypper", "install", "-y", "python3", "python3-pip"},
				},
			},
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "python"},
				},
			},
		}
	}

	if err := i.runFirstSuccessfulInstall(options); err != nil {
		return fmt.Errorf("install python3: %w", err)
	}
	return nil
}

func (i *installer) runFirstSuccessfulInstall(options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", goruntime.GOOS)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !i.available(option.manager) {
			continue
		}
		atLeastOneManager = true
		err := i.runInstallCommands(option.commands)
		if err == nil {
			return nil
		}
		errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if !atLeastOneManager {
		return fmt.Errorf("no supported installer found for %s", goruntime.GOOS)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

func (i *installer) runInstallCommands(commands [][]string) error {
	for _, command := range commands {
		if err := i.runWithPossibleElevation(command); err != nil {
			return err
		}
	}
	return nil
}

func (i *installer) runWithPossibleElevation(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if goruntime.GOOS == "linux" && requiresElevation(command[0]) {
		if i.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if i.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		err := i.run(candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attemptErrors = append(attemptErrors, err.Error())
	}

	return errors.New(strings.Join(attemptErrors, " | "))
}

// run executes one command with a timeout; a nonzero exit becomes an error
// carrying the trimmed tool output.
func (i *installer) run(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	result, err := i.runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	if result.ExitCode == 0 {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), i.timeout)
	}

	output := strings.TrimSpace(result.Stderr)
	if output == "" {
		output = strings.TrimSpace(result.Stdout)
	}
	if len(output) > maxCommandOutput {
		output = output[:maxCommandOutput] + "..."
	}
	if output == "" {
		return fmt.Errorf("%s failed: exit code %d", formatCommand(name, args), result.ExitCode)
	}
	return fmt.Errorf("%s failed: exit code %d (%s)", formatCommand(name, args), result.ExitCode, output)
}

func formatCommand(name string, args []string) string {
	parts := append([]string{name}, args...)
	return strings.Join(parts, " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func installOrFixOutputDir(settings domain.Settings) (domain.Settings, bool, error) {
	outputDir := strings.TrimSpace(settings.OutputDir)
	changed := false
	if outputDir == "" {
		outputDir = config.DefaultSettings().OutputDir
		settings.OutputDir = outputDir
		changed = true
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create output directory %s: %w", outputDir, err)
	}

	return settings, changed, nil
}
