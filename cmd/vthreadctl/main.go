// Command vthreadctl is a small demo/harness binary that runs one of the
// six named scenarios on demand, against the in-memory simulator backend.
// The scenarios register their guest programs with the simulator, so any
// other backend -backend selects (including hvf, which auto picks on
// darwin/amd64) is rejected with an error.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/akaros/vmm-akaros/hv/factory"
	"github.com/akaros/vmm-akaros/hv/simulator"
	"github.com/akaros/vmm-akaros/internal/config"
	"github.com/akaros/vmm-akaros/internal/debug"
	"github.com/akaros/vmm-akaros/internal/timeslice"
	"github.com/akaros/vmm-akaros/vthread"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("vthreadctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a scenario configuration YAML file")
	scenarioFlag := fs.String("scenario", "", "scenario to run, overrides the config file")
	logLevelFlag := fs.String("log-level", "", "slog level (debug|info|warn|error), overrides the config file")
	backendFlag := fs.String("backend", string(factory.BackendAuto), "hypervisor backend: auto|hvf|simulator")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *scenarioFlag != "" {
		cfg.Scenario = *scenarioFlag
	}
	if *logLevelFlag != "" {
		cfg.LogLevel = *logLevelFlag
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if cfg.TracePath != "" {
		if err := debug.OpenFile(cfg.TracePath); err != nil {
			logger.Error("failed to open trace file", "path", cfg.TracePath, "error", err)
			return 1
		}
	}
	if cfg.TimeslicePath != "" {
		w, err := os.Create(cfg.TimeslicePath)
		if err != nil {
			logger.Error("failed to open timeslice file", "path", cfg.TimeslicePath, "error", err)
			return 1
		}
		defer w.Close()
		closer, err := timeslice.Open(w)
		if err != nil {
			logger.Error("failed to start timeslice recorder", "error", err)
			return 1
		}
		defer closer.Close()
	}

	sc, err := lookupScenario(cfg.Scenario)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}

	hyp, err := factory.Open(factory.Backend(*backendFlag))
	if err != nil {
		logger.Error("failed to open hypervisor backend", "backend", *backendFlag, "error", err)
		return 1
	}
	defer hyp.Close()

	sim, _ := hyp.(*simulator.Hypervisor)
	if sim == nil {
		logger.Error("scenario runner requires the simulator backend to register guest programs", "backend", *backendFlag)
		return 1
	}

	bar := newInitProgressBar()
	f, err := vthread.Init(hyp)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		logger.Error("vth_init failed", "error", err)
		return 1
	}

	logger.Info("running scenario", "name", sc.name, "description", sc.description)
	if err := sc.run(f, sim); err != nil {
		fmt.Println(colorize(false, fmt.Sprintf("FAIL %s: %v", sc.name, err)))
		return 1
	}
	fmt.Println(colorize(true, fmt.Sprintf("PASS %s", sc.name)))
	return 0
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// colorize greens a pass line and reds a fail line, stripping the escapes
// entirely when stdout isn't a terminal.
func colorize(ok bool, line string) string {
	code := "\x1b[31m"
	if ok {
		code = "\x1b[32m"
	}
	colored := code + line + "\x1b[0m"
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return ansi.Strip(colored)
	}
	return colored
}

// newInitProgressBar shows a cosmetic spinner while vth_init enumerates
// host regions and builds the identity address space, only when stdout is
// an interactive terminal; it is purely cosmetic; nil means "don't show one".
func newInitProgressBar() *progressbar.ProgressBar {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	return progressbar.Default(-1, "vth_init: building identity address space")
}
