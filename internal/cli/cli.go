package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/pipegridgo/internal/app"
	"github.com/vk/pipegridgo/internal/worker"
)

// defaultCacheDir resolves the cache root used when -cache is not given.
func defaultCacheDir() string {
	if dir := os.Getenv("PIPEGRID_CACHE"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pipegrid-cache")
	}
	return filepath.Join(home, ".pipegrid", "cache")
}

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pipegrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
PipeGrid - A cache-aware pipeline graph execution engine.

Usage:
  pipegrid [options] [TEMPLATE_PATH]

Arguments:
  TEMPLATE_PATH
    Path to a pipeline template file (.json or .hcl).

Options:
`)
		flagSet.PrintDefaults()
	}

	templateFlag := flagSet.String("template", "", "Path to the pipeline template file.")
	tFlag := flagSet.String("t", "", "Path to the pipeline template file (shorthand).")
	targetFlag := flagSet.String("target", "", "Name of the node to build. Empty builds the whole pipeline.")
	modeFlag := flagSet.String("mode", "all", "Build closure mode. Options: 'all', 'only', 'to', or 'from'.")
	cacheFlag := flagSet.String("cache", defaultCacheDir(), "Root directory of the computation cache.")
	computeFlag := flagSet.String("compute", "", "Build a single standalone node of the given node type.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 4, "Number of concurrent workers building nodes.")
	chunksFlag := flagSet.Int("max-chunks", 8, "Maximum number of chunks computing in parallel.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *templateFlag != "" {
		path = *templateFlag
	} else if *tFlag != "" {
		path = *tFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Template path determined.", "path", path)

	if path == "" && *computeFlag == "" {
		slog.Debug("No template path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	if path != "" && *computeFlag != "" {
		return nil, false, &ExitError{Code: 2, Message: "cannot combine a template path with -compute"}
	}

	mode, ok := worker.ParseMode(strings.ToLower(*modeFlag))
	if !ok {
		return nil, false, &ExitError{Code: 2, Message: "invalid mode: must be 'all', 'only', 'to', or 'from'"}
	}
	if mode != worker.ModeAll && *targetFlag == "" {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("mode %q requires -target", mode)}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if *workersFlag < 1 {
		return nil, false, &ExitError{Code: 2, Message: "workers must be at least 1"}
	}
	if *chunksFlag < 1 {
		return nil, false, &ExitError{Code: 2, Message: "max-chunks must be at least 1"}
	}
	slog.Debug("CLI parameter validation complete.")

	config := &app.Config{
		TemplatePath:      path,
		Target:            *targetFlag,
		Mode:              mode,
		CacheDir:          *cacheFlag,
		ComputeType:       *computeFlag,
		LogFormat:         logFormat,
		LogLevel:          logLevel,
		Workers:           *workersFlag,
		MaxParallelChunks: *chunksFlag,
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
