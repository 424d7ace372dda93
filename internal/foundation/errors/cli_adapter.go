package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Exit codes returned by the CLI. Codes are part of the command-line contract.
const (
	ExitOK                   = 0
	ExitGeneric              = 1
	ExitUsage                = 2
	ExitDirectoryUnavailable = 3
	ExitWriteFailed          = 4
	ExitAlreadyRunning       = 5
	ExitWatchInitFailed      = 6
	ExitVariables            = 7
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
	exit    func(int)
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
		out:     os.Stderr,
		exit:    os.Exit,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	classified, ok := AsClassified(err)
	if !ok {
		return ExitGeneric
	}

	switch classified.Code() {
	case CodeDirectoryUnavailable:
		return ExitDirectoryUnavailable
	case CodeWriteFailed:
		return ExitWriteFailed
	case CodeAlreadyRunning:
		return ExitAlreadyRunning
	case CodeWatchInitFailed:
		return ExitWatchInitFailed
	case CodeCyclicVariable, CodeUndefinedVariable:
		return ExitVariables
	}

	switch classified.Category() {
	case CategoryValidation, CategoryConfig:
		return ExitUsage
	default:
		return ExitGeneric
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	classified, ok := AsClassified(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}
	if a.verbose {
		return fmt.Sprintf("Error: %s", err.Error())
	}
	if cause := classified.Cause(); cause != nil {
		return fmt.Sprintf("Error: %s: %v", classified.Message(), cause)
	}
	return fmt.Sprintf("Error: %s", classified.Message())
}

// HandleError logs and prints err, then exits with the mapped code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	if a.verbose {
		a.logError(err)
	}

	fmt.Fprintln(a.out, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}

func (a *CLIErrorAdapter) logError(err error) {
	classified, ok := AsClassified(err)
	if !ok {
		a.logger.Error("Unclassified error", "error", err)
		return
	}

	attrs := []slog.Attr{slog.String("category", string(classified.Category()))}
	if code := classified.Code(); code != CodeNone {
		attrs = append(attrs, slog.String("code", string(code)))
	}
	for k, v := range classified.Context() {
		attrs = append(attrs, slog.Any(k, v))
	}
	a.logger.LogAttrs(context.Background(), SlogLevel(classified.Severity()), classified.Message(), attrs...)
}

// SlogLevel converts an error severity to a slog level.
func SlogLevel(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
