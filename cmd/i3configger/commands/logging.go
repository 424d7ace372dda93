package commands

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/i3configger/internal/config"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
)

// SetupLogging builds the logger described by cfg. verbose forces debug level. The
// returned function closes the log file, if any.
func SetupLogging(cfg config.LoggingConfig, verbose bool, stderr io.Writer) (*slog.Logger, func(), error) {
	level := cfg.Level.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	w, closeFn := stderr, func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to create log directory").
				WithContext("path", cfg.File).Build()
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to open log file").
				WithContext("path", cfg.File).Build()
		}
		w, closeFn = f, func() { _ = f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}
