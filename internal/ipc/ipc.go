// Package ipc tells the running window manager and the desktop about a rebuilt
// configuration. Both are best-effort: callers log failures and carry on.
package ipc

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"git.home.luguber.info/inful/i3configger/internal/config"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
)

// Urgency levels understood by notify-send.
const (
	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyCritical = "critical"
)

// Runner executes a command and returns its combined output and exit code. A non-zero
// exit is reported through exitCode, not err; err is reserved for failures to run.
type Runner func(ctx context.Context, name string, args ...string) (out []byte, exitCode int, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	// #nosec G204 -- name is one of the fixed helper binaries of this package
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return buf.Bytes(), exitErr.ExitCode(), nil
	}
	return buf.Bytes(), 0, err
}

// Client talks to i3 through i3-msg and to the desktop through notify-send.
type Client struct {
	run     Runner
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option { return func(c *Client) { c.run = r } }

// WithTimeout bounds every command. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{run: ExecRunner, timeout: config.DefaultHookTimeout, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Refresh asks i3 to apply the new configuration. HookNone is a no-op.
func (c *Client) Refresh(ctx context.Context, action config.HookAction) error {
	switch action {
	case config.HookNone, "":
		return nil
	case config.HookReload, config.HookRestart:
	default:
		return ferrors.HookError("unknown i3 action").WithContext("action", string(action)).Build()
	}
	msg := string(action)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, code, err := c.run(ctx, "i3-msg", msg)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHook, "failed to run i3-msg").
			WithSeverity(ferrors.SeverityWarning).WithContext("action", msg).Build()
	}
	// i3 restarts in place and drops the IPC connection, so i3-msg exits 1.
	if action == config.HookRestart && code == 1 {
		c.logger.Debug("Ignoring exit status 1 of i3-msg restart")
		return nil
	}
	if code != 0 || !bytes.Contains(out, []byte(`"success":true`)) {
		return ferrors.HookError("i3 rejected the request").
			WithContext("action", msg).
			WithContext("exit_code", code).
			WithContext("output", strings.TrimSpace(string(out))).Build()
	}
	c.logger.Info("i3 refreshed", logfields.Op(msg))
	return nil
}

// Notify shows a desktop notification.
func (c *Client) Notify(ctx context.Context, msg, urgency string) error {
	if urgency == "" {
		urgency = UrgencyLow
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, code, err := c.run(ctx, "notify-send", "-a", "i3configger", "-t", "1", "-u", urgency, msg)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHook, "failed to run notify-send").
			WithSeverity(ferrors.SeverityWarning).Build()
	}
	if code != 0 {
		return ferrors.HookError("notify-send failed").
			WithContext("exit_code", code).
			WithContext("output", strings.TrimSpace(string(out))).Build()
	}
	return nil
}
