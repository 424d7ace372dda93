// Package announce publishes rebuild notices to NATS so other tools (status bars,
// dotfile sync jobs) can react to a new configuration.
package announce

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/i3configger/internal/config"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
)

const flushTimeout = 2 * time.Second

// Rebuilt is the JSON payload of an announcement.
type Rebuilt struct {
	BuildID   string    `json:"build_id"`
	Target    string    `json:"target"`
	Digest    string    `json:"digest"`
	Fragments []string  `json:"fragments"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the subset of *nats.Conn an Announcer needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Announcer publishes Rebuilt messages on one subject.
type Announcer struct {
	conn    Publisher
	subject string
	logger  *slog.Logger
	now     func() time.Time
}

// Connect dials the server named in cfg. It returns (nil, nil) when announcements are
// disabled (empty URL).
func Connect(cfg config.AnnounceConfig, logger *slog.Logger) (*Announcer, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("i3configger"),
		nats.Timeout(flushTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryHook, "failed to connect to NATS").
			WithContext("url", cfg.NATSURL).Build()
	}
	logger.Info("NATS announcements enabled", slog.String("url", cfg.NATSURL), slog.String("subject", cfg.Subject))
	return New(conn, cfg.Subject, logger), nil
}

// New wraps an established connection. An empty subject selects the default.
func New(conn Publisher, subject string, logger *slog.Logger) *Announcer {
	if subject == "" {
		subject = config.DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{conn: conn, subject: subject, logger: logger, now: time.Now}
}

// Subject returns the subject messages are published on.
func (a *Announcer) Subject() string { return a.subject }

// Announce publishes msg and waits for the server to acknowledge the flush. A zero
// Timestamp is filled in.
func (a *Announcer) Announce(ctx context.Context, msg Rebuilt) error {
	if a == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = a.now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal announcement").Build()
	}
	if err := a.conn.Publish(a.subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHook, "failed to publish announcement").
			WithSeverity(ferrors.SeverityWarning).WithContext("subject", a.subject).Build()
	}
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if err := a.conn.FlushTimeout(timeout); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHook, "failed to flush announcement").
			WithSeverity(ferrors.SeverityWarning).WithContext("subject", a.subject).Build()
	}
	a.logger.Debug("Announced rebuild", logfields.BuildID(msg.BuildID), slog.String("subject", a.subject))
	return nil
}

// Close drops the connection. Safe on a nil Announcer.
func (a *Announcer) Close() {
	if a == nil || a.conn == nil {
		return
	}
	a.conn.Close()
}
