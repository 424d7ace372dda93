package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/i3configger/internal/announce"
	"git.home.luguber.info/inful/i3configger/internal/build"
	"git.home.luguber.info/inful/i3configger/internal/config"
	"git.home.luguber.info/inful/i3configger/internal/ipc"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
	"git.home.luguber.info/inful/i3configger/internal/metrics"
	"git.home.luguber.info/inful/i3configger/internal/retry"
)

// Hook names used in logs and the hook_results_total metric.
const (
	hookI3       = "i3"
	hookNotify   = "notify"
	hookAnnounce = "announce"
)

// postBuild fans a successful, changed rebuild out to the configured hooks. Every
// hook runs on its own goroutine with its own timeout; results only reach logs
// and metrics.
type postBuild struct {
	ipc       *ipc.Client
	announcer *announce.Announcer
	recorder  metrics.Recorder
	logger    *slog.Logger
	group     *WorkerGroup
}

func (p *postBuild) fire(hook config.HookConfig, res *build.BuildResult) {
	if hook.Action != config.HookNone {
		p.spawn(hookI3, hook.Timeout, func(ctx context.Context) error {
			return p.ipc.Refresh(ctx, hook.Action)
		})
	}
	if hook.Notify {
		msg := fmt.Sprintf("i3 config rebuilt from %d fragments", len(res.Document.Fragments))
		p.spawn(hookNotify, hook.Timeout, func(ctx context.Context) error {
			return p.ipc.Notify(ctx, msg, ipc.UrgencyLow)
		})
	}
	if p.announcer != nil {
		msg := announce.Rebuilt{
			BuildID:   res.ID,
			Target:    res.Target,
			Digest:    res.Document.Digest,
			Fragments: res.Document.Fragments,
			Timestamp: res.EndTime,
		}
		p.spawn(hookAnnounce, hook.Timeout, func(ctx context.Context) error {
			return retry.DefaultPolicy().Do(ctx, func(ctx context.Context) error {
				return p.announcer.Announce(ctx, msg)
			})
		})
	}
}

// fireFailure tells the desktop about a failed rebuild.
func (p *postBuild) fireFailure(hook config.HookConfig, err error) {
	if !hook.Notify {
		return
	}
	msg := "i3configger: rebuild failed: " + err.Error()
	p.spawn(hookNotify, hook.Timeout, func(ctx context.Context) error {
		return p.ipc.Notify(ctx, msg, ipc.UrgencyCritical)
	})
}

func (p *postBuild) spawn(name string, timeout time.Duration, fn func(ctx context.Context) error) {
	if timeout <= 0 {
		timeout = config.DefaultHookTimeout
	}
	started := p.group.Go(name, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := fn(ctx)
		p.recorder.IncHookResult(name, err == nil)
		if err != nil {
			p.logger.Warn("Post-build hook failed", logfields.Hook(name), logfields.Error(err))
			return
		}
		p.logger.Debug("Post-build hook done", logfields.Hook(name))
	})
	if !started {
		p.logger.Debug("Hook skipped during shutdown", logfields.Hook(name))
	}
}

func (p *postBuild) wait(ctx context.Context) error {
	return p.group.StopAndWait(ctx)
}
