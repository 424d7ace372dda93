// Package daemon keeps the target configuration in sync with the fragment directory.
//
// Lifecycle: Starting, then Building and Idle in turn until termination moves it to
// ShuttingDown and Stopped. Rebuilds run strictly one at a time on the daemon loop;
// the watcher, the debouncer, the signal handler, the resync scheduler and the
// status server only publish events.
package daemon

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/i3configger/internal/announce"
	"git.home.luguber.info/inful/i3configger/internal/build"
	"git.home.luguber.info/inful/i3configger/internal/config"
	"git.home.luguber.info/inful/i3configger/internal/daemon/events"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/fragments"
	"git.home.luguber.info/inful/i3configger/internal/ipc"
	"git.home.luguber.info/inful/i3configger/internal/lock"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
	"git.home.luguber.info/inful/i3configger/internal/metrics"
	"git.home.luguber.info/inful/i3configger/internal/watcher"
)

// Rebuild reasons.
const (
	ReasonInitial = "initial"
	ReasonChange  = "change"
	ReasonSignal  = "signal"
	ReasonResync  = "resync"
)

// shutdownGrace bounds hook draining and status server shutdown.
const shutdownGrace = 2 * time.Second

// Daemon watches the source directory and rebuilds the target on change.
type Daemon struct {
	cfg      *config.Config
	reload   func() (*config.Config, error)
	builder  build.BuildService
	ipc      *ipc.Client
	registry *prom.Registry
	recorder metrics.Recorder
	logger   *slog.Logger
	signals  <-chan os.Signal
	status   *statusTracker

	// building is set from the moment a RebuildNow is emitted until its rebuild ends.
	building      atomic.Bool
	reloadPending atomic.Bool
	lastGood      *build.BuildResult
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithBuildService replaces the rebuild pipeline.
func WithBuildService(b build.BuildService) Option { return func(d *Daemon) { d.builder = b } }

// WithReloader sets the function used to re-read the configuration on SIGHUP.
func WithReloader(f func() (*config.Config, error)) Option {
	return func(d *Daemon) { d.reload = f }
}

// WithIPCClient replaces the i3 and notification client.
func WithIPCClient(c *ipc.Client) Option { return func(d *Daemon) { d.ipc = c } }

// WithRegistry sets the Prometheus registry metrics are registered on.
func WithRegistry(reg *prom.Registry) Option { return func(d *Daemon) { d.registry = reg } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Daemon) { d.logger = l } }

// WithSignals replaces OS signal delivery, mainly for tests.
func WithSignals(ch <-chan os.Signal) Option { return func(d *Daemon) { d.signals = ch } }

// New creates a Daemon for cfg.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.ValidationError("configuration is required").Build()
	}
	d := &Daemon{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	if d.registry == nil {
		d.registry = prom.NewRegistry()
	}
	d.recorder = metrics.NewPrometheusRecorder(d.registry)
	if d.builder == nil {
		d.builder = build.NewBuildService().WithRecorder(d.recorder).WithLogger(d.logger)
	}
	if d.ipc == nil {
		d.ipc = ipc.NewClient(ipc.WithLogger(d.logger), ipc.WithTimeout(cfg.Hook.Timeout))
	}
	d.status = newStatusTracker(cfg.Source.Dir, cfg.Target.Path, d.logger)
	return d, nil
}

// Snapshot returns the current status.
func (d *Daemon) Snapshot() Snapshot { return d.status.snapshot() }

// LastGood returns the most recent successful rebuild, or nil.
func (d *Daemon) LastGood() *build.BuildResult { return d.lastGood }

func (d *Daemon) setState(s State) {
	d.status.setState(s)
	d.logger.Debug("Daemon state", logfields.State(string(s)))
}

// RunOnce performs a single rebuild with post-build hooks and returns its result.
// It takes no lock, so it may run next to a daemon.
func (d *Daemon) RunOnce(ctx context.Context) (*build.BuildResult, error) {
	d.setState(StateStarting)
	defer d.setState(StateStopped)

	if err := checkSourceDir(d.cfg.Source.Dir); err != nil {
		return nil, err
	}
	hooks := d.newPostBuild(nil)
	d.setState(StateBuilding)
	res, err := d.rebuildWith(ctx, hooks, ReasonInitial)

	waitCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Hook.Timeout+shutdownGrace)
	defer cancel()
	if werr := hooks.wait(waitCtx); werr != nil {
		d.logger.Warn("Hooks did not finish in time", logfields.Error(werr))
	}
	return res, err
}

// Run executes the daemon until ctx is canceled or a termination signal arrives.
// Startup failures are returned with their classified codes; a clean shutdown
// returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	d.setState(StateStarting)
	defer d.setState(StateStopped)

	lk, err := lock.Acquire(d.cfg.Daemon.LockFile, d.logger)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lk.Release(); rerr != nil {
			d.logger.Warn("Failed to release lock", logfields.Error(rerr))
		}
	}()

	if err := checkSourceDir(d.cfg.Source.Dir); err != nil {
		return err
	}

	store := fragments.NewStore(afero.NewOsFs(), fragments.OptionsFrom(d.cfg.Source), d.logger)
	w := watcher.New(d.cfg.Source.Dir, store.Matches, d.logger)
	if err := w.Start(); err != nil {
		return err
	}

	var srv *statusServer
	if addr := d.cfg.Daemon.StatusAddr; addr != "" {
		if srv, err = d.startStatusServer(addr, d.registry); err != nil {
			_ = w.Close()
			return err
		}
	}

	announcer, err := announce.Connect(d.cfg.Announce, d.logger)
	if err != nil {
		d.logger.Warn("Announcements disabled", logfields.Error(err))
	}
	defer announcer.Close()

	bus := events.NewBus()
	defer bus.Close()
	nowCh, unsubscribe := events.Subscribe[events.RebuildNow](bus, 4)
	defer unsubscribe()

	debouncer, err := NewRebuildDebouncer(bus, RebuildDebouncerConfig{
		QuietWindow:       d.cfg.Daemon.Debounce,
		MaxDelay:          d.cfg.Daemon.MaxDelay,
		CheckBuildRunning: d.building.Load,
		OnEmit:            func() { d.building.Store(true) },
	})
	if err != nil {
		_ = w.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return forwardChanges(gctx, w.Changes(), bus) })
	g.Go(func() error { return debouncer.Run(gctx) })
	g.Go(func() error { return d.handleSignals(gctx, cancel, bus) })

	var sched *Scheduler
	if every := d.cfg.Daemon.Resync; every > 0 {
		if sched, err = d.startResync(gctx, every, bus); err != nil {
			d.logger.Warn("Periodic resync disabled", logfields.Error(err))
		}
	}

	select {
	case <-debouncer.Ready():
	case <-gctx.Done():
	}

	hooks := d.newPostBuild(announcer)
	if gctx.Err() == nil {
		d.rebuild(gctx, hooks, ReasonInitial)
	}

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case now, ok := <-nowCh:
			if !ok {
				break loop
			}
			if gctx.Err() != nil {
				break loop
			}
			d.recorder.AddCoalescedRequests(now.RequestCount)
			d.logger.Debug("Rebuild triggered",
				logfields.Reason(now.LastReason),
				logfields.Count(now.RequestCount),
				slog.String("cause", now.Cause))
			d.rebuild(gctx, hooks, now.LastReason)
		}
	}

	d.setState(StateShuttingDown)
	d.logger.Info("Shutting down")
	cancel()

	stopCtx, stop := context.WithTimeout(context.Background(), d.cfg.Hook.Timeout+shutdownGrace)
	defer stop()
	if sched != nil {
		if err := sched.Stop(); err != nil {
			d.logger.Warn("Failed to stop scheduler", logfields.Error(err))
		}
	}
	if err := hooks.wait(stopCtx); err != nil {
		d.logger.Warn("Hooks did not finish in time", logfields.Error(err))
	}
	if err := srv.shutdown(stopCtx); err != nil {
		d.logger.Warn("Failed to stop status server", logfields.Error(err))
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (d *Daemon) newPostBuild(announcer *announce.Announcer) *postBuild {
	return &postBuild{
		ipc:       d.ipc,
		announcer: announcer,
		recorder:  d.recorder,
		logger:    d.logger,
		group:     &WorkerGroup{logger: d.logger},
	}
}

// rebuild runs one pass on the daemon loop. Failures are contained here: the
// previous target and lastGood stay in place.
func (d *Daemon) rebuild(ctx context.Context, hooks *postBuild, reason string) {
	if d.reloadPending.Swap(false) {
		d.reloadConfig()
	}
	d.building.Store(true)
	d.setState(StateBuilding)
	defer func() {
		d.building.Store(false)
		d.setState(StateIdle)
	}()
	_, _ = d.rebuildWith(ctx, hooks, reason)
}

func (d *Daemon) rebuildWith(ctx context.Context, hooks *postBuild, reason string) (*build.BuildResult, error) {
	// An in-progress rebuild always completes, even when termination arrives.
	res, err := d.builder.Run(context.WithoutCancel(ctx), build.RequestFor(d.cfg, reason))
	d.status.recordBuild(res, err)
	if err != nil {
		hooks.fireFailure(d.cfg.Hook, err)
		return res, err
	}
	d.lastGood = res
	for _, issue := range res.Issues {
		d.logger.Warn("Fragment skipped", logfields.Path(issue.Path), logfields.Error(issue.Err))
	}
	for _, w := range res.Warnings {
		d.logger.Warn(w)
	}
	if res.Changed {
		hooks.fire(d.cfg.Hook, res)
	}
	return res, nil
}

// reloadConfig swaps in a freshly loaded configuration. The watched directory is
// fixed for the daemon's lifetime.
func (d *Daemon) reloadConfig() {
	if d.reload == nil {
		return
	}
	next, err := d.reload()
	if err != nil {
		d.logger.Error("Configuration reload failed, keeping current configuration", logfields.Error(err))
		return
	}
	if next.Source.Dir != d.cfg.Source.Dir {
		d.logger.Warn("Source directory change needs a restart",
			logfields.Dir(next.Source.Dir), slog.String("current", d.cfg.Source.Dir))
		next.Source.Dir = d.cfg.Source.Dir
	}
	d.cfg = next
	d.status.setPaths(next.Source.Dir, next.Target.Path)
	d.logger.Info("Configuration reloaded", logfields.Path(next.Path))
}

func (d *Daemon) handleSignals(ctx context.Context, stop context.CancelFunc, bus *events.Bus) error {
	ch := d.signals
	if ch == nil {
		osCh := make(chan os.Signal, 4)
		signal.Notify(osCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(osCh)
		ch = osCh
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			if sig == syscall.SIGHUP {
				d.logger.Info("Reload requested", slog.String("signal", sig.String()))
				d.reloadPending.Store(true)
				if err := bus.Publish(ctx, events.RebuildRequested{Reason: ReasonSignal, Immediate: true}); err != nil && ctx.Err() == nil {
					return err
				}
				continue
			}
			d.logger.Info("Termination requested", slog.String("signal", sig.String()))
			stop()
			return nil
		}
	}
}

func (d *Daemon) startResync(ctx context.Context, every time.Duration, bus *events.Bus) (*Scheduler, error) {
	sched, err := NewScheduler(d.logger)
	if err != nil {
		return nil, err
	}
	_, err = sched.ScheduleEvery(ReasonResync, every, func() {
		if perr := bus.Publish(ctx, events.RebuildRequested{Reason: ReasonResync}); perr != nil && ctx.Err() == nil {
			d.logger.Warn("Failed to request resync", logfields.Error(perr))
		}
	})
	if err != nil {
		_ = sched.Stop()
		return nil, err
	}
	sched.Start()
	return sched, nil
}

func forwardChanges(ctx context.Context, changes <-chan watcher.Change, bus *events.Bus) error {
	for c := range changes {
		req := events.RebuildRequested{
			Reason:      ReasonChange,
			Path:        c.Path,
			Immediate:   c.Kind == watcher.Overflow,
			RequestedAt: c.At,
		}
		if err := bus.Publish(ctx, req); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

func checkSourceDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ferrors.DirectoryUnavailable("source directory does not exist").WithContext("dir", dir).Build()
	case err != nil:
		return ferrors.DirectoryUnavailable("source directory is not accessible").WithCause(err).
			WithContext("dir", dir).Build()
	case !info.IsDir():
		return ferrors.DirectoryUnavailable("source path is not a directory").WithContext("dir", dir).Build()
	}
	return nil
}
