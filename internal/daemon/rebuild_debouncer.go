package daemon

import (
	"context"
	"sync"
	"time"

	"git.home.luguber.info/inful/i3configger/internal/daemon/events"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
)

// Debounce causes carried by events.RebuildNow.
const (
	CauseQuiet        = "quiet"
	CauseMaxDelay     = "max_delay"
	CauseImmediate    = "immediate"
	CauseAfterRunning = "after_running"
)

// RebuildDebouncerConfig tunes a RebuildDebouncer. QuietWindow and MaxDelay come from
// daemon.debounce and daemon.max_delay.
type RebuildDebouncerConfig struct {
	// QuietWindow is how long requests must stop before a rebuild starts.
	QuietWindow time.Duration
	// MaxDelay caps the wait measured from the first request of a burst.
	MaxDelay time.Duration

	// CheckBuildRunning reports whether a rebuild is currently running.
	// While it is, the debouncer holds RebuildNow back and emits exactly one
	// follow-up after the running rebuild finishes.
	CheckBuildRunning func() bool

	// PollInterval controls how often the debouncer polls for rebuild completion
	// after it has detected that a rebuild is running. Defaults to 25ms.
	PollInterval time.Duration

	// OnEmit runs right before a RebuildNow is published. The daemon uses it to mark
	// the rebuild as claimed, so CheckBuildRunning is already true while the event
	// waits for the loop and further requests fold into the single follow-up.
	OnEmit func()
}

// RebuildDebouncer coalesces bursts of RebuildRequested events into a single
// RebuildNow:
//   - quiet window debounce
//   - max delay (bursts cannot postpone a rebuild indefinitely)
//   - if a rebuild is already running, queue exactly one follow-up
//
// It is safe to run as a single goroutine.
type RebuildDebouncer struct {
	bus *events.Bus
	cfg RebuildDebouncerConfig
	now func() time.Time

	mu        sync.Mutex
	readyOnce sync.Once
	ready     chan struct{}

	pending         bool
	pendingAfterRun bool
	firstRequestAt  time.Time
	lastRequestAt   time.Time
	lastReason      string
	lastPath        string
	requestCount    int
	pollingAfterRun bool
}

// NewRebuildDebouncer validates cfg and returns a debouncer that reads requests from
// and publishes RebuildNow on bus. Call Run to start it.
func NewRebuildDebouncer(bus *events.Bus, cfg RebuildDebouncerConfig) (*RebuildDebouncer, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("bus is required").Build()
	}
	if cfg.QuietWindow <= 0 {
		return nil, ferrors.ValidationError("quiet window must be > 0").Build()
	}
	if cfg.MaxDelay <= 0 {
		return nil, ferrors.ValidationError("max delay must be > 0").Build()
	}
	if cfg.CheckBuildRunning == nil {
		cfg.CheckBuildRunning = func() bool { return false }
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 25 * time.Millisecond
	}

	return &RebuildDebouncer{bus: bus, cfg: cfg, now: time.Now, ready: make(chan struct{})}, nil
}

// Ready is closed once Run has subscribed to requests.
func (d *RebuildDebouncer) Ready() <-chan struct{} {
	return d.ready
}

// Run subscribes to RebuildRequested and emits RebuildNow until ctx is done or the
// bus closes. Immediate requests skip the quiet window. It returns nil on shutdown.
func (d *RebuildDebouncer) Run(ctx context.Context) error {
	if ctx == nil {
		return ferrors.ValidationError("context cannot be nil").Build()
	}

	reqCh, unsubscribe := events.Subscribe[events.RebuildRequested](d.bus, 64)
	defer unsubscribe()

	d.readyOnce.Do(func() { close(d.ready) })

	quietTimer := stoppedTimer()
	maxTimer := stoppedTimer()
	pollTimer := stoppedTimer()
	defer quietTimer.Stop()
	defer maxTimer.Stop()
	defer pollTimer.Stop()

	var (
		quietC <-chan time.Time
		maxC   <-chan time.Time
		pollC  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-reqCh:
			if !ok {
				return nil
			}
			d.onRequest(req)

			if req.Immediate {
				if d.tryEmit(ctx, CauseImmediate) {
					quietC = nil
					maxC = nil
				}
				break
			}

			resetTimer(quietTimer, d.cfg.QuietWindow)
			quietC = quietTimer.C

			if d.shouldStartMaxTimer() {
				resetTimer(maxTimer, d.cfg.MaxDelay)
				maxC = maxTimer.C
			}

		case <-quietC:
			if d.tryEmit(ctx, CauseQuiet) {
				quietC = nil
				maxC = nil
			}

		case <-maxC:
			if d.tryEmit(ctx, CauseMaxDelay) {
				quietC = nil
				maxC = nil
			}

		case <-pollC:
			pollC = nil
			if d.tryEmitAfterRunning(ctx) {
				quietC = nil
				maxC = nil
				continue
			}
			resetTimer(pollTimer, d.cfg.PollInterval)
			pollC = pollTimer.C
		}

		if d.shouldPollAfterRun() && pollC == nil {
			resetTimer(pollTimer, d.cfg.PollInterval)
			pollC = pollTimer.C
		}
	}
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(after)
}

func (d *RebuildDebouncer) onRequest(req events.RebuildRequested) {
	d.mu.Lock()
	defer d.mu.Unlock()

	at := req.RequestedAt
	if at.IsZero() {
		at = d.now()
	}

	if !d.pending {
		d.pending = true
		d.firstRequestAt = at
		d.requestCount = 0
	}

	d.lastRequestAt = at
	d.lastReason = req.Reason
	d.lastPath = req.Path
	d.requestCount++
}

func (d *RebuildDebouncer) shouldStartMaxTimer() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending && d.requestCount == 1
}

func (d *RebuildDebouncer) shouldPollAfterRun() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingAfterRun && !d.pollingAfterRun
}

func (d *RebuildDebouncer) tryEmit(ctx context.Context, cause string) bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return true
	}

	if d.cfg.CheckBuildRunning() {
		d.pendingAfterRun = true
		d.mu.Unlock()
		return false
	}

	evt := events.RebuildNow{
		TriggeredAt:  d.now(),
		RequestCount: d.requestCount,
		LastReason:   d.lastReason,
		LastPath:     d.lastPath,
		FirstRequest: d.firstRequestAt,
		LastRequest:  d.lastRequestAt,
		Cause:        cause,
	}
	d.pending = false
	d.pendingAfterRun = false
	d.pollingAfterRun = false
	d.mu.Unlock()

	if d.cfg.OnEmit != nil {
		d.cfg.OnEmit()
	}
	_ = d.bus.Publish(ctx, evt)
	return true
}

func (d *RebuildDebouncer) tryEmitAfterRunning(ctx context.Context) bool {
	d.mu.Lock()
	if !d.pendingAfterRun {
		d.mu.Unlock()
		return true
	}
	d.pollingAfterRun = true
	d.mu.Unlock()

	if d.cfg.CheckBuildRunning() {
		return false
	}

	return d.tryEmit(ctx, CauseAfterRunning)
}
