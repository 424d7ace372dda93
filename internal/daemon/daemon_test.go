package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/i3configger/internal/config"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/ipc"
	"git.home.luguber.info/inful/i3configger/internal/lock"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRunner) run(_ context.Context, name string, args ...string) ([]byte, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	return []byte(`[{"success":true}]`), 0, nil
}

func (r *recordingRunner) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fixture struct {
	cfg     *config.Config
	src     string
	target  string
	runner  *recordingRunner
	signals chan os.Signal
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "config.d")
	require.NoError(t, os.MkdirAll(src, 0o755))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte(body), 0o644))
	}

	cfg := config.Default()
	cfg.Source.Dir = src
	cfg.Target.Path = filepath.Join(root, "config")
	cfg.Target.Header = false
	cfg.Daemon.LockFile = filepath.Join(root, "run", "i3configger.lock")
	cfg.Daemon.Debounce = 20 * time.Millisecond
	cfg.Daemon.MaxDelay = 200 * time.Millisecond
	cfg.Hook.Action = config.HookReload
	require.NoError(t, cfg.Normalize())

	return &fixture{
		cfg:     cfg,
		src:     src,
		target:  cfg.Target.Path,
		runner:  &recordingRunner{},
		signals: make(chan os.Signal, 1),
	}
}

func (f *fixture) daemon(t *testing.T, opts ...Option) *Daemon {
	t.Helper()
	base := []Option{
		WithIPCClient(ipc.NewClient(ipc.WithRunner(f.runner.run))),
		WithRegistry(prom.NewRegistry()),
		WithSignals(f.signals),
	}
	d, err := New(f.cfg, append(base, opts...)...)
	require.NoError(t, err)
	return d
}

func (f *fixture) readTarget(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.target)
	if err != nil {
		return ""
	}
	return string(data)
}

func startDaemon(t *testing.T, d *Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func TestDaemon_RebuildsOnChange(t *testing.T) {
	f := newFixture(t, map[string]string{
		"10-vars.conf": "set $mod Mod4",
		"20-keys.conf": "bindsym $mod+Return exec term",
	})
	d := f.daemon(t)
	cancel, done := startDaemon(t, d)

	require.Eventually(t, func() bool {
		return f.readTarget(t) == "set $mod Mod4\nbindsym Mod4+Return exec term\n"
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return d.Snapshot().State == StateIdle }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.runner.count("i3-msg reload") == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(f.src, "30-bar.conf"), []byte("bar {\n}"), 0o644))
	require.Eventually(t, func() bool {
		return strings.HasSuffix(f.readTarget(t), "bar {\n}\n")
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.runner.count("i3-msg reload") == 2 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, done))
	require.Equal(t, StateStopped, d.Snapshot().State)
	_, err := os.Stat(f.cfg.Daemon.LockFile)
	require.True(t, os.IsNotExist(err))
}

func TestDaemon_CycleKeepsLastGood(t *testing.T) {
	f := newFixture(t, map[string]string{"10-a.conf": "set $x 1\nuse $x"})
	d := f.daemon(t)
	cancel, done := startDaemon(t, d)

	require.Eventually(t, func() bool { return f.readTarget(t) == "set $x 1\nuse 1\n" }, 3*time.Second, 10*time.Millisecond)
	good := d.Snapshot().LastGood
	require.NotNil(t, good)

	require.NoError(t, os.WriteFile(filepath.Join(f.src, "20-b.conf"), []byte("set $y $z\nset $z $y"), 0o644))
	require.Eventually(t, func() bool {
		snap := d.Snapshot()
		return snap.LastError != nil && snap.LastError.Code == string(ferrors.CodeCyclicVariable)
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, "set $x 1\nuse 1\n", f.readTarget(t))
	require.Equal(t, good.ID, d.Snapshot().LastGood.ID)
	require.Equal(t, 1, f.runner.count("i3-msg reload"))

	cancel()
	require.NoError(t, waitDone(t, done))
	require.Equal(t, good.ID, d.LastGood().ID)
}

func TestDaemon_BurstTriggersSingleRebuild(t *testing.T) {
	f := newFixture(t, map[string]string{"10-a.conf": "a"})
	f.cfg.Daemon.Debounce = 300 * time.Millisecond
	f.cfg.Daemon.MaxDelay = 5 * time.Second
	d := f.daemon(t)
	startDaemon(t, d)

	require.Eventually(t, func() bool { return d.Snapshot().Rebuilds == 1 && d.Snapshot().State == StateIdle },
		3*time.Second, 10*time.Millisecond)

	for i := range 5 {
		body := strings.Repeat("b", i+1)
		require.NoError(t, os.WriteFile(filepath.Join(f.src, "20-b.conf"), []byte(body), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return d.Snapshot().Rebuilds == 2 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	require.Equal(t, 2, d.Snapshot().Rebuilds)
	require.Equal(t, "a\nbbbbb\n", f.readTarget(t))
}

func TestDaemon_SighupReloadsConfiguration(t *testing.T) {
	f := newFixture(t, map[string]string{"10-a.conf": "color $c"})
	var reloads atomic.Int32
	reloader := func() (*config.Config, error) {
		reloads.Add(1)
		next := *f.cfg
		next.Variables.Overrides = map[string]string{"c": "red"}
		return &next, nil
	}
	d := f.daemon(t, WithReloader(reloader))
	_, done := startDaemon(t, d)

	require.Eventually(t, func() bool { return f.readTarget(t) == "color $c\n" }, 3*time.Second, 10*time.Millisecond)

	f.signals <- syscall.SIGHUP
	require.Eventually(t, func() bool { return f.readTarget(t) == "color red\n" }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), reloads.Load())

	f.signals <- syscall.SIGTERM
	require.NoError(t, waitDone(t, done))
}

func TestDaemon_AlreadyRunning(t *testing.T) {
	f := newFixture(t, map[string]string{"a.conf": "x"})
	held, err := lock.Acquire(f.cfg.Daemon.LockFile, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	err = f.daemon(t).Run(context.Background())
	require.True(t, ferrors.HasCode(err, ferrors.CodeAlreadyRunning))
	require.Empty(t, f.readTarget(t))
}

func TestDaemon_MissingSourceDirectory(t *testing.T) {
	f := newFixture(t, nil)
	f.cfg.Source.Dir = filepath.Join(f.src, "absent")

	err := f.daemon(t).Run(context.Background())
	require.True(t, ferrors.HasCode(err, ferrors.CodeDirectoryUnavailable))
	_, statErr := os.Stat(f.cfg.Daemon.LockFile)
	require.True(t, os.IsNotExist(statErr))
}

func TestDaemon_SourceDirectoryRemovedStops(t *testing.T) {
	f := newFixture(t, map[string]string{"a.conf": "x"})
	d := f.daemon(t)
	_, done := startDaemon(t, d)

	require.Eventually(t, func() bool { return f.readTarget(t) == "x\n" }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, os.RemoveAll(f.src))

	err := waitDone(t, done)
	require.True(t, ferrors.HasCode(err, ferrors.CodeDirectoryUnavailable))
	require.Equal(t, "x\n", f.readTarget(t))
	require.Equal(t, StateStopped, d.Snapshot().State)
}

func TestDaemon_RunOnce(t *testing.T) {
	f := newFixture(t, map[string]string{"a.conf": "x"})
	f.cfg.Hook.Notify = true
	d := f.daemon(t)

	res, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, "x\n", f.readTarget(t))
	require.Equal(t, 1, f.runner.count("i3-msg reload"))
	require.Equal(t, 1, f.runner.count("notify-send"))

	res, err = f.daemon(t).RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.Equal(t, 1, f.runner.count("i3-msg reload"))
}

func TestStatusMux(t *testing.T) {
	f := newFixture(t, map[string]string{"a.conf": "set $a $b\nset $b $a"})
	reg := prom.NewRegistry()
	d := f.daemon(t, WithRegistry(reg))
	_, err := d.RunOnce(context.Background())
	require.Error(t, err)
	d.status.setState(StateIdle)
	mux := d.statusMux(reg)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, string(ferrors.CodeCyclicVariable), snap.LastError.Code)
	require.Nil(t, snap.LastGood)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "i3configger_rebuilds_total")

	d.status.setState(StateShuttingDown)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
