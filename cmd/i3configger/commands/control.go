package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sys/unix"

	"git.home.luguber.info/inful/i3configger/internal/daemon"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/lock"
)

// ReloadCmd implements the 'reload' command.
type ReloadCmd struct{}

func (r *ReloadCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	pid, err := lock.Signal(cfg.Daemon.LockFile, unix.SIGHUP)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(g.out(), "asked daemon (pid %d) to reload\n", pid)
	return err
}

// StopCmd implements the 'stop' command.
type StopCmd struct {
	Wait time.Duration `help:"How long to wait for the daemon to exit" default:"5s"`
}

func (s *StopCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	pid, err := lock.Signal(cfg.Daemon.LockFile, unix.SIGTERM)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(s.Wait)
	for {
		_, running, err := lock.Probe(cfg.Daemon.LockFile)
		if err != nil {
			return err
		}
		if !running {
			_, err = fmt.Fprintf(g.out(), "daemon (pid %d) stopped\n", pid)
			return err
		}
		if !time.Now().Before(deadline) {
			return ferrors.DaemonError("daemon did not stop in time").WithContext("pid", pid).Build()
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	JSON bool `help:"Print the daemon's status document (requires daemon.status_addr)"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	pid, running, err := lock.Probe(cfg.Daemon.LockFile)
	if err != nil {
		return err
	}
	if !running {
		_, _ = fmt.Fprintln(g.out(), "not running")
		return ferrors.DaemonError("no running instance").WithContext("lock_file", cfg.Daemon.LockFile).Build()
	}

	if cfg.Daemon.StatusAddr == "" {
		_, err = fmt.Fprintf(g.out(), "running (pid %d)\n", pid)
		return err
	}
	snap, err := fetchStatus(cfg.Daemon.StatusAddr)
	if err != nil {
		_, err = fmt.Fprintf(g.out(), "running (pid %d), status unavailable: %v\n", pid, err)
		return err
	}
	if s.JSON {
		enc := json.NewEncoder(g.out())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	_, err = fmt.Fprintf(g.out(), "running (pid %d), %s, %d rebuilds\n", pid, snap.State, snap.Rebuilds)
	if err == nil && snap.LastError != nil {
		_, err = fmt.Fprintf(g.out(), "last error: %s\n", snap.LastError.Error)
	}
	return err
}

func fetchStatus(addr string) (*daemon.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var snap daemon.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
