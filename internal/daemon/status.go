package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/i3configger/internal/build"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
	"git.home.luguber.info/inful/i3configger/internal/metrics"
)

// State is a daemon lifecycle state.
type State string

const (
	StateStarting     State = "starting"
	StateBuilding     State = "building"
	StateIdle         State = "idle"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// BuildSummary is the public view of one rebuild.
type BuildSummary struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Changed    bool      `json:"changed"`
	Digest     string    `json:"digest,omitempty"`
	Fragments  int       `json:"fragments"`
	Unreadable int       `json:"unreadable,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS float64   `json:"duration_ms"`
}

// Snapshot is the JSON document served on /status.
type Snapshot struct {
	State     State                      `json:"state"`
	PID       int                        `json:"pid"`
	StartedAt time.Time                  `json:"started_at"`
	Source    string                     `json:"source"`
	Target    string                     `json:"target"`
	Rebuilds  int                        `json:"rebuilds"`
	LastBuild *BuildSummary              `json:"last_build,omitempty"`
	LastGood  *BuildSummary              `json:"last_good,omitempty"`
	LastError *ferrors.HTTPErrorResponse `json:"last_error,omitempty"`
}

type statusTracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	lastErr error
	adapter *ferrors.HTTPErrorAdapter
}

func newStatusTracker(source, target string, logger *slog.Logger) *statusTracker {
	return &statusTracker{
		snap: Snapshot{
			State:     StateStarting,
			PID:       os.Getpid(),
			StartedAt: time.Now(),
			Source:    source,
			Target:    target,
		},
		adapter: ferrors.NewHTTPErrorAdapter(logger),
	}
}

func (s *statusTracker) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = st
}

func (s *statusTracker) state() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.State
}

func (s *statusTracker) setPaths(source, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Source = source
	s.snap.Target = target
}

func (s *statusTracker) recordBuild(res *build.BuildResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Rebuilds++
	if res != nil {
		sum := summarize(res)
		s.snap.LastBuild = &sum
		if err == nil {
			good := sum
			s.snap.LastGood = &good
		}
	}
	s.lastErr = err
	s.snap.LastError = nil
	if err != nil {
		resp := s.adapter.FormatErrorResponse(err)
		s.snap.LastError = &resp
	}
}

func (s *statusTracker) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	return out
}

func (s *statusTracker) lastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func summarize(res *build.BuildResult) BuildSummary {
	return BuildSummary{
		ID:         res.ID,
		Status:     string(res.Status),
		Changed:    res.Changed,
		Digest:     res.Document.Digest,
		Fragments:  len(res.Document.Fragments),
		Unreadable: len(res.Issues),
		FinishedAt: res.EndTime,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	}
}

// statusMux serves /metrics, /healthz and /status. All endpoints are read-only.
func (d *Daemon) statusMux(reg *prom.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.HTTPHandler(reg))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		switch d.status.state() {
		case StateShuttingDown, StateStopped:
			d.status.adapter.WriteErrorResponse(w, r, ferrors.DaemonError("daemon is stopping").
				WithSeverity(ferrors.SeverityInfo).Build())
		default:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("ok\n"))
		}
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		snap := d.status.snapshot()
		w.Header().Set("Content-Type", "application/json")
		if snap.LastError != nil {
			w.WriteHeader(d.status.adapter.StatusCodeFor(d.status.lastError()))
		}
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			d.logger.Debug("Failed to write status", logfields.Error(err))
		}
	})
	return mux
}

type statusServer struct {
	srv *http.Server
	ln  net.Listener
}

func (d *Daemon) startStatusServer(addr string, reg *prom.Registry) (*statusServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to listen for status server").
			WithContext("addr", addr).Build()
	}
	srv := &http.Server{
		Handler:           d.statusMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("Status server stopped", logfields.Error(err))
		}
	}()
	d.logger.Info("Status server listening", slog.String("addr", ln.Addr().String()))
	return &statusServer{srv: srv, ln: ln}, nil
}

func (s *statusServer) shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
