package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/i3configger/internal/logfields"
)

// WorkerGroup tracks fire-and-forget post-build hooks and provides a safe shutdown
// boundary so WaitGroup.Add never runs concurrently with Wait.
type WorkerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
	logger   *slog.Logger
}

// Go starts fn unless the group is stopping. A panicking hook is logged and never
// takes the daemon down.
func (g *WorkerGroup) Go(name string, fn func()) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.log().Error("Hook panicked", logfields.Hook(name), slog.String("panic", fmt.Sprint(r)))
			}
		}()
		fn()
	}()
	return true
}

// StopAndWait prevents new workers from starting and waits for the running ones,
// bounded by ctx.
func (g *WorkerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *WorkerGroup) log() *slog.Logger {
	if g.logger == nil {
		return slog.Default()
	}
	return g.logger
}
