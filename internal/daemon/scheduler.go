package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
)

// Scheduler wraps a gocron scheduler for the periodic resync that catches changes
// the watcher may have missed (network filesystems, suspended machines).
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to create scheduler").Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// ScheduleEvery runs task every interval, never overlapping with itself, and returns
// the job ID.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, task func()) (string, error) {
	if interval <= 0 {
		return "", ferrors.ValidationError(fmt.Sprintf("interval must be > 0, got %s", interval)).Build()
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to schedule job").
			WithContext("job", name).Build()
	}
	s.logger.Info("Scheduled periodic job", slog.String("job", name), slog.Duration("interval", interval))
	return job.ID().String(), nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts down the scheduler and waits for running jobs.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
