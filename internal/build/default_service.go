package build

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"git.home.luguber.info/inful/i3configger/internal/config"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/fragments"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
	"git.home.luguber.info/inful/i3configger/internal/merge"
	"git.home.luguber.info/inful/i3configger/internal/metrics"
	"git.home.luguber.info/inful/i3configger/internal/output"
	"git.home.luguber.info/inful/i3configger/internal/variables"
)

// DefaultBuildService is the standard BuildService.
type DefaultBuildService struct {
	fs       afero.Fs
	recorder metrics.Recorder
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time
}

// NewBuildService creates a DefaultBuildService on the OS filesystem.
func NewBuildService() *DefaultBuildService {
	return &DefaultBuildService{
		fs:       afero.NewOsFs(),
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// WithFs swaps the filesystem (tests use afero.NewMemMapFs).
func (s *DefaultBuildService) WithFs(fsys afero.Fs) *DefaultBuildService {
	if fsys != nil {
		s.fs = fsys
	}
	return s
}

// WithRecorder sets the metrics recorder.
func (s *DefaultBuildService) WithRecorder(r metrics.Recorder) *DefaultBuildService {
	if r != nil {
		s.recorder = r
	}
	return s
}

// WithLogger sets the logger.
func (s *DefaultBuildService) WithLogger(l *slog.Logger) *DefaultBuildService {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithIDFunc replaces the build ID generator.
func (s *DefaultBuildService) WithIDFunc(f func() string) *DefaultBuildService {
	if f != nil {
		s.newID = f
	}
	return s
}

// Run loads, resolves, merges and writes. Unreadable fragments are reported in the
// result and do not fail the build; every other error does, leaving the target as
// it was.
func (s *DefaultBuildService) Run(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	res := &BuildResult{ID: s.newID(), StartTime: s.now()}
	if req.Config == nil {
		return s.finish(res, ferrors.ValidationError("build request has no configuration").Build())
	}
	cfg := req.Config
	res.Target = cfg.Target.Path
	log := s.logger.With(logfields.BuildID(res.ID))
	log.Debug("Rebuild started", logfields.Reason(req.Reason), logfields.Dir(cfg.Source.Dir))

	if err := ctx.Err(); err != nil {
		return s.finish(res, err)
	}

	store := fragments.NewStore(s.fs, fragments.OptionsFrom(cfg.Source), log)
	set, err := store.Load(ctx)
	if err != nil {
		return s.finish(res, err)
	}
	res.Issues = set.Issues
	res.Skipped = set.Skipped
	res.Warnings = set.Warnings
	s.recorder.AddUnreadableFragments(len(set.Issues))

	resolver := variables.NewResolver(
		variables.Syntax{Keyword: cfg.Variables.Keyword, Sigil: cfg.Variables.Sigil},
		variables.WithUndefinedPolicy(cfg.Variables.Undefined),
		variables.WithOverrides(cfg.Variables.Overrides),
		variables.WithLogger(log),
	)
	resolution, err := resolver.Resolve(set.Fragments)
	if err != nil {
		return s.finish(res, err)
	}
	res.Overrides = len(resolution.Overrides)
	res.Undefined = resolution.Undefined

	res.Document = merge.Merge(set.Fragments, resolution, merge.Options{
		Header:           cfg.Target.Header,
		Annotate:         cfg.Target.Annotate,
		StripDefinitions: cfg.Variables.StripDefinitions,
		Source:           cfg.Source.Dir,
	})

	if req.DryRun {
		res.Status = BuildStatusUnchanged
		return s.finish(res, nil)
	}

	written, err := output.NewWriter(s.fs, log).Write(ctx, cfg.Target.Path, []byte(res.Document.Content))
	if err != nil {
		return s.finish(res, err)
	}
	res.Target = written.Path
	res.Changed = written.Changed
	res.Status = BuildStatusUnchanged
	if written.Changed {
		res.Status = BuildStatusSuccess
	}
	s.recorder.SetFragments(len(res.Document.Fragments))
	return s.finish(res, nil)
}

func (s *DefaultBuildService) finish(res *BuildResult, err error) (*BuildResult, error) {
	res.EndTime = s.now()
	res.Duration = res.EndTime.Sub(res.StartTime)
	s.recorder.ObserveRebuildDuration(res.Duration)

	log := s.logger.With(logfields.BuildID(res.ID), logfields.DurationMS(float64(res.Duration.Microseconds())/1000))
	switch {
	case err == nil:
		if res.Status == BuildStatusSuccess {
			s.recorder.IncRebuildOutcome(metrics.OutcomeSuccess)
		} else {
			s.recorder.IncRebuildOutcome(metrics.OutcomeUnchanged)
		}
		log.Info("Rebuild finished",
			slog.String("status", string(res.Status)),
			logfields.Target(res.Target),
			logfields.Fragments(len(res.Document.Fragments)),
			logfields.Digest(shortDigest(res.Document.Digest)))
		return res, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = BuildStatusCanceled
	default:
		res.Status = BuildStatusFailed
	}
	s.recorder.IncRebuildOutcome(metrics.OutcomeFailed)
	log.Error("Rebuild failed", slog.String("status", string(res.Status)), logfields.Error(err))
	return res, err
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// Ensure DefaultBuildService implements BuildService.
var _ BuildService = (*DefaultBuildService)(nil)

// RequestFor is a convenience for building the request of a daemon or CLI run.
func RequestFor(cfg *config.Config, reason string) BuildRequest {
	return BuildRequest{Config: cfg, Reason: reason}
}
