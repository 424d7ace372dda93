package build

import (
	"context"
	"time"

	"git.home.luguber.info/inful/i3configger/internal/config"
	"git.home.luguber.info/inful/i3configger/internal/fragments"
	"git.home.luguber.info/inful/i3configger/internal/merge"
)

// BuildService executes one rebuild.
type BuildService interface {
	Run(ctx context.Context, req BuildRequest) (*BuildResult, error)
}

// BuildRequest contains all inputs of a rebuild.
type BuildRequest struct {
	Config *config.Config
	// Reason tags the trigger for logs ("initial", "change", "signal", ...).
	Reason string
	// DryRun stops before writing; the merged document is still returned.
	DryRun bool
}

// BuildResult describes a rebuild attempt. It is returned alongside errors so the
// caller can report the build ID and timings of failed runs.
type BuildResult struct {
	ID       string
	Status   BuildStatus
	Target   string
	Document merge.Document
	Changed  bool

	Issues    []fragments.Issue
	Skipped   []string
	Warnings  []string
	Overrides int
	Undefined []string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// BuildStatus represents the outcome of a rebuild.
type BuildStatus string

const (
	BuildStatusSuccess   BuildStatus = "success"
	BuildStatusUnchanged BuildStatus = "unchanged"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCanceled  BuildStatus = "canceled"
)

// IsSuccess returns true if the target holds the document of this build.
func (s BuildStatus) IsSuccess() bool {
	return s == BuildStatusSuccess || s == BuildStatusUnchanged
}
