package metrics

import "time"

// Outcome is the final status of one rebuild.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Recorder defines observability hooks for rebuilds and post-build hooks.
type Recorder interface {
	ObserveRebuildDuration(d time.Duration)
	IncRebuildOutcome(outcome Outcome)
	SetFragments(n int)
	AddUnreadableFragments(n int)
	AddCoalescedRequests(n int)
	IncHookResult(hook string, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRebuildDuration(time.Duration) {}
func (NoopRecorder) IncRebuildOutcome(Outcome)            {}
func (NoopRecorder) SetFragments(int)                     {}
func (NoopRecorder) AddUnreadableFragments(int)           {}
func (NoopRecorder) AddCoalescedRequests(int)             {}
func (NoopRecorder) IncHookResult(string, bool)           {}
