package daemon

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_ScheduleEvery(t *testing.T) {
	t.Run("returns job id for valid interval", func(t *testing.T) {
		s, err := NewScheduler(nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })

		id, err := s.ScheduleEvery("resync", 10*time.Second, func() {})
		require.NoError(t, err)
		require.NotEmpty(t, id)
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		s, err := NewScheduler(nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })

		_, err = s.ScheduleEvery("resync", 0, func() {})
		require.Error(t, err)
	})

	t.Run("runs the task", func(t *testing.T) {
		s, err := NewScheduler(nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })

		var runs atomic.Int32
		_, err = s.ScheduleEvery("resync", 20*time.Millisecond, func() { runs.Add(1) })
		require.NoError(t, err)
		s.Start()

		require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	})
}
