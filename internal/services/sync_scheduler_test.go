package services

import (
	"context"
	"testing"
	"time"

	"github.com/locationtracker/agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncScheduler(t *testing.T) {
	t.Run("requests a pull then a push on every tick", func(t *testing.T) {
		req := &recordingRequester{}
		s := NewSyncScheduler(req, 10*time.Millisecond)
		s.Start(context.Background())
		s.Start(context.Background())

		require.Eventually(t, func() bool { return s.Schedule().Ticks >= 2 }, waitTimeout, 5*time.Millisecond)
		running := s.Schedule()
		assert.True(t, running.Enabled)
		assert.NotNil(t, running.NextRun)

		s.Stop()
		s.Stop()

		stopped := s.Schedule()
		assert.False(t, stopped.Enabled)
		assert.Nil(t, stopped.NextRun)
		require.NotNil(t, stopped.LastRun)

		req.mu.Lock()
		defer req.mu.Unlock()
		assert.GreaterOrEqual(t, len(req.requests), 4)
		assert.Equal(t, models.DirectionPull, req.requests[0])
		assert.Equal(t, models.DirectionPush, req.requests[1])
	})

	t.Run("stops with its context", func(t *testing.T) {
		req := &recordingRequester{}
		s := NewSyncScheduler(req, 5*time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		s.Start(ctx)
		require.Eventually(t, func() bool { return s.Schedule().Ticks >= 1 }, waitTimeout, 5*time.Millisecond)

		cancel()
		s.Stop()
		ticks := s.Schedule().Ticks
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, ticks, s.Schedule().Ticks)
	})

	t.Run("disabled without an interval", func(t *testing.T) {
		s := NewSyncScheduler(&recordingRequester{}, 0)
		s.Start(context.Background())
		assert.Equal(t, models.ScheduleStatus{}, s.Schedule())
		s.Stop()
	})
}
