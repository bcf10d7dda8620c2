package services

import (
	"context"
	"sync"
	"time"

	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
)

// SyncScheduler asks for a pull and then a push every interval. Requests go
// through the coordinator, so a tick during a running session only marks the
// direction pending.
type SyncScheduler struct {
	sync     SyncRequester
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	ticks  int
	last   time.Time
	next   time.Time
}

// NewSyncScheduler creates a scheduler; it does nothing until Start
func NewSyncScheduler(sync SyncRequester, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{sync: sync, interval: interval}
}

// Start runs the schedule until ctx ends or Stop is called. A non-positive
// interval leaves it disabled; starting twice is a no-op.
func (s *SyncScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.next = time.Now().Add(s.interval)
	go s.loop(ctx, s.done)

	observability.Infof("Sync scheduler started (every %s)", s.interval)
}

func (s *SyncScheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sync.RequestSync(models.DirectionPull)
			s.sync.RequestSync(models.DirectionPush)
			s.ticked(now)
		}
	}
}

func (s *SyncScheduler) ticked(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.last = now
	if s.cancel != nil {
		s.next = now.Add(s.interval)
	}
}

// Stop ends the schedule and waits for the loop to exit
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.next = time.Time{}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	observability.Info("Sync scheduler stopped")
}

// Schedule reports the schedule for GET /api/sync/status
func (s *SyncScheduler) Schedule() models.ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := models.ScheduleStatus{
		Enabled:         s.cancel != nil,
		IntervalSeconds: int(s.interval / time.Second),
		Ticks:           s.ticks,
	}
	if !s.last.IsZero() {
		last := s.last
		st.LastRun = &last
	}
	if !s.next.IsZero() {
		next := s.next
		st.NextRun = &next
	}
	return st
}
