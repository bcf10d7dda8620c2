package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/locationtracker/agent/internal/codec"
	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
	"github.com/locationtracker/agent/internal/remote"
	"github.com/locationtracker/agent/internal/repository"
)

const (
	// LocationsCursor names the pull cursor of the locations database
	LocationsCursor = "locations"

	defaultSessionTimeout = 2 * time.Minute
)

// Observer is told when a pull changed the local store. It carries no payload;
// observers re-query the store themselves.
type Observer interface {
	LocalRecordsChanged(kind models.RecordKind)
}

// SessionObserver is optionally implemented by observers that want every session outcome
type SessionObserver interface {
	SyncCompleted(result models.SessionResult)
}

// directionState is the {active, pending} pair of one direction.
// waiters receive the result of the running session, pendingWaiters the
// result of the coalesced follow-up.
type directionState struct {
	mu             sync.Mutex
	active         bool
	pending        bool
	waiters        []chan models.SessionResult
	pendingWaiters []chan models.SessionResult
	last           *models.SessionResult
}

// SyncCoordinator runs at most one replication session per direction and folds
// requests that arrive while busy into a single follow-up session.
type SyncCoordinator struct {
	store          repository.LocalStore
	remote         remote.RemoteEndpoint
	sessionTimeout time.Duration
	metrics        *observability.SyncMetrics
	logger         *observability.Logger

	push directionState
	pull directionState

	obsMu     sync.RWMutex
	observers []Observer

	// running counts live run loops; idle is closed whenever it drops to zero
	runMu   sync.Mutex
	running int
	idle    chan struct{}
}

// NewSyncCoordinator creates a coordinator. A zero sessionTimeout selects the default;
// metrics may be nil.
func NewSyncCoordinator(store repository.LocalStore, endpoint remote.RemoteEndpoint, sessionTimeout time.Duration, metrics *observability.SyncMetrics) *SyncCoordinator {
	if sessionTimeout <= 0 {
		sessionTimeout = defaultSessionTimeout
	}
	return &SyncCoordinator{
		store:          store,
		remote:         endpoint,
		sessionTimeout: sessionTimeout,
		metrics:        metrics,
		logger:         observability.Component("sync"),
	}
}

// AddObserver registers o for change notifications
func (c *SyncCoordinator) AddObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *SyncCoordinator) state(d models.Direction) *directionState {
	switch d {
	case models.DirectionPush:
		return &c.push
	case models.DirectionPull:
		return &c.pull
	default:
		return nil
	}
}

// RequestSync starts a session for d when the direction is idle. When a session is
// already running the request is coalesced: the direction is marked pending and the
// returned channel receives the result of the single follow-up session.
// The channel is buffered and receives exactly one value.
func (c *SyncCoordinator) RequestSync(d models.Direction) <-chan models.SessionResult {
	ch := make(chan models.SessionResult, 1)

	st := c.state(d)
	if st == nil {
		now := time.Now()
		ch <- models.SessionResult{
			Direction:  d,
			Err:        models.ErrUnknownDirection,
			Reason:     models.ErrUnknownDirection.Error(),
			StartedAt:  now,
			FinishedAt: now,
		}
		return ch
	}

	st.mu.Lock()
	if st.active {
		st.pending = true
		st.pendingWaiters = append(st.pendingWaiters, ch)
		st.mu.Unlock()

		c.logger.ForDirection(d).Debug("Sync already running, request coalesced")
		c.metrics.RecordCoalesced(context.Background(), d)
		return ch
	}
	st.active = true
	st.waiters = append(st.waiters, ch)
	c.started()
	st.mu.Unlock()

	go c.run(d, st)
	return ch
}

// Sync requests a session and waits for its result or for ctx to end
func (c *SyncCoordinator) Sync(ctx context.Context, d models.Direction) (models.SessionResult, error) {
	select {
	case res := <-c.RequestSync(d):
		return res, nil
	case <-ctx.Done():
		return models.SessionResult{}, ctx.Err()
	}
}

// run executes sessions for d until no request is pending
func (c *SyncCoordinator) run(d models.Direction, st *directionState) {
	defer c.finished()

	for {
		result := c.session(d)
		c.complete(result)

		st.mu.Lock()
		waiters := st.waiters
		st.last = &result
		if st.pending {
			st.pending = false
			st.waiters = st.pendingWaiters
			st.pendingWaiters = nil
		} else {
			st.active = false
			st.waiters = nil
		}
		restart := st.active
		st.mu.Unlock()

		for _, w := range waiters {
			w <- result
		}
		if !restart {
			return
		}
		c.logger.ForDirection(d).Debug("Running coalesced sync")
	}
}

// complete notifies observers of a finished session
func (c *SyncCoordinator) complete(result models.SessionResult) {
	c.obsMu.RLock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.RUnlock()

	changed := result.Direction == models.DirectionPull && result.Success && result.ChangesProcessed > 0
	for _, o := range observers {
		if changed {
			o.LocalRecordsChanged(models.KindLocation)
		}
		if so, ok := o.(SessionObserver); ok {
			so.SyncCompleted(result)
		}
	}
}

// session runs one replication attempt. It never panics and always returns a result.
func (c *SyncCoordinator) session(d models.Direction) (result models.SessionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), c.sessionTimeout)
	defer cancel()

	ctx, span := observability.StartSyncSpan(ctx, d)

	result = models.SessionResult{Direction: d, StartedAt: time.Now()}
	logger := c.logger.WithContext(ctx).ForDirection(d)

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync session panicked: %v", r)
			result.ChangesProcessed = 0
		}
		result.FinishedAt = time.Now()
		result.Success = err == nil
		observability.Finish(span, err)
		if err != nil {
			result.Err = err
			result.Reason = err.Error()
			logger.Errorf("Sync failed: %v", err)
		} else {
			logger.Infof("Sync complete: processed=%d skipped=%d rejected=%d duration=%s",
				result.ChangesProcessed, result.Skipped, result.Rejected, result.Duration())
		}
		c.metrics.RecordSession(ctx, result)
	}()

	logger.Debug("Starting sync")
	switch d {
	case models.DirectionPull:
		err = c.pullSession(ctx, logger, &result)
	case models.DirectionPush:
		err = c.pushSession(ctx, logger, &result)
	}
	return result
}

func (c *SyncCoordinator) pullSession(ctx context.Context, logger *observability.Logger, result *models.SessionResult) error {
	cursor, err := c.store.Cursor(ctx, LocationsCursor)
	if err != nil {
		return err
	}

	batch, err := c.remote.FetchChangesSince(ctx, cursor)
	if err != nil {
		return err
	}
	observability.ChangesFetched(ctx, len(batch.Documents), batch.Cursor)

	type decoded struct {
		doc codec.Document
		rec *models.LocationRecord
	}
	records := make([]decoded, 0, len(batch.Documents))
	for _, doc := range batch.Documents {
		rec, err := codec.DecodeLocation(doc)
		if err != nil {
			result.Skipped++
			logger.Warnf("Skipping remote document %v: %v", doc[codec.FieldID], err)
			continue
		}
		records = append(records, decoded{doc: doc, rec: rec})
	}

	err = c.store.WithTx(ctx, func(tx repository.StoreTx) error {
		for _, d := range records {
			rec := d.rec
			existing, err := tx.Get(ctx, models.KindLocation, rec.ID)
			if err != nil {
				return err
			}
			if loc, ok := existing.(*models.LocationRecord); ok {
				merged, err := codec.Merge(*loc, d.doc)
				if err != nil {
					return err
				}
				rec = &merged
			}
			if err := tx.Upsert(ctx, rec, true); err != nil {
				return err
			}
		}
		if batch.Cursor != "" && batch.Cursor != cursor {
			return tx.SetCursor(ctx, LocationsCursor, batch.Cursor)
		}
		return nil
	})
	if err != nil {
		return err
	}

	result.ChangesProcessed = len(records)
	return nil
}

func (c *SyncCoordinator) pushSession(ctx context.Context, logger *observability.Logger, result *models.SessionResult) error {
	recs, err := c.store.GetUnsynchronized(ctx, models.KindLocation)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	docs := make([]codec.Document, 0, len(recs))
	for _, rec := range recs {
		doc, err := codec.EncodeDocument(rec)
		if err != nil {
			result.Skipped++
			logger.Warnf("Skipping local record %s: %v", rec.RecordID(), err)
			continue
		}
		docs = append(docs, doc)
	}

	results, err := c.remote.Submit(ctx, docs)
	if err != nil {
		return err
	}

	for _, r := range results {
		if !r.Accepted {
			logger.ForRecord(models.KindLocation, r.ID).Warnf("Remote rejected record: %s", r.Reason)
		}
	}

	accepted := remote.Accepted(results)
	if len(accepted) > 0 {
		if err := c.store.MarkSynchronized(ctx, accepted...); err != nil {
			return err
		}
	}

	result.ChangesProcessed = len(accepted)
	result.Rejected = len(docs) - len(accepted)
	return nil
}

// Status returns a snapshot of both directions
func (c *SyncCoordinator) Status() models.SyncStatusResponse {
	return models.SyncStatusResponse{
		Push: c.push.snapshot(),
		Pull: c.pull.snapshot(),
	}
}

func (st *directionState) snapshot() models.DirectionStatus {
	st.mu.Lock()
	defer st.mu.Unlock()

	status := models.DirectionStatus{Active: st.active, Pending: st.pending}
	if st.last != nil {
		last := *st.last
		status.LastResult = &last
	}
	return status
}

func (c *SyncCoordinator) started() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running == 0 {
		c.idle = make(chan struct{})
	}
	c.running++
}

func (c *SyncCoordinator) finished() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.running--
	if c.running == 0 {
		close(c.idle)
	}
}

// Wait blocks until no session is running or ctx ends. Requests may keep
// arriving while it waits; it returns the first time both directions are idle.
func (c *SyncCoordinator) Wait(ctx context.Context) error {
	c.runMu.Lock()
	if c.running == 0 {
		c.runMu.Unlock()
		return nil
	}
	idle := c.idle
	c.runMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
