// Package backoff implements the sync state machine: whether a
// reconciliation pass may run now, and when the next one is due after a
// network failure. State is persisted so the schedule survives restarts.
package backoff

import (
	"sync"
	"time"

	"github.com/kimhsiao/interntrack/internal/clock"
	"github.com/kimhsiao/interntrack/internal/db"
	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/models"
	"github.com/kimhsiao/interntrack/internal/offline/event"
)

// delays is the retry schedule. Consecutive network failures walk this
// table; the last entry repeats forever.
var delays = []time.Duration{
	3 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
	600 * time.Second,
	900 * time.Second,
}

// Delay returns the wait before the next attempt after failureCount
// consecutive failures. failureCount is 1-based; zero means no failures
// and no wait.
func Delay(failureCount int) time.Duration {
	if failureCount <= 0 {
		return 0
	}
	if failureCount > len(delays) {
		failureCount = len(delays)
	}
	return delays[failureCount-1]
}

// MaxFailureCount is where the failure counter saturates.
func MaxFailureCount() int {
	return len(delays)
}

// Controller owns the persisted sync state and gates reconciliation passes.
// The mutex serializes the read-modify-write on the persisted state: the
// scheduler tick and a manual trigger can race into BeginPass, and only one
// may claim the syncing flag.
type Controller struct {
	mu     sync.Mutex
	repo   *db.Repository
	bus    *event.Bus
	clock  clock.Clock
	logger *logging.Logger
}

// NewController loads the persisted state. A syncing flag left behind by a
// crash is cleared so the agent does not deadlock against itself.
func NewController(repo *db.Repository, bus *event.Bus, clk clock.Clock) *Controller {
	c := &Controller{
		repo:   repo,
		bus:    bus,
		clock:  clk,
		logger: logging.Get(),
	}

	state := repo.GetSyncState()
	if state.IsSyncing {
		c.logger.Warn("Clearing stale syncing flag from previous run")
		state.IsSyncing = false
		if err := repo.SaveSyncState(state); err != nil {
			c.logger.Error("Failed to clear stale syncing flag", err)
		}
	}
	return c
}

// State returns a snapshot of the persisted sync state.
func (c *Controller) State() models.SyncState {
	return *c.repo.GetSyncState()
}

// CanAttempt reports whether a pass may start now: not already syncing and
// the backoff window, if any, has elapsed.
func (c *Controller) CanAttempt() bool {
	state := c.repo.GetSyncState()
	if state.IsSyncing {
		return false
	}
	return state.NextAttempt == 0 || c.clock.Now().UnixMilli() >= state.NextAttempt
}

// BeginPass claims the syncing flag. It fails with SYNC_IN_FLIGHT when a
// pass is already running and SYNC_BACKOFF when the retry window has not
// elapsed. The flag is persisted before the caller reaches its first
// network call.
func (c *Controller) BeginPass() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.repo.GetSyncState()
	now := c.clock.Now().UnixMilli()

	if state.IsSyncing {
		return apperrors.New(apperrors.ErrSyncInFlight, "a sync pass is already running")
	}
	if state.NextAttempt != 0 && now < state.NextAttempt {
		return apperrors.New(apperrors.ErrSyncBackoff, "backoff window has not elapsed")
	}

	state.IsSyncing = true
	state.LastAttempt = now
	if err := c.repo.SaveSyncState(state); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist sync state", err)
	}

	c.notify(state)
	return nil
}

// EndPassSuccess records a fully successful pass: counter and schedule
// reset, next attempt allowed immediately.
func (c *Controller) EndPassSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.repo.GetSyncState()
	state.IsSyncing = false
	state.FailureCount = 0
	state.NextAttempt = 0
	c.save(state)
}

// EndPassNetworkFailure records a pass halted by a network failure: the
// counter advances (saturating) and the next attempt is scheduled.
func (c *Controller) EndPassNetworkFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.repo.GetSyncState()
	state.IsSyncing = false
	if state.FailureCount < MaxFailureCount() {
		state.FailureCount++
	}
	state.NextAttempt = c.clock.Now().UnixMilli() + Delay(state.FailureCount).Milliseconds()

	c.logger.Info("Sync pass failed, backing off", map[string]interface{}{
		"failureCount": state.FailureCount,
		"nextAttempt":  state.NextAttempt,
	})
	c.save(state)
}

// EndPassHalted records a pass halted without blaming the network, such as
// an expired session. The failure counter and schedule are untouched.
func (c *Controller) EndPassHalted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.repo.GetSyncState()
	state.IsSyncing = false
	c.save(state)
}

// ClearGate removes a pending backoff window so the next pass may run
// immediately. The failure counter is kept: if the retry fails again, the
// schedule resumes where it left off.
func (c *Controller) ClearGate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.repo.GetSyncState()
	if state.NextAttempt == 0 {
		return
	}
	state.NextAttempt = 0
	c.save(state)
}

func (c *Controller) save(state *models.SyncState) {
	if err := c.repo.SaveSyncState(state); err != nil {
		c.logger.Error("Failed to persist sync state", err)
	}
	c.notify(state)
}

func (c *Controller) notify(state *models.SyncState) {
	c.bus.Publish(event.SyncStatusChanged, *state)
}
