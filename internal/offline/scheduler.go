package offline

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/interntrack/internal/clock"
	apperrors "github.com/kimhsiao/interntrack/internal/errors"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/offline/backoff"
	"github.com/kimhsiao/interntrack/internal/offline/queue"
)

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	// Interval is how often the scheduler checks whether a pass is due.
	Interval time.Duration
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval: 15 * time.Second,
	}
}

// Scheduler periodically runs reconciliation passes. The backoff controller
// decides whether a pass may run; the scheduler only supplies the heartbeat
// and the manual retry-now override.
type Scheduler struct {
	reconciler *Reconciler
	state      *backoff.Controller
	queue      *queue.Queue
	config     SchedulerConfig
	clock      clock.Clock
	logger     *logging.Logger

	mu      sync.Mutex
	timer   clock.Timer
	running bool
}

// NewScheduler creates a scheduler.
func NewScheduler(rec *Reconciler, state *backoff.Controller, q *queue.Queue, config SchedulerConfig, clk clock.Clock) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	return &Scheduler{
		reconciler: rec,
		state:      state,
		queue:      q,
		config:     config,
		clock:      clk,
		logger:     logging.Get(),
	}
}

// Start begins the heartbeat. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.timer = s.clock.AfterFunc(s.config.Interval, s.tick)
	s.logger.Info("Sync scheduler started", map[string]interface{}{
		"interval": s.config.Interval.String(),
	})
}

// Stop halts the heartbeat. A pass already running finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
	}
	s.logger.Info("Sync scheduler stopped")
}

// tick runs one due pass and reschedules itself.
func (s *Scheduler) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.timer = s.clock.AfterFunc(s.config.Interval, s.tick)
	s.mu.Unlock()

	if s.queue.Count() == 0 {
		return
	}
	if !s.state.CanAttempt() {
		return
	}

	if _, err := s.reconciler.RunPass(context.Background()); err != nil {
		// In-flight and backoff refusals are expected races with manual
		// triggers; anything else is worth surfacing.
		if !apperrors.Is(err, apperrors.ErrSyncInFlight) && !apperrors.Is(err, apperrors.ErrSyncBackoff) {
			s.logger.Error("Scheduled sync pass failed", err)
		}
	}
}

// TriggerNow clears any backoff window and runs a pass immediately. Used by
// the agent's retry-now endpoint.
func (s *Scheduler) TriggerNow(ctx context.Context) (PassResult, error) {
	s.state.ClearGate()
	return s.reconciler.RunPass(ctx)
}
