package handlers

import (
	"net/http"

	"github.com/kimhsiao/interntrack/internal/clock"
	"github.com/kimhsiao/interntrack/internal/offline"
	"github.com/kimhsiao/interntrack/internal/offline/backoff"
	"github.com/kimhsiao/interntrack/internal/offline/queue"
)

// SyncHandler exposes sync status and control.
type SyncHandler struct {
	queue     *queue.Queue
	state     *backoff.Controller
	scheduler *offline.Scheduler
	clock     clock.Clock
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(q *queue.Queue, state *backoff.Controller, scheduler *offline.Scheduler, clk clock.Clock) *SyncHandler {
	return &SyncHandler{
		queue:     q,
		state:     state,
		scheduler: scheduler,
		clock:     clk,
	}
}

// GetStatus handles GET /api/sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	state := h.state.State()

	retryIn := int64(0)
	if state.NextAttempt > 0 {
		if remaining := state.NextAttempt - h.clock.Now().UnixMilli(); remaining > 0 {
			retryIn = (remaining + 999) / 1000
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":        h.queue.Count(),
		"isSyncing":      state.IsSyncing,
		"failureCount":   state.FailureCount,
		"lastAttempt":    state.LastAttempt,
		"nextAttempt":    state.NextAttempt,
		"retryInSeconds": retryIn,
	})
}

// TriggerSync handles POST /api/sync/now. It overrides any backoff window
// and runs a pass immediately.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.TriggerNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListQueue handles GET /api/sync/queue.
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	})
}

// ClearQueue handles DELETE /api/sync/queue. Pending offline work is
// discarded; records the server never saw stay local-only.
func (h *SyncHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
