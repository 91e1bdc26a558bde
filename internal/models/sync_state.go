package models

// SyncState is the single persisted row tracking backoff progress.
// LastAttempt and NextAttempt are unix milliseconds; zero means unset
// ("attempt immediately" for NextAttempt).
type SyncState struct {
	FailureCount int   `db:"failure_count" json:"failureCount"`
	LastAttempt  int64 `db:"last_attempt" json:"lastAttempt,omitempty"`
	NextAttempt  int64 `db:"next_attempt" json:"nextAttempt,omitempty"`
	IsSyncing    bool  `db:"is_syncing" json:"isSyncing"`
}

// TableName returns the table name for SyncState.
func (SyncState) TableName() string {
	return "sync_state"
}
