// Package db provides repository operations for the agent's persisted stores.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/models"
)

// Repository provides persistence for the offline queue, sync state,
// validation errors, drafts, and the encrypted auth token.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Offline Queue Operations
// =====================================================

// InsertQueuedOperation appends an operation to the queue. The database
// assigns the FIFO sequence number, written back into op.Seq.
func (r *Repository) InsertQueuedOperation(op *models.QueuedOperation) error {
	stmt, err := r.PrepareStmt(`
		INSERT INTO offline_queue (id, entity, action, temp_id, record_id, payload, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	res, err := stmt.Exec(op.ID, op.Entity, op.Action, op.TempID, op.RecordID,
		string(op.Payload), op.Attempts, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert queued operation: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	op.Seq = seq
	return nil
}

// DeleteQueuedOperation removes an operation by id. Returns the number of
// rows removed; removing a missing id is not an error.
func (r *Repository) DeleteQueuedOperation(id string) (int64, error) {
	stmt, err := r.PrepareStmt("DELETE FROM offline_queue WHERE id = ?")
	if err != nil {
		return 0, err
	}

	res, err := stmt.Exec(id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete queued operation: %w", err)
	}
	return res.RowsAffected()
}

// ListQueuedOperations returns all queued operations in FIFO order.
// Rows that fail to scan are skipped and logged, never fatal.
func (r *Repository) ListQueuedOperations() ([]*models.QueuedOperation, error) {
	rows, err := r.db.Query(`
		SELECT seq, id, entity, action, temp_id, record_id, payload, attempts, created_at
		FROM offline_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var ops []*models.QueuedOperation
	for rows.Next() {
		op := &models.QueuedOperation{}
		var payload string
		if err := rows.Scan(&op.Seq, &op.ID, &op.Entity, &op.Action,
			&op.TempID, &op.RecordID, &payload, &op.Attempts, &op.CreatedAt); err != nil {
			logging.Warn("Skipping corrupt queue row", map[string]interface{}{"error": err.Error()})
			continue
		}
		op.Payload = []byte(payload)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// UpdateQueuedOperationAttempts records a failed delivery attempt.
func (r *Repository) UpdateQueuedOperationAttempts(id string, attempts int) error {
	stmt, err := r.PrepareStmt("UPDATE offline_queue SET attempts = ? WHERE id = ?")
	if err != nil {
		return err
	}
	_, err = stmt.Exec(attempts, id)
	return err
}

// ResolveTempID rewrites queued operations that reference a temp id to use
// the server-assigned record id. Returns the number of rows rewritten.
func (r *Repository) ResolveTempID(tempID, recordID string) (int64, error) {
	res, err := r.db.Exec(
		"UPDATE offline_queue SET record_id = ? WHERE record_id = ?", recordID, tempID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve temp id: %w", err)
	}
	return res.RowsAffected()
}

// DeleteQueuedOperationsForTemp removes every queued operation tied to a
// temp id. Used when a record that never reached the server is deleted.
func (r *Repository) DeleteQueuedOperationsForTemp(tempID string) (int64, error) {
	res, err := r.db.Exec(
		"DELETE FROM offline_queue WHERE temp_id = ? OR record_id = ?", tempID, tempID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete temp operations: %w", err)
	}
	return res.RowsAffected()
}

// CountQueuedOperations returns the number of pending operations.
func (r *Repository) CountQueuedOperations() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM offline_queue").Scan(&count)
	return count, err
}

// ClearQueue removes all queued operations.
func (r *Repository) ClearQueue() error {
	_, err := r.db.Exec("DELETE FROM offline_queue")
	return err
}

// =====================================================
// Sync State Operations
// =====================================================

// GetSyncState returns the singleton sync state row. A corrupt or missing
// row yields a zeroed state rather than an error: a broken cache must never
// prevent syncing against the server.
func (r *Repository) GetSyncState() *models.SyncState {
	state := &models.SyncState{}
	var isSyncing int
	err := r.db.QueryRow(`
		SELECT failure_count, last_attempt, next_attempt, is_syncing
		FROM sync_state WHERE id = 1`).
		Scan(&state.FailureCount, &state.LastAttempt, &state.NextAttempt, &isSyncing)
	if err != nil {
		logging.Warn("Sync state unreadable, resetting", map[string]interface{}{"error": err.Error()})
		return &models.SyncState{}
	}
	state.IsSyncing = isSyncing != 0
	return state
}

// SaveSyncState persists the singleton sync state row.
func (r *Repository) SaveSyncState(state *models.SyncState) error {
	stmt, err := r.PrepareStmt(`
		UPDATE sync_state SET failure_count = ?, last_attempt = ?, next_attempt = ?, is_syncing = ?
		WHERE id = 1`)
	if err != nil {
		return err
	}

	isSyncing := 0
	if state.IsSyncing {
		isSyncing = 1
	}
	_, err = stmt.Exec(state.FailureCount, state.LastAttempt, state.NextAttempt, isSyncing)
	return err
}

// =====================================================
// Validation Error Operations
// =====================================================

// InsertValidationError records a permanently rejected operation.
func (r *Repository) InsertValidationError(ve *models.ValidationError) error {
	stmt, err := r.PrepareStmt(`
		INSERT INTO validation_errors (id, entity, action, temp_id, record_id, errors, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(ve.ID, ve.Entity, ve.Action, ve.TempID, ve.RecordID,
		string(ve.Errors), ve.Message, ve.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert validation error: %w", err)
	}
	return nil
}

// DeleteValidationError removes one entry by id.
func (r *Repository) DeleteValidationError(id string) (int64, error) {
	stmt, err := r.PrepareStmt("DELETE FROM validation_errors WHERE id = ?")
	if err != nil {
		return 0, err
	}
	res, err := stmt.Exec(id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteValidationErrorsFor removes all entries matching the entity and,
// when provided, the record id (matched against both temp and real ids)
// and/or the action.
func (r *Repository) DeleteValidationErrorsFor(entity, recordID, action string) (int64, error) {
	query := "DELETE FROM validation_errors WHERE entity = ?"
	args := []interface{}{entity}

	if recordID != "" {
		query += " AND (temp_id = ? OR record_id = ?)"
		args = append(args, recordID, recordID)
	}
	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}

	res, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListValidationErrors returns all recorded validation errors, newest last.
func (r *Repository) ListValidationErrors() ([]*models.ValidationError, error) {
	rows, err := r.db.Query(`
		SELECT id, entity, action, temp_id, record_id, errors, message, created_at
		FROM validation_errors ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation errors: %w", err)
	}
	defer rows.Close()

	var list []*models.ValidationError
	for rows.Next() {
		ve := &models.ValidationError{}
		var errJSON string
		if err := rows.Scan(&ve.ID, &ve.Entity, &ve.Action, &ve.TempID,
			&ve.RecordID, &errJSON, &ve.Message, &ve.CreatedAt); err != nil {
			logging.Warn("Skipping corrupt validation error row", map[string]interface{}{"error": err.Error()})
			continue
		}
		ve.Errors = []byte(errJSON)
		list = append(list, ve)
	}
	return list, rows.Err()
}

// ClearValidationErrors removes all validation errors.
func (r *Repository) ClearValidationErrors() error {
	_, err := r.db.Exec("DELETE FROM validation_errors")
	return err
}

// =====================================================
// Draft Operations
// =====================================================

// UpsertDraft writes the latest draft for (entity, recordID).
func (r *Repository) UpsertDraft(d *models.Draft) error {
	stmt, err := r.PrepareStmt(`
		INSERT INTO drafts (entity, record_id, payload, saved_at, dirty)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity, record_id) DO UPDATE SET
			payload = excluded.payload,
			saved_at = excluded.saved_at,
			dirty = excluded.dirty`)
	if err != nil {
		return err
	}

	dirty := 0
	if d.Dirty {
		dirty = 1
	}
	_, err = stmt.Exec(d.Entity, d.RecordID, string(d.Payload), d.SavedAt, dirty)
	return err
}

// GetDraft returns the draft for (entity, recordID) or sql.ErrNoRows.
func (r *Repository) GetDraft(entity, recordID string) (*models.Draft, error) {
	stmt, err := r.PrepareStmt(`
		SELECT entity, record_id, payload, saved_at, dirty
		FROM drafts WHERE entity = ? AND record_id = ?`)
	if err != nil {
		return nil, err
	}

	d := &models.Draft{}
	var payload string
	var dirty int
	err = stmt.QueryRow(entity, recordID).Scan(&d.Entity, &d.RecordID, &payload, &d.SavedAt, &dirty)
	if err != nil {
		return nil, err
	}
	d.Payload = []byte(payload)
	d.Dirty = dirty != 0
	return d, nil
}

// DeleteDraft removes the draft for (entity, recordID).
func (r *Repository) DeleteDraft(entity, recordID string) (int64, error) {
	stmt, err := r.PrepareStmt("DELETE FROM drafts WHERE entity = ? AND record_id = ?")
	if err != nil {
		return 0, err
	}
	res, err := stmt.Exec(entity, recordID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListDrafts returns all drafts for an entity type.
func (r *Repository) ListDrafts(entity string) ([]*models.Draft, error) {
	rows, err := r.db.Query(`
		SELECT entity, record_id, payload, saved_at, dirty
		FROM drafts WHERE entity = ? ORDER BY saved_at DESC`, entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []*models.Draft
	for rows.Next() {
		d := &models.Draft{}
		var payload string
		var dirty int
		if err := rows.Scan(&d.Entity, &d.RecordID, &payload, &d.SavedAt, &dirty); err != nil {
			logging.Warn("Skipping corrupt draft row", map[string]interface{}{"error": err.Error()})
			continue
		}
		d.Payload = []byte(payload)
		d.Dirty = dirty != 0
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// =====================================================
// Auth Token Operations
// =====================================================

// SaveAuthToken stores the encrypted bearer token.
func (r *Repository) SaveAuthToken(encrypted string, updatedAt int64) error {
	_, err := r.db.Exec(`
		INSERT INTO auth_token (id, token_encrypted, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET token_encrypted = excluded.token_encrypted, updated_at = excluded.updated_at`,
		encrypted, updatedAt)
	return err
}

// GetAuthToken returns the encrypted bearer token or sql.ErrNoRows.
func (r *Repository) GetAuthToken() (string, error) {
	var encrypted string
	err := r.db.QueryRow("SELECT token_encrypted FROM auth_token WHERE id = 1").Scan(&encrypted)
	return encrypted, err
}

// DeleteAuthToken removes the stored bearer token.
func (r *Repository) DeleteAuthToken() error {
	_, err := r.db.Exec("DELETE FROM auth_token WHERE id = 1")
	return err
}
