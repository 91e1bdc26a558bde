package models

import "encoding/json"

// ValidationError represents a permanently rejected operation. It shares the
// (entity, tempId/recordId) key space with QueuedOperation so the two stores
// can be correlated.
type ValidationError struct {
	ID        UUID            `db:"id" json:"id"`
	Entity    string          `db:"entity" json:"entity"`
	Action    string          `db:"action" json:"action"`
	TempID    string          `db:"temp_id" json:"tempId,omitempty"`
	RecordID  string          `db:"record_id" json:"recordId,omitempty"`
	Errors    json.RawMessage `db:"errors" json:"errors,omitempty"` // field path -> messages
	Message   string          `db:"message" json:"message"`
	CreatedAt int64           `db:"created_at" json:"createdAt"` // unix milliseconds
}

// TableName returns the table name for ValidationError.
func (ValidationError) TableName() string {
	return "validation_errors"
}
