package models

import "encoding/json"

// QueuedOperation represents a pending offline mutation awaiting delivery.
// Seq is assigned by the database and fixes FIFO replay order.
type QueuedOperation struct {
	Seq       int64           `db:"seq" json:"-"`
	ID        UUID            `db:"id" json:"id"`
	Entity    string          `db:"entity" json:"entity"`
	Action    string          `db:"action" json:"action"` // create, update, delete
	TempID    string          `db:"temp_id" json:"tempId,omitempty"`
	RecordID  string          `db:"record_id" json:"recordId,omitempty"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	Attempts  int             `db:"attempts" json:"attempts"`
	CreatedAt int64           `db:"created_at" json:"createdAt"` // unix milliseconds
}

// TableName returns the table name for QueuedOperation.
func (QueuedOperation) TableName() string {
	return "offline_queue"
}
