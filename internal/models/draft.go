package models

import "encoding/json"

// Draft holds in-progress form data for a record that has not been submitted
// yet. RecordID is "new" for drafts of unsaved records.
type Draft struct {
	Entity   string          `db:"entity" json:"entity"`
	RecordID string          `db:"record_id" json:"recordId"`
	Payload  json.RawMessage `db:"payload" json:"payload"`
	SavedAt  int64           `db:"saved_at" json:"savedAt"` // unix milliseconds
	Dirty    bool            `db:"dirty" json:"dirty"`
}

// TableName returns the table name for Draft.
func (Draft) TableName() string {
	return "drafts"
}

// Key returns the store key for the draft.
func (d Draft) Key() string {
	return d.Entity + "/" + d.RecordID
}
