// Package entity defines the syncable entity types and validates operation
// payloads at the queue boundary. Payloads are opaque to the queue itself;
// this package is the only place that knows their per-entity shape.
package entity

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kimhsiao/interntrack/internal/errors"
)

// Action is an offline mutation kind.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Schema describes one syncable entity type.
type Schema struct {
	// Name is the entity discriminator used in queue entries and API paths.
	Name string

	// Path is the REST collection path on the upstream API.
	Path string

	// Required lists fields that must be present and non-empty on create.
	Required []string
}

// registry holds the known entity schemas, keyed by discriminator.
// Field lists follow the upstream InternTrack API contracts.
var registry = map[string]Schema{
	"students": {
		Name:     "students",
		Path:     "/api/students",
		Required: []string{"email"},
	},
	"tasks": {
		Name:     "tasks",
		Path:     "/api/tasks",
		Required: []string{"title"},
	},
	"time_entries": {
		Name:     "time_entries",
		Path:     "/api/time-entries",
		Required: []string{"date"},
	},
	"contracts": {
		Name:     "contracts",
		Path:     "/api/contracts",
		Required: []string{"title", "student_email", "mentor_email"},
	},
	"vacancies": {
		Name:     "vacancies",
		Path:     "/api/vacancies",
		Required: []string{"title"},
	},
	"messages": {
		Name:     "messages",
		Path:     "/api/messages",
		Required: []string{"to_email", "content"},
	},
}

// Lookup returns the schema for an entity discriminator.
func Lookup(name string) (Schema, error) {
	s, ok := registry[name]
	if !ok {
		return Schema{}, errors.New(errors.ErrUnknownEntity, fmt.Sprintf("unknown entity type %q", name))
	}
	return s, nil
}

// Names returns all registered entity discriminators, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAction checks the action discriminator.
func ValidateAction(action Action) error {
	switch action {
	case ActionCreate, ActionUpdate, ActionDelete:
		return nil
	}
	return errors.New(errors.ErrUnknownAction, fmt.Sprintf("unknown action %q", action))
}

// ValidatePayload checks an operation payload against the entity schema.
// Called at enqueue time and again when deserializing persisted queue rows,
// so a corrupted cache entry is caught before it reaches the server.
func ValidatePayload(name string, action Action, payload json.RawMessage) error {
	schema, err := Lookup(name)
	if err != nil {
		return err
	}
	if err := ValidateAction(action); err != nil {
		return err
	}

	// Deletes carry no body
	if action == ActionDelete {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return errors.Wrap(errors.ErrBadPayload, fmt.Sprintf("%s payload is not an object", name), err)
	}

	// Only creates must carry the full required set; updates are partial
	if action != ActionCreate {
		return nil
	}

	for _, field := range schema.Required {
		raw, ok := fields[field]
		if !ok || isEmptyJSON(raw) {
			return errors.New(errors.ErrBadPayload,
				fmt.Sprintf("%s create payload missing required field %q", name, field))
		}
	}
	return nil
}

// isEmptyJSON reports whether a raw value is null or an empty string.
func isEmptyJSON(raw json.RawMessage) bool {
	s := string(raw)
	return s == "null" || s == `""`
}
