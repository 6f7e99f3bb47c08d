// Package types provides common value types shared across ticketbooth.
package types

import "time"

// Entity carries the creation and modification times of a persisted record.
type Entity struct {
	CreatedAt time.Time `json:"created_at" bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `json:"updated_at" bun:"updated_at,notnull,default:current_timestamp"`
}

// NewEntity stamps both timestamps with the current UTC time.
func NewEntity() Entity {
	return EntityAt(time.Now())
}

// EntityAt stamps both timestamps with t. Engines with an injected clock
// use it so records agree with their own notion of now.
func EntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}

// Touch moves UpdatedAt to t. It never moves backwards, so a stale
// clock cannot make a record look older than its last write.
func (e *Entity) Touch(t time.Time) {
	t = t.UTC()
	if t.After(e.UpdatedAt) {
		e.UpdatedAt = t
	}
}
