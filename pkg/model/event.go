package model

// EventStatus mirrors the lifecycle tag owned by the content-management side.
// Only published events accept reservations.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
	EventCompleted EventStatus = "completed"
	EventDeleted   EventStatus = "deleted"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventDraft, EventPublished, EventCancelled, EventCompleted, EventDeleted:
		return true
	}
	return false
}

// Retired reports whether a snapshot in this status must reject new reservations.
func (s EventStatus) Retired() bool {
	return s != EventPublished
}

// LifecycleRequest carries an upstream lifecycle transition for an event.
type LifecycleRequest struct {
	EventID  string      `json:"event_id" validate:"required,max=128,identifier"`
	Status   EventStatus `json:"status" validate:"required,oneof=draft published cancelled completed deleted"`
	Capacity int         `json:"capacity" validate:"min=0,max=1000000"`
}
