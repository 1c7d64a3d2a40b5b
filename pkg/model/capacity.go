package model

import "time"

// CapacitySnapshot is the authoritative occupancy record of one event.
// 0 <= Occupied <= Capacity holds for every committed version.
type CapacitySnapshot struct {
	EventID   string      `json:"event_id" bson:"_id"`
	Capacity  int         `json:"capacity" bson:"capacity"`
	Occupied  int         `json:"occupied" bson:"occupied"`
	Version   int64       `json:"version" bson:"version"`
	Status    EventStatus `json:"status" bson:"status"`
	UpdatedAt time.Time   `json:"updated_at" bson:"updated_at"`
}

func (s *CapacitySnapshot) Remaining() int {
	return max(s.Capacity-s.Occupied, 0)
}

func (s *CapacitySnapshot) IsFull() bool {
	return s.Occupied >= s.Capacity
}

func (s *CapacitySnapshot) Accepting() bool {
	return !s.Status.Retired()
}

// Fact derives the broadcast payload for this committed version.
func (s *CapacitySnapshot) Fact() CapacityChangeFact {
	return CapacityChangeFact{
		EventID:   s.EventID,
		Occupied:  s.Occupied,
		Capacity:  s.Capacity,
		Version:   s.Version,
		Status:    s.Status,
		Remaining: s.Remaining(),
	}
}

// CapacityChangeFact is an immutable record of one committed occupancy change.
// Receivers discard any fact whose Version does not exceed the last one applied.
type CapacityChangeFact struct {
	EventID   string      `json:"event_id"`
	Occupied  int         `json:"occupied"`
	Capacity  int         `json:"capacity"`
	Version   int64       `json:"version"`
	Status    EventStatus `json:"status,omitempty"`
	Remaining int         `json:"remaining"`
}

// Newer reports whether f supersedes a receiver that last applied version seen.
func (f CapacityChangeFact) Newer(seen int64) bool {
	return f.Version > seen
}

type CapacityResponse struct {
	EventID  string      `json:"event_id"`
	Occupied int         `json:"occupied"`
	Capacity int         `json:"capacity"`
	Version  int64       `json:"version"`
	Status   EventStatus `json:"status"`
}

func NewCapacityResponse(s *CapacitySnapshot) CapacityResponse {
	return CapacityResponse{
		EventID:  s.EventID,
		Occupied: s.Occupied,
		Capacity: s.Capacity,
		Version:  s.Version,
		Status:   s.Status,
	}
}
