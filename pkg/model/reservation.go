package model

import "time"

type ReservationState string

const (
	ReservationPending   ReservationState = "pending"
	ReservationConfirmed ReservationState = "confirmed"
	ReservationRejected  ReservationState = "rejected"
	ReservationCancelled ReservationState = "cancelled"
)

// Reservation is the ledger row for one (event, requester) pair. Rows are
// never deleted; a cancelled row is reused if the requester reserves again.
type Reservation struct {
	ID          string           `json:"id" bson:"reservation_id"`
	EventID     string           `json:"event_id" bson:"event_id"`
	RequesterID string           `json:"requester_id" bson:"requester_id"`
	State       ReservationState `json:"state" bson:"state"`
	Version     int64            `json:"version" bson:"version"`
	CreatedAt   time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" bson:"updated_at"`
}

// Active reports whether the reservation currently holds (or is about to hold) a slot.
func (r *Reservation) Active() bool {
	return r.State == ReservationPending || r.State == ReservationConfirmed
}

type ReservationRequest struct {
	EventID     string `json:"event_id" validate:"required,max=128,identifier"`
	RequesterID string `json:"requester_id" validate:"required,max=128,identifier"`
}

type Outcome string

const (
	OutcomeConfirmed       Outcome = "confirmed"
	OutcomeRejected        Outcome = "rejected"
	OutcomeAlreadyReserved Outcome = "already_reserved"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeNotFound        Outcome = "not_found"
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonEventUnavailable Reason = "event-unavailable"
	ReasonSoldOut          Reason = "sold-out"
)

type ReservationResponse struct {
	Status   Outcome `json:"status"`
	Reason   Reason  `json:"reason,omitempty"`
	Occupied int     `json:"occupied"`
	Capacity int     `json:"capacity"`
	Version  int64   `json:"version,omitempty"`
}

type CancellationResponse struct {
	Status Outcome `json:"status"`
}
