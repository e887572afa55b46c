package patient

import (
	"time"

	"github.com/google/uuid"
)

// Event subjects on the message bus.
const (
	SubjectCreated = "patient.created"
	SubjectUpdated = "patient.updated"
	SubjectDeleted = "patient.deleted"
)

// EventType is the closed set of lifecycle event kinds.
type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

// Event is an immutable snapshot of a record at the time of mutation,
// published once per successful mutation attempt.
type Event struct {
	EventID    string    `json:"eventId"`
	EventType  EventType `json:"eventType"`
	PatientID  string    `json:"patientId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewEvent(t EventType, p *Patient, occurredAt time.Time) Event {
	return Event{
		EventID:    uuid.NewString(),
		EventType:  t,
		PatientID:  p.ID.String(),
		Name:       p.Name,
		Email:      p.Email,
		OccurredAt: occurredAt,
	}
}

// Subject maps the event type to its bus subject.
func (e Event) Subject() string {
	switch e.EventType {
	case EventUpdated:
		return SubjectUpdated
	case EventDeleted:
		return SubjectDeleted
	default:
		return SubjectCreated
	}
}
