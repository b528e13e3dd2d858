package eventstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType constants
const (
	// Patient events
	PatientRegistered = "V1_PATIENT_REGISTERED"
	PatientUpdated    = "V1_PATIENT_UPDATED"
	PatientAdmitted   = "V1_PATIENT_ADMITTED"
	PatientDischarged = "V1_PATIENT_DISCHARGED"

	// Appointment events
	AppointmentCreated   = "V1_APPOINTMENT_CREATED"
	AppointmentCancelled = "V1_APPOINTMENT_CANCELLED"
	AppointmentCompleted = "V1_APPOINTMENT_COMPLETED"

	// Billing events
	BillCreated = "V1_BILL_CREATED"
	BillPaid    = "V1_BILL_PAID"

	// Clinical events
	PrescriptionIssued = "V1_PRESCRIPTION_ISSUED"
	LabResultPublished = "V1_LAB_RESULT_PUBLISHED"

	// Session events
	UserLogin  = "V1_USER_LOGIN"
	UserLogout = "V1_USER_LOGOUT"
)

// knownTypes is the closed set of event kinds the store accepts.
// Adding a kind is a code change, not configuration.
var knownTypes = map[string]struct{}{
	PatientRegistered:    {},
	PatientUpdated:       {},
	PatientAdmitted:      {},
	PatientDischarged:    {},
	AppointmentCreated:   {},
	AppointmentCancelled: {},
	AppointmentCompleted: {},
	BillCreated:          {},
	BillPaid:             {},
	PrescriptionIssued:   {},
	LabResultPublished:   {},
	UserLogin:            {},
	UserLogout:           {},
}

// KnownEventType reports whether t is one of the domain event kinds.
func KnownEventType(t string) bool {
	_, ok := knownTypes[t]
	return ok
}

// Event represents one immutable fact that happened to an aggregate.
// Data and Metadata are opaque documents; the store never interprets them.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	Data          json.RawMessage `json:"data,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"user_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
}

// NewEvent creates an event with a fresh ID and the producer clock's timestamp.
// Versions start at 1 and are assigned by the producer.
func NewEvent(eventType, aggregateID, aggregateType string, version int, data json.RawMessage) Event {
	return Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}
}

// Snapshot is a materialized aggregate state as of Version. State is opaque;
// the producer is responsible for it being replay-equivalent.
type Snapshot struct {
	AggregateID string          `json:"aggregate_id"`
	Version     int             `json:"version"`
	State       json.RawMessage `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
}
