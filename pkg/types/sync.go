package types

import (
	"encoding/json"
	"fmt"
)

// EntityKind names the kind of entity a queued mutation applies to
type EntityKind string

const (
	EntityPatient     EntityKind = "patient"
	EntityRecord      EntityKind = "record"
	EntityAppointment EntityKind = "appointment"
)

// Collection names one of the persisted entity collections
type Collection string

const (
	CollectionPatients       Collection = "patients"
	CollectionMedicalRecords Collection = "medicalRecords"
	CollectionAppointments   Collection = "appointments"
)

// Collections lists every entity collection
var Collections = []Collection{CollectionPatients, CollectionMedicalRecords, CollectionAppointments}

// ParseCollection maps a collection name to a Collection
func ParseCollection(name string) (Collection, bool) {
	for _, c := range Collections {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// Kind returns the entity kind stored in the collection
func (c Collection) Kind() EntityKind {
	switch c {
	case CollectionPatients:
		return EntityPatient
	case CollectionMedicalRecords:
		return EntityRecord
	case CollectionAppointments:
		return EntityAppointment
	}
	return ""
}

// IDPrefix is the prefix of generated ids in the collection
func (c Collection) IDPrefix() string {
	switch c {
	case CollectionPatients:
		return "P"
	case CollectionMedicalRecords:
		return "R"
	case CollectionAppointments:
		return "A"
	}
	return ""
}

// HasPatientIndex reports whether the collection is indexed by patient id
func (c Collection) HasPatientIndex() bool {
	return c == CollectionMedicalRecords || c == CollectionAppointments
}

// Collection returns the collection holding entities of kind k
func (k EntityKind) Collection() Collection {
	switch k {
	case EntityPatient:
		return CollectionPatients
	case EntityRecord:
		return CollectionMedicalRecords
	case EntityAppointment:
		return CollectionAppointments
	}
	return ""
}

// Entity is implemented by Patient, MedicalRecord and Appointment
type Entity interface {
	Kind() EntityKind
	Meta() *RecordMeta
	Validate() error
}

// NewEntity returns an empty entity of kind k
func NewEntity(k EntityKind) (Entity, error) {
	switch k {
	case EntityPatient:
		return &Patient{}, nil
	case EntityRecord:
		return &MedicalRecord{}, nil
	case EntityAppointment:
		return &Appointment{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", k)
}

// SyncOperation is the mutation recorded in a queue entry
type SyncOperation string

const (
	SyncOperationCreate SyncOperation = "create"
	SyncOperationUpdate SyncOperation = "update"
	SyncOperationDelete SyncOperation = "delete"
)

// SyncStatus is the replay state of a queue entry
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusProcessing SyncStatus = "processing"
	SyncStatusFailed     SyncStatus = "failed"
)

// Valid reports whether s is a known queue status
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusProcessing, SyncStatusFailed:
		return true
	}
	return false
}

// Deletion is the payload of a delete mutation
type Deletion struct {
	ID string `json:"id"`
}

// Payload carries the data of a queued mutation. Exactly one of the
// pointer fields is set, selected by Kind and whether it is a deletion.
type Payload struct {
	Kind        EntityKind
	Patient     *Patient
	Record      *MedicalRecord
	Appointment *Appointment
	Deletion    *Deletion
}

// NewPayload wraps a saved entity
func NewPayload(e Entity) Payload {
	p := Payload{Kind: e.Kind()}
	switch v := e.(type) {
	case *Patient:
		p.Patient = v
	case *MedicalRecord:
		p.Record = v
	case *Appointment:
		p.Appointment = v
	}
	return p
}

// NewDeletionPayload describes the removal of id from the collection of kind
func NewDeletionPayload(kind EntityKind, id string) Payload {
	return Payload{Kind: kind, Deletion: &Deletion{ID: id}}
}

// ID returns the id of the entity the payload refers to
func (p Payload) ID() string {
	switch {
	case p.Deletion != nil:
		return p.Deletion.ID
	case p.Patient != nil:
		return p.Patient.ID
	case p.Record != nil:
		return p.Record.ID
	case p.Appointment != nil:
		return p.Appointment.ID
	}
	return ""
}

// IsDeletion reports whether the payload describes a delete
func (p Payload) IsDeletion() bool {
	return p.Deletion != nil
}

// Entity returns the wrapped entity, or nil for deletions
func (p Payload) Entity() Entity {
	switch {
	case p.Patient != nil:
		return p.Patient
	case p.Record != nil:
		return p.Record
	case p.Appointment != nil:
		return p.Appointment
	}
	return nil
}

func (p Payload) value() (interface{}, error) {
	if p.Deletion != nil {
		return p.Deletion, nil
	}
	if e := p.Entity(); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("empty %s payload", p.Kind)
}

// MarshalJSON encodes only the wrapped document
func (p Payload) MarshalJSON() ([]byte, error) {
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// DecodePayload rebuilds a payload from its stored JSON document
func DecodePayload(op SyncOperation, kind EntityKind, data []byte) (Payload, error) {
	if op == SyncOperationDelete {
		var d Deletion
		if err := json.Unmarshal(data, &d); err != nil {
			return Payload{}, fmt.Errorf("failed to decode deletion payload: %w", err)
		}
		return NewDeletionPayload(kind, d.ID), nil
	}

	e, err := NewEntity(kind)
	if err != nil {
		return Payload{}, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return Payload{}, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return NewPayload(e), nil
}

// SyncQueueEntry is one mutation waiting for remote replay
type SyncQueueEntry struct {
	ID        string        `json:"id"`
	Operation SyncOperation `json:"operation"`
	Entity    EntityKind    `json:"entity"`
	Data      Payload       `json:"data"`
	Timestamp int64         `json:"timestamp"`
	Retries   int           `json:"retries"`
	Status    SyncStatus    `json:"status"`
	LastError string        `json:"lastError,omitempty"`
}

// SyncStatusReport summarizes the queue for status indicators
type SyncStatusReport struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}
