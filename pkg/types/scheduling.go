package types

// AppointmentStatus is the lifecycle state of an appointment
type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusNoShow    AppointmentStatus = "no-show"
)

// Valid reports whether s is a known appointment status
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusNoShow:
		return true
	}
	return false
}

// AppointmentMode is how the appointment takes place
type AppointmentMode string

const (
	AppointmentModeInPerson AppointmentMode = "in-person"
	AppointmentModeVideo    AppointmentMode = "video"
	AppointmentModePhone    AppointmentMode = "phone"
)

// Valid reports whether m is a known mode. An empty mode is accepted.
func (m AppointmentMode) Valid() bool {
	switch m {
	case "", AppointmentModeInPerson, AppointmentModeVideo, AppointmentModePhone:
		return true
	}
	return false
}

// Appointment represents a scheduled visit for a patient
type Appointment struct {
	RecordMeta
	PatientID string            `json:"patientId"`
	Date      string            `json:"date,omitempty"`
	Time      string            `json:"time,omitempty"`
	Duration  int               `json:"duration,omitempty"`
	Type      string            `json:"type,omitempty"`
	Mode      AppointmentMode   `json:"mode,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Notes     string            `json:"notes,omitempty"`
	Status    AppointmentStatus `json:"status"`
}

// Kind implements Entity
func (a *Appointment) Kind() EntityKind { return EntityAppointment }

// Validate checks the constrained fields of an appointment
func (a *Appointment) Validate() error {
	if !a.Status.Valid() {
		return NewValidationError(ErrCodeInvalidInput, "invalid appointment status", map[string]interface{}{
			"status": string(a.Status),
		})
	}
	if !a.Mode.Valid() {
		return NewValidationError(ErrCodeInvalidInput, "invalid appointment mode", map[string]interface{}{
			"mode": string(a.Mode),
		})
	}
	return nil
}
