package types

// PatientStatus is the care status of a patient
type PatientStatus string

const (
	PatientStatusActive   PatientStatus = "active"
	PatientStatusInactive PatientStatus = "inactive"
	PatientStatusCritical PatientStatus = "critical"
)

// Valid reports whether s is a known patient status
func (s PatientStatus) Valid() bool {
	switch s {
	case PatientStatusActive, PatientStatusInactive, PatientStatusCritical:
		return true
	}
	return false
}

// RecordStatus is the completion status of a medical record
type RecordStatus string

const (
	RecordStatusComplete   RecordStatus = "complete"
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusIncomplete RecordStatus = "incomplete"
)

// Valid reports whether s is a known record status
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusComplete, RecordStatusPending, RecordStatusIncomplete:
		return true
	}
	return false
}

// RecordType classifies a medical record
type RecordType string

const (
	RecordTypeConsultation RecordType = "consultation"
	RecordTypeLab          RecordType = "lab"
	RecordTypeImaging      RecordType = "imaging"
	RecordTypePrescription RecordType = "prescription"
	RecordTypeOther        RecordType = "other"
)

// Valid reports whether t is a known record type. An empty type is accepted.
func (t RecordType) Valid() bool {
	switch t {
	case "", RecordTypeConsultation, RecordTypeLab, RecordTypeImaging, RecordTypePrescription, RecordTypeOther:
		return true
	}
	return false
}

// RecordMeta holds the identity and bookkeeping fields shared by every entity
type RecordMeta struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Meta returns a pointer to the embedded bookkeeping fields
func (m *RecordMeta) Meta() *RecordMeta {
	return m
}

// EmergencyContact is the person to call for a patient
type EmergencyContact struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
}

// Patient represents a registered patient with demographics and history
type Patient struct {
	RecordMeta
	Name              string            `json:"name"`
	DateOfBirth       string            `json:"dateOfBirth,omitempty"`
	Gender            string            `json:"gender,omitempty"`
	Contact           string            `json:"contact,omitempty"`
	Address           string            `json:"address,omitempty"`
	Email             string            `json:"email,omitempty"`
	EmergencyContact  *EmergencyContact `json:"emergencyContact,omitempty"`
	BloodType         string            `json:"bloodType,omitempty"`
	Allergies         []string          `json:"allergies,omitempty"`
	MedicalConditions []string          `json:"medicalConditions,omitempty"`
	Medications       []string          `json:"medications,omitempty"`
	InsuranceProvider string            `json:"insuranceProvider,omitempty"`
	InsuranceNumber   string            `json:"insuranceNumber,omitempty"`
	LastVisit         string            `json:"lastVisit,omitempty"`
	Status            PatientStatus     `json:"status"`
	Notes             string            `json:"notes,omitempty"`
}

// Kind implements Entity
func (p *Patient) Kind() EntityKind { return EntityPatient }

// Validate checks the constrained fields of a patient
func (p *Patient) Validate() error {
	if !p.Status.Valid() {
		return NewValidationError(ErrCodeInvalidInput, "invalid patient status", map[string]interface{}{
			"status": string(p.Status),
		})
	}
	return nil
}

// MedicalRecord represents a clinical record attached to a patient
type MedicalRecord struct {
	RecordMeta
	PatientID   string       `json:"patientId"`
	Type        RecordType   `json:"type,omitempty"`
	Date        string       `json:"date,omitempty"`
	Provider    string       `json:"provider,omitempty"`
	Diagnosis   string       `json:"diagnosis,omitempty"`
	Treatment   string       `json:"treatment,omitempty"`
	Medications []string     `json:"medications,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	Attachments []string     `json:"attachments,omitempty"`
	Status      RecordStatus `json:"status"`
}

// Kind implements Entity
func (r *MedicalRecord) Kind() EntityKind { return EntityRecord }

// Validate checks the constrained fields of a medical record
func (r *MedicalRecord) Validate() error {
	if !r.Status.Valid() {
		return NewValidationError(ErrCodeInvalidInput, "invalid medical record status", map[string]interface{}{
			"status": string(r.Status),
		})
	}
	if !r.Type.Valid() {
		return NewValidationError(ErrCodeInvalidInput, "invalid medical record type", map[string]interface{}{
			"type": string(r.Type),
		})
	}
	return nil
}
