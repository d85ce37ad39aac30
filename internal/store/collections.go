package store

import (
	"context"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

func collect[T types.Entity](entities []types.Entity, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.(T))
	}
	return out, nil
}

func one[T types.Entity](e types.Entity, found bool, err error) (T, bool, error) {
	var zero T
	if err != nil || !found {
		return zero, false, err
	}
	return e.(T), true, nil
}

// Patients returns every patient
func (s *Store) Patients(ctx context.Context) ([]*types.Patient, error) {
	return collect[*types.Patient](s.GetAll(ctx, types.CollectionPatients))
}

// Patient returns one patient
func (s *Store) Patient(ctx context.Context, id string) (*types.Patient, bool, error) {
	return one[*types.Patient](s.GetByID(ctx, types.CollectionPatients, id))
}

// PatientsByStatus returns the patients in status
func (s *Store) PatientsByStatus(ctx context.Context, status types.PatientStatus) ([]*types.Patient, error) {
	return collect[*types.Patient](s.ByStatus(ctx, types.CollectionPatients, string(status)))
}

// SavePatient saves p and returns its id
func (s *Store) SavePatient(ctx context.Context, p *types.Patient) (string, error) {
	return s.Save(ctx, p)
}

// DeletePatient removes a patient. Records and appointments referring to it
// are left in place.
func (s *Store) DeletePatient(ctx context.Context, id string) error {
	return s.Delete(ctx, types.CollectionPatients, id)
}

// MedicalRecords returns every medical record
func (s *Store) MedicalRecords(ctx context.Context) ([]*types.MedicalRecord, error) {
	return collect[*types.MedicalRecord](s.GetAll(ctx, types.CollectionMedicalRecords))
}

// MedicalRecord returns one medical record
func (s *Store) MedicalRecord(ctx context.Context, id string) (*types.MedicalRecord, bool, error) {
	return one[*types.MedicalRecord](s.GetByID(ctx, types.CollectionMedicalRecords, id))
}

// PatientMedicalRecords returns the medical records of a patient
func (s *Store) PatientMedicalRecords(ctx context.Context, patientID string) ([]*types.MedicalRecord, error) {
	return collect[*types.MedicalRecord](s.GetByPatient(ctx, types.CollectionMedicalRecords, patientID))
}

// SaveMedicalRecord saves r and returns its id
func (s *Store) SaveMedicalRecord(ctx context.Context, r *types.MedicalRecord) (string, error) {
	return s.Save(ctx, r)
}

// DeleteMedicalRecord removes a medical record
func (s *Store) DeleteMedicalRecord(ctx context.Context, id string) error {
	return s.Delete(ctx, types.CollectionMedicalRecords, id)
}

// Appointments returns every appointment
func (s *Store) Appointments(ctx context.Context) ([]*types.Appointment, error) {
	return collect[*types.Appointment](s.GetAll(ctx, types.CollectionAppointments))
}

// Appointment returns one appointment
func (s *Store) Appointment(ctx context.Context, id string) (*types.Appointment, bool, error) {
	return one[*types.Appointment](s.GetByID(ctx, types.CollectionAppointments, id))
}

// PatientAppointments returns the appointments of a patient
func (s *Store) PatientAppointments(ctx context.Context, patientID string) ([]*types.Appointment, error) {
	return collect[*types.Appointment](s.GetByPatient(ctx, types.CollectionAppointments, patientID))
}

// AppointmentsOn returns the appointments on date
func (s *Store) AppointmentsOn(ctx context.Context, date string) ([]*types.Appointment, error) {
	return collect[*types.Appointment](s.GetByIndex(ctx, types.CollectionAppointments, IndexByDate, date))
}

// SaveAppointment saves a and returns its id
func (s *Store) SaveAppointment(ctx context.Context, a *types.Appointment) (string, error) {
	return s.Save(ctx, a)
}

// DeleteAppointment removes an appointment
func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	return s.Delete(ctx, types.CollectionAppointments, id)
}
