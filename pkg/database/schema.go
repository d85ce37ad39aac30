package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the entity collections and the sync queue
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Debug("Creating database schema...")

	tables := []string{
		createPatientsTable,
		createMedicalRecordsTable,
		createAppointmentsTable,
		createSyncQueueTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createPatientsIndexes,
		createMedicalRecordsIndexes,
		createAppointmentsIndexes,
		createSyncQueueIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	db.logger.Debug("Database schema created successfully")
	return nil
}

// Each entity table keeps the full JSON document in doc and copies the
// indexed fields into their own columns.
const createPatientsTable = `
CREATE TABLE IF NOT EXISTS patients (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    last_visit TEXT NOT NULL DEFAULT '',
    doc TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

const createMedicalRecordsTable = `
CREATE TABLE IF NOT EXISTS medical_records (
    id TEXT PRIMARY KEY,
    patient_id TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT '',
    date TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    doc TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

const createAppointmentsTable = `
CREATE TABLE IF NOT EXISTS appointments (
    id TEXT PRIMARY KEY,
    patient_id TEXT NOT NULL DEFAULT '',
    date TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    doc TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

const createSyncQueueTable = `
CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    operation TEXT NOT NULL CHECK (operation IN ('create', 'update', 'delete')),
    entity TEXT NOT NULL CHECK (entity IN ('patient', 'record', 'appointment')),
    data TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    retries INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'failed')),
    last_error TEXT NOT NULL DEFAULT ''
);`

const createPatientsIndexes = `
CREATE INDEX IF NOT EXISTS idx_patients_by_name ON patients(name);
CREATE INDEX IF NOT EXISTS idx_patients_by_status ON patients(status);
CREATE INDEX IF NOT EXISTS idx_patients_by_last_visit ON patients(last_visit);`

const createMedicalRecordsIndexes = `
CREATE INDEX IF NOT EXISTS idx_medical_records_by_patient ON medical_records(patient_id);
CREATE INDEX IF NOT EXISTS idx_medical_records_by_type ON medical_records(type);
CREATE INDEX IF NOT EXISTS idx_medical_records_by_date ON medical_records(date);
CREATE INDEX IF NOT EXISTS idx_medical_records_by_status ON medical_records(status);`

const createAppointmentsIndexes = `
CREATE INDEX IF NOT EXISTS idx_appointments_by_patient ON appointments(patient_id);
CREATE INDEX IF NOT EXISTS idx_appointments_by_date ON appointments(date);
CREATE INDEX IF NOT EXISTS idx_appointments_by_status ON appointments(status);`

const createSyncQueueIndexes = `
CREATE INDEX IF NOT EXISTS idx_sync_queue_by_status ON sync_queue(status);
CREATE INDEX IF NOT EXISTS idx_sync_queue_by_timestamp ON sync_queue(timestamp);`
