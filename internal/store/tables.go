package store

import (
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// table maps a collection onto its SQL table and secondary indexes
type table struct {
	name    string
	indexes map[string]string // index name -> column
}

var tables = map[types.Collection]table{
	types.CollectionPatients: {
		name: "patients",
		indexes: map[string]string{
			IndexByName:      "name",
			IndexByStatus:    "status",
			IndexByLastVisit: "last_visit",
		},
	},
	types.CollectionMedicalRecords: {
		name: "medical_records",
		indexes: map[string]string{
			IndexByPatient: "patient_id",
			IndexByType:    "type",
			IndexByDate:    "date",
			IndexByStatus:  "status",
		},
	},
	types.CollectionAppointments: {
		name: "appointments",
		indexes: map[string]string{
			IndexByPatient: "patient_id",
			IndexByDate:    "date",
			IndexByStatus:  "status",
		},
	},
}

// Secondary index names
const (
	IndexByPatient   = "by-patient"
	IndexByStatus    = "by-status"
	IndexByName      = "by-name"
	IndexByLastVisit = "by-last-visit"
	IndexByType      = "by-type"
	IndexByDate      = "by-date"
)

// indexedColumns returns the column values copied out of the document
func indexedColumns(e types.Entity) ([]string, []interface{}) {
	switch v := e.(type) {
	case *types.Patient:
		return []string{"name", "status", "last_visit"},
			[]interface{}{v.Name, string(v.Status), v.LastVisit}
	case *types.MedicalRecord:
		return []string{"patient_id", "type", "date", "status"},
			[]interface{}{v.PatientID, string(v.Type), v.Date, string(v.Status)}
	case *types.Appointment:
		return []string{"patient_id", "date", "status"},
			[]interface{}{v.PatientID, v.Date, string(v.Status)}
	}
	return nil, nil
}
