// Package patients is the patient registry backing authorization requests
// made by id. It is a thin SQLite layer; validation of records lives in the
// domain package.
package patients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MedGateAI/medgate-engine/engine/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS patients (
	patient_id          INTEGER PRIMARY KEY,
	name                TEXT NOT NULL,
	age                 INTEGER NOT NULL,
	gender              TEXT,
	diagnosis_code      TEXT NOT NULL,
	procedure_code      TEXT NOT NULL,
	lab_results         TEXT,
	previous_procedures TEXT,
	created_at          TEXT NOT NULL
);
`

// SQLStore persists patient records in SQLite.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if needed) the patient database at path and runs
// migrations.
func OpenSQL(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("patients: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("patients: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("patients: migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a patient record.
func (s *SQLStore) Put(ctx context.Context, p domain.Patient) error {
	if p.PatientID <= 0 {
		return fmt.Errorf("patients: put: %w", domain.ErrInvalidPatient)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients
		 (patient_id, name, age, gender, diagnosis_code, procedure_code, lab_results, previous_procedures, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(patient_id) DO UPDATE SET
		   name = excluded.name, age = excluded.age, gender = excluded.gender,
		   diagnosis_code = excluded.diagnosis_code, procedure_code = excluded.procedure_code,
		   lab_results = excluded.lab_results, previous_procedures = excluded.previous_procedures`,
		p.PatientID, p.Name, p.Age, p.Gender, p.DiagnosisCode, p.ProcedureCode,
		p.LabResults, strings.Join(p.PreviousProcedures, ";"),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("patients: put %d: %w", p.PatientID, err)
	}
	return nil
}

// Get returns one patient record. A missing id reports
// domain.ErrPatientNotFound.
func (s *SQLStore) Get(ctx context.Context, id int64) (domain.Patient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT patient_id, name, age, gender, diagnosis_code, procedure_code, lab_results, previous_procedures
		 FROM patients WHERE patient_id = ?`, id)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Patient{}, fmt.Errorf("patients: get %d: %w", id, domain.ErrPatientNotFound)
	}
	if err != nil {
		return domain.Patient{}, fmt.Errorf("patients: get %d: %w", id, err)
	}
	return p, nil
}

// List returns every patient ordered by id.
func (s *SQLStore) List(ctx context.Context) ([]domain.Patient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, name, age, gender, diagnosis_code, procedure_code, lab_results, previous_procedures
		 FROM patients ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("patients: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patients: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patients: list: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(r rowScanner) (domain.Patient, error) {
	var p domain.Patient
	var prev string
	err := r.Scan(&p.PatientID, &p.Name, &p.Age, &p.Gender,
		&p.DiagnosisCode, &p.ProcedureCode, &p.LabResults, &prev)
	if err != nil {
		return domain.Patient{}, err
	}
	if prev != "" {
		p.PreviousProcedures = strings.Split(prev, ";")
	}
	return p, nil
}

// Seed loads the demo cohort used by local runs and integration tests.
// Existing records with the same ids are replaced.
func (s *SQLStore) Seed(ctx context.Context) error {
	cohort := []domain.Patient{
		{
			PatientID: 1, Name: "Alice Johnson", Age: 45, Gender: "Female",
			DiagnosisCode: "E11.9", ProcedureCode: "99214",
			LabResults:         "HbA1c:6.5;Cholesterol:190;BUN:15",
			PreviousProcedures: []string{"99213", "81001"},
		},
		{
			PatientID: 2, Name: "Bob Smith", Age: 60, Gender: "Male",
			DiagnosisCode: "I10", ProcedureCode: "93306",
			LabResults:         "HbA1c:7.8;Cholesterol:220;BP:150/90",
			PreviousProcedures: []string{"99214", "93000"},
		},
		{
			PatientID: 3, Name: "Carol Lee", Age: 30, Gender: "Female",
			DiagnosisCode: "Z00.00", ProcedureCode: "99395",
			LabResults: "HbA1c:5.4;Cholesterol:180;CBC:Normal",
		},
	}
	for _, p := range cohort {
		if err := s.Put(ctx, p); err != nil {
			return fmt.Errorf("patients: seed: %w", err)
		}
	}
	return nil
}

// MemoryStore is an in-process registry for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]domain.Patient
}

// NewMemory creates a MemoryStore preloaded with the given records.
func NewMemory(records ...domain.Patient) *MemoryStore {
	m := &MemoryStore{records: make(map[int64]domain.Patient, len(records))}
	for _, p := range records {
		m.records[p.PatientID] = p
	}
	return m
}

func (m *MemoryStore) Get(_ context.Context, id int64) (domain.Patient, error) {
	m.mu.RLock()
	p, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return domain.Patient{}, fmt.Errorf("patients: get %d: %w", id, domain.ErrPatientNotFound)
	}
	return p, nil
}

func (m *MemoryStore) Put(_ context.Context, p domain.Patient) error {
	if p.PatientID <= 0 {
		return fmt.Errorf("patients: put: %w", domain.ErrInvalidPatient)
	}
	m.mu.Lock()
	m.records[p.PatientID] = p
	m.mu.Unlock()
	return nil
}
