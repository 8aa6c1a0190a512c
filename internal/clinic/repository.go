package clinic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
)

// SQLiteRepository stores doctors and patients.
type SQLiteRepository struct {
	db database.DBTX
}

// NewSQLiteRepository creates a new clinic repository.
func NewSQLiteRepository(db database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *SQLiteRepository) WithTx(tx database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: tx}
}

// CreateDoctor inserts d and sets its ID.
func (r *SQLiteRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO doctors (name, email) VALUES (?, ?)`, d.Name, d.Email)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDoctorExists, d.Email)
		}
		return fmt.Errorf("inserting doctor: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading doctor id: %w", err)
	}
	return nil
}

// GetDoctor returns the doctor with the given ID.
func (r *SQLiteRepository) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	var d Doctor
	err := r.db.QueryRowContext(ctx, `SELECT id, name, email FROM doctors WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &d.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting doctor: %w", err)
	}
	return &d, nil
}

// ListDoctors returns all doctors ordered by ID.
func (r *SQLiteRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, email FROM doctors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying doctors: %w", err)
	}
	defer rows.Close()

	doctors := []Doctor{}
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Email); err != nil {
			return nil, fmt.Errorf("scanning doctor: %w", err)
		}
		doctors = append(doctors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating doctors: %w", err)
	}
	return doctors, nil
}

// UpdateDoctor writes name and email.
func (r *SQLiteRepository) UpdateDoctor(ctx context.Context, d *Doctor) error {
	res, err := r.db.ExecContext(ctx, `UPDATE doctors SET name = ?, email = ? WHERE id = ?`, d.Name, d.Email, d.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDoctorExists, d.Email)
		}
		return fmt.Errorf("updating doctor: %w", err)
	}
	return expectOne(res, ErrDoctorNotFound)
}

// DeleteDoctor removes a doctor. Their patients become unassigned.
func (r *SQLiteRepository) DeleteDoctor(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM doctors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting doctor: %w", err)
	}
	return expectOne(res, ErrDoctorNotFound)
}

// CreatePatient inserts p and sets its ID.
func (r *SQLiteRepository) CreatePatient(ctx context.Context, p *Patient) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO patients (name, age, notes, doctor_id) VALUES (?, ?, ?, ?)`,
		p.Name, p.Age, p.Notes, p.DoctorID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrDoctorNotFound
		}
		return fmt.Errorf("inserting patient: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading patient id: %w", err)
	}
	return nil
}

const selectPatient = `SELECT id, name, age, notes, doctor_id FROM patients`

// GetPatient returns the patient with the given ID.
func (r *SQLiteRepository) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	p, err := scanPatient(r.db.QueryRowContext(ctx, selectPatient+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting patient: %w", err)
	}
	return p, nil
}

// ListPatients returns patients ordered by ID.
func (r *SQLiteRepository) ListPatients(ctx context.Context, filter PatientFilter) ([]Patient, error) {
	query, args := selectPatient, []any{}
	if filter.DoctorID != nil {
		query += ` WHERE doctor_id = ?`
		args = append(args, *filter.DoctorID)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying patients: %w", err)
	}
	defer rows.Close()

	patients := []Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning patient: %w", err)
		}
		patients = append(patients, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patients: %w", err)
	}
	return patients, nil
}

// UpdatePatient writes every mutable field of p.
func (r *SQLiteRepository) UpdatePatient(ctx context.Context, p *Patient) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE patients SET name = ?, age = ?, notes = ?, doctor_id = ? WHERE id = ?`,
		p.Name, p.Age, p.Notes, p.DoctorID, p.ID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrDoctorNotFound
		}
		return fmt.Errorf("updating patient: %w", err)
	}
	return expectOne(res, ErrPatientNotFound)
}

// DeletePatient removes a patient. Schedules cascade and the device is released.
func (r *SQLiteRepository) DeletePatient(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting patient: %w", err)
	}
	return expectOne(res, ErrPatientNotFound)
}

// DeviceIDOfPatient returns the ID of the patient's device, or nil.
func (r *SQLiteRepository) DeviceIDOfPatient(ctx context.Context, patientID int64) (*int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM dispensers WHERE patient_id = ?`, patientID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting patient device: %w", err)
	}
	return &id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(row scanner) (*Patient, error) {
	var (
		p        Patient
		notes    sql.NullString
		doctorID sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Age, &notes, &doctorID); err != nil {
		return nil, err
	}
	if notes.Valid {
		p.Notes = &notes.String
	}
	if doctorID.Valid {
		p.DoctorID = &doctorID.Int64
	}
	return &p, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
