package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
)

// Target is the device a patient's schedule is delivered to.
type Target struct {
	DeviceID  int64
	Serial    string
	PatientID *int64
}

// Repository defines schedule persistence.
type Repository interface {
	Create(ctx context.Context, s *Schedule) error
	Get(ctx context.Context, id int64) (*Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id int64) error
	ListByPatient(ctx context.Context, patientID int64) ([]Schedule, error)
	ListForDevice(ctx context.Context, patientID, deviceID int64) ([]Schedule, error)
	DeleteForDevice(ctx context.Context, patientID, deviceID int64) (int64, error)
	PatientExists(ctx context.Context, patientID int64) (bool, error)
	DeviceOfPatient(ctx context.Context, patientID int64) (*Target, error)
	Device(ctx context.Context, deviceID int64) (*Target, error)
	ModuleDevice(ctx context.Context, moduleID int64) (deviceID int64, name string, err error)
}

// SQLiteRepository implements Repository over a DB or a transaction.
type SQLiteRepository struct {
	db database.DBTX
}

// NewSQLiteRepository creates a new schedule repository.
func NewSQLiteRepository(db database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *SQLiteRepository) WithTx(tx database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: tx}
}

const selectSchedule = `
	SELECT s.id, s.patient_id, s.module_id, m.module_name, s.medicine_name,
	       s.time, s.repeat_type, s.days_of_week, s.until_date
	FROM schedules s
	JOIN modules m ON m.id = s.module_id`

// Create inserts s and sets its ID.
func (r *SQLiteRepository) Create(ctx context.Context, s *Schedule) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO schedules (patient_id, module_id, medicine_name, time, repeat_type, days_of_week, until_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.PatientID, s.ModuleID, s.MedicineName, s.Time,
		string(s.RepeatType), joinDays(s.DaysOfWeek), s.UntilDate,
	)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading schedule id: %w", err)
	}
	s.ID = id
	return nil
}

// Get returns the schedule with the given ID.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, selectSchedule+` WHERE s.id = ?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting schedule: %w", err)
	}
	return s, nil
}

// Update writes every mutable field of s.
func (r *SQLiteRepository) Update(ctx context.Context, s *Schedule) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE schedules
		 SET module_id = ?, medicine_name = ?, time = ?, repeat_type = ?, days_of_week = ?, until_date = ?
		 WHERE id = ?`,
		s.ModuleID, s.MedicineName, s.Time, string(s.RepeatType),
		joinDays(s.DaysOfWeek), s.UntilDate, s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	return expectOne(res, ErrScheduleNotFound)
}

// Delete removes the schedule with the given ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	return expectOne(res, ErrScheduleNotFound)
}

// ListByPatient returns every schedule of a patient in creation order.
func (r *SQLiteRepository) ListByPatient(ctx context.Context, patientID int64) ([]Schedule, error) {
	return r.list(ctx, selectSchedule+` WHERE s.patient_id = ? ORDER BY s.id`, patientID)
}

// ListForDevice returns the schedules of a patient whose module sits on the
// given device, in creation order.
func (r *SQLiteRepository) ListForDevice(ctx context.Context, patientID, deviceID int64) ([]Schedule, error) {
	return r.list(ctx,
		selectSchedule+` WHERE s.patient_id = ? AND m.dispenser_id = ? ORDER BY s.id`,
		patientID, deviceID)
}

// DeleteForDevice removes a patient's schedules on one device and returns
// how many were removed.
func (r *SQLiteRepository) DeleteForDevice(ctx context.Context, patientID, deviceID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM schedules
		 WHERE patient_id = ?
		   AND module_id IN (SELECT id FROM modules WHERE dispenser_id = ?)`,
		patientID, deviceID)
	if err != nil {
		return 0, fmt.Errorf("deleting device schedules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// PatientExists reports whether the patient exists.
func (r *SQLiteRepository) PatientExists(ctx context.Context, patientID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients WHERE id = ?`, patientID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking patient: %w", err)
	}
	return n > 0, nil
}

// DeviceOfPatient returns the device assigned to a patient, or nil.
func (r *SQLiteRepository) DeviceOfPatient(ctx context.Context, patientID int64) (*Target, error) {
	t := &Target{PatientID: &patientID}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, serial_number FROM dispensers WHERE patient_id = ?`, patientID,
	).Scan(&t.DeviceID, &t.Serial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting patient device: %w", err)
	}
	return t, nil
}

// Device returns a device with its current patient.
func (r *SQLiteRepository) Device(ctx context.Context, deviceID int64) (*Target, error) {
	var (
		t         = &Target{DeviceID: deviceID}
		patientID sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT serial_number, patient_id FROM dispensers WHERE id = ?`, deviceID,
	).Scan(&t.Serial, &patientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting device: %w", err)
	}
	if patientID.Valid {
		t.PatientID = &patientID.Int64
	}
	return t, nil
}

// ModuleDevice returns the device and name of a module.
func (r *SQLiteRepository) ModuleDevice(ctx context.Context, moduleID int64) (deviceID int64, name string, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT dispenser_id, module_name FROM modules WHERE id = ?`, moduleID,
	).Scan(&deviceID, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: module %d does not exist", ErrModuleNotOnDevice, moduleID)
	}
	if err != nil {
		return 0, "", fmt.Errorf("getting module: %w", err)
	}
	return deviceID, name, nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	schedules := []Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		schedules = append(schedules, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}
	return schedules, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	var (
		s      Schedule
		repeat string
		days   string
		until  sql.NullString
	)
	if err := row.Scan(&s.ID, &s.PatientID, &s.ModuleID, &s.ModuleName, &s.MedicineName,
		&s.Time, &repeat, &days, &until); err != nil {
		return nil, err
	}
	s.RepeatType = RepeatType(repeat)
	s.DaysOfWeek = splitDays(days)
	if until.Valid {
		s.UntilDate = &until.String
	}
	return &s, nil
}

func joinDays(days []string) string {
	return strings.Join(days, ",")
}

func splitDays(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
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
