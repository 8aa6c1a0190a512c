package dispenser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
)

// SQLiteRepository stores devices and modules.
type SQLiteRepository struct {
	db database.DBTX
}

// NewSQLiteRepository creates a new device repository.
func NewSQLiteRepository(db database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *SQLiteRepository) WithTx(tx database.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: tx}
}

// CreateDevice inserts d and sets its ID. Modules are not written.
func (r *SQLiteRepository) CreateDevice(ctx context.Context, d *Device) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO dispensers (serial_number, patient_id) VALUES (?, ?)`,
		d.SerialNumber, d.PatientID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrSerialExists, d.SerialNumber)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	return nil
}

// CreateModule inserts m and sets its ID.
func (r *SQLiteRepository) CreateModule(ctx context.Context, m *Module) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO modules (dispenser_id, module_name, pills_left, threshold, pending) VALUES (?, ?, ?, ?, ?)`,
		m.DeviceID, m.Name, m.PillsLeft, m.Threshold, m.Pending)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrModuleExists, m.Name)
		}
		if database.IsForeignKeyViolation(err) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("inserting module: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading module id: %w", err)
	}
	return nil
}

// GetDevice returns a device with its modules.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id int64) (*Device, error) {
	d, err := r.deviceRow(ctx, `SELECT id, serial_number, patient_id FROM dispensers WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if d.Modules, err = r.ListModules(ctx, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// DeviceOfPatient returns the device assigned to a patient, or nil.
func (r *SQLiteRepository) DeviceOfPatient(ctx context.Context, patientID int64) (*Device, error) {
	d, err := r.deviceRow(ctx, `SELECT id, serial_number, patient_id FROM dispensers WHERE patient_id = ?`, patientID)
	if errors.Is(err, ErrDeviceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.Modules, err = r.ListModules(ctx, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDevices returns every device with its modules, ordered by ID.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, serial_number, patient_id FROM dispensers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	modules, err := r.listModules(ctx, `SELECT `+moduleColumns+` FROM modules ORDER BY dispenser_id, id`)
	if err != nil {
		return nil, err
	}
	byDevice := make(map[int64][]Module, len(devices))
	for _, m := range modules {
		byDevice[m.DeviceID] = append(byDevice[m.DeviceID], m)
	}
	for i := range devices {
		devices[i].Modules = byDevice[devices[i].ID]
		if devices[i].Modules == nil {
			devices[i].Modules = []Module{}
		}
	}
	return devices, nil
}

// DeleteDevice removes a device. Modules and their schedules cascade.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dispensers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// SetPatient binds a device to a patient, or unbinds it when patientID is nil.
func (r *SQLiteRepository) SetPatient(ctx context.Context, deviceID int64, patientID *int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE dispensers SET patient_id = ? WHERE id = ?`, patientID, deviceID)
	if err != nil {
		return fmt.Errorf("assigning device: %w", err)
	}
	return nil
}

// PatientExists reports whether the patient exists.
func (r *SQLiteRepository) PatientExists(ctx context.Context, patientID int64) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients WHERE id = ?`, patientID).Scan(&n); err != nil {
		return false, fmt.Errorf("checking patient: %w", err)
	}
	return n > 0, nil
}

const moduleColumns = `id, dispenser_id, module_name, pills_left, threshold, pending`

// ListModules returns the modules of a device, ordered by ID.
func (r *SQLiteRepository) ListModules(ctx context.Context, deviceID int64) ([]Module, error) {
	return r.listModules(ctx, `SELECT `+moduleColumns+` FROM modules WHERE dispenser_id = ? ORDER BY id`, deviceID)
}

// GetModule returns a module and the serial number of its device.
func (r *SQLiteRepository) GetModule(ctx context.Context, id int64) (*Module, string, error) {
	var (
		m      Module
		serial string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT m.id, m.dispenser_id, m.module_name, m.pills_left, m.threshold, m.pending, d.serial_number
		FROM modules m
		JOIN dispensers d ON d.id = m.dispenser_id
		WHERE m.id = ?`, id,
	).Scan(&m.ID, &m.DeviceID, &m.Name, &m.PillsLeft, &m.Threshold, &m.Pending, &serial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrModuleNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting module: %w", err)
	}
	return &m, serial, nil
}

// Decrement removes one pill. It fails with ErrNoPillsLeft when the module is empty.
func (r *SQLiteRepository) Decrement(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE modules SET pills_left = pills_left - 1 WHERE id = ? AND pills_left > 0`, id)
	if err != nil {
		return fmt.Errorf("decrementing pills: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNoPillsLeft
	}
	return nil
}

// SetStock writes pills_left and pending of a module.
func (r *SQLiteRepository) SetStock(ctx context.Context, id int64, pillsLeft int, pending bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE modules SET pills_left = ?, pending = ? WHERE id = ?`, pillsLeft, pending, id)
	if err != nil {
		return fmt.Errorf("updating module: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) deviceRow(ctx context.Context, query string, arg any) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting device: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) listModules(ctx context.Context, query string, args ...any) ([]Module, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying modules: %w", err)
	}
	defer rows.Close()

	modules := []Module{}
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.ID, &m.DeviceID, &m.Name, &m.PillsLeft, &m.Threshold, &m.Pending); err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating modules: %w", err)
	}
	return modules, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var (
		d         Device
		patientID sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.SerialNumber, &patientID); err != nil {
		return nil, err
	}
	if patientID.Valid {
		d.PatientID = &patientID.Int64
	}
	d.Modules = []Module{}
	return &d, nil
}
