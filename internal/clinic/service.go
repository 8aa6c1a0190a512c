package clinic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/pillfleet-core/internal/dispatch"
	"github.com/nerrad567/pillfleet-core/internal/eventlog"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
)

// ScheduleSyncer republishes a device schedule. Satisfied by *schedule.Service.
type ScheduleSyncer interface {
	SyncDevice(ctx context.Context, deviceID int64) (dispatch.Status, error)
}

// Logger is the logging surface the service needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// DB is the storage handle the service runs on.
type DB interface {
	database.DBTX
	database.TxBeginner
}

// Service implements doctor and patient management.
type Service struct {
	db       DB
	repo     *SQLiteRepository
	logs     *eventlog.SQLiteRepository
	syncer   ScheduleSyncer
	logger   Logger
	validate *validator.Validate
}

// NewService creates a clinic service.
func NewService(db DB, syncer ScheduleSyncer, logger Logger) *Service {
	return &Service{
		db:       db,
		repo:     NewSQLiteRepository(db),
		logs:     eventlog.NewSQLiteRepository(db),
		syncer:   syncer,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ListDoctors returns all doctors.
func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx)
}

// GetDoctor returns one doctor.
func (s *Service) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, id)
}

// CreateDoctor validates and stores a doctor.
func (s *Service) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.Email = strings.ToLower(strings.TrimSpace(d.Email))
	if err := s.validate.Struct(d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDoctor, err)
	}
	if err := s.repo.CreateDoctor(ctx, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDoctor changes a doctor.
func (s *Service) UpdateDoctor(ctx context.Context, id int64, upd DoctorUpdate) (*Doctor, error) {
	d, err := s.repo.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		d.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Email != nil {
		d.Email = strings.ToLower(strings.TrimSpace(*upd.Email))
	}
	if err := s.validate.Struct(d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDoctor, err)
	}
	if err := s.repo.UpdateDoctor(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDoctor removes a doctor; their patients stay, unassigned.
func (s *Service) DeleteDoctor(ctx context.Context, id int64) error {
	return s.repo.DeleteDoctor(ctx, id)
}

// ListPatients returns patients, optionally of one doctor.
func (s *Service) ListPatients(ctx context.Context, filter PatientFilter) ([]Patient, error) {
	return s.repo.ListPatients(ctx, filter)
}

// GetPatient returns one patient.
func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

// CreatePatient validates and stores a patient.
func (s *Service) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := s.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPatient, err)
	}
	if p.DoctorID != nil {
		if err := s.checkDoctor(ctx, *p.DoctorID); err != nil {
			return nil, err
		}
	}
	if err := s.repo.CreatePatient(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePatient changes a patient.
func (s *Service) UpdatePatient(ctx context.Context, id int64, upd PatientUpdate) (*Patient, error) {
	if err := s.validate.Struct(upd); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPatient, err)
	}

	p, err := s.repo.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		p.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Age != nil {
		p.Age = *upd.Age
	}
	if upd.Notes != nil {
		p.Notes = upd.Notes
		if *upd.Notes == "" {
			p.Notes = nil
		}
	}
	if upd.DoctorID != nil {
		p.DoctorID = upd.DoctorID
		if *upd.DoctorID == 0 {
			p.DoctorID = nil
		} else if err := s.checkDoctor(ctx, *upd.DoctorID); err != nil {
			return nil, err
		}
	}
	if err := s.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPatient, err)
	}
	if err := s.repo.UpdatePatient(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// checkDoctor verifies a referenced doctor exists. A missing doctor is an
// invalid patient, not a missing resource.
func (s *Service) checkDoctor(ctx context.Context, id int64) error {
	_, err := s.repo.GetDoctor(ctx, id)
	if errors.Is(err, ErrDoctorNotFound) {
		return fmt.Errorf("%w: %w", ErrInvalidPatient, err)
	}
	return err
}

// DeletePatient removes a patient with their schedules and clears the
// schedule of the device they were using.
func (s *Service) DeletePatient(ctx context.Context, id int64) error {
	var deviceID *int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)

		p, err := repo.GetPatient(ctx, id)
		if err != nil {
			return err
		}
		if deviceID, err = repo.DeviceIDOfPatient(ctx, id); err != nil {
			return err
		}
		if err := repo.DeletePatient(ctx, id); err != nil {
			return err
		}
		_, err = s.logs.WithTx(tx).Append(ctx, eventlog.Record{
			Message: fmt.Sprintf("Patient %d (%s) removed", p.ID, p.Name),
		})
		return err
	})
	if err != nil {
		return err
	}

	if deviceID != nil {
		if _, err := s.syncer.SyncDevice(ctx, *deviceID); err != nil {
			s.logger.Warn("clearing device of removed patient", "device_id", *deviceID, "error", err)
		}
	}
	return nil
}
