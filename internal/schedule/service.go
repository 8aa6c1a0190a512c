package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/nerrad567/pillfleet-core/internal/command"
	"github.com/nerrad567/pillfleet-core/internal/dispatch"
	"github.com/nerrad567/pillfleet-core/internal/eventlog"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
)

// Sender delivers a command to a device. Satisfied by *dispatch.Publisher.
type Sender interface {
	Send(ctx context.Context, serial string, cmd command.Command) (dispatch.Status, error)
}

// Logger is the logging surface the service needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// DB is the storage handle the service runs on. Satisfied by *sql.DB and *database.DB.
type DB interface {
	database.DBTX
	database.TxBeginner
}

// SyncResult reports one schedule publish.
type SyncResult struct {
	Serial   string          `json:"serial,omitempty"`
	Slots    int             `json:"slots"`
	Delivery dispatch.Status `json:"delivery"`
}

// Service owns schedule mutations and device synchronisation.
//
// Every mutation commits its rows and an event log entry in one transaction,
// then publishes the full schedule of the affected device. A failed publish
// never rolls back the commit; it shows up as Delivery "failed".
type Service struct {
	db     DB
	repo   *SQLiteRepository
	logs   *eventlog.SQLiteRepository
	sender Sender
	logger Logger

	// syncLocks serialises read-and-enqueue per device so a later commit is
	// never published before an earlier one.
	syncLocks keyedMutex
}

// NewService creates a schedule service.
func NewService(db DB, sender Sender, logger Logger) *Service {
	return &Service{
		db:     db,
		repo:   NewSQLiteRepository(db),
		logs:   eventlog.NewSQLiteRepository(db),
		sender: sender,
		logger: logger,
	}
}

// ListByPatient returns a patient's schedules in creation order.
func (s *Service) ListByPatient(ctx context.Context, patientID int64) ([]Schedule, error) {
	ok, err := s.repo.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPatientNotFound
	}
	return s.repo.ListByPatient(ctx, patientID)
}

// Get returns one schedule.
func (s *Service) Get(ctx context.Context, id int64) (*Schedule, error) {
	return s.repo.Get(ctx, id)
}

// CreateBatch validates and stores all entries for a patient, then publishes
// the patient's full schedule.
//
// It performs the following steps:
//  1. Normalises and validates every entry (time, repeat type, days, until date)
//  2. Checks that each module belongs to the patient's current device
//  3. Inserts the rows and one event log entry per schedule in a single transaction
//  4. Publishes the regrouped schedule of the device after commit
//
// Either every entry is stored or none is. A failed publish does not undo
// the commit; it is reported in SyncResult.Delivery.
//
// Parameters:
//   - patientID: owner of the new schedules; must have a device assigned
//   - entries: at least one schedule
//
// Returns:
//   - []Schedule: the stored rows with IDs and module names
//   - SyncResult: serial, slot count and delivery status of the publish
//   - error: ErrPatientNotFound, ErrNoDevice, ErrEmptyBatch, a validation
//     sentinel or ErrModuleNotOnDevice
func (s *Service) CreateBatch(ctx context.Context, patientID int64, entries []New) ([]Schedule, SyncResult, error) {
	if len(entries) == 0 {
		return nil, SyncResult{}, ErrEmptyBatch
	}

	created := make([]Schedule, 0, len(entries))
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo, logs := s.repo.WithTx(tx), s.logs.WithTx(tx)

		target, err := s.targetOf(ctx, repo, patientID)
		if err != nil {
			return err
		}

		for i, in := range entries {
			sched := Schedule{
				PatientID:    patientID,
				ModuleID:     in.ModuleID,
				MedicineName: in.MedicineName,
				Time:         in.Time,
				RepeatType:   in.RepeatType,
				DaysOfWeek:   in.DaysOfWeek,
				UntilDate:    in.UntilDate,
			}
			if err := normalize(&sched); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			if sched.ModuleName, err = moduleOn(ctx, repo, sched.ModuleID, target.DeviceID); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			if err := repo.Create(ctx, &sched); err != nil {
				return err
			}
			if err := appendLog(ctx, logs, &sched.ModuleID, sched.ModuleName,
				fmt.Sprintf("Schedule added: %s at %s for patient %d", sched.MedicineName, sched.Time, patientID),
			); err != nil {
				return err
			}
			created = append(created, sched)
		}
		return nil
	})
	if err != nil {
		return nil, SyncResult{}, err
	}

	s.logger.Info("schedules created", "patient_id", patientID, "count", len(created))

	res, err := s.SyncPatient(ctx, patientID)
	return created, res, err
}

// Update changes one schedule. A module change is re-validated against the
// patient's current device.
func (s *Service) Update(ctx context.Context, id int64, upd Update) (*Schedule, SyncResult, error) {
	var sched *Schedule
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo, logs := s.repo.WithTx(tx), s.logs.WithTx(tx)

		var err error
		if sched, err = repo.Get(ctx, id); err != nil {
			return err
		}
		applyUpdate(sched, upd)
		if err := normalize(sched); err != nil {
			return err
		}

		if upd.ModuleID != nil {
			target, err := s.targetOf(ctx, repo, sched.PatientID)
			if err != nil {
				return err
			}
			if sched.ModuleName, err = moduleOn(ctx, repo, sched.ModuleID, target.DeviceID); err != nil {
				return err
			}
		}

		if err := repo.Update(ctx, sched); err != nil {
			return err
		}
		return appendLog(ctx, logs, &sched.ModuleID, sched.ModuleName,
			fmt.Sprintf("Schedule %d updated: %s at %s", sched.ID, sched.MedicineName, sched.Time))
	})
	if err != nil {
		return nil, SyncResult{}, err
	}

	res, err := s.SyncPatient(ctx, sched.PatientID)
	return sched, res, err
}

// Delete removes one schedule and publishes what remains, [] when nothing does.
func (s *Service) Delete(ctx context.Context, id int64) (SyncResult, error) {
	var patientID int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo, logs := s.repo.WithTx(tx), s.logs.WithTx(tx)

		sched, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		patientID = sched.PatientID

		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		return appendLog(ctx, logs, &sched.ModuleID, sched.ModuleName,
			fmt.Sprintf("Schedule %d deleted: %s at %s", sched.ID, sched.MedicineName, sched.Time))
	})
	if err != nil {
		return SyncResult{}, err
	}

	return s.SyncPatient(ctx, patientID)
}

// SyncPatient publishes the full schedule of the patient's device. A patient
// without a device yields Delivery "no_device".
func (s *Service) SyncPatient(ctx context.Context, patientID int64) (SyncResult, error) {
	ok, err := s.repo.PatientExists(ctx, patientID)
	if err != nil {
		return SyncResult{}, err
	}
	if !ok {
		return SyncResult{}, ErrPatientNotFound
	}

	target, err := s.repo.DeviceOfPatient(ctx, patientID)
	if err != nil {
		return SyncResult{}, err
	}
	if target == nil {
		return SyncResult{Delivery: dispatch.StatusNoDevice}, nil
	}
	return s.push(ctx, target)
}

// SyncDevice publishes the full schedule of a device. An unassigned device
// receives [] so it stops dispensing for its former patient.
func (s *Service) SyncDevice(ctx context.Context, deviceID int64) (dispatch.Status, error) {
	target, err := s.repo.Device(ctx, deviceID)
	if err != nil {
		return "", err
	}
	res, err := s.push(ctx, target)
	return res.Delivery, err
}

// ClearDevice publishes an empty schedule to serial. It is used once the
// device rows are gone, so the caller supplies the serial it read before
// deleting them. The publish is serialised with every other schedule push
// for deviceID, so an older full schedule cannot overtake the clear.
//
// Parameters:
//   - serial: transport address of the removed device
//   - deviceID: storage ID the device had, used as the lock key
//
// Returns:
//   - dispatch.Status: delivery outcome of the empty schedule_set
//   - error: only when the command cannot be encoded
func (s *Service) ClearDevice(ctx context.Context, serial string, deviceID int64) (dispatch.Status, error) {
	unlock := s.syncLocks.lock(deviceID)
	defer unlock()

	cmd, err := command.ScheduleSet(nil)
	if err != nil {
		return "", err
	}
	status, err := s.sender.Send(ctx, serial, cmd)
	if err != nil {
		s.logger.Warn("schedule clear not delivered", "serial", serial, "error", err)
	}
	return status, nil
}

func (s *Service) push(ctx context.Context, target *Target) (SyncResult, error) {
	unlock := s.syncLocks.lock(target.DeviceID)
	defer unlock()

	schedules := []Schedule{}
	if target.PatientID != nil {
		var err error
		if schedules, err = s.repo.ListForDevice(ctx, *target.PatientID, target.DeviceID); err != nil {
			return SyncResult{}, err
		}
	}

	slots := Group(Entries(schedules))
	cmd, err := command.ScheduleSet(slots)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{Serial: target.Serial, Slots: len(slots)}
	res.Delivery, err = s.sender.Send(ctx, target.Serial, cmd)
	if err != nil {
		s.logger.Warn("schedule not delivered",
			"serial", target.Serial,
			"slots", len(slots),
			"error", err,
		)
	}
	return res, nil
}

func (s *Service) targetOf(ctx context.Context, repo *SQLiteRepository, patientID int64) (*Target, error) {
	ok, err := repo.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPatientNotFound
	}
	target, err := repo.DeviceOfPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: patient %d", ErrNoDevice, patientID)
	}
	return target, nil
}

func moduleOn(ctx context.Context, repo *SQLiteRepository, moduleID, deviceID int64) (string, error) {
	owner, name, err := repo.ModuleDevice(ctx, moduleID)
	if err != nil {
		return "", err
	}
	if owner != deviceID {
		return "", fmt.Errorf("%w: module %d", ErrModuleNotOnDevice, moduleID)
	}
	return name, nil
}

func applyUpdate(sched *Schedule, upd Update) {
	if upd.ModuleID != nil {
		sched.ModuleID = *upd.ModuleID
	}
	if upd.MedicineName != nil {
		sched.MedicineName = *upd.MedicineName
	}
	if upd.Time != nil {
		sched.Time = *upd.Time
	}
	if upd.RepeatType != nil {
		sched.RepeatType = *upd.RepeatType
	}
	if upd.DaysOfWeek != nil {
		sched.DaysOfWeek = *upd.DaysOfWeek
	}
	if upd.UntilDate != nil {
		sched.UntilDate = upd.UntilDate
	}
}

func appendLog(ctx context.Context, logs *eventlog.SQLiteRepository, moduleID *int64, source, msg string) error {
	_, err := logs.Append(ctx, eventlog.Record{ModuleID: moduleID, Source: source, Message: msg})
	return err
}

// keyedMutex hands out one mutex per device.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (k *keyedMutex) lock(key int64) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
