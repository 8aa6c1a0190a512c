package dispenser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/pillfleet-core/internal/command"
	"github.com/nerrad567/pillfleet-core/internal/dispatch"
	"github.com/nerrad567/pillfleet-core/internal/eventlog"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pillfleet-core/internal/notify"
	"github.com/nerrad567/pillfleet-core/internal/schedule"
)

// Sender delivers a command to a device. Satisfied by *dispatch.Publisher.
type Sender interface {
	Send(ctx context.Context, serial string, cmd command.Command) (dispatch.Status, error)
}

// ScheduleSyncer republishes the full schedule of a device. Satisfied by *schedule.Service.
type ScheduleSyncer interface {
	SyncDevice(ctx context.Context, deviceID int64) (dispatch.Status, error)
	ClearDevice(ctx context.Context, serial string, deviceID int64) (dispatch.Status, error)
}

// Telemetry records module inventory points. Satisfied by *influxdb.Client.
type Telemetry interface {
	WriteModuleInventory(serial, module string, pillsLeft, threshold int, at time.Time)
}

// Logger is the logging surface the service needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DB is the storage handle the service runs on.
type DB interface {
	database.DBTX
	database.TxBeginner
}

// Service implements device registration, module commands and assignment.
type Service struct {
	db        DB
	repo      *SQLiteRepository
	logs      *eventlog.SQLiteRepository
	sender    Sender
	syncer    ScheduleSyncer
	notifier  notify.Notifier
	telemetry Telemetry
	logger    Logger
}

// NewService creates a device service. notifier may be nil.
func NewService(db DB, sender Sender, syncer ScheduleSyncer, notifier notify.Notifier, logger Logger) *Service {
	return &Service{
		db:       db,
		repo:     NewSQLiteRepository(db),
		logs:     eventlog.NewSQLiteRepository(db),
		sender:   sender,
		syncer:   syncer,
		notifier: notifier,
		logger:   logger,
	}
}

// SetTelemetry attaches an inventory sink.
func (s *Service) SetTelemetry(t Telemetry) {
	s.telemetry = t
}

// CreateDevice registers a device and its modules.
func (s *Service) CreateDevice(ctx context.Context, in NewDevice) (*Device, error) {
	if err := mqtt.ValidateSerial(in.SerialNumber); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSerial, in.SerialNumber)
	}
	if err := validateModules(in.Modules); err != nil {
		return nil, err
	}

	dev := &Device{SerialNumber: in.SerialNumber, Modules: []Module{}}
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateDevice(ctx, dev); err != nil {
			return err
		}
		for _, nm := range in.Modules {
			m := Module{DeviceID: dev.ID, Name: nm.Name, PillsLeft: nm.PillsLeft, Threshold: nm.Threshold}
			if err := repo.CreateModule(ctx, &m); err != nil {
				return err
			}
			dev.Modules = append(dev.Modules, m)
		}
		return s.log(ctx, tx, nil, "", fmt.Sprintf("Device %s registered with %d modules", dev.SerialNumber, len(dev.Modules)))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("device registered", "device_id", dev.ID, "serial", dev.SerialNumber)
	return dev, nil
}

// AddModules adds modules to an existing device.
func (s *Service) AddModules(ctx context.Context, deviceID int64, in []NewModule) ([]Module, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no modules given", ErrInvalidModule)
	}
	if err := validateModules(in); err != nil {
		return nil, err
	}

	added := make([]Module, 0, len(in))
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)
		dev, err := repo.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		for _, nm := range in {
			m := Module{DeviceID: deviceID, Name: nm.Name, PillsLeft: nm.PillsLeft, Threshold: nm.Threshold}
			if err := repo.CreateModule(ctx, &m); err != nil {
				return err
			}
			if err := s.log(ctx, tx, &m.ID, m.Name, fmt.Sprintf("Module %s added to %s", m.Name, dev.SerialNumber)); err != nil {
				return err
			}
			added = append(added, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// GetDevice returns a device with its modules.
func (s *Service) GetDevice(ctx context.Context, id int64) (*Device, error) {
	return s.repo.GetDevice(ctx, id)
}

// ListDevices returns every device with its modules.
func (s *Service) ListDevices(ctx context.Context) ([]Device, error) {
	return s.repo.ListDevices(ctx)
}

// DeviceOfPatient returns the device of a patient, or ErrDeviceNotFound.
func (s *Service) DeviceOfPatient(ctx context.Context, patientID int64) (*Device, error) {
	ok, err := s.repo.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPatientNotFound
	}
	dev, err := s.repo.DeviceOfPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, ErrDeviceNotFound
	}
	return dev, nil
}

// DeleteDevice removes a device with its modules and their schedules, then
// clears the schedule held by the physical device.
func (s *Service) DeleteDevice(ctx context.Context, id int64) (dispatch.Status, error) {
	var serial string
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)
		dev, err := repo.GetDevice(ctx, id)
		if err != nil {
			return err
		}
		serial = dev.SerialNumber
		if err := repo.DeleteDevice(ctx, id); err != nil {
			return err
		}
		return s.log(ctx, tx, nil, "", fmt.Sprintf("Device %s removed", serial))
	})
	if err != nil {
		return "", err
	}
	return s.syncer.ClearDevice(ctx, serial, id)
}

// Dispense removes one pill from a module and tells the device to dispense.
// An empty module is rejected before anything is stored or sent.
func (s *Service) Dispense(ctx context.Context, moduleID int64) (ActionResult, error) {
	var (
		mod    *Module
		serial string
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Decrement(ctx, moduleID); err != nil {
			if errors.Is(err, ErrNoPillsLeft) {
				if _, _, getErr := repo.GetModule(ctx, moduleID); getErr != nil {
					return getErr
				}
			}
			return err
		}

		var err error
		if mod, serial, err = repo.GetModule(ctx, moduleID); err != nil {
			return err
		}
		if err := s.log(ctx, tx, &mod.ID, mod.Name,
			fmt.Sprintf("Dispense %s:%s (%d left)", serial, mod.Name, mod.PillsLeft)); err != nil {
			return err
		}
		if mod.Low() {
			return s.log(ctx, tx, &mod.ID, mod.Name, lowSupplyText(*mod))
		}
		return nil
	})
	if err != nil {
		return ActionResult{}, err
	}

	cmd, err := command.Dispense(mod.Name)
	if err != nil {
		return ActionResult{}, err
	}
	res := ActionResult{Module: *mod, Delivery: s.send(ctx, serial, cmd)}

	s.recordInventory(serial, *mod)
	if mod.Low() && s.notifier != nil {
		if err := s.notifier.Notify(ctx, notify.Alert(lowSupplyText(*mod))); err != nil {
			s.logger.Error("low supply notification failed", "serial", serial, "module", mod.Name, "error", err)
		}
	}
	return res, nil
}

// Refill sets the pill count of a module and clears pending.
func (s *Service) Refill(ctx context.Context, moduleID int64, count int) (ActionResult, error) {
	if count < 0 {
		return ActionResult{}, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	return s.mutate(ctx, moduleID,
		func(m *Module) { m.PillsLeft, m.Pending = count, false },
		func(m Module) (command.Command, error) { return command.Refill(m.Name, count) },
		func(serial string, m Module) string { return fmt.Sprintf("Refill %s:%s to %d", serial, m.Name, count) },
	)
}

// ResetPending clears the pending flag of a module.
func (s *Service) ResetPending(ctx context.Context, moduleID int64) (ActionResult, error) {
	return s.mutate(ctx, moduleID,
		func(m *Module) { m.Pending = false },
		func(m Module) (command.Command, error) { return command.ResetPending(m.Name) },
		func(serial string, m Module) string { return fmt.Sprintf("Reset pending %s:%s", serial, m.Name) },
	)
}

// SetHardMode toggles firmware hard mode. Nothing is stored but the log entry.
func (s *Service) SetHardMode(ctx context.Context, deviceID int64, enabled bool) (dispatch.Status, error) {
	return s.deviceCommand(ctx, deviceID, command.HardMode(enabled),
		fmt.Sprintf("Hard mode set to %t", enabled))
}

// UpdateSettings pushes arbitrary settings to a device.
func (s *Service) UpdateSettings(ctx context.Context, deviceID int64, settings map[string]any) (dispatch.Status, error) {
	cmd, err := command.SettingsUpdate(settings)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return s.deviceCommand(ctx, deviceID, cmd, "Settings updated: "+cmd.String())
}

// AssignDevice binds a device to a patient, or unbinds it when patientID is
// nil. Serial number and modules never change.
func (s *Service) AssignDevice(ctx context.Context, deviceID int64, patientID *int64) (AssignResult, error) {
	var (
		dev      *Device
		released *int64
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo, schedules := s.repo.WithTx(tx), schedule.NewSQLiteRepository(tx)

		var err error
		if dev, err = repo.GetDevice(ctx, deviceID); err != nil {
			return err
		}

		if patientID != nil {
			ok, err := repo.PatientExists(ctx, *patientID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %d", ErrPatientNotFound, *patientID)
			}

			other, err := repo.DeviceOfPatient(ctx, *patientID)
			if err != nil {
				return err
			}
			if other != nil && other.ID != deviceID {
				if err := repo.SetPatient(ctx, other.ID, nil); err != nil {
					return err
				}
				if _, err := schedules.DeleteForDevice(ctx, *patientID, other.ID); err != nil {
					return err
				}
				released = &other.ID
			}
		}

		if prev := dev.PatientID; prev != nil && (patientID == nil || *prev != *patientID) {
			if _, err := schedules.DeleteForDevice(ctx, *prev, deviceID); err != nil {
				return err
			}
		}

		if err := repo.SetPatient(ctx, deviceID, patientID); err != nil {
			return err
		}
		dev.PatientID = patientID

		msg := fmt.Sprintf("Device %s unassigned", dev.SerialNumber)
		if patientID != nil {
			msg = fmt.Sprintf("Device %s assigned to patient %d", dev.SerialNumber, *patientID)
		}
		return s.log(ctx, tx, nil, "", msg)
	})
	if err != nil {
		return AssignResult{}, err
	}

	res := AssignResult{Device: dev, Released: released}
	if res.Delivery, err = s.syncer.SyncDevice(ctx, deviceID); err != nil {
		return AssignResult{}, err
	}
	if released != nil {
		if _, err := s.syncer.SyncDevice(ctx, *released); err != nil {
			s.logger.Warn("clearing released device", "device_id", *released, "error", err)
		}
	}
	return res, nil
}

// mutate runs a stock change, its log entry and the matching command.
func (s *Service) mutate(
	ctx context.Context,
	moduleID int64,
	apply func(*Module),
	encode func(Module) (command.Command, error),
	describe func(serial string, m Module) string,
) (ActionResult, error) {
	var (
		mod    *Module
		serial string
		cmd    command.Command
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.repo.WithTx(tx)

		var err error
		if mod, serial, err = repo.GetModule(ctx, moduleID); err != nil {
			return err
		}
		if cmd, err = encode(*mod); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidModule, err)
		}
		apply(mod)
		if err := repo.SetStock(ctx, mod.ID, mod.PillsLeft, mod.Pending); err != nil {
			return err
		}
		return s.log(ctx, tx, &mod.ID, mod.Name, describe(serial, *mod))
	})
	if err != nil {
		return ActionResult{}, err
	}

	res := ActionResult{Module: *mod, Delivery: s.send(ctx, serial, cmd)}
	s.recordInventory(serial, *mod)
	return res, nil
}

func (s *Service) deviceCommand(ctx context.Context, deviceID int64, cmd command.Command, msg string) (dispatch.Status, error) {
	var serial string
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		dev, err := s.repo.WithTx(tx).GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		serial = dev.SerialNumber
		return s.log(ctx, tx, nil, "", fmt.Sprintf("%s: %s", serial, msg))
	})
	if err != nil {
		return "", err
	}
	return s.send(ctx, serial, cmd), nil
}

// send publishes cmd. Delivery failures are logged by the publisher and
// only reported through the returned status.
func (s *Service) send(ctx context.Context, serial string, cmd command.Command) dispatch.Status {
	status, err := s.sender.Send(ctx, serial, cmd)
	if err != nil {
		s.logger.Warn("device command not delivered", "serial", serial, "kind", cmd.Kind, "error", err)
	}
	return status
}

func (s *Service) log(ctx context.Context, tx *sql.Tx, moduleID *int64, source, msg string) error {
	_, err := s.logs.WithTx(tx).Append(ctx, eventlog.Record{ModuleID: moduleID, Source: source, Message: msg})
	return err
}

func (s *Service) recordInventory(serial string, m Module) {
	if s.telemetry != nil {
		s.telemetry.WriteModuleInventory(serial, m.Name, m.PillsLeft, m.Threshold, time.Now())
	}
}

func lowSupplyText(m Module) string {
	return fmt.Sprintf("%s:Pills low, %d left (threshold %d)", m.Name, m.PillsLeft, m.Threshold)
}

func validateModules(in []NewModule) error {
	seen := make(map[string]bool, len(in))
	for _, m := range in {
		if err := command.ValidateModuleName(m.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidModule, err)
		}
		if m.PillsLeft < 0 || m.Threshold < 0 {
			return fmt.Errorf("%w: %s: counts must not be negative", ErrInvalidModule, m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: %s", ErrModuleExists, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}
