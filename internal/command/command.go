// Package command builds the payloads sent to pill dispensers.
//
// Direct commands are plain strings on pill/{serial}/command. Schedules and
// settings are compact JSON on their own topics. Encoding is pure; nothing
// here touches storage or the transport.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/mqtt"
)

// Kind identifies a command type.
type Kind string

// Command kinds.
const (
	KindDispense       Kind = "dispense"
	KindRefill         Kind = "refill"
	KindResetPending   Kind = "reset_pending"
	KindHardMode       Kind = "hard_mode"
	KindScheduleSet    Kind = "schedule_set"
	KindSettingsUpdate Kind = "settings_update"
)

var (
	// ErrInvalidModuleName is returned for module names the device protocol
	// cannot carry: empty, or containing the ':' field separator.
	ErrInvalidModuleName = errors.New("command: invalid module name")

	// ErrInvalidCount is returned for a negative refill count.
	ErrInvalidCount = errors.New("command: invalid pill count")

	// ErrInvalidSettings is returned for settings that are empty or not JSON-encodable.
	ErrInvalidSettings = errors.New("command: invalid settings")
)

// TopicSuffix returns the device topic suffix the kind is published on.
func (k Kind) TopicSuffix() string {
	switch k {
	case KindScheduleSet:
		return mqtt.SuffixScheduleSet
	case KindSettingsUpdate:
		return mqtt.SuffixSettingsUpdate
	default:
		return mqtt.SuffixCommand
	}
}

// Command is an encoded, transport-ready device command.
type Command struct {
	Kind    Kind
	Payload []byte

	// Module is the target module for module-level commands, empty otherwise.
	Module string
}

// Topic returns the full topic of the command for a device serial.
func (c Command) Topic(serial string) string {
	return mqtt.Topics{}.Device(serial, c.Kind.TopicSuffix())
}

// String returns the payload as text.
func (c Command) String() string {
	return string(c.Payload)
}

// TimeSlot is one entry of a schedule_set payload: every module due at Time.
type TimeSlot struct {
	Time             string   `json:"time"`
	DispenserModules []string `json:"dispenser_modules"`
	Days             []string `json:"days"`
	UntilDate        *string  `json:"until_date"`
}

// ValidateModuleName checks that name can be used in a plain-text command.
func ValidateModuleName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModuleName)
	}
	if strings.ContainsAny(name, ":\n\r") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidModuleName, name)
	}
	return nil
}

// Dispense encodes "dispense:<module>".
func Dispense(module string) (Command, error) {
	if err := ValidateModuleName(module); err != nil {
		return Command{}, err
	}
	return text(KindDispense, module, "dispense:"+module), nil
}

// Refill encodes "refill:<module>:<count>".
func Refill(module string, count int) (Command, error) {
	if err := ValidateModuleName(module); err != nil {
		return Command{}, err
	}
	if count < 0 {
		return Command{}, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	return text(KindRefill, module, "refill:"+module+":"+strconv.Itoa(count)), nil
}

// ResetPending encodes "reset_pending:<module>".
func ResetPending(module string) (Command, error) {
	if err := ValidateModuleName(module); err != nil {
		return Command{}, err
	}
	return text(KindResetPending, module, "reset_pending:"+module), nil
}

// HardMode encodes "set_hard_mode:true" or "set_hard_mode:false".
func HardMode(enabled bool) Command {
	return text(KindHardMode, "", "set_hard_mode:"+strconv.FormatBool(enabled))
}

// ScheduleSet encodes the full device schedule as a compact JSON array.
// A nil or empty slice encodes as [] so the device clears its schedule.
func ScheduleSet(slots []TimeSlot) (Command, error) {
	if slots == nil {
		slots = []TimeSlot{}
	}
	normalised := make([]TimeSlot, len(slots))
	for i, s := range slots {
		if s.DispenserModules == nil {
			s.DispenserModules = []string{}
		}
		if s.Days == nil {
			s.Days = []string{}
		}
		normalised[i] = s
	}

	payload, err := json.Marshal(normalised)
	if err != nil {
		return Command{}, fmt.Errorf("encoding schedule: %w", err)
	}
	return Command{Kind: KindScheduleSet, Payload: payload}, nil
}

// SettingsUpdate encodes arbitrary device settings as a compact JSON object.
func SettingsUpdate(settings map[string]any) (Command, error) {
	if len(settings) == 0 {
		return Command{}, fmt.Errorf("%w: no settings given", ErrInvalidSettings)
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return Command{Kind: KindSettingsUpdate, Payload: payload}, nil
}

func text(kind Kind, module, payload string) Command {
	return Command{Kind: kind, Module: module, Payload: []byte(payload)}
}
