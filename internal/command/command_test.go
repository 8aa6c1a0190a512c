package command

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextCommands(t *testing.T) {
	mustCmd := func(c Command, err error) Command {
		t.Helper()
		require.NoError(t, err)
		return c
	}

	tests := []struct {
		name      string
		cmd       Command
		want      string
		wantKind  Kind
		wantTopic string
	}{
		{"dispense", mustCmd(Dispense("module1")), "dispense:module1", KindDispense, "pill/device1/command"},
		{"refill", mustCmd(Refill("module2", 30)), "refill:module2:30", KindRefill, "pill/device1/command"},
		{"refill zero", mustCmd(Refill("module2", 0)), "refill:module2:0", KindRefill, "pill/device1/command"},
		{"reset pending", mustCmd(ResetPending("module1")), "reset_pending:module1", KindResetPending, "pill/device1/command"},
		{"hard mode on", HardMode(true), "set_hard_mode:true", KindHardMode, "pill/device1/command"},
		{"hard mode off", HardMode(false), "set_hard_mode:false", KindHardMode, "pill/device1/command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.String())
			assert.Equal(t, tt.wantKind, tt.cmd.Kind)
			assert.Equal(t, tt.wantTopic, tt.cmd.Topic("device1"))
		})
	}
}

func TestModuleNameValidation(t *testing.T) {
	for _, bad := range []string{"", "  ", "mod:1", "mod\n1"} {
		_, err := Dispense(bad)
		assert.True(t, errors.Is(err, ErrInvalidModuleName), "Dispense(%q) error = %v", bad, err)

		_, err = Refill(bad, 1)
		assert.True(t, errors.Is(err, ErrInvalidModuleName), "Refill(%q) error = %v", bad, err)

		_, err = ResetPending(bad)
		assert.True(t, errors.Is(err, ErrInvalidModuleName), "ResetPending(%q) error = %v", bad, err)
	}

	_, err := Refill("module1", -1)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestScheduleSet(t *testing.T) {
	until := "2026-07-01"
	cmd, err := ScheduleSet([]TimeSlot{
		{Time: "08:00", DispenserModules: []string{"module1", "module2"}, Days: []string{"Mon", "Wed"}, UntilDate: &until},
		{Time: "20:00", DispenserModules: []string{"module1"}, Days: []string{"daily"}},
	})
	require.NoError(t, err)

	assert.Equal(t, KindScheduleSet, cmd.Kind)
	assert.Equal(t, "pill/device1/schedule/set", cmd.Topic("device1"))
	assert.Equal(t,
		`[{"time":"08:00","dispenser_modules":["module1","module2"],"days":["Mon","Wed"],"until_date":"2026-07-01"},`+
			`{"time":"20:00","dispenser_modules":["module1"],"days":["daily"],"until_date":null}]`,
		cmd.String())
}

func TestScheduleSet_EmptyIsArray(t *testing.T) {
	for _, slots := range [][]TimeSlot{nil, {}} {
		cmd, err := ScheduleSet(slots)
		require.NoError(t, err)
		assert.Equal(t, "[]", cmd.String())
	}
}

func TestScheduleSet_NilListsEncodeEmpty(t *testing.T) {
	cmd, err := ScheduleSet([]TimeSlot{{Time: "08:00"}})
	require.NoError(t, err)
	assert.Equal(t, `[{"time":"08:00","dispenser_modules":[],"days":[],"until_date":null}]`, cmd.String())
}

func TestSettingsUpdate(t *testing.T) {
	cmd, err := SettingsUpdate(map[string]any{"hard_mode": true, "volume": 3})
	require.NoError(t, err)

	assert.Equal(t, KindSettingsUpdate, cmd.Kind)
	assert.Equal(t, "pill/device1/settings/update", cmd.Topic("device1"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(cmd.Payload, &decoded))
	assert.Equal(t, true, decoded["hard_mode"])
	assert.NotContains(t, cmd.String(), " ")

	_, err = SettingsUpdate(nil)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = SettingsUpdate(map[string]any{"bad": math.Inf(1)})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestKindTopicSuffix(t *testing.T) {
	assert.Equal(t, "command", KindDispense.TopicSuffix())
	assert.Equal(t, "command", KindHardMode.TopicSuffix())
	assert.Equal(t, "schedule/set", KindScheduleSet.TopicSuffix())
	assert.Equal(t, "settings/update", KindSettingsUpdate.TopicSuffix())
}
