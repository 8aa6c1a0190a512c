package schedule

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTime(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"00:00", false},
		{"08:30", false},
		{"23:59", false},
		{"24:00", true},
		{"8:30", true},
		{"08:60", true},
		{"08:30:00", true},
		{"", true},
		{"noon", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := ValidateTime(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTime)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNormalizeRepeat(t *testing.T) {
	repeat, days, err := NormalizeRepeat("", []string{"Mon"})
	require.NoError(t, err)
	assert.Equal(t, RepeatDaily, repeat)
	assert.Empty(t, days, "daily rules drop days")

	repeat, days, err = NormalizeRepeat(RepeatCustom, []string{"mon", " WED ", "Mon", "alternate"})
	require.NoError(t, err)
	assert.Equal(t, RepeatCustom, repeat)
	assert.Equal(t, []string{"Mon", "Wed", "alternate"}, days)

	_, _, err = NormalizeRepeat(RepeatCustom, nil)
	assert.ErrorIs(t, err, ErrInvalidDays)

	_, _, err = NormalizeRepeat(RepeatCustom, []string{"Funday"})
	assert.ErrorIs(t, err, ErrInvalidDays)

	_, _, err = NormalizeRepeat("weekly", nil)
	assert.ErrorIs(t, err, ErrInvalidRepeatType)
}

func TestValidateUntilDate(t *testing.T) {
	assert.NoError(t, ValidateUntilDate(nil))
	assert.NoError(t, ValidateUntilDate(strPtr("2026-12-31")))
	assert.ErrorIs(t, ValidateUntilDate(strPtr("31/12/2026")), ErrInvalidUntilDate)
	assert.ErrorIs(t, ValidateUntilDate(strPtr("2026-02-30")), ErrInvalidUntilDate)
}

func TestValidateMedicine(t *testing.T) {
	assert.NoError(t, ValidateMedicine("Aspirin"))
	assert.ErrorIs(t, ValidateMedicine("   "), ErrInvalidMedicine)
	assert.ErrorIs(t, ValidateMedicine(strings.Repeat("x", maxMedicineLength+1)), ErrInvalidMedicine)
}

func TestNormalize(t *testing.T) {
	s := Schedule{MedicineName: "  Aspirin ", Time: "08:00", UntilDate: strPtr("")}
	require.NoError(t, normalize(&s))
	assert.Equal(t, "Aspirin", s.MedicineName)
	assert.Equal(t, RepeatDaily, s.RepeatType)
	assert.Nil(t, s.UntilDate, "empty until_date clears the bound")

	bad := Schedule{MedicineName: "Aspirin", Time: "25:00"}
	assert.True(t, errors.Is(normalize(&bad), ErrInvalidTime))
}
