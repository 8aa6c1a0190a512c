package mqtt

import (
	"errors"
	"reflect"
	"testing"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"command", topics.DeviceCommand("device1"), "pill/device1/command"},
		{"schedule set", topics.DeviceScheduleSet("device1"), "pill/device1/schedule/set"},
		{"settings update", topics.DeviceSettingsUpdate("device1"), "pill/device1/settings/update"},
		{"all devices", topics.AllDevices(), "pill/+"},
		{"system status", topics.SystemStatus(), "pillfleet/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopicsListener(t *testing.T) {
	want := []string{
		"pill/+/status",
		"pill/+/schedule/status",
		"pill/+/settings/status",
		"pill/+/alerts",
	}
	if got := (Topics{}).Listener("pill/+"); !reflect.DeepEqual(got, want) {
		t.Errorf("Listener(pill/+) = %v, want %v", got, want)
	}

	got := (Topics{}).Listener("pill/device1/")
	if got[0] != "pill/device1/status" {
		t.Errorf("trailing slash not trimmed: %v", got)
	}
}

func TestParseDeviceTopic(t *testing.T) {
	tests := []struct {
		topic      string
		wantSerial string
		wantSuffix string
		wantOK     bool
	}{
		{"pill/device1/status", "device1", "status", true},
		{"pill/device1/schedule/status", "device1", "schedule/status", true},
		{"pill/SN-0042/alerts", "SN-0042", "alerts", true},
		{"pill/device1", "", "", false},
		{"pill//status", "", "", false},
		{"other/device1/status", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			serial, suffix, ok := ParseDeviceTopic(tt.topic)
			if ok != tt.wantOK || serial != tt.wantSerial || suffix != tt.wantSuffix {
				t.Errorf("ParseDeviceTopic(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, serial, suffix, ok, tt.wantSerial, tt.wantSuffix, tt.wantOK)
			}
		})
	}
}

func TestValidateSerial(t *testing.T) {
	for _, ok := range []string{"device1", "SN-0042", "abc_def.1"} {
		if err := ValidateSerial(ok); err != nil {
			t.Errorf("ValidateSerial(%q) error = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a/b", "dev+", "dev#"} {
		if err := ValidateSerial(bad); !errors.Is(err, ErrInvalidSerial) {
			t.Errorf("ValidateSerial(%q) error = %v, want ErrInvalidSerial", bad, err)
		}
	}
}
