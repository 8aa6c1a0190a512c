package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
//
// Device topics follow pill/{serial}/{suffix}. The serial_number of the
// dispenser is the only addressing key on the transport.
const (
	// TopicPrefixDevice is the base for all dispenser topics.
	TopicPrefixDevice = "pill"

	// TopicPrefixSystem is the base for the core's own status topics.
	TopicPrefixSystem = "pillfleet/system"
)

// Suffixes of device topics.
const (
	SuffixCommand        = "command"
	SuffixScheduleSet    = "schedule/set"
	SuffixSettingsUpdate = "settings/update"

	SuffixStatus         = "status"
	SuffixScheduleStatus = "schedule/status"
	SuffixSettingsStatus = "settings/status"
	SuffixAlerts         = "alerts"
)

// ListenerSuffixes are the inbound topics every dispenser publishes on.
var ListenerSuffixes = []string{
	SuffixStatus,
	SuffixScheduleStatus,
	SuffixSettingsStatus,
	SuffixAlerts,
}

// Topics provides builders for fleet MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceCommand("device1") // "pill/device1/command"
type Topics struct{}

// Device returns the topic for a device and suffix.
//
// Example: pill/device1/schedule/set
func (Topics) Device(serial, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevice, serial, suffix)
}

// DeviceCommand returns the plain-text command topic of a device.
func (t Topics) DeviceCommand(serial string) string {
	return t.Device(serial, SuffixCommand)
}

// DeviceScheduleSet returns the topic carrying the full schedule of a device.
func (t Topics) DeviceScheduleSet(serial string) string {
	return t.Device(serial, SuffixScheduleSet)
}

// DeviceSettingsUpdate returns the settings topic of a device.
func (t Topics) DeviceSettingsUpdate(serial string) string {
	return t.Device(serial, SuffixSettingsUpdate)
}

// Listener returns the inbound topics under base, e.g. "pill/+" or "pill/device1".
func (Topics) Listener(base string) []string {
	base = strings.TrimSuffix(base, "/")
	out := make([]string, len(ListenerSuffixes))
	for i, s := range ListenerSuffixes {
		out[i] = base + "/" + s
	}
	return out
}

// AllDevices returns the wildcard base covering every dispenser.
func (Topics) AllDevices() string {
	return TopicPrefixDevice + "/+"
}

// SystemStatus returns the retained status topic of the core (LWT target).
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ParseDeviceTopic splits pill/{serial}/{suffix} into its parts.
// ok is false when the topic is not a device topic.
func ParseDeviceTopic(topic string) (serial, suffix string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixDevice+"/")
	if !found {
		return "", "", false
	}
	serial, suffix, found = strings.Cut(rest, "/")
	if !found || serial == "" || suffix == "" {
		return "", "", false
	}
	return serial, suffix, true
}

// ValidateSerial checks that serial can be used as a single topic level.
func ValidateSerial(serial string) error {
	if serial == "" || strings.ContainsAny(serial, "/+#\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
	}
	return nil
}
