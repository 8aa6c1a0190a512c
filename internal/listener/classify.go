package listener

import (
	"strings"

	"github.com/nerrad567/pillfleet-core/internal/eventlog"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pillfleet-core/internal/notify"
)

// alertPhrases mark a device message as an alert wherever they appear.
var alertPhrases = []string{
	"Pills low",
	"NOT taken",
	"is empty",
	"⚠️",
	"❌",
}

// Label returns the source label of a device message: the raw text before
// the first ':' or "system" when there is none. The prefix is not trimmed;
// devices send module names verbatim.
func Label(text string) string {
	label, _, found := strings.Cut(text, ":")
	if !found {
		return eventlog.SourceSystem
	}
	return label
}

// IsAlert reports whether a message on a topic with the given suffix must
// be forwarded to the notifier. Matching is case-sensitive.
func IsAlert(suffix, text string) bool {
	if suffix == mqtt.SuffixAlerts {
		return true
	}
	for _, phrase := range alertPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// AlertMessage formats the notification text for a device message.
func AlertMessage(text string) string {
	return notify.Alert(text)
}
