// Package notify delivers alert messages raised by dispensers to people.
//
// A Notifier takes one formatted alert string. The log channel is always
// present; email (SMTP via gomail) and webhook (JSON POST via resty) are
// added from configuration. Channel failures are reported to the caller,
// who logs them and carries on.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/config"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/metrics"
)

// Notifier delivers one alert message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Logger is the logging surface the notifiers need.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Channel names, used as the metrics label.
const (
	ChannelLog     = "log"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// AlertPrefix starts every alert notification.
const AlertPrefix = "🚨 ALERT: "

// Alert formats text as an alert notification.
func Alert(text string) string {
	return AlertPrefix + text
}

// ErrChannel wraps the error of a single failed channel.
var ErrChannel = errors.New("notify: channel failed")

// Named pairs a notifier with its channel name.
type Named struct {
	Name     string
	Notifier Notifier
}

// Multi fans a message out to every channel. All channels are attempted;
// the errors of failed ones are joined.
type Multi struct {
	channels []Named
	metrics  *metrics.Metrics
}

// NewMulti creates a fan-out notifier. m may be nil.
func NewMulti(m *metrics.Metrics, channels ...Named) *Multi {
	return &Multi{channels: channels, metrics: m}
}

// Notify sends message on every channel.
func (m *Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Notifier.Notify(ctx, message); err != nil {
			m.metrics.ObserveNotifyFailure(ch.Name)
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrChannel, ch.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Channels returns the configured channel names.
func (m *Multi) Channels() []string {
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name
	}
	return names
}

// FromConfig builds the notifier for cfg. The log channel is always first.
func FromConfig(cfg config.NotifyConfig, logger Logger, m *metrics.Metrics) *Multi {
	channels := []Named{{Name: ChannelLog, Notifier: NewLogNotifier(logger)}}

	if cfg.Email.Enabled {
		channels = append(channels, Named{Name: ChannelEmail, Notifier: NewEmailNotifier(cfg.Email)})
	}
	if cfg.Webhook.Enabled {
		channels = append(channels, Named{Name: ChannelWebhook, Notifier: NewWebhookNotifier(cfg.Webhook)})
	}

	return NewMulti(m, channels...)
}

// LogNotifier writes alerts to the service log.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs message at warn level.
func (n *LogNotifier) Notify(_ context.Context, message string) error {
	n.logger.Warn("alert notification", "message", message)
	return nil
}
