// Package listener consumes inbound dispenser messages.
//
// Every message on a status, schedule ack, settings ack or alert topic is
// stored as an event log entry, counted, written to telemetry and broadcast
// to live clients. Messages classified as alerts are then passed to the
// notifier. The log write comes first; a notifier failure is logged and
// never undoes it.
package listener

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pillfleet-core/internal/eventlog"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/metrics"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pillfleet-core/internal/notify"
)

// State is the connection state of the listener.
type State int32

// Listener states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// WebSocket channels events are broadcast on.
const (
	ChannelEvent = "device.event"
	ChannelAlert = "device.alert"
)

const defaultHandleTimeout = 10 * time.Second

// Subscriber is the transport surface the listener needs. Satisfied by *mqtt.Client.
type Subscriber interface {
	SubscribeAll(topics []string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetOnReconnecting(callback func())
	QoS() byte
}

// EventStore persists device messages. Satisfied by *eventlog.SQLiteRepository.
type EventStore interface {
	ResolveModule(ctx context.Context, serial, label string) (*int64, error)
	Append(ctx context.Context, rec eventlog.Record) (int64, error)
}

// Broadcaster pushes events to live clients. Satisfied by *api.Hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Telemetry records device events as time-series points. Satisfied by *influxdb.Client.
type Telemetry interface {
	WriteDeviceEvent(ev influxdb.DeviceEvent)
}

// Logger is the logging surface the listener needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Listener.
type Options struct {
	// TopicBase is the device part of the subscriptions, e.g. "pill/+".
	TopicBase string

	// HandleTimeout bounds the storage and notifier calls of one message.
	HandleTimeout time.Duration
}

// Event is one processed device message as seen by live clients.
type Event struct {
	LogID   int64     `json:"log_id,omitempty"`
	Serial  string    `json:"serial,omitempty"`
	Kind    string    `json:"kind"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
	Alert   bool      `json:"alert"`
	At      time.Time `json:"timestamp"`
}

// DeviceSerial lets live feeds filter by dispenser.
func (e Event) DeviceSerial() string { return e.Serial }

// Listener subscribes to device topics and processes their messages.
//
// paho delivers messages one at a time, so handling is sequential and a slow
// store or notifier delays the next message.
type Listener struct {
	sub      Subscriber
	store    EventStore
	notifier notify.Notifier
	logger   Logger
	opts     Options

	metrics     *metrics.Metrics
	broadcaster Broadcaster
	telemetry   Telemetry

	state atomic.Int32

	mu  sync.RWMutex
	ctx context.Context
}

// New creates a Listener in the Disconnected state.
func New(sub Subscriber, store EventStore, notifier notify.Notifier, logger Logger, opts Options) *Listener {
	if opts.TopicBase == "" {
		opts.TopicBase = mqtt.Topics{}.AllDevices()
	}
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = defaultHandleTimeout
	}
	return &Listener{
		sub:      sub,
		store:    store,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		ctx:      context.Background(),
	}
}

// SetMetrics attaches collectors. Call before Start.
func (l *Listener) SetMetrics(m *metrics.Metrics) { l.metrics = m }

// SetBroadcaster attaches a live event sink. Call before Start.
func (l *Listener) SetBroadcaster(b Broadcaster) { l.broadcaster = b }

// SetTelemetry attaches a time-series sink. Call before Start.
func (l *Listener) SetTelemetry(t Telemetry) { l.telemetry = t }

// State returns the current connection state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Topics returns the subscribed topic filters.
func (l *Listener) Topics() []string {
	return mqtt.Topics{}.Listener(l.opts.TopicBase)
}

// Start subscribes to every device topic.
//
// All filters go out in one subscription request. Reconnects are handled by
// the transport, which restores the subscriptions; the listener only tracks
// state through the transport callbacks.
//
// Parameters:
//   - ctx: parent of the per-message handling context for the lifetime of
//     the listener
//
// Returns:
//   - error: the transport error when the subscription is rejected; the
//     listener is then left in StateDisconnected
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	l.sub.SetOnConnect(func() { l.setState(StateConnected) })
	l.sub.SetOnDisconnect(func(err error) {
		l.setState(StateConnecting)
		l.logger.Warn("device listener lost connection", "error", err)
	})
	l.sub.SetOnReconnecting(func() { l.setState(StateConnecting) })

	l.setState(StateConnecting)
	if err := l.sub.SubscribeAll(l.Topics(), l.sub.QoS(), l.handle); err != nil {
		l.setState(StateDisconnected)
		return err
	}
	l.setState(StateConnected)

	l.logger.Info("device listener started", "topics", l.Topics())
	return nil
}

// Stop marks the listener disconnected. The transport owns the subscriptions.
func (l *Listener) Stop() {
	l.setState(StateDisconnected)
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	l.metrics.SetListenerConnected(s == StateConnected)
}

func (l *Listener) baseContext() context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx
}

// handle processes one message. It never returns an error: a message that
// cannot be stored is still counted, broadcast and, when it is an alert,
// notified.
func (l *Listener) handle(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(l.baseContext(), l.opts.HandleTimeout)
	defer cancel()

	ev := l.process(ctx, topic, payload)
	l.logger.Debug("device message", "topic", topic, "source", ev.Source, "alert", ev.Alert)
	return nil
}

func (l *Listener) process(ctx context.Context, topic string, payload []byte) Event {
	text := strings.ToValidUTF8(string(payload), "�")

	serial, suffix, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		suffix = topic[strings.LastIndex(topic, "/")+1:]
	}

	ev := Event{
		Serial:  serial,
		Kind:    suffix,
		Source:  Label(text),
		Message: text,
		Alert:   IsAlert(suffix, text),
		At:      time.Now().UTC(),
	}

	ev.LogID = l.persist(ctx, ev)

	l.metrics.ObserveMessage(ev.Kind, ev.Alert)
	if l.telemetry != nil {
		l.telemetry.WriteDeviceEvent(influxdb.DeviceEvent{
			Serial: ev.Serial,
			Kind:   ev.Kind,
			Source: ev.Source,
			Text:   ev.Message,
			Alert:  ev.Alert,
			At:     ev.At,
		})
	}
	if l.broadcaster != nil {
		l.broadcaster.Broadcast(ChannelEvent, ev)
		if ev.Alert {
			l.broadcaster.Broadcast(ChannelAlert, ev)
		}
	}

	if ev.Alert {
		if err := l.notifier.Notify(ctx, AlertMessage(text)); err != nil {
			l.logger.Error("alert notification failed",
				"serial", ev.Serial,
				"message", text,
				"error", err,
			)
		}
	}
	return ev
}

func (l *Listener) persist(ctx context.Context, ev Event) int64 {
	moduleID, err := l.store.ResolveModule(ctx, ev.Serial, ev.Source)
	if err != nil {
		l.logger.Warn("resolving module for device message", "serial", ev.Serial, "label", ev.Source, "error", err)
		moduleID = nil
	}

	id, err := l.store.Append(ctx, eventlog.Record{
		At:       ev.At,
		ModuleID: moduleID,
		Source:   ev.Source,
		Message:  ev.Message,
	})
	if err != nil {
		l.metrics.ObserveLogWriteFailure()
		l.logger.Error("storing device message", "serial", ev.Serial, "error", err)
		return 0
	}
	return id
}
