package listener

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/pillfleet-core/internal/eventlog"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database/dbtest"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/logging"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/metrics"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/mqtt"
)

type fakeSubscriber struct {
	handlers       map[string]mqtt.MessageHandler
	err            error
	onConnect      func()
	onDisconnect   func(error)
	onReconnecting func()
}

func (f *fakeSubscriber) SubscribeAll(topics []string, _ byte, h mqtt.MessageHandler) error {
	if f.err != nil {
		return f.err
	}
	if f.handlers == nil {
		f.handlers = make(map[string]mqtt.MessageHandler)
	}
	for _, topic := range topics {
		f.handlers[topic] = h
	}
	return nil
}

func (f *fakeSubscriber) SetOnConnect(cb func())         { f.onConnect = cb }
func (f *fakeSubscriber) SetOnDisconnect(cb func(error)) { f.onDisconnect = cb }
func (f *fakeSubscriber) SetOnReconnecting(cb func())    { f.onReconnecting = cb }
func (f *fakeSubscriber) QoS() byte                      { return 1 }

func (f *fakeSubscriber) deliver(t *testing.T, filter, topic, payload string) {
	t.Helper()
	h, ok := f.handlers[filter]
	require.True(t, ok, "no subscription for %s", filter)
	require.NoError(t, h(topic, []byte(payload)))
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return f.err
}

type failingStore struct{}

func (failingStore) ResolveModule(context.Context, string, string) (*int64, error) {
	return nil, errors.New("db locked")
}

func (failingStore) Append(context.Context, eventlog.Record) (int64, error) {
	return 0, errors.New("db locked")
}

type broadcast struct {
	channel string
	event   Event
}

type fakeBroadcaster struct{ sent []broadcast }

func (f *fakeBroadcaster) Broadcast(channel string, payload any) {
	f.sent = append(f.sent, broadcast{channel, payload.(Event)})
}

type fakeTelemetry struct{ events []influxdb.DeviceEvent }

func (f *fakeTelemetry) WriteDeviceEvent(ev influxdb.DeviceEvent) { f.events = append(f.events, ev) }

type harness struct {
	sub      *fakeSubscriber
	notifier *fakeNotifier
	logs     *eventlog.SQLiteRepository
	listener *Listener
	module1  int64
}

func newHarness(t *testing.T) harness {
	t.Helper()
	db := dbtest.Open(t)
	dev := dbtest.Insert(t, db, `INSERT INTO dispensers (serial_number) VALUES ('device1')`)

	h := harness{
		sub:      &fakeSubscriber{},
		notifier: &fakeNotifier{},
		logs:     eventlog.NewSQLiteRepository(db),
		module1:  dbtest.Insert(t, db, `INSERT INTO modules (dispenser_id, module_name) VALUES (?, 'module1')`, dev),
	}
	h.listener = New(h.sub, h.logs, h.notifier, logging.Discard(), Options{})
	require.NoError(t, h.listener.Start(context.Background()))
	return h
}

func (h harness) recent(t *testing.T) []eventlog.Entry {
	t.Helper()
	entries, err := h.logs.Recent(context.Background(), 10)
	require.NoError(t, err)
	return entries
}

func TestStart_SubscribesDeviceTopics(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, StateConnected, h.listener.State())
	assert.Len(t, h.sub.handlers, 4)
	for _, topic := range []string{"pill/+/status", "pill/+/schedule/status", "pill/+/settings/status", "pill/+/alerts"} {
		assert.Contains(t, h.sub.handlers, topic)
	}
}

func TestStart_SubscribeFailure(t *testing.T) {
	sub := &fakeSubscriber{err: mqtt.ErrNotConnected}
	l := New(sub, failingStore{}, &fakeNotifier{}, logging.Discard(), Options{TopicBase: "pill/device1"})

	err := l.Start(context.Background())
	assert.ErrorIs(t, err, mqtt.ErrNotConnected)
	assert.Equal(t, StateDisconnected, l.State())
}

func TestStateTransitions(t *testing.T) {
	h := newHarness(t)
	m := metrics.New("test")
	h.listener.SetMetrics(m)

	h.sub.onDisconnect(errors.New("broker gone"))
	assert.Equal(t, StateConnecting, h.listener.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ListenerConnected))

	h.sub.onReconnecting()
	assert.Equal(t, StateConnecting, h.listener.State())

	h.sub.onConnect()
	assert.Equal(t, StateConnected, h.listener.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenerConnected))

	h.listener.Stop()
	assert.Equal(t, "disconnected", h.listener.State().String())
}

func TestPillsLowOnStatus(t *testing.T) {
	h := newHarness(t)

	h.sub.deliver(t, "pill/+/status", "pill/device1/status", "module1:Pills low, refill soon")

	entries := h.recent(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "module1", entries[0].Source)
	assert.Equal(t, "module1:Pills low, refill soon", entries[0].Message)
	require.NotNil(t, entries[0].ModuleName)
	assert.Equal(t, "module1", *entries[0].ModuleName)

	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0], "Pills low")
	assert.Equal(t, "🚨 ALERT: module1:Pills low, refill soon", h.notifier.messages[0])
}

func TestAlertsTopicAlwaysNotifies(t *testing.T) {
	h := newHarness(t)

	h.sub.deliver(t, "pill/+/alerts", "pill/device1/alerts", "door opened")

	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, "🚨 ALERT: door opened", h.notifier.messages[0])

	entries := h.recent(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "system", entries[0].Source)
	assert.Nil(t, entries[0].ModuleName)
}

func TestLabelIsTakenVerbatim(t *testing.T) {
	h := newHarness(t)

	h.sub.deliver(t, "pill/+/status", "pill/device1/status", " module1 :dispensed")
	h.sub.deliver(t, "pill/+/status", "pill/device1/status", ":Pills low")

	entries := h.recent(t)
	require.Len(t, entries, 2)

	// Newest first: an empty label is stored as "system".
	assert.Equal(t, "system", entries[0].Source)
	assert.Nil(t, entries[0].ModuleName)

	assert.Equal(t, " module1 ", entries[1].Source)
	assert.Nil(t, entries[1].ModuleName, "padded labels do not match module names")

	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, "🚨 ALERT: :Pills low", h.notifier.messages[0])
}

func TestOrdinaryMessageOnlyLogged(t *testing.T) {
	h := newHarness(t)

	h.sub.deliver(t, "pill/+/schedule/status", "pill/device1/schedule/status", "schedule updated")

	assert.Empty(t, h.notifier.messages)
	assert.Len(t, h.recent(t), 1)
}

func TestInvalidUTF8IsReplaced(t *testing.T) {
	h := newHarness(t)

	h.sub.deliver(t, "pill/+/status", "pill/device1/status", "module1:ok\xff\xfe")

	entries := h.recent(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "module1:ok�", entries[0].Message)
}

func TestNotifyFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("smtp down")

	h.sub.deliver(t, "pill/+/alerts", "pill/device1/alerts", "module1 is empty")

	assert.Len(t, h.notifier.messages, 1)
	assert.Len(t, h.recent(t), 1, "log entry written before the notifier ran")
}

func TestStoreFailureStillNotifies(t *testing.T) {
	sub := &fakeSubscriber{}
	notifier := &fakeNotifier{}
	m := metrics.New("test")

	l := New(sub, failingStore{}, notifier, logging.Discard(), Options{})
	l.SetMetrics(m)
	require.NoError(t, l.Start(context.Background()))

	sub.deliver(t, "pill/+/status", "pill/device1/status", "❌ jam")

	assert.Len(t, notifier.messages, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventLogWritesFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsRaised))
}

func TestBroadcastAndTelemetry(t *testing.T) {
	h := newHarness(t)
	b := &fakeBroadcaster{}
	tel := &fakeTelemetry{}
	h.listener.SetBroadcaster(b)
	h.listener.SetTelemetry(tel)

	h.sub.deliver(t, "pill/+/status", "pill/device1/status", "module1:dispensed")
	h.sub.deliver(t, "pill/+/status", "pill/device1/status", "module1:dose NOT taken")

	require.Len(t, b.sent, 3)
	assert.Equal(t, ChannelEvent, b.sent[0].channel)
	assert.Equal(t, "device1", b.sent[0].event.Serial)
	assert.Equal(t, "status", b.sent[0].event.Kind)
	assert.NotZero(t, b.sent[0].event.LogID)
	assert.Equal(t, ChannelEvent, b.sent[1].channel)
	assert.Equal(t, ChannelAlert, b.sent[2].channel)

	require.Len(t, tel.events, 2)
	assert.False(t, tel.events[0].Alert)
	assert.True(t, tel.events[1].Alert)
	assert.Equal(t, "module1", tel.events[1].Source)
}
