package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/config"
)

// fakeToken is a completed paho token.
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records calls instead of talking to a broker.
type fakePaho struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	subErr     error
	timeout    bool
	published  []published
	handlers   map[string]pahomqtt.MessageHandler
	unsubbed   []string
	batches    int
	disconnect bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakePaho) Connect() pahomqtt.Token {
	return &fakeToken{}
}
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnect = true
	f.mu.Unlock()
}
func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	f.published = append(f.published, published{topic, qos, retained, b})
	return &fakeToken{err: f.publishErr, timeout: f.timeout}
}
func (f *fakePaho) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr == nil && !f.timeout {
		f.handlers[topic] = cb
	}
	return &fakeToken{err: f.subErr, timeout: f.timeout}
}
func (f *fakePaho) SubscribeMultiple(filters map[string]byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.subErr == nil && !f.timeout {
		for topic := range filters {
			f.handlers[topic] = cb
		}
	}
	return &fakeToken{err: f.subErr, timeout: f.timeout}
}
func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = append(f.unsubbed, topics...)
	return &fakeToken{}
}
func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}
func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (f *fakePaho) deliver(filter, topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[filter]
	f.mu.Unlock()
	h(nil, &fakeMessage{topic: topic, payload: payload})
}

func (f *fakePaho) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.add("ERROR " + msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("WARN " + msg) }
func (l *recordingLogger) add(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}
func (l *recordingLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "pillfleet-test"},
		QoS:    1,
	}
}

// newTestClient returns a connected Client backed by a fake paho client.
func newTestClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig())
	c.client = fake
	c.setConnected(true)
	return c, fake
}

func TestPublish(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.Publish("pill/device1/command", []byte("dispense:module1"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := fake.last()
	if got.topic != "pill/device1/command" || string(got.payload) != "dispense:module1" {
		t.Errorf("published %+v", got)
	}
	if got.retained {
		t.Error("device commands must not be retained")
	}
}

func TestPublishValidation(t *testing.T) {
	c, _ := newTestClient(t)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "pill/a/command", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "pill/a/command", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishFailures(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		c, fake := newTestClient(t)
		fake.connected = false
		if err := c.Publish("pill/a/command", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
			t.Errorf("error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("broker error", func(t *testing.T) {
		c, fake := newTestClient(t)
		fake.publishErr = errors.New("refused")
		err := c.Publish("pill/a/command", []byte("x"), 1, false)
		if !errors.Is(err, ErrPublishFailed) {
			t.Errorf("error = %v, want ErrPublishFailed", err)
		}
		if len(fake.published) != 1 {
			t.Errorf("publish attempts = %d, want exactly 1", len(fake.published))
		}
	})

	t.Run("timeout", func(t *testing.T) {
		c, fake := newTestClient(t)
		fake.timeout = true
		err := c.Publish("pill/a/command", []byte("x"), 1, false)
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("error = %v, want ErrTimeout", err)
		}
	})
}

func TestSubscribe(t *testing.T) {
	c, fake := newTestClient(t)

	var gotTopic, gotPayload string
	err := c.Subscribe("pill/+/status", 1, func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription("pill/+/status") || c.SubscriptionCount() != 1 {
		t.Error("subscription should be tracked")
	}

	fake.deliver("pill/+/status", "pill/device1/status", []byte("module1:ok"))
	if gotTopic != "pill/device1/status" || gotPayload != "module1:ok" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c, fake := newTestClient(t)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}

	fake.subErr = errors.New("not authorised")
	if err := c.Subscribe("a", 1, noop); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("broker error = %v", err)
	}
	if c.HasSubscription("a") {
		t.Error("failed subscription must not be tracked")
	}
}

func TestSubscribeAll(t *testing.T) {
	c, fake := newTestClient(t)
	topics := Topics{}.Listener("pill/+")

	var got []string
	err := c.SubscribeAll(topics, 1, func(topic string, _ []byte) error {
		got = append(got, topic)
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeAll() error = %v", err)
	}
	if fake.batches != 1 {
		t.Errorf("SUBSCRIBE packets = %d, want 1", fake.batches)
	}
	if c.SubscriptionCount() != len(topics) {
		t.Errorf("tracked = %d, want %d", c.SubscriptionCount(), len(topics))
	}

	fake.deliver("pill/+/alerts", "pill/device1/alerts", []byte("module1:Pills low"))
	if len(got) != 1 || got[0] != "pill/device1/alerts" {
		t.Errorf("handler got %v", got)
	}
}

func TestSubscribeAll_RejectedBatchIsNotTracked(t *testing.T) {
	c, fake := newTestClient(t)
	noop := func(string, []byte) error { return nil }

	if err := c.SubscribeAll(nil, 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty batch error = %v", err)
	}
	if err := c.SubscribeAll([]string{"pill/+/status", ""}, 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("blank filter error = %v", err)
	}

	fake.subErr = errors.New("not authorised")
	if err := c.SubscribeAll([]string{"pill/+/status", "pill/+/alerts"}, 1, noop); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("broker error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("tracked = %d after rejected batch, want 0", c.SubscriptionCount())
	}
}

func TestUnsubscribe(t *testing.T) {
	c, fake := newTestClient(t)
	_ = c.Subscribe("pill/+/alerts", 1, func(string, []byte) error { return nil })

	if err := c.Unsubscribe("pill/+/alerts"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.HasSubscription("pill/+/alerts") {
		t.Error("subscription should be forgotten")
	}
	if len(fake.unsubbed) != 1 {
		t.Errorf("unsubscribed = %v", fake.unsubbed)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	_ = c.Subscribe("pill/+/status", 1, func(string, []byte) error {
		panic("boom")
	})

	fake.deliver("pill/+/status", "pill/d/status", []byte("x"))

	if !logger.contains("panic recovered") {
		t.Error("panic should be logged")
	}
}

func TestHandlerErrorLogged(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	_ = c.Subscribe("pill/+/status", 1, func(string, []byte) error {
		return errors.New("bad payload")
	})
	fake.deliver("pill/+/status", "pill/d/status", []byte("x"))

	if !logger.contains("handler returned error") {
		t.Error("handler error should be logged")
	}
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	c, fake := newTestClient(t)
	_ = c.Subscribe("pill/+/status", 1, func(string, []byte) error { return nil })
	_ = c.Subscribe("pill/+/alerts", 1, func(string, []byte) error { return nil })

	var disconnected, reconnecting, connected bool
	c.SetOnDisconnect(func(error) { disconnected = true })
	c.SetOnReconnecting(func() { reconnecting = true })
	c.SetOnConnect(func() { connected = true })

	c.handleDisconnect(errors.New("network"))
	if c.IsConnected() {
		t.Error("client should be disconnected")
	}

	fake.mu.Lock()
	fake.handlers = make(map[string]pahomqtt.MessageHandler)
	fake.published = nil
	fake.mu.Unlock()

	c.handleReconnecting()
	c.handleConnect()

	if !disconnected || !reconnecting || !connected {
		t.Errorf("callbacks: disconnected=%v reconnecting=%v connected=%v", disconnected, reconnecting, connected)
	}
	if len(fake.handlers) != 2 {
		t.Errorf("restored subscriptions = %d, want 2", len(fake.handlers))
	}

	status := fake.last()
	if status.topic != (Topics{}).SystemStatus() || !status.retained {
		t.Errorf("online status not published: %+v", status)
	}
	var body statusPayload
	if err := json.Unmarshal(status.payload, &body); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if body.Status != "online" || body.ClientID != "pillfleet-test" {
		t.Errorf("status payload = %+v", body)
	}
}

func TestClose(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.disconnect {
		t.Error("Close should disconnect")
	}
	if c.IsConnected() {
		t.Error("client should report disconnected after Close")
	}

	var body statusPayload
	if err := json.Unmarshal(fake.last().payload, &body); err != nil {
		t.Fatalf("offline payload: %v", err)
	}
	if body.Status != "offline" || body.Reason != "graceful_shutdown" {
		t.Errorf("offline payload = %+v", body)
	}

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close on nil client error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}

	fake.connected = false
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck(disconnected) error = %v", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "core"
	cfg.Auth.Password = "secret"
	cfg.Reconnect = config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60}

	opts := buildClientOptions(cfg)
	r := pahomqtt.NewClient(opts).OptionsReader()

	if got := r.Servers()[0].String(); got != "ssl://localhost:1883" {
		t.Errorf("broker = %q", got)
	}
	if r.Username() != "core" {
		t.Errorf("username = %q", r.Username())
	}
	if !r.AutoReconnect() {
		t.Error("auto reconnect should be enabled")
	}
	if r.MaxReconnectInterval() != 60*time.Second {
		t.Errorf("max reconnect = %v", r.MaxReconnectInterval())
	}
	if !r.Order() {
		t.Error("in-order delivery should be enabled")
	}
	if r.TLSConfig() == nil {
		t.Error("TLS config should be set")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, "core-1")

	if !opts.WillEnabled || opts.WillTopic != "pillfleet/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	var body statusPayload
	if err := json.Unmarshal(opts.WillPayload, &body); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if body.Reason != "unexpected_disconnect" {
		t.Errorf("will reason = %q", body.Reason)
	}
}
