package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/config"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/logging"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/metrics"
)

type recordingNotifier struct {
	messages []string
	err      error
}

func (r *recordingNotifier) Notify(_ context.Context, message string) error {
	r.messages = append(r.messages, message)
	return r.err
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func TestMulti_AllChannelsAttempted(t *testing.T) {
	m := metrics.New("test")
	failing := &recordingNotifier{err: errors.New("smtp down")}
	ok := &recordingNotifier{}

	multi := NewMulti(m, Named{ChannelEmail, failing}, Named{ChannelWebhook, ok})

	err := multi.Notify(context.Background(), "🚨 ALERT: module1:is empty")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChannel)
	assert.Contains(t, err.Error(), "email")

	assert.Equal(t, []string{"🚨 ALERT: module1:is empty"}, failing.messages)
	assert.Equal(t, []string{"🚨 ALERT: module1:is empty"}, ok.messages)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues(ChannelEmail)))
}

func TestMulti_NoErrors(t *testing.T) {
	multi := NewMulti(nil, Named{ChannelLog, NewLogNotifier(logging.Discard())})
	assert.NoError(t, multi.Notify(context.Background(), "hello"))
}

func TestFromConfig(t *testing.T) {
	multi := FromConfig(config.NotifyConfig{}, logging.Discard(), nil)
	assert.Equal(t, []string{ChannelLog}, multi.Channels())

	multi = FromConfig(config.NotifyConfig{
		Email:   config.EmailConfig{Enabled: true, Host: "smtp.example.com", Port: 587, From: "a@example.com", To: []string{"b@example.com"}},
		Webhook: config.WebhookConfig{Enabled: true, URL: "http://127.0.0.1/hook", Timeout: 1},
	}, logging.Discard(), nil)
	assert.Equal(t, []string{ChannelLog, ChannelEmail, ChannelWebhook}, multi.Channels())
}

func TestEmailNotifier(t *testing.T) {
	d := &fakeDialer{}
	n := NewEmailNotifier(config.EmailConfig{From: "core@example.com", To: []string{"nurse@example.com", "doc@example.com"}, Subject: "Pill dispenser alert"})
	n.dialer = d

	require.NoError(t, n.Notify(context.Background(), "🚨 ALERT: module2:NOT taken"))
	require.Len(t, d.sent, 1)
	msg := d.sent[0]
	assert.Equal(t, []string{"core@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"nurse@example.com", "doc@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Pill dispenser alert"}, msg.GetHeader("Subject"))

	d.err = errors.New("auth failed")
	assert.Error(t, n.Notify(context.Background(), "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, "x"), context.Canceled)
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.WebhookConfig{URL: srv.URL, Timeout: 2})
	require.NoError(t, n.Notify(context.Background(), "🚨 ALERT: ❌ jam"))
	assert.Equal(t, "🚨 ALERT: ❌ jam", got.Text)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.WebhookConfig{URL: srv.URL, Timeout: 2})
	err := n.Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
