package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "pillfleet-dev-token",
		Org:           "pillfleet",
		Bucket:        "telemetry",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

// connectOrSkip returns a live client, or skips unless RUN_INTEGRATION is set.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(context.Background(), testConfig())
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") != "" {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func lineProtocol(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Nanosecond)
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client should not report connected")
	}
	c.WriteDeviceEvent(DeviceEvent{Serial: "device1"})
	c.WriteModuleInventory("device1", "module1", 1, 1, time.Now())
	c.WriteCommand("device1", "dispense", true, time.Now())
	c.Flush()
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestEventPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	line := lineProtocol(eventPoint(DeviceEvent{
		Serial: "device1",
		Kind:   "status",
		Source: "module1",
		Text:   "module1:Pills low",
		Alert:  true,
		At:     at,
	}))

	for _, want := range []string{
		"dispenser_events,",
		"serial=device1",
		"kind=status",
		"source=module1",
		`message="module1:Pills low"`,
		"alert=true",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}

	unknown := lineProtocol(eventPoint(DeviceEvent{Kind: "status", Source: "system", At: at}))
	if !strings.Contains(unknown, "serial=unknown") {
		t.Errorf("missing serial should be tagged unknown: %q", unknown)
	}
}

func TestInventoryPoint(t *testing.T) {
	line := lineProtocol(inventoryPoint("device1", "module2", 3, 5, time.Now()))

	for _, want := range []string{"module_inventory,", "module=module2", "pills_left=3i", "threshold=5i", "low=true"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestCommandPoint(t *testing.T) {
	line := lineProtocol(commandPoint("device1", "schedule_set", false, time.Now()))

	for _, want := range []string{"dispenser_commands,", "kind=schedule_set", "delivered=false"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestLiveWrites(t *testing.T) {
	client := connectOrSkip(t)

	var writeErr error
	client.SetOnError(func(err error) { writeErr = err })

	client.WriteDeviceEvent(DeviceEvent{Serial: "it-device", Kind: "status", Source: "system", Text: "online", At: time.Now()})
	client.WriteModuleInventory("it-device", "module1", 10, 2, time.Now())
	client.WriteCommand("it-device", "dispense", true, time.Now())
	client.Flush()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}
