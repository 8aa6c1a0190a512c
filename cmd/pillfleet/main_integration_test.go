//go:build integration

package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRun_StartupAndShutdown needs an MQTT broker on 127.0.0.1:1883.
func TestRun_StartupAndShutdown(t *testing.T) {
	t.Setenv("PILLFLEET_CONFIG", writeConfig(t, filepath.Join(t.TempDir(), "pillfleet.db"), 1883))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18080/api/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
