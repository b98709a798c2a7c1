package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/lanes/internal/config"
	"github.com/harun/lanes/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Output: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Executor.DrainTimeout = 2
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Executor.DrainTimeout = 0

	_, err := New(cfg, newTestLogger(t))
	assert.Error(t, err)
}

func TestDaemonLifecycle(t *testing.T) {
	d, err := New(testConfig(t), newTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, d.Start())
	assert.Error(t, d.Start(), "second start")

	status := d.Status()
	assert.True(t, status.Running)
	assert.False(t, status.StartTime.IsZero())

	done := make(chan struct{})
	require.NoError(t, d.Registry().Submit("build", func(ctx context.Context) error {
		close(done)
		return nil
	}))
	<-done
	assert.True(t, d.Drain())
	assert.Contains(t, d.Status().Lanes, "build")

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())

	assert.False(t, d.Status().Running)
	assert.True(t, d.Registry().Disposed())
	assert.Error(t, d.Start(), "start after stop")
}

func TestDaemonStopCancelsRunningWork(t *testing.T) {
	d, err := New(testConfig(t), newTestLogger(t))
	require.NoError(t, err)
	require.NoError(t, d.Start())

	started := make(chan struct{})
	require.NoError(t, d.Registry().Submit("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- d.Stop() }()

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestDaemonMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	d, err := New(cfg, newTestLogger(t))
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, d.Registry().Submit("metrics-lane", func(ctx context.Context) error { return nil }))
	require.True(t, d.Drain())

	addr := d.MetricsAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `lanes_enqueue_total{lane="metrics-lane"}`)
}

func TestDaemonAuditLog(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuditFile = filepath.Join(t.TempDir(), "audit", "audit.log")

	d, err := New(cfg, newTestLogger(t))
	require.NoError(t, err)
	require.NoError(t, d.Start())

	require.NoError(t, d.Registry().Submit("audited", func(ctx context.Context) error { return nil }))
	require.True(t, d.Drain())
	require.NoError(t, d.Stop())

	file, err := os.Open(cfg.AuditFile)
	require.NoError(t, err)
	defer file.Close()

	actions := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		action, _ := entry["action"].(string)
		status, _ := entry["status"].(string)
		actions[action] = status
		assert.Equal(t, "audited", entry["lane"])
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, "pending", actions["lane_enqueued"])
	assert.Equal(t, "success", actions["lane_completed"])
	assert.Contains(t, actions, "lane_disposed")
}

func TestDaemonWaitReturnsOnContext(t *testing.T) {
	d, err := New(testConfig(t), newTestLogger(t))
	require.NoError(t, err)
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	returned := make(chan struct{})
	go func() {
		d.Wait(ctx)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Wait did not honour context")
	}
}
